package notifier

import (
	"testing"
	"time"

	logx "weappnotify/pkg/logx"
)

func TestMapTemplateFieldsPrefersData(t *testing.T) {
	t.Parallel()
	data := map[string]any{
		KeyTemplateID:    "T1",
		KeyRedirectPage:  "/orders/1",
		KeyWeAppState:    "trial",
		KeyWeAppLanguage: "en_US",
	}
	opts := Options{DefaultTemplateID: "DEF", DefaultWeAppState: "formal", DefaultWeAppLanguage: "zh_CN"}

	f := MapTemplateFields(data, opts, logx.Nop())
	if f.TemplateID != "T1" || f.Page != "/orders/1" || f.State != "trial" || f.Lang != "en_US" {
		t.Fatalf("unexpected fields: %+v", f)
	}
}

func TestMapTemplateFieldsFallsBackToOptions(t *testing.T) {
	t.Parallel()
	opts := Options{DefaultTemplateID: "DEF", DefaultWeAppState: "formal", DefaultWeAppLanguage: "zh_CN"}

	f := MapTemplateFields(map[string]any{"order_thing1": "x"}, opts, logx.Nop())
	if f.TemplateID != "DEF" {
		t.Fatalf("TemplateID = %q, want DEF", f.TemplateID)
	}
	if f.Page != "" {
		t.Fatalf("Page = %q, want empty (no default)", f.Page)
	}
	if f.State != "formal" || f.Lang != "zh_CN" {
		t.Fatalf("state/lang = %q/%q", f.State, f.Lang)
	}
}

func TestMapTemplateFieldsPresentEmptyBeatsDefault(t *testing.T) {
	t.Parallel()
	opts := Options{DefaultTemplateID: "DEF", DefaultWeAppState: "formal"}
	data := map[string]any{KeyTemplateID: "", KeyWeAppState: ""}

	f := MapTemplateFields(data, opts, logx.Nop())
	if f.TemplateID != "" || f.State != "" {
		t.Fatalf("present empty values must be kept, got %+v", f)
	}

	f = MapTemplateFields(map[string]any{KeyTemplateID: nil}, opts, logx.Nop())
	if f.TemplateID != "DEF" {
		t.Fatalf("nil value should fall back, got %q", f.TemplateID)
	}
}

func TestMapTemplateFieldsRendersValues(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)
	tests := []struct {
		name string
		v    any
		want string
	}{
		{name: "string", v: "T9", want: "T9"},
		{name: "int", v: 42, want: "42"},
		{name: "json number", v: float64(12345678), want: "12345678"},
		{name: "fraction", v: 1.5, want: "1.5"},
		{name: "bool", v: true, want: "true"},
		{name: "time", v: at, want: "2026-10-19T08:30:00Z"},
		{name: "nil falls back", v: nil, want: "DEF"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			f := MapTemplateFields(map[string]any{KeyTemplateID: tt.v}, Options{DefaultTemplateID: "DEF"}, logx.Nop())
			if f.TemplateID != tt.want {
				t.Fatalf("TemplateID = %q, want %q", f.TemplateID, tt.want)
			}
		})
	}
}

func TestMapTemplateFieldsDoesNotMutateData(t *testing.T) {
	t.Parallel()
	data := map[string]any{KeyTemplateID: "T1", KeyRedirectPage: "/p", "thing1": "v"}
	_ = MapTemplateFields(data, Options{}, logx.Nop())
	if len(data) != 3 || data[KeyTemplateID] != "T1" {
		t.Fatalf("data mutated: %v", data)
	}
}

func TestStandardData(t *testing.T) {
	t.Parallel()
	data := map[string]any{
		KeyTemplateID:  "T1",
		"order_thing1": "Order #1",
		"order_amount": 9.9,
		"order_":       "ignored (empty key)",
		"other":        "ignored (no prefix)",
		"order_nil":    nil,
	}

	got := StandardData("order_", data)
	want := map[string]string{"thing1": "Order #1", "amount": "9.9"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("got[%q] = %q, want %q", k, got[k], v)
		}
	}

	all := StandardData("", map[string]any{KeyTemplateID: "T1", "thing1": "x"})
	if all[KeyTemplateID] != "T1" || all["thing1"] != "x" {
		t.Fatalf("empty prefix should keep every key, got %v", all)
	}
}
