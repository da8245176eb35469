package notifier

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	logx "weappnotify/pkg/logx"
)

// Data keys that select template fields.
const (
	KeyTemplateID    = "TemplateId"
	KeyRedirectPage  = "RedirectPage"
	KeyWeAppState    = "WeAppState"
	KeyWeAppLanguage = "WeAppLanguage"
)

// TemplateFields are the per-notification parts of a TemplateMessage.
type TemplateFields struct {
	TemplateID string
	Page       string
	State      string
	Lang       string
	Data       map[string]string
}

// MapTemplateFields resolves template fields from notification data, falling back
// to opts. data is only read.
//
// An empty TemplateID is a valid result; the dispatcher skips the recipient.
func MapTemplateFields(data map[string]any, opts Options, log logx.Logger) TemplateFields {
	f := TemplateFields{
		TemplateID: lookupOr(data, KeyTemplateID, opts.DefaultTemplateID),
		Page:       lookupOr(data, KeyRedirectPage, ""),
		State:      lookupOr(data, KeyWeAppState, opts.DefaultWeAppState),
		Lang:       lookupOr(data, KeyWeAppLanguage, opts.DefaultWeAppLanguage),
		Data:       StandardData(opts.DefaultMsgPrefix, data),
	}
	if log.Enabled(logx.LevelDebug) {
		log.Debug("template fields resolved",
			logx.String("template_id", f.TemplateID),
			logx.String("page", orNull(f.Page)),
			logx.String("state", orNull(f.State)),
			logx.String("lang", orNull(f.Lang)),
			logx.Int("data_fields", len(f.Data)),
		)
	}
	return f
}

// StandardData selects the data entries carrying prefix and strips it from the key
// ("order_thing1" -> "thing1"). An empty prefix selects every entry, including the
// template selection keys. Nil values are dropped.
func StandardData(prefix string, data map[string]any) map[string]string {
	out := make(map[string]string, len(data))
	for k, v := range data {
		key := k
		if prefix != "" {
			rest, ok := strings.CutPrefix(k, prefix)
			if !ok || rest == "" {
				continue
			}
			key = rest
		}
		s, ok := renderValue(v)
		if !ok {
			continue
		}
		out[key] = s
	}
	return out
}

func lookupOr(data map[string]any, key, def string) string {
	v, ok := data[key]
	if !ok {
		return def
	}
	s, ok := renderValue(v)
	if !ok {
		return def
	}
	return s
}

// renderValue returns the textual form of a data value; false for nil.
func renderValue(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case []byte:
		return string(x), true
	case time.Time:
		return x.Format(time.RFC3339), true
	case float64:
		// JSON numbers decode as float64; avoid exponent notation for ids and amounts.
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), true
	case json.Number:
		return x.String(), true
	case fmt.Stringer:
		return x.String(), true
	default:
		return fmt.Sprint(x), true
	}
}

func orNull(s string) string {
	if s == "" {
		return "null"
	}
	return s
}
