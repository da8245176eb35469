package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type testPayload struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func TestPostJSON(t *testing.T) {
	t.Parallel()

	t.Run("sends json and decodes the response", func(t *testing.T) {
		t.Parallel()

		var (
			method, path, ctype, auth string
			body                      []byte
		)
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			method, path = r.Method, r.URL.Path
			ctype, auth = r.Header.Get("Content-Type"), r.Header.Get("Authorization")
			body, _ = io.ReadAll(r.Body)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(testPayload{Name: "response", Value: 200})
		}))
		defer ts.Close()

		client := New(ts.URL+"/", 0).WithBearer("tok")
		var result testPayload
		if err := client.PostJSON(context.Background(), "/send", testPayload{Name: "request", Value: 100}, &result); err != nil {
			t.Fatalf("PostJSON: %v", err)
		}

		if method != http.MethodPost || path != "/send" {
			t.Errorf("request = %s %s", method, path)
		}
		if ctype != "application/json" || auth != "Bearer tok" {
			t.Errorf("headers: content-type=%q auth=%q", ctype, auth)
		}
		var sent testPayload
		if err := json.Unmarshal(body, &sent); err != nil || sent.Name != "request" || sent.Value != 100 {
			t.Errorf("sent body = %s (%v)", body, err)
		}
		if result.Name != "response" || result.Value != 200 {
			t.Errorf("result = %+v", result)
		}
	})

	t.Run("non-2xx becomes StatusError", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"slow down"}`))
		}))
		defer ts.Close()

		err := New(ts.URL, time.Second).PostJSON(context.Background(), "/send", testPayload{}, nil)
		var se *StatusError
		if !errors.As(err, &se) {
			t.Fatalf("err = %v, want *StatusError", err)
		}
		if se.Code != http.StatusTooManyRequests || se.RetryAfter != 3*time.Second || se.Body != `{"error":"slow down"}` {
			t.Fatalf("status error = %+v", se)
		}
	})

	t.Run("canceled context fails", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
		defer ts.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := New(ts.URL, 0).PostJSON(ctx, "/send", testPayload{}, nil); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("unmarshalable body fails before sending", func(t *testing.T) {
		t.Parallel()

		if err := New("http://127.0.0.1:1", 0).PostJSON(context.Background(), "/x", make(chan int), nil); err == nil {
			t.Fatal("expected marshal error")
		}
	})
}
