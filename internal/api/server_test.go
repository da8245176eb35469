package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"weappnotify/internal/notifier"
	"weappnotify/internal/storage"
	"weappnotify/internal/subscription"
	"weappnotify/internal/transport"
	logx "weappnotify/pkg/logx"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type recorder struct {
	mu   sync.Mutex
	msgs []transport.TemplateMessage
}

func (r *recorder) Send(_ context.Context, m transport.TemplateMessage) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

type fixture struct {
	server *Server
	sender *recorder
	store  storage.Store
}

func setupTestServer(t *testing.T, secret string) fixture {
	t.Helper()

	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: ":memory:"}, logx.Nop())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	subs := subscription.NewMemory(
		notifier.Subscription{TenantID: "t1", NotificationName: "order.created", UserID: "2", UserName: "wx_u2"},
		notifier.Subscription{TenantID: "t1", NotificationName: "order.created", UserID: "3", UserName: "wx_u3"},
	)
	snd := &recorder{}
	svc := notifier.New(notifier.Config{}, notifier.Options{DefaultTemplateID: "DEF"}, notifier.Deps{
		Subscriptions: subs,
		Sender:        snd,
		Reports:       st,
	})
	return fixture{server: New(Config{JWTSecret: secret}, svc, st, logx.Nop()), sender: snd, store: st}
}

func doRequest(h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	f := setupTestServer(t, "")
	w := doRequest(f.server.Handler(), http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["provider"] != notifier.ProviderName {
		t.Fatalf("body = %v", body)
	}
}

func TestPublishRecipientsSemantics(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantSends int
	}{
		{name: "absent means subscribers", body: `{"name":"order.created","tenant_id":"t1"}`, wantSends: 2},
		{name: "null means subscribers", body: `{"name":"order.created","tenant_id":"t1","recipients":null}`, wantSends: 2},
		{name: "empty list means nobody", body: `{"name":"order.created","tenant_id":"t1","recipients":[]}`, wantSends: 0},
		{name: "explicit list", body: `{"name":"order.created","recipients":[{"id":"1","display_name":"wx_u1"}]}`, wantSends: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupTestServer(t, "")
			w := doRequest(f.server.Handler(), http.MethodPost, "/api/v1/notifications/publish", "", tt.body)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
			}
			if got := f.sender.count(); got != tt.wantSends {
				t.Fatalf("sends = %d, want %d", got, tt.wantSends)
			}
			var resp publishResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.ID == "" || resp.Counts.Sent != tt.wantSends || len(resp.Outcomes) != tt.wantSends {
				t.Fatalf("response = %+v", resp)
			}
		})
	}
}

func TestPublishValidation(t *testing.T) {
	f := setupTestServer(t, "")
	for _, body := range []string{`{}`, `not json`, `{"name":"x","recipients":"all"}`} {
		w := doRequest(f.server.Handler(), http.MethodPost, "/api/v1/notifications/publish", "", body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d", body, w.Code)
		}
	}
}

func TestGetReportAfterPublish(t *testing.T) {
	f := setupTestServer(t, "")
	h := f.server.Handler()
	w := doRequest(h, http.MethodPost, "/api/v1/notifications/publish", "", `{"name":"order.created","tenant_id":"t1"}`)
	var resp publishResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)

	w = doRequest(h, http.MethodGet, "/api/v1/publishes/"+resp.ID, "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	var got struct {
		Notification string          `json:"notification"`
		Counts       notifier.Counts `json:"counts"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got.Notification != "order.created" || got.Counts.Sent != 2 {
		t.Fatalf("report = %+v", got)
	}

	if w := doRequest(h, http.MethodGet, "/api/v1/publishes/nope", "", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown id status = %d", w.Code)
	}
}

func TestGetReportWithoutStorage(t *testing.T) {
	svc := notifier.New(notifier.Config{}, notifier.Options{}, notifier.Deps{Sender: &recorder{}})
	s := New(Config{}, svc, nil, logx.Nop())
	if w := doRequest(s.Handler(), http.MethodGet, "/api/v1/publishes/x", "", ""); w.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestPublishResolutionFailureIsBadGateway(t *testing.T) {
	svc := notifier.New(notifier.Config{}, notifier.Options{}, notifier.Deps{Sender: &recorder{}})
	s := New(Config{}, svc, nil, logx.Nop())
	w := doRequest(s.Handler(), http.MethodPost, "/api/v1/notifications/publish", "", `{"name":"x"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
}

func TestJWTAuth(t *testing.T) {
	const secret = "test-secret"
	f := setupTestServer(t, secret)
	h := f.server.Handler()
	body := `{"name":"order.created","recipients":[]}`

	if w := doRequest(h, http.MethodPost, "/api/v1/notifications/publish", "", body); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", w.Code)
	}
	if w := doRequest(h, http.MethodPost, "/api/v1/notifications/publish", "garbage", body); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d", w.Code)
	}
	other, _ := GenerateToken("other-secret", "svc", time.Hour)
	if w := doRequest(h, http.MethodPost, "/api/v1/notifications/publish", other, body); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: status = %d", w.Code)
	}

	tok, err := GenerateToken(secret, "order-service", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if w := doRequest(h, http.MethodPost, "/api/v1/notifications/publish", tok, body); w.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d body=%s", w.Code, w.Body.String())
	}
	// Health stays open.
	if w := doRequest(h, http.MethodGet, "/health", "", ""); w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery(logx.Nop()))
	r.GET("/boom", func(*gin.Context) { panic("boom") })
	if w := doRequest(r, http.MethodGet, "/boom", "", ""); w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestJWTAuthSetsSubject(t *testing.T) {
	const secret = "s3cret"
	r := gin.New()
	r.GET("/who", JWTAuth(secret), func(c *gin.Context) { c.String(http.StatusOK, Subject(c)) })
	r.GET("/open", func(c *gin.Context) { c.String(http.StatusOK, Subject(c)) })

	tok, err := GenerateToken(secret, "order-service", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if w := doRequest(r, http.MethodGet, "/who", tok, ""); w.Body.String() != "order-service" {
		t.Fatalf("subject = %q", w.Body.String())
	}
	if w := doRequest(r, http.MethodGet, "/open", "", ""); w.Body.String() != "" {
		t.Fatalf("subject without auth = %q", w.Body.String())
	}
}
