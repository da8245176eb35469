package subscription

import (
	"context"
	"os"
	"testing"

	"weappnotify/internal/notifier"
	logx "weappnotify/pkg/logx"
)

func exerciseStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	for _, s := range []notifier.Subscription{
		{TenantID: "t1", NotificationName: "order.created", UserID: "2", UserName: "wx_u2"},
		{TenantID: "t1", NotificationName: "order.created", UserID: "3", UserName: "wx_u3"},
		{TenantID: "t1", NotificationName: "order.shipped", UserID: "2", UserName: "wx_u2"},
		{TenantID: "", NotificationName: "order.created", UserID: "9", UserName: "host_u9"},
	} {
		if err := st.Subscribe(ctx, s); err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
	}

	got, err := st.GetSubscriptions(ctx, "t1", "order.created")
	if err != nil {
		t.Fatalf("GetSubscriptions: %v", err)
	}
	if len(got) != 2 || got[0].UserName != "wx_u2" || got[1].UserName != "wx_u3" {
		t.Fatalf("got %+v", got)
	}
	if got[0].TenantID != "t1" || got[0].NotificationName != "order.created" {
		t.Fatalf("subscription identity not filled: %+v", got[0])
	}

	host, err := st.GetSubscriptions(ctx, "", "order.created")
	if err != nil || len(host) != 1 || host[0].UserID != "9" {
		t.Fatalf("host tenant: %+v, %v", host, err)
	}

	none, err := st.GetSubscriptions(ctx, "t2", "order.created")
	if err != nil || len(none) != 0 {
		t.Fatalf("unknown tenant: %+v, %v", none, err)
	}

	// Re-subscribing replaces the display name.
	if err := st.Subscribe(ctx, notifier.Subscription{TenantID: "t1", NotificationName: "order.created", UserID: "3", UserName: "wx_u3b"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := st.Unsubscribe(ctx, "t1", "order.created", "2"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	got, _ = st.GetSubscriptions(ctx, "t1", "order.created")
	if len(got) != 1 || got[0].UserName != "wx_u3b" {
		t.Fatalf("after update/unsubscribe: %+v", got)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemorySeedAndCopy(t *testing.T) {
	m := NewMemory(notifier.Subscription{NotificationName: "n", UserID: "1", UserName: "a"})
	got, _ := m.GetSubscriptions(context.Background(), "", "n")
	if len(got) != 1 {
		t.Fatalf("seed not applied: %+v", got)
	}
	got[0].UserName = "mutated"
	again, _ := m.GetSubscriptions(context.Background(), "", "n")
	if again[0].UserName != "a" {
		t.Fatalf("store shares its backing slice")
	}
}

func TestSQLiteStore(t *testing.T) {
	st, err := OpenSQLite(":memory:", 0, true)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer st.Close()
	exerciseStore(t, st)
}

func TestSQLiteWithoutSchemaFails(t *testing.T) {
	st, err := OpenSQLite(":memory:", 0, false)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer st.Close()
	if _, err := st.GetSubscriptions(context.Background(), "", "n"); err == nil {
		t.Fatalf("expected missing table error")
	}
}

func TestRedisKey(t *testing.T) {
	r := NewRedis(nil, "")
	if got := r.Key("", "order.created"); got != "weapp:subs:_:order.created" {
		t.Fatalf("host key = %q", got)
	}
	if got := NewRedis(nil, "app").Key("t1", "n"); got != "app:t1:n" {
		t.Fatalf("tenant key = %q", got)
	}
}

// Runs against a live server when WEAPPNOTIFY_TEST_REDIS_URL is set.
func TestRedisStore(t *testing.T) {
	url := os.Getenv("WEAPPNOTIFY_TEST_REDIS_URL")
	if url == "" {
		t.Skip("WEAPPNOTIFY_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	prefix := "weappnotify-test:" + t.Name()
	st, err := OpenRedis(ctx, url, prefix)
	if err != nil {
		t.Fatalf("OpenRedis: %v", err)
	}
	defer st.Close()
	cleanup := func() {
		keys, _ := st.Client.Keys(ctx, prefix+":*").Result()
		if len(keys) > 0 {
			st.Client.Del(ctx, keys...)
		}
	}
	cleanup()
	defer cleanup()
	exerciseStore(t, st)
}

func TestOpen(t *testing.T) {
	st, err := Open(context.Background(), Config{Seed: []notifier.Subscription{{NotificationName: "n", UserID: "1", UserName: "a"}}}, logx.Nop())
	if err != nil {
		t.Fatalf("Open memory: %v", err)
	}
	if _, ok := st.(*Memory); !ok {
		t.Fatalf("default driver = %T, want *Memory", st)
	}

	if _, err := Open(context.Background(), Config{Driver: "redis", RedisURL: "::bad"}, logx.Nop()); err == nil {
		t.Fatalf("expected redis url error")
	}
	if _, err := Open(context.Background(), Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
