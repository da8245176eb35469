package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"weappnotify/internal/notifier"
	logx "weappnotify/pkg/logx"
)

func sampleReport(id string, finished time.Time) notifier.Report {
	return notifier.Report{
		ID:           id,
		Provider:     notifier.ProviderName,
		Notification: "order.created",
		TenantID:     "t1",
		StartedAt:    finished.Add(-time.Second),
		FinishedAt:   finished,
		Outcomes: []notifier.Outcome{
			{Recipient: notifier.Recipient{ID: "1", DisplayName: "wx_u1"}, ChannelKey: "wx_u1", Status: notifier.StatusSent, Attempts: 1},
			{Recipient: notifier.Recipient{ID: "2", DisplayName: "wx_u2"}, Status: notifier.StatusFailed, Attempts: 2, Error: "send failed: boom"},
		},
	}
}

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for name, cfg := range map[string]Config{
		"file":   {Driver: "file", Path: filepath.Join(dir, "store")},
		"sqlite": {Driver: "sqlite", Path: ":memory:"},
	} {
		st, err := Open(cfg, logx.Nop())
		if err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
		t.Cleanup(func() { _ = st.Close() })
		out[name] = st
	}
	return out
}

func TestSaveAndGetReport(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			want := sampleReport("r1", time.Now())
			if err := st.SaveReport(ctx, want); err != nil {
				t.Fatalf("SaveReport: %v", err)
			}

			got, ok, err := st.GetReport(ctx, "r1")
			if err != nil || !ok {
				t.Fatalf("GetReport: ok=%v err=%v", ok, err)
			}
			if got.Notification != want.Notification || got.TenantID != "t1" || len(got.Outcomes) != 2 {
				t.Fatalf("got %+v", got)
			}
			if !got.FinishedAt.Equal(want.FinishedAt) {
				t.Fatalf("finished_at = %v, want %v", got.FinishedAt, want.FinishedAt)
			}
			if got.Outcomes[1].Error != "send failed: boom" || got.Outcomes[1].Attempts != 2 {
				t.Fatalf("outcome = %+v", got.Outcomes[1])
			}
			if c := got.Counts(); c.Sent != 1 || c.Failed != 1 {
				t.Fatalf("counts = %+v", c)
			}

			if _, ok, err := st.GetReport(ctx, "missing"); ok || err != nil {
				t.Fatalf("missing report: ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestPrune(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			_ = st.SaveReport(ctx, sampleReport("old", now.Add(-48*time.Hour)))
			_ = st.SaveReport(ctx, sampleReport("new", now))

			n, err := st.Prune(ctx, now.Add(-24*time.Hour))
			if err != nil {
				t.Fatalf("Prune: %v", err)
			}
			if n != 1 {
				t.Fatalf("pruned = %d, want 1", n)
			}
			if _, ok, _ := st.GetReport(ctx, "old"); ok {
				t.Fatalf("old report survived prune")
			}
			if _, ok, _ := st.GetReport(ctx, "new"); !ok {
				t.Fatalf("new report was pruned")
			}
			// Store keeps accepting writes after compaction.
			if err := st.SaveReport(ctx, sampleReport("after", now)); err != nil {
				t.Fatalf("SaveReport after prune: %v", err)
			}
		})
	}
}

func TestFileStoreReplaysOnOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	now := time.Now()
	_ = st.SaveReport(context.Background(), sampleReport("a", now))
	_ = st.SaveReport(context.Background(), sampleReport("b", now))
	_ = st.Close()

	if err := st.SaveReport(context.Background(), sampleReport("c", now)); !errors.Is(err, ErrClosed) {
		t.Fatalf("save after close: %v", err)
	}

	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	for _, id := range []string{"a", "b"} {
		if _, ok, _ := st2.GetReport(context.Background(), id); !ok {
			t.Fatalf("report %s not replayed", id)
		}
	}
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	if st != nil || err != nil {
		t.Fatalf("none driver: st=%v err=%v", st, err)
	}
	if _, err := Open(Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
