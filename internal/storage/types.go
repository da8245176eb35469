package storage

import (
	"context"
	"errors"
	"time"

	"weappnotify/internal/notifier"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the report persistence API. It satisfies notifier.ReportSink.
type Store interface {
	SaveReport(ctx context.Context, r notifier.Report) error
	// GetReport returns ok=false when id is unknown.
	GetReport(ctx context.Context, id string) (r notifier.Report, ok bool, err error)
	// Prune deletes reports that finished before the cutoff and returns how many.
	Prune(ctx context.Context, before time.Time) (int, error)
	Close() error
}

var _ notifier.ReportSink = Store(nil)
