package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"weappnotify/internal/notifier"
	logx "weappnotify/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers. A single connection also
	// keeps ":memory:" databases alive for the store's lifetime.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SaveReport(ctx context.Context, r notifier.Report) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.ID == "" {
		return errors.New("report id is required")
	}
	outcomes, err := json.Marshal(r.Outcomes)
	if err != nil {
		return err
	}
	c := r.Counts()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reports(id, provider, notification, tenant_id, started_at, finished_at, total, sent, failed, skipped, canceled, outcomes)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   finished_at=excluded.finished_at, total=excluded.total, sent=excluded.sent, failed=excluded.failed,
		   skipped=excluded.skipped, canceled=excluded.canceled, outcomes=excluded.outcomes`,
		r.ID, r.Provider, r.Notification, nullStr(r.TenantID),
		r.StartedAt.UnixNano(), r.FinishedAt.UnixNano(),
		c.Total, c.Sent, c.Failed, c.Skipped, c.Canceled, string(outcomes),
	)
	return err
}

func (s *sqliteStore) GetReport(ctx context.Context, id string) (notifier.Report, bool, error) {
	if s == nil || s.db == nil {
		return notifier.Report{}, false, ErrDisabled
	}
	var (
		r                 notifier.Report
		tenant            sql.NullString
		started, finished int64
		outcomes          string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, provider, notification, tenant_id, started_at, finished_at, outcomes FROM reports WHERE id = ?`, id,
	).Scan(&r.ID, &r.Provider, &r.Notification, &tenant, &started, &finished, &outcomes)
	if errors.Is(err, sql.ErrNoRows) {
		return notifier.Report{}, false, nil
	}
	if err != nil {
		return notifier.Report{}, false, err
	}
	r.TenantID = tenant.String
	r.StartedAt = time.Unix(0, started)
	r.FinishedAt = time.Unix(0, finished)
	if err := json.Unmarshal([]byte(outcomes), &r.Outcomes); err != nil {
		return notifier.Report{}, false, fmt.Errorf("decode outcomes of %s: %w", id, err)
	}
	return r, true, nil
}

func (s *sqliteStore) Prune(ctx context.Context, before time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE finished_at < ?`, before.UnixNano())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
