package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"weappnotify/internal/notifier"
)

// The table is owned by the host application. Tenant "" is the host tenant.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS notification_subscriptions (
  tenant_id         TEXT NOT NULL DEFAULT '',
  notification_name TEXT NOT NULL,
  user_id           TEXT NOT NULL,
  user_name         TEXT NOT NULL,
  created_at        INTEGER NOT NULL,
  PRIMARY KEY (tenant_id, notification_name, user_id)
);`

// SQLite reads subscriptions from a notification_subscriptions table.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens the database at path. With ensureSchema the table is created
// when missing; otherwise it must already exist.
func OpenSQLite(path string, busyTimeout time.Duration, ensureSchema bool) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if busyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()))
	}

	s := &SQLite{db: db}
	if ensureSchema {
		if err := s.EnsureSchema(context.Background()); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *SQLite) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return err
}

func (s *SQLite) GetSubscriptions(ctx context.Context, tenantID, name string) ([]notifier.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, user_name FROM notification_subscriptions
		 WHERE tenant_id = ? AND notification_name = ?
		 ORDER BY created_at, user_id`,
		tenantID, name,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []notifier.Subscription
	for rows.Next() {
		sub := notifier.Subscription{TenantID: tenantID, NotificationName: name}
		if err := rows.Scan(&sub.UserID, &sub.UserName); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *SQLite) Subscribe(ctx context.Context, sub notifier.Subscription) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_subscriptions(tenant_id, notification_name, user_id, user_name, created_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(tenant_id, notification_name, user_id) DO UPDATE SET user_name=excluded.user_name`,
		sub.TenantID, sub.NotificationName, sub.UserID, sub.UserName, time.Now().UnixNano(),
	)
	return err
}

func (s *SQLite) Unsubscribe(ctx context.Context, tenantID, name, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM notification_subscriptions WHERE tenant_id = ? AND notification_name = ? AND user_id = ?`,
		tenantID, name, userID,
	)
	return err
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
