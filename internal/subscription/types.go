package subscription

import (
	"context"
	"time"

	"weappnotify/internal/notifier"
)

// Store is a closable notifier.SubscriptionStore.
type Store interface {
	notifier.SubscriptionStore
	Subscribe(ctx context.Context, s notifier.Subscription) error
	Unsubscribe(ctx context.Context, tenantID, notificationName, userID string) error
	Close() error
}

// Config selects and configures a store.
//
// Driver values:
//   - "memory" (default): in-process, seeded from Seed
//   - "sqlite": reads the notification_subscriptions table at Path
//   - "redis": one hash per (tenant, notification) at RedisURL
type Config struct {
	Driver string

	Path         string
	BusyTimeout  time.Duration
	EnsureSchema bool

	RedisURL    string
	RedisPrefix string

	Seed []notifier.Subscription
}
