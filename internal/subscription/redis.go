package subscription

import (
	"context"
	"sort"
	"strings"

	"github.com/go-redis/redis/v8"

	"weappnotify/internal/notifier"
)

const (
	DefaultRedisPrefix = "weapp:subs"
	hostTenant         = "_"
)

// Redis stores each (tenant, notification) audience as a hash of userID -> userName.
type Redis struct {
	Client *redis.Client
	Prefix string
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{Client: client, Prefix: prefix}
}

// OpenRedis connects using a redis:// URL and pings the server.
func OpenRedis(ctx context.Context, url, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewRedis(client, prefix), nil
}

// Key returns the hash key, e.g. "weapp:subs:_:order.created" for the host tenant.
func (r *Redis) Key(tenantID, name string) string {
	if tenantID == "" {
		tenantID = hostTenant
	}
	return r.Prefix + ":" + tenantID + ":" + name
}

// GetSubscriptions returns subscribers ordered by user id; hashes carry no order.
func (r *Redis) GetSubscriptions(ctx context.Context, tenantID, name string) ([]notifier.Subscription, error) {
	m, err := r.Client.HGetAll(ctx, r.Key(tenantID, name)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]notifier.Subscription, 0, len(m))
	for id, userName := range m {
		out = append(out, notifier.Subscription{
			TenantID:         tenantID,
			NotificationName: name,
			UserID:           id,
			UserName:         userName,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (r *Redis) Subscribe(ctx context.Context, s notifier.Subscription) error {
	return r.Client.HSet(ctx, r.Key(s.TenantID, s.NotificationName), s.UserID, s.UserName).Err()
}

func (r *Redis) Unsubscribe(ctx context.Context, tenantID, name, userID string) error {
	return r.Client.HDel(ctx, r.Key(tenantID, name), userID).Err()
}

func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
