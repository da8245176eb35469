package subscription

import (
	"context"
	"sync"

	"weappnotify/internal/notifier"
)

type memKey struct{ tenant, name string }

// Memory keeps subscriptions in process, in insertion order.
type Memory struct {
	mu   sync.RWMutex
	subs map[memKey][]notifier.Subscription
}

func NewMemory(seed ...notifier.Subscription) *Memory {
	m := &Memory{subs: map[memKey][]notifier.Subscription{}}
	for _, s := range seed {
		_ = m.Subscribe(context.Background(), s)
	}
	return m
}

func (m *Memory) GetSubscriptions(_ context.Context, tenantID, name string) ([]notifier.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.subs[memKey{tenantID, name}]
	out := make([]notifier.Subscription, len(src))
	copy(out, src)
	return out, nil
}

// Subscribe adds s, replacing an existing subscription of the same user.
func (m *Memory) Subscribe(_ context.Context, s notifier.Subscription) error {
	k := memKey{s.TenantID, s.NotificationName}
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.subs[k]
	for i := range list {
		if list[i].UserID == s.UserID {
			list[i] = s
			return nil
		}
	}
	m.subs[k] = append(list, s)
	return nil
}

func (m *Memory) Unsubscribe(_ context.Context, tenantID, name, userID string) error {
	k := memKey{tenantID, name}
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.subs[k]
	for i := range list {
		if list[i].UserID == userID {
			m.subs[k] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *Memory) Close() error { return nil }
