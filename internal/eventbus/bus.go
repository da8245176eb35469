package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types emitted by the dispatch pipeline.
const (
	TypeDeliverySent     = "delivery.sent"
	TypeDeliveryFailed   = "delivery.failed"
	TypeDeliverySkipped  = "delivery.skipped"
	TypeDeliveryCanceled = "delivery.canceled"
	TypePublishCompleted = "publish.completed"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// DeliveryEvent is the payload of delivery.* events.
type DeliveryEvent struct {
	PublishID    string `json:"publish_id"`
	Notification string `json:"notification"`
	TenantID     string `json:"tenant_id,omitempty"`
	UserID       string `json:"user_id"`
	ChannelKey   string `json:"channel_key,omitempty"`
	Attempts     int    `json:"attempts"`
	Error        string `json:"error,omitempty"`
}

// PublishEvent is the payload of publish.completed.
type PublishEvent struct {
	PublishID    string        `json:"publish_id"`
	Notification string        `json:"notification"`
	Total        int           `json:"total"`
	Sent         int           `json:"sent"`
	Failed       int           `json:"failed"`
	Skipped      int           `json:"skipped"`
	Canceled     int           `json:"canceled"`
	Took         time.Duration `json:"took"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A concurrent unsubscribe may close ch; recover from send on closed channel.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
