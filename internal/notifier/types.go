package notifier

import (
	"context"
	"errors"
	"time"
)

// ProviderName is the name this provider registers under in the host's dispatcher.
const ProviderName = "WeChat.WeApp"

// Notification is a published in-app notification. Data is read-only for the pipeline.
type Notification struct {
	Name     string         `json:"name"`
	TenantID string         `json:"tenant_id,omitempty"` // empty = host (no tenant)
	Data     map[string]any `json:"data,omitempty"`
}

// Recipient identifies a user. DisplayName doubles as the channel user key
// unless a ChannelKeyResolver says otherwise.
type Recipient struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Subscription is a user's opt-in to a notification name.
type Subscription struct {
	TenantID         string `json:"tenant_id,omitempty"`
	NotificationName string `json:"notification_name"`
	UserID           string `json:"user_id"`
	UserName         string `json:"user_name"`
}

// Options are the channel defaults. They are snapshotted at the start of every publish.
type Options struct {
	DefaultTemplateID    string
	DefaultMsgPrefix     string
	DefaultWeAppState    string
	DefaultWeAppLanguage string
}

// Config controls dispatch concurrency and retry.
type Config struct {
	// Workers caps concurrent sends per publish.
	Workers int
	// RatePerSec caps sends per second across all publishes; 0 disables the limiter.
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// SendTimeout bounds each Send call. It is detached from publish cancellation.
	SendTimeout time.Duration
}

// SubscriptionStore lists active subscriptions. Zero results is not an error.
type SubscriptionStore interface {
	GetSubscriptions(ctx context.Context, tenantID, notificationName string) ([]Subscription, error)
}

// ChannelKeyResolver maps a recipient to the channel's own user key (openid).
type ChannelKeyResolver interface {
	ChannelKey(ctx context.Context, r Recipient) (string, error)
}

// DisplayNameKeys is the default resolver: the channel key is the display name.
type DisplayNameKeys struct{}

func (DisplayNameKeys) ChannelKey(_ context.Context, r Recipient) (string, error) {
	return r.DisplayName, nil
}

// ReportSink receives every finished report (best-effort).
type ReportSink interface {
	SaveReport(ctx context.Context, r Report) error
}

// Provider is the capability the host dispatcher selects by Name.
type Provider interface {
	Name() string
	Publish(ctx context.Context, n Notification, recipients []Recipient) (Report, error)
}

type Status string

const (
	StatusSent     Status = "sent"
	StatusFailed   Status = "failed"
	StatusSkipped  Status = "skipped"
	StatusCanceled Status = "canceled"
)

// Outcome is the result of one recipient's dispatch.
type Outcome struct {
	Recipient  Recipient     `json:"recipient"`
	ChannelKey string        `json:"channel_key,omitempty"`
	Status     Status        `json:"status"`
	Attempts   int           `json:"attempts"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`

	// Err is the classified error (nil when sent). Not persisted.
	Err error `json:"-"`
}

// Report is the result of one publish. Outcomes are index-aligned with the
// resolved recipients, regardless of completion order.
type Report struct {
	ID           string    `json:"id"`
	Provider     string    `json:"provider"`
	Notification string    `json:"notification"`
	TenantID     string    `json:"tenant_id,omitempty"`
	Outcomes     []Outcome `json:"outcomes"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

type Counts struct {
	Total    int `json:"total"`
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
	Canceled int `json:"canceled"`
}

func (r Report) Counts() Counts {
	c := Counts{Total: len(r.Outcomes)}
	for _, o := range r.Outcomes {
		switch o.Status {
		case StatusSent:
			c.Sent++
		case StatusFailed:
			c.Failed++
		case StatusSkipped:
			c.Skipped++
		case StatusCanceled:
			c.Canceled++
		}
	}
	return c
}

// OK reports whether every recipient was sent (vacuously true for zero recipients).
func (r Report) OK() bool {
	c := r.Counts()
	return c.Sent == c.Total
}

// Err joins the per-recipient errors, or returns nil if there are none.
func (r Report) Err() error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errors.Join(errs...)
}
