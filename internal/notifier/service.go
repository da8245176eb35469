package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"weappnotify/internal/eventbus"
	"weappnotify/internal/transport"
	logx "weappnotify/pkg/logx"
)

// Deps are the collaborators of a Service. Subscriptions and Sender are required
// for a useful service; the rest are optional.
type Deps struct {
	Subscriptions SubscriptionStore
	Sender        transport.Sender
	ChannelKeys   ChannelKeyResolver
	Reports       ReportSink
	Bus           eventbus.Bus
	Logger        logx.Logger
}

// Service is the WeChat.WeApp notification provider.
//
// It is safe for concurrent use. Apply/ApplyOptions affect publishes that start
// afterwards; a running publish keeps the snapshot it started with.
type Service struct {
	mu sync.Mutex

	cfg     Config
	opts    Options
	limiter *rate.Limiter

	subs   SubscriptionStore
	sender transport.Sender
	keys   ChannelKeyResolver
	sink   ReportSink
	bus    eventbus.Bus
	log    logx.Logger

	newID func() string
}

var _ Provider = (*Service)(nil)

func New(cfg Config, opts Options, deps Deps) *Service {
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	keys := deps.ChannelKeys
	if keys == nil {
		keys = DisplayNameKeys{}
	}
	s := &Service{
		subs:   deps.Subscriptions,
		sender: deps.Sender,
		keys:   keys,
		sink:   deps.Reports,
		bus:    deps.Bus,
		log:    log,
		opts:   opts,
		newID:  func() string { return uuid.NewString() },
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Name() string { return ProviderName }

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) ApplyOptions(opts Options) {
	s.mu.Lock()
	s.opts = opts
	s.mu.Unlock()
}

// Options returns the options the next publish will use.
func (s *Service) Options() Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RatePerSec < 0 {
		cfg.RatePerSec = 0
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	s.cfg = cfg
	switch {
	case cfg.RatePerSec <= 0:
		s.limiter = nil
	case s.limiter == nil:
		// Token bucket: burst = rate per sec, so short spikes don't block too hard.
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	default:
		// Keep the bucket's current tokens across reloads.
		s.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
		s.limiter.SetBurst(cfg.RatePerSec)
	}
}

// run is the immutable snapshot a single publish works with.
type run struct {
	id      string
	n       Notification
	cfg     Config
	opts    Options
	limiter *rate.Limiter
	sender  transport.Sender
	keys    ChannelKeyResolver
	log     logx.Logger
}

// Publish resolves recipients and dispatches one template message per recipient.
//
// A nil recipients slice means "all subscribers"; a non-nil empty slice sends nothing.
// The returned error is non-nil only when resolution failed (wrapping ErrResolution)
// or ctx was canceled before every recipient was attempted. Per-recipient failures
// are in the Report.
func (s *Service) Publish(ctx context.Context, n Notification, recipients []Recipient) (Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	r := run{
		id:      s.newID(),
		n:       n,
		cfg:     s.cfg,
		opts:    s.opts,
		limiter: s.limiter,
		sender:  s.sender,
		keys:    s.keys,
	}
	subs := s.subs
	s.mu.Unlock()
	r.log = s.log.With(logx.String("publish", r.id), logx.String("notification", n.Name))

	rep := Report{
		ID:           r.id,
		Provider:     ProviderName,
		Notification: n.Name,
		TenantID:     n.TenantID,
		StartedAt:    time.Now(),
	}

	resolved, err := ResolveRecipients(ctx, subs, n, recipients)
	if err != nil {
		rep.FinishedAt = time.Now()
		r.log.Warn("publish aborted", logx.Err(err))
		return rep, err
	}
	r.log.Debug("recipients resolved", logx.Int("total", len(resolved)), logx.Bool("explicit", recipients != nil))

	rep.Outcomes = make([]Outcome, len(resolved))
	dispatched := s.fanOut(ctx, r, resolved, rep.Outcomes)

	for i := range resolved {
		if dispatched[i] {
			continue
		}
		cerr := ctx.Err()
		rep.Outcomes[i] = Outcome{Recipient: resolved[i], Status: StatusCanceled, Err: cerr, Error: errString(cerr)}
		s.emit(eventbus.TypeDeliveryCanceled, r, rep.Outcomes[i])
	}
	rep.FinishedAt = time.Now()
	s.finish(r, rep)

	return rep, canceledErr(ctx, rep)
}

// canceledErr is the error for a publish that left recipients unattempted. It is
// ctx.Err() when set, otherwise the cause recorded on the first canceled outcome.
func canceledErr(ctx context.Context, rep Report) error {
	for _, o := range rep.Outcomes {
		if o.Status != StatusCanceled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if o.Err != nil {
			return o.Err
		}
		return context.Canceled
	}
	return nil
}

// fanOut runs deliveries on at most cfg.Workers goroutines. Each worker writes only
// its own outcome slots. It returns which indexes were handed to a worker.
func (s *Service) fanOut(ctx context.Context, r run, resolved []Recipient, outcomes []Outcome) []bool {
	dispatched := make([]bool, len(resolved))
	if len(resolved) == 0 {
		return dispatched
	}
	workers := r.cfg.Workers
	if workers > len(resolved) {
		workers = len(resolved)
	}

	idx := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range idx {
				outcomes[i] = s.deliverSafe(ctx, r, resolved[i])
			}
		}()
	}

feed:
	for i := range resolved {
		// Stop wins over queued recipients.
		if ctx.Err() != nil {
			break
		}
		select {
		case idx <- i:
			dispatched[i] = true
		case <-ctx.Done():
			break feed
		}
	}
	close(idx)
	wg.Wait()
	return dispatched
}

func (s *Service) deliverSafe(ctx context.Context, r run, rc Recipient) (out Outcome) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic in delivery", logx.String("user_id", rc.ID), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
			err := fmt.Errorf("%w: panic: %v", ErrSendFailed, p)
			out = Outcome{Recipient: rc, Status: StatusFailed, Err: err, Error: err.Error()}
		}
		out.Duration = time.Since(start)
		out.Error = errString(out.Err)
		s.emit(eventTypeFor(out.Status), r, out)
	}()
	return s.deliver(ctx, r, rc)
}

func (s *Service) deliver(ctx context.Context, r run, rc Recipient) Outcome {
	out := Outcome{Recipient: rc}
	log := r.log.With(logx.String("user_id", rc.ID))

	f := MapTemplateFields(r.n.Data, r.opts, log)
	if f.TemplateID == "" {
		out.Status = StatusSkipped
		out.Err = ErrUnresolvedTemplate
		log.Warn("delivery skipped: no template id")
		return out
	}

	key, err := r.keys.ChannelKey(ctx, rc)
	if err == nil && key == "" {
		err = errors.New("empty key")
	}
	if err != nil {
		out.Status = StatusSkipped
		out.Err = fmt.Errorf("%w: %v", ErrChannelKeyUnresolved, err)
		log.Warn("delivery skipped: channel key unresolved", logx.Err(err))
		return out
	}
	out.ChannelKey = key

	msg := transport.TemplateMessage{
		ToUser:           key,
		TemplateID:       f.TemplateID,
		Page:             f.Page,
		MiniProgramState: f.State,
		Lang:             f.Lang,
		Data:             f.Data,
	}
	s.sendWithRetry(ctx, r, msg, &out, log)
	return out
}

func (s *Service) sendWithRetry(ctx context.Context, r run, msg transport.TemplateMessage, out *Outcome, log logx.Logger) {
	if r.sender == nil {
		out.Status = StatusFailed
		out.Err = fmt.Errorf("%w: no sender", ErrSendFailed)
		return
	}
	maxAttempts := 1 + r.cfg.RetryMax

	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		// Rate limit (honor cancellation: nothing has been issued for this attempt yet).
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				// Wait refuses early when the deadline can't be met; ctx may still be live.
				if ctx.Err() == nil {
					err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
				}
				canceled(out, err, last, log)
				return
			}
		}
		if err := ctx.Err(); err != nil {
			canceled(out, err, last, log)
			return
		}

		out.Attempts = attempt
		// Issued sends can't be retracted, so they outlive publish cancellation.
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.SendTimeout)
		err := r.sender.Send(callCtx, msg)
		cancel()
		if err == nil {
			out.Status = StatusSent
			log.Debug("delivery sent", logx.Int("attempt", attempt))
			return
		}
		last = err
		log.Debug("delivery attempt failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts || IsPermanent(err) {
			break
		}
		delay := retryDelay(r.cfg, attempt, err)
		if delay <= 0 {
			continue
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			canceled(out, ctx.Err(), last, log)
			return
		}
	}

	out.Status = StatusFailed
	out.Err = fmt.Errorf("%w: %w", ErrSendFailed, last)
	log.Warn("delivery failed", logx.Err(last), logx.Int("attempts", out.Attempts))
}

// canceled ends a delivery that stopped before its attempts ran out. The last
// send error, if any, stays in the chain next to the cancellation cause.
func canceled(out *Outcome, cause, last error, log logx.Logger) {
	out.Status = StatusCanceled
	out.Err = cause
	if last != nil {
		out.Err = fmt.Errorf("%w (last attempt: %w)", cause, last)
	}
	log.Debug("delivery canceled", logx.Err(out.Err), logx.Int("attempts", out.Attempts))
}

func (s *Service) finish(r run, rep Report) {
	c := rep.Counts()
	took := rep.FinishedAt.Sub(rep.StartedAt)
	fields := []logx.Field{
		logx.Int("total", c.Total),
		logx.Int("sent", c.Sent),
		logx.Int("failed", c.Failed),
		logx.Int("skipped", c.Skipped),
		logx.Int("canceled", c.Canceled),
		logx.Duration("dur", took),
	}
	if c.Sent == c.Total {
		r.log.Info("publish finished", fields...)
	} else {
		r.log.Warn("publish finished with failures", fields...)
	}

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypePublishCompleted, Data: eventbus.PublishEvent{
			PublishID:    rep.ID,
			Notification: rep.Notification,
			Total:        c.Total,
			Sent:         c.Sent,
			Failed:       c.Failed,
			Skipped:      c.Skipped,
			Canceled:     c.Canceled,
			Took:         took,
		}})
	}

	if s.sink != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.sink.SaveReport(sctx, rep); err != nil {
			r.log.Warn("report save failed", logx.Err(err))
		}
		cancel()
	}
}

func (s *Service) emit(typ string, r run, o Outcome) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: eventbus.DeliveryEvent{
		PublishID:    r.id,
		Notification: r.n.Name,
		TenantID:     r.n.TenantID,
		UserID:       o.Recipient.ID,
		ChannelKey:   o.ChannelKey,
		Attempts:     o.Attempts,
		Error:        errString(o.Err),
	}})
}

func eventTypeFor(st Status) string {
	switch st {
	case StatusSent:
		return eventbus.TypeDeliverySent
	case StatusSkipped:
		return eventbus.TypeDeliverySkipped
	case StatusCanceled:
		return eventbus.TypeDeliveryCanceled
	default:
		return eventbus.TypeDeliveryFailed
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// retryDelay is the wait before attempt+1. attempt starts at 1.
func retryDelay(cfg Config, attempt int, err error) time.Duration {
	base := cfg.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxD := cfg.RetryMaxDelay
	if maxD <= 0 {
		maxD = 10 * time.Second
	}

	var ra RetryAfterError
	if errors.As(err, &ra) {
		if d := ra.RetryAfter(); d > 0 {
			if d > maxD {
				return maxD
			}
			return d
		}
	}

	// Exponential backoff: base * 2^(attempt-1)
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > maxD {
		d = maxD
	}
	return d
}
