// Package retention prunes old publish reports on a cron schedule.
package retention

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "weappnotify/pkg/logx"
)

const (
	DefaultSchedule = "@hourly"
	pruneTimeout    = 30 * time.Second
)

// Pruner deletes records that finished before a cutoff.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int, error)
}

// Config controls the pruning job. A zero MaxAge disables pruning.
type Config struct {
	Schedule string
	MaxAge   time.Duration
}

// NewParser accepts 5-field and 6-field (with seconds) specs plus descriptors like "@daily".
func NewParser() cron.Parser {
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

type Service struct {
	mu     sync.Mutex
	cfg    Config
	store  Pruner
	log    logx.Logger
	parser cron.Parser
	c      *cron.Cron
	now    func() time.Time
}

func New(cfg Config, store Pruner, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: normalize(cfg), store: store, log: log, parser: NewParser(), now: time.Now}
}

func normalize(cfg Config) Config {
	cfg.Schedule = strings.TrimSpace(cfg.Schedule)
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.MaxAge < 0 {
		cfg.MaxAge = 0
	}
	return cfg
}

// Enabled reports whether pruning would run (store present and MaxAge > 0).
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store != nil && s.cfg.MaxAge > 0
}

// Start registers the job. Calling Start twice is a no-op.
func (s *Service) Start(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || s.store == nil {
		return nil
	}
	return s.startLocked()
}

func (s *Service) startLocked() error {
	c := cron.New(cron.WithParser(s.parser))
	if _, err := c.AddFunc(s.cfg.Schedule, s.runJob); err != nil {
		return err
	}
	c.Start()
	s.c = c
	s.log.Info("service started", logx.String("schedule", s.cfg.Schedule), logx.Duration("max_age", s.cfg.MaxAge))
	return nil
}

// Apply swaps the config; a changed schedule restarts the cron.
func (s *Service) Apply(cfg Config) error {
	cfg = normalize(cfg)
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if s.c == nil || old.Schedule == cfg.Schedule {
		return nil
	}
	<-s.c.Stop().Done()
	s.c = nil
	return s.startLocked()
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		// best-effort
	}
}

func (s *Service) runJob() {
	ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil {
		s.log.Warn("prune failed", logx.Err(err))
	}
}

// RunOnce prunes immediately and returns the number of removed reports.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	s.mu.Lock()
	cfg, store := s.cfg, s.store
	s.mu.Unlock()
	if store == nil || cfg.MaxAge <= 0 {
		return 0, nil
	}
	start := s.now()
	n, err := store.Prune(ctx, start.Add(-cfg.MaxAge))
	if err != nil {
		return n, err
	}
	if n > 0 {
		s.log.Info("reports pruned", logx.Int("removed", n), logx.Duration("took", time.Since(start)))
	} else {
		s.log.Debug("nothing to prune")
	}
	return n, nil
}
