package config

import (
	"fmt"
	"net/url"
	"strings"

	"weappnotify/internal/retention"
	logx "weappnotify/pkg/logx"
)

// Validate rejects configs that would fail at wiring time. It is run on Load and
// before every hot reload is committed, so a bad edit keeps the previous config.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.WeApp.DefaultState)) {
	case "", "developer", "trial", "formal":
	default:
		return fmt.Errorf("weapp.default_state: invalid %q (want developer|trial|formal)", cfg.WeApp.DefaultState)
	}

	p := cfg.Publisher
	if p.Workers < 0 {
		return fmt.Errorf("publisher.workers must be >= 0")
	}
	if p.RatePerSec < 0 {
		return fmt.Errorf("publisher.rate_per_sec must be >= 0")
	}
	if p.RetryMax < 0 {
		return fmt.Errorf("publisher.retry_max must be >= 0")
	}
	for path, raw := range map[string]string{
		"publisher.retry_base":       p.RetryBase,
		"publisher.retry_max_delay":  p.RetryMaxDelay,
		"publisher.send_timeout":     p.SendTimeout,
		"sender.timeout":             cfg.Sender.Timeout,
		"http.read_timeout":          cfg.HTTP.ReadTimeout,
		"http.write_timeout":         cfg.HTTP.WriteTimeout,
		"http.publish_timeout":       cfg.HTTP.PublishTimeout,
		"subscriptions.busy_timeout": cfg.Subscriptions.BusyTimeout,
	} {
		if _, err := ParseDuration(path, raw, 0); err != nil {
			return err
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Sender.Driver)) {
	case "", "dryrun":
	case "relay":
		u, err := url.Parse(strings.TrimSpace(cfg.Sender.RelayURL))
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("sender.relay_url: invalid %q (want http(s)://host/...)", cfg.Sender.RelayURL)
		}
	default:
		return fmt.Errorf("unknown sender.driver: %s", cfg.Sender.Driver)
	}

	s := cfg.Subscriptions
	switch strings.ToLower(strings.TrimSpace(s.Driver)) {
	case "", "memory":
		for i, seed := range s.Seed {
			if strings.TrimSpace(seed.Notification) == "" || strings.TrimSpace(seed.UserID) == "" {
				return fmt.Errorf("subscriptions.seed[%d]: notification and user_id are required", i)
			}
		}
	case "sqlite", "sqlite3":
		if strings.TrimSpace(s.Path) == "" {
			return fmt.Errorf("subscriptions.path is required when subscriptions.driver=sqlite")
		}
	case "redis":
		if strings.TrimSpace(s.RedisURL) == "" {
			return fmt.Errorf("subscriptions.redis_url is required when subscriptions.driver=redis")
		}
	default:
		return fmt.Errorf("unknown subscriptions.driver: %s", s.Driver)
	}

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none", "file":
		case "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				return fmt.Errorf("storage.path is required when storage.driver=sqlite")
			}
		default:
			return fmt.Errorf("unknown storage.driver: %s", st.Driver)
		}
		if _, err := ParseDuration("storage.busy_timeout", st.BusyTimeout, 0); err != nil {
			return err
		}
		if _, err := ParseDuration("storage.retention", st.Retention, 0); err != nil {
			return err
		}
		if spec := strings.TrimSpace(st.PruneSchedule); spec != "" {
			if _, err := retention.NewParser().Parse(spec); err != nil {
				return fmt.Errorf("storage.prune_schedule: invalid %q: %w", spec, err)
			}
		}
	}

	if !logx.ValidLevel(cfg.Logging.Level) {
		return fmt.Errorf("logging.level: invalid %q", cfg.Logging.Level)
	}
	return nil
}
