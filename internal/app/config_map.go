package app

import (
	"fmt"
	"strings"
	"time"

	"weappnotify/internal/api"
	"weappnotify/internal/config"
	"weappnotify/internal/notifier"
	"weappnotify/internal/retention"
	"weappnotify/internal/storage"
	"weappnotify/internal/subscription"
	"weappnotify/internal/transport"
	"weappnotify/internal/transport/weapp"
	logx "weappnotify/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapOptions(cfg *config.Config) notifier.Options {
	return notifier.Options{
		DefaultTemplateID:    strings.TrimSpace(cfg.WeApp.DefaultTemplateID),
		DefaultMsgPrefix:     cfg.WeApp.DefaultMsgPrefix,
		DefaultWeAppState:    strings.TrimSpace(cfg.WeApp.DefaultState),
		DefaultWeAppLanguage: strings.TrimSpace(cfg.WeApp.DefaultLanguage),
	}
}

// mapPublisherConfig leaves zero values in place; notifier.New applies the defaults.
func mapPublisherConfig(cfg *config.Config) (notifier.Config, error) {
	p := cfg.Publisher
	base, err := config.ParseDuration("publisher.retry_base", p.RetryBase, 0)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDuration("publisher.retry_max_delay", p.RetryMaxDelay, 0)
	if err != nil {
		return notifier.Config{}, err
	}
	sendTimeout, err := config.ParseDuration("publisher.send_timeout", p.SendTimeout, 0)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Workers:       p.Workers,
		RatePerSec:    p.RatePerSec,
		RetryMax:      p.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		SendTimeout:   sendTimeout,
	}, nil
}

func openSender(cfg *config.Config, log logx.Logger) (transport.Sender, error) {
	sc := cfg.Sender
	switch strings.ToLower(strings.TrimSpace(sc.Driver)) {
	case "", "dryrun":
		return weapp.NewDryRun(log), nil
	case "relay":
		timeout, err := config.ParseDuration("sender.timeout", sc.Timeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		return weapp.NewRelay(sc.RelayURL, sc.RelayToken, timeout)
	default:
		return nil, fmt.Errorf("unknown sender.driver: %s", sc.Driver)
	}
}

func mapSubscriptions(cfg *config.Config) (subscription.Config, error) {
	sc := cfg.Subscriptions
	busy, err := config.ParseDuration("subscriptions.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return subscription.Config{}, err
	}
	seed := make([]notifier.Subscription, 0, len(sc.Seed))
	for _, s := range sc.Seed {
		seed = append(seed, notifier.Subscription{
			TenantID:         s.TenantID,
			NotificationName: s.Notification,
			UserID:           s.UserID,
			UserName:         s.UserName,
		})
	}
	return subscription.Config{
		Driver:       sc.Driver,
		Path:         strings.TrimSpace(sc.Path),
		BusyTimeout:  busy,
		EnsureSchema: sc.EnsureSchema,
		RedisURL:     strings.TrimSpace(sc.RedisURL),
		RedisPrefix:  strings.TrimSpace(sc.RedisPrefix),
		Seed:         seed,
	}, nil
}

// mapStorage returns enabled=false when storage is absent or driver is "none".
func mapStorage(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDuration("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapRetention(cfg *config.Config) (retention.Config, error) {
	if cfg.Storage == nil {
		return retention.Config{}, nil
	}
	maxAge, err := config.ParseDuration("storage.retention", cfg.Storage.Retention, 0)
	if err != nil {
		return retention.Config{}, err
	}
	return retention.Config{Schedule: cfg.Storage.PruneSchedule, MaxAge: maxAge}, nil
}

func mapHTTP(cfg *config.Config) (api.Config, error) {
	h := cfg.HTTP
	read, err := config.ParseDuration("http.read_timeout", h.ReadTimeout, 15*time.Second)
	if err != nil {
		return api.Config{}, err
	}
	write, err := config.ParseDuration("http.write_timeout", h.WriteTimeout, 60*time.Second)
	if err != nil {
		return api.Config{}, err
	}
	publish, err := config.ParseDuration("http.publish_timeout", h.PublishTimeout, 30*time.Second)
	if err != nil {
		return api.Config{}, err
	}
	return api.Config{
		Addr:           strings.TrimSpace(h.Addr),
		JWTSecret:      h.JWTSecret,
		ReadTimeout:    read,
		WriteTimeout:   write,
		PublishTimeout: publish,
	}, nil
}
