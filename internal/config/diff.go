package config

import (
	"reflect"
	"sort"
	"strings"

	logx "weappnotify/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.WeApp != newCfg.WeApp {
		changed = append(changed, "weapp")
		attrs = append(attrs,
			logx.String("weapp.default_template_id", newCfg.WeApp.DefaultTemplateID),
			logx.String("weapp.default_msg_prefix", newCfg.WeApp.DefaultMsgPrefix),
			logx.String("weapp.default_state", newCfg.WeApp.DefaultState),
			logx.String("weapp.default_language", newCfg.WeApp.DefaultLanguage),
		)
	}

	if oldCfg.Publisher != newCfg.Publisher {
		changed = append(changed, "publisher")
		attrs = append(attrs,
			logx.Int("publisher.workers", newCfg.Publisher.Workers),
			logx.Int("publisher.rate_per_sec", newCfg.Publisher.RatePerSec),
			logx.Int("publisher.retry_max", newCfg.Publisher.RetryMax),
			logx.String("publisher.send_timeout", strings.TrimSpace(newCfg.Publisher.SendTimeout)),
		)
	}

	// Sender (never log token)
	if strings.TrimSpace(oldCfg.Sender.Driver) != strings.TrimSpace(newCfg.Sender.Driver) ||
		strings.TrimSpace(oldCfg.Sender.RelayURL) != strings.TrimSpace(newCfg.Sender.RelayURL) ||
		strings.TrimSpace(oldCfg.Sender.Timeout) != strings.TrimSpace(newCfg.Sender.Timeout) ||
		(oldCfg.Sender.RelayToken != "") != (newCfg.Sender.RelayToken != "") {
		changed = append(changed, "sender")
		attrs = append(attrs,
			logx.String("sender.driver", strings.TrimSpace(newCfg.Sender.Driver)),
			logx.Bool("sender.token_set", newCfg.Sender.RelayToken != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Subscriptions, newCfg.Subscriptions) {
		changed = append(changed, "subscriptions")
		attrs = append(attrs,
			logx.String("subscriptions.driver", strings.TrimSpace(newCfg.Subscriptions.Driver)),
			logx.Int("subscriptions.seed_count", len(newCfg.Subscriptions.Seed)),
		)
	}

	// Storage: nil means disabled.
	oldS, newS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
			logx.String("storage.retention", strings.TrimSpace(newS.Retention)),
		)
	}

	// HTTP (never log secret)
	if oldCfg.HTTP.Enabled != newCfg.HTTP.Enabled ||
		strings.TrimSpace(oldCfg.HTTP.Addr) != strings.TrimSpace(newCfg.HTTP.Addr) ||
		oldCfg.HTTP.ReadTimeout != newCfg.HTTP.ReadTimeout ||
		oldCfg.HTTP.WriteTimeout != newCfg.HTTP.WriteTimeout ||
		oldCfg.HTTP.PublishTimeout != newCfg.HTTP.PublishTimeout ||
		(oldCfg.HTTP.JWTSecret != "") != (newCfg.HTTP.JWTSecret != "") {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Bool("http.auth", newCfg.HTTP.JWTSecret != ""),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that are wired once at startup.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "sender", "subscriptions", "storage", "http":
			out = append(out, s)
		}
	}
	return out
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}
