package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment overrides. Secrets should be provided this way rather than in the file.
const (
	EnvJWTSecret  = "WEAPPNOTIFY_JWT_SECRET"
	EnvRelayToken = "WEAPPNOTIFY_RELAY_TOKEN"
	EnvRelayURL   = "WEAPPNOTIFY_RELAY_URL"
	EnvRedisURL   = "WEAPPNOTIFY_REDIS_URL"
	EnvHTTPAddr   = "WEAPPNOTIFY_HTTP_ADDR"
	EnvLogLevel   = "WEAPPNOTIFY_LOG_LEVEL"
)

// LoadDotEnv loads KEY=VALUE pairs from files into the process environment.
// Variables that are already set win. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv overlays environment overrides onto cfg.
func ApplyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	setIfEnv(&cfg.HTTP.JWTSecret, EnvJWTSecret)
	setIfEnv(&cfg.HTTP.Addr, EnvHTTPAddr)
	setIfEnv(&cfg.Sender.RelayToken, EnvRelayToken)
	setIfEnv(&cfg.Sender.RelayURL, EnvRelayURL)
	setIfEnv(&cfg.Subscriptions.RedisURL, EnvRedisURL)
	setIfEnv(&cfg.Logging.Level, EnvLogLevel)
}

func setIfEnv(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}
