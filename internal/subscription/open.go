package subscription

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "weappnotify/pkg/logx"
)

// Open builds the configured store. An empty driver means "memory".
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		log.Debug("subscription store", logx.String("driver", "memory"), logx.Int("seed", len(cfg.Seed)))
		return NewMemory(cfg.Seed...), nil
	case "sqlite", "sqlite3":
		st, err := OpenSQLite(cfg.Path, cfg.BusyTimeout, cfg.EnsureSchema)
		if err != nil {
			return nil, err
		}
		if len(cfg.Seed) > 0 {
			log.Warn("subscriptions.seed ignored for sqlite driver")
		}
		log.Debug("subscription store", logx.String("driver", "sqlite"), logx.Bool("ensure_schema", cfg.EnsureSchema))
		return st, nil
	case "redis":
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		st, err := OpenRedis(pctx, cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return nil, err
		}
		log.Debug("subscription store", logx.String("driver", "redis"), logx.String("prefix", st.Prefix))
		return st, nil
	default:
		return nil, errors.New("unknown subscriptions driver: " + driver)
	}
}
