package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"weappnotify/internal/api"
	"weappnotify/internal/config"
	"weappnotify/internal/eventbus"
	"weappnotify/internal/notifier"
	"weappnotify/internal/retention"
	"weappnotify/internal/runtime/supervisor"
	"weappnotify/internal/storage"
	"weappnotify/internal/subscription"
	"weappnotify/internal/transport"
	logx "weappnotify/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	subs  subscription.Store

	sender transport.Sender
	notif  *notifier.Service
	api    *api.Server
	pruner *retention.Service
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg))
	log = log.With(logx.String("comp", "app"))

	ncfg, err := mapPublisherConfig(cfg)
	if err != nil {
		return nil, err
	}
	subCfg, err := mapSubscriptions(cfg)
	if err != nil {
		return nil, err
	}
	httpCfg, err := mapHTTP(cfg)
	if err != nil {
		return nil, err
	}
	retCfg, err := mapRetention(cfg)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	sender, err := openSender(cfg, log.With(logx.String("comp", "sender")))
	if err != nil {
		return nil, err
	}

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorage(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	openCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	subs, err := subscription.Open(openCtx, subCfg, log.With(logx.String("comp", "subscriptions")))
	cancel()
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}

	deps := notifier.Deps{
		Subscriptions: subs,
		Sender:        sender,
		Bus:           bus,
		Logger:        log.With(logx.String("comp", "notifier")),
	}
	if store != nil {
		deps.Reports = store
	}
	notifSvc := notifier.New(ncfg, mapOptions(cfg), deps)

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		subs:    subs,
		sender:  sender,
		notif:   notifSvc,
	}

	if cfg.HTTP.Enabled {
		var reports api.ReportReader
		if store != nil {
			reports = store
		}
		a.api = api.New(httpCfg, notifSvc, reports, log.With(logx.String("comp", "http")))
	}
	if store != nil {
		a.pruner = retention.New(retCfg, store, log.With(logx.String("comp", "retention")))
	}
	return a, nil
}

// Publisher is the provider the host dispatcher selects by name.
func (a *App) Publisher() notifier.Provider { return a.notif }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapPublisherConfig(cfg); err != nil {
			return err
		}
		if _, err := mapRetention(cfg); err != nil {
			return err
		}
		_, _, err := mapStorage(cfg)
		return err
	})

	if a.api != nil {
		a.sup.Go("http", a.api.Run)
	}
	if a.pruner != nil && a.pruner.Enabled() {
		if err := a.pruner.Start(a.sup.Context()); err != nil {
			return fmt.Errorf("retention: %w", err)
		}
	}

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					// Debug-level; publishes are frequent.
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
				}
			}
		})
	}

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.GoRestart("config.watch", a.cfgm.Watch, time.Second, 30*time.Second)

	a.log.Info("app started",
		logx.String("provider", a.notif.Name()),
		logx.Bool("http", a.api != nil),
		logx.Bool("storage", a.store != nil),
	)
	return nil
}

// applyConfig pushes the hot-reloadable sections into running components.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogging(newCfg))
	a.notif.ApplyOptions(mapOptions(newCfg))
	if ncfg, err := mapPublisherConfig(newCfg); err != nil {
		a.log.Warn("invalid publisher config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}
	if a.pruner != nil {
		rc, err := mapRetention(newCfg)
		if err == nil {
			err = a.pruner.Apply(rc)
		}
		if err != nil {
			a.log.Warn("invalid retention config; keeping previous", logx.Err(err))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel first so the HTTP server drains and loops unwind.
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// The HTTP server stops accepting publishes before its backends close.
	step("supervisor", 6*time.Second, func(c context.Context) error {
		if err := a.sup.Wait(c); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	step("retention", time.Second, func(c context.Context) error {
		if a.pruner != nil {
			a.pruner.Stop(c)
		}
		return nil
	})
	step("subscriptions", time.Second, func(context.Context) error { return a.subs.Close() })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}
