package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "weappnotify/pkg/logx"
)

// reloadDelay lets editors finish multi-step saves before the file is re-read.
const reloadDelay = 250 * time.Millisecond

// Manager holds the live Config. Each accepted reload replaces the snapshot and
// is fanned out to subscribers; snapshots are never mutated after publication.
type Manager struct {
	path string

	mu      sync.RWMutex
	cfg     *Config
	version uint64

	subsMu sync.Mutex
	subs   []chan *Config

	log   logx.Logger
	check func(ctx context.Context, cfg *Config) error
}

func NewManager(path string) *Manager {
	return &Manager{path: path, log: logx.Nop()}
}

func (m *Manager) SetLogger(log logx.Logger) {
	if !log.IsZero() {
		m.log = log
	}
}

// SetValidator adds a component-level check that runs after Validate on every
// reload. A failing check keeps the running config.
func (m *Manager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.check = fn
}

// Load reads the file, applies WEAPPNOTIFY_* overrides, validates the result and
// makes it current. Subscribers are not notified.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.read()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.cfg, m.version = cfg, fingerprint(cfg)
	m.mu.Unlock()
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) read() (*Config, error) {
	body, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(m.path, body)
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg)
	return cfg, nil
}

// errUnchanged marks a reload whose effective config equals the current one.
var errUnchanged = errors.New("config unchanged")

// reload re-reads the file and, when the result is new and passes both Validate
// and the component check, swaps it in and publishes it.
func (m *Manager) reload(ctx context.Context) error {
	cfg, err := m.read()
	if err != nil {
		return err
	}
	v := fingerprint(cfg)
	m.mu.RLock()
	same := v != 0 && v == m.version
	m.mu.RUnlock()
	if same {
		return errUnchanged
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	if m.check != nil {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.check(cctx, cfg)
		cancel()
		if err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.cfg, m.version = cfg, v
	m.mu.Unlock()
	m.publish(cfg)
	return nil
}

// fingerprint hashes the effective config (file plus env overrides).
func fingerprint(cfg *Config) uint64 {
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Subscribe returns a channel that receives every accepted reload. A slow
// subscriber only ever misses intermediate configs, never the latest one.
func (m *Manager) Subscribe(buffer int) chan *Config {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		for {
			select {
			case ch <- cfg:
			default:
				// Full: drop the oldest pending config and try again.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Watch reloads the config whenever its file changes, until ctx is done. It
// returns an error when the watcher itself fails; callers restart it.
func (m *Manager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer w.Close()

	// The directory is watched so atomic replace-by-rename saves are seen.
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("config watch %s: %w", dir, err)
	}
	m.log.Debug("config watcher started", logx.String("path", m.path))

	var due <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("config watch: event channel closed")
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				due = time.After(reloadDelay)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("config watch: error channel closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watch overflow; reloading", logx.Err(err))
				due = time.After(reloadDelay)
				continue
			}
			return fmt.Errorf("config watch: %w", err)

		case <-due:
			due = nil
			m.applyReload(ctx)
		}
	}
}

func (m *Manager) applyReload(ctx context.Context) {
	switch err := m.reload(ctx); {
	case err == nil:
		m.log.Debug("config published", logx.String("path", m.path))
	case errors.Is(err, errUnchanged):
		m.log.Debug("config unchanged", logx.String("path", m.path))
	default:
		m.log.Warn("config rejected; keeping current", logx.String("path", m.path), logx.Err(err))
	}
}
