package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"weappnotify/internal/notifier"
	logx "weappnotify/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.reports.jsonl (append-only JSON Lines, rewritten by Prune)
//
// Every report is also indexed in memory, so this driver suits modest volumes
// with a retention window.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	path string
	f    *os.File

	index map[string]notifier.Report
	order []string // append order; duplicates possible after re-saves
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	reportsPath := filepath.Join(dir, base) + ".reports.jsonl"

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, path: reportsPath, index: map[string]notifier.Report{}}
	if err := s.replay(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	f, err := os.OpenFile(reportsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.f = f
	return s, nil
}

func (s *fileStore) replay() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	// Reports with many recipients produce long lines.
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	skipped := 0
	for sc.Scan() {
		var r notifier.Report
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.ID == "" {
			skipped++
			continue
		}
		s.index[r.ID] = r
		s.order = append(s.order, r.ID)
	}
	if skipped > 0 {
		s.log.Warn("skipped unreadable report lines", logx.Int("count", skipped), logx.String("path", s.path))
	}
	return sc.Err()
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) SaveReport(ctx context.Context, r notifier.Report) error {
	_ = ctx
	if r.ID == "" {
		return errors.New("report id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.f).Encode(r); err != nil {
		return err
	}
	s.index[r.ID] = r
	s.order = append(s.order, r.ID)
	return nil
}

func (s *fileStore) GetReport(ctx context.Context, id string) (notifier.Report, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.index[id]
	return r, ok, nil
}

// Prune drops old reports and compacts the file (tmp + rename).
func (s *fileStore) Prune(ctx context.Context, before time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return 0, ErrClosed
	}

	removed := 0
	for id, r := range s.index {
		if r.FinishedAt.Before(before) {
			delete(s.index, id)
			removed++
		}
	}
	if removed == 0 && len(s.order) == len(s.index) {
		return 0, nil
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(f)
	order := make([]string, 0, len(s.index))
	seen := make(map[string]struct{}, len(s.index))
	// Newest save of an id wins; keep first-seen order of survivors.
	for _, id := range s.order {
		r, ok := s.index[id]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return 0, err
		}
		order = append(order, id)
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return 0, err
	}

	// Reopen the append handle on the new file.
	_ = s.f.Close()
	nf, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.f = nil
		return removed, err
	}
	s.f = nf
	s.order = order
	return removed, nil
}
