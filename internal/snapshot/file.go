package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"stockwatch/pkg/logx"
)

// fileStore keeps all collection snapshots in a single JSON document.
//
// Writes replace the whole file via tmp+rename so a reader never observes a
// half-written record.
type fileStore struct {
	log  logx.Logger
	path string

	mu   sync.Mutex
	data map[string]Snapshot
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := cfg.Path
	if path == "" {
		return nil, errors.New("snapshot.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, path: path, data: map[string]Snapshot{}}

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// First run: empty baseline for every key.
	case err != nil:
		log.Warn("snapshot file unreadable, starting from empty baseline", logx.String("path", path), logx.Err(err))
	default:
		if err := json.Unmarshal(b, &s.data); err != nil {
			log.Warn("snapshot file corrupt, starting from empty baseline", logx.String("path", path), logx.Err(err))
			s.data = map[string]Snapshot{}
		}
	}
	return s, nil
}

func (s *fileStore) Load(ctx context.Context, key string) (Snapshot, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.data[key]
	if !ok {
		return Snapshot{}, nil
	}
	return snap, nil
}

func (s *fileStore) Save(ctx context.Context, key string, snap Snapshot) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = snap
	return s.flushLocked()
}

func (s *fileStore) flushLocked() error {
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *fileStore) Close() error { return nil }
