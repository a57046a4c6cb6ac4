package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"stockwatch/internal/catalog"
	"stockwatch/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
	key         TEXT PRIMARY KEY,
	total_items INTEGER NOT NULL,
	items       TEXT NOT NULL,
	observed_at TEXT NOT NULL
);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("snapshot.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Load(ctx context.Context, key string) (Snapshot, error) {
	var (
		total      int
		itemsJSON  string
		observedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT total_items, items, observed_at FROM snapshots WHERE key = ?`, key).
		Scan(&total, &itemsJSON, &observedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, nil
	}
	if err != nil {
		s.log.Warn("snapshot row unreadable, using empty baseline", logx.String("key", key), logx.Err(err))
		return Snapshot{}, nil
	}

	var items []catalog.Item
	if err := json.Unmarshal([]byte(itemsJSON), &items); err != nil {
		s.log.Warn("snapshot items corrupt, using empty baseline", logx.String("key", key), logx.Err(err))
		return Snapshot{}, nil
	}
	at, err := time.Parse(time.RFC3339Nano, observedAt)
	if err != nil {
		at = time.Time{}
	}
	return Snapshot{TotalItems: total, Items: items, ObservedAt: at}, nil
}

func (s *sqliteStore) Save(ctx context.Context, key string, snap Snapshot) error {
	items := snap.Items
	if items == nil {
		items = []catalog.Item{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots(key, total_items, items, observed_at) VALUES(?,?,?,?)
		 ON CONFLICT(key) DO UPDATE SET
			total_items = excluded.total_items,
			items       = excluded.items,
			observed_at = excluded.observed_at`,
		key, snap.TotalItems, string(b), snap.ObservedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
