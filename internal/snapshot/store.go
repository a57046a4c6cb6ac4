// Package snapshot persists the last-known observed state per tracked
// collection.
//
// Two drivers are supported:
//   - "file": one human-inspectable JSON document keyed by collection
//   - "sqlite": one row per collection key
//
// A missing or unparseable record is never an error: Load returns the empty
// baseline so a corrupted state file cannot halt the monitor.
package snapshot

import (
	"context"
	"errors"
	"strings"
	"time"

	"stockwatch/internal/catalog"
	"stockwatch/pkg/logx"
)

// Config configures the snapshot store.
//
// If Driver is empty, "file" is assumed.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Snapshot is the persisted observed state of one collection. It always
// reflects the last successfully completed read; a failed cycle leaves the
// previous snapshot untouched.
type Snapshot struct {
	TotalItems int            `json:"totalItems"`
	Items      []catalog.Item `json:"items"`
	ObservedAt time.Time      `json:"observedAt"`
}

// FromObservation converts a fresh observation into its persisted form.
func FromObservation(obs catalog.Observation) Snapshot {
	return Snapshot{
		TotalItems: obs.TotalItems,
		Items:      obs.Items,
		ObservedAt: obs.ObservedAt,
	}
}

// Store is the persistence API used by the run coordinator.
// Save must be a full overwrite of the keyed record.
type Store interface {
	Load(ctx context.Context, key string) (Snapshot, error)
	Save(ctx context.Context, key string, snap Snapshot) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown snapshot driver: " + driver)
	}
}
