// Package catalog defines the tracked-collection data model and the Reader
// that produces fresh observations of a collection's contents.
package catalog

import (
	"context"
	"fmt"
	"time"
)

// Collection is one independently monitored catalog view.
// Collections are declared in config and immutable after process start.
type Collection struct {
	Key   string
	Label string
	URL   string

	// TrackItems selects identifier-based diffing (new-item alerts) instead of
	// count-delta-only tracking.
	TrackItems bool
}

// Item is one catalog entry. ID is derived from the canonical link and is the
// dedup anchor: two items with the same ID are the same entry regardless of
// title or price drift.
type Item struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Price string `json:"price,omitempty"`
	Link  string `json:"link"`
}

// Observation is the result of one read of a collection at a point in time.
type Observation struct {
	TotalItems int
	Items      []Item
	ObservedAt time.Time
}

// ReadError wraps any failure to produce an observation (timeout, navigation
// error, expected markup absent). It is local to one collection and one cycle.
type ReadError struct {
	Collection string
	Err        error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("catalog read %s: %v", e.Collection, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Reader yields the current state of a collection.
// Implementations are heavyweight and must not be invoked concurrently;
// the run coordinator's single-flight guard enforces that.
type Reader interface {
	Read(ctx context.Context, col Collection) (Observation, error)
}
