// Package diff computes change records between a persisted snapshot and a
// fresh observation. All functions are pure: no I/O, no side effects.
package diff

import (
	"stockwatch/internal/catalog"
	"stockwatch/internal/snapshot"
)

// Record is the derived delta for one collection within one cycle.
// It is never persisted.
type Record struct {
	Added   int
	Removed int

	// NewItems are current items whose identifier is absent from the prior
	// snapshot, in the current observation's order.
	NewItems []catalog.Item

	// RemovedIDs are identifiers present in the prior snapshot but absent from
	// the current observation. Only populated for item-tracked collections.
	RemovedIDs []string
}

// CountDelta computes added/removed from totals alone. Both are >= 0 by
// construction; simultaneous positive values mean net churn, not an error.
func CountDelta(oldTotal, newTotal int) (added, removed int) {
	if newTotal > oldTotal {
		added = newTotal - oldTotal
	}
	if oldTotal > newTotal {
		removed = oldTotal - newTotal
	}
	return added, removed
}

// NewItems returns current items whose identifier is not in prev, preserving
// the current order. Repeated identifiers in cur are reported once (first
// occurrence wins). An empty prev means everything is new: first-run alerts
// are expected to be large and are not suppressed.
func NewItems(prev, cur []catalog.Item) []catalog.Item {
	known := make(map[string]struct{}, len(prev))
	for _, it := range prev {
		known[it.ID] = struct{}{}
	}
	var out []catalog.Item
	for _, it := range cur {
		if _, ok := known[it.ID]; ok {
			continue
		}
		known[it.ID] = struct{}{}
		out = append(out, it)
	}
	return out
}

// RemovedIDs returns identifiers present in prev but absent from cur, in
// prev's order.
func RemovedIDs(prev, cur []catalog.Item) []string {
	current := make(map[string]struct{}, len(cur))
	for _, it := range cur {
		current[it.ID] = struct{}{}
	}
	var out []string
	seen := make(map[string]struct{}, len(prev))
	for _, it := range prev {
		if _, ok := current[it.ID]; ok {
			continue
		}
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		out = append(out, it.ID)
	}
	return out
}

// Compute builds the full change record for one collection. trackItems selects
// identifier-based diffing in addition to the count delta.
func Compute(prev snapshot.Snapshot, cur catalog.Observation, trackItems bool) Record {
	rec := Record{}
	rec.Added, rec.Removed = CountDelta(prev.TotalItems, cur.TotalItems)
	if trackItems {
		rec.NewItems = NewItems(prev.Items, cur.Items)
		rec.RemovedIDs = RemovedIDs(prev.Items, cur.Items)
	}
	return rec
}
