package notify

import (
	"fmt"
	"strings"
	"time"

	"stockwatch/internal/catalog"
)

// CollectionReport is the per-collection slice of one cycle's outcome handed
// to the formatter. Failed collections never produce a report.
type CollectionReport struct {
	Collection catalog.Collection

	Total   int
	Added   int
	Removed int

	// NewItems for item-tracked collections, in observation order.
	NewItems []catalog.Item

	// Delisted is the count of identifiers that disappeared since the prior
	// snapshot (item-tracked collections only).
	Delisted int

	// Links are the items to surface in the summary's links section
	// (the current observation of an item-tracked collection).
	Links []catalog.Item
}

// FormatSummary renders the cycle's headline message: one block per observed
// collection, a capped links section, and a local timestamp.
func FormatSummary(reports []CollectionReport, topLinks int, at time.Time, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("📦 STOCK UPDATE\n")

	for i, r := range reports {
		fmt.Fprintf(&b, "\n%d) %s\n", i+1, r.Collection.Label)
		fmt.Fprintf(&b, "Total: %d\n", r.Total)
		fmt.Fprintf(&b, "Added: +%d\n", r.Added)
		fmt.Fprintf(&b, "Removed: -%d\n", r.Removed)
		if r.Collection.TrackItems {
			fmt.Fprintf(&b, "New items: %d\n", len(r.NewItems))
			if r.Delisted > 0 {
				fmt.Fprintf(&b, "Delisted: %d\n", r.Delisted)
			}
		}
	}

	links := summaryLinks(reports)
	b.WriteString("\n🔗 Top Links:\n")
	if len(links) == 0 {
		b.WriteString("No links found\n")
	} else {
		if topLinks > 0 && len(links) > topLinks {
			links = links[:topLinks]
		}
		for _, it := range links {
			b.WriteString("• ")
			b.WriteString(it.Link)
			b.WriteString("\n")
		}
	}

	if loc == nil {
		loc = time.Local
	}
	fmt.Fprintf(&b, "\nUpdated: %s", at.In(loc).Format("02 Jan 2006 15:04:05"))
	return b.String()
}

// summaryLinks prefers fresh new items; when a cycle has none it falls back
// to the current listing of the first item-tracked collection so the summary
// still carries something clickable.
func summaryLinks(reports []CollectionReport) []catalog.Item {
	var out []catalog.Item
	for _, r := range reports {
		out = append(out, r.NewItems...)
	}
	if len(out) > 0 {
		return out
	}
	for _, r := range reports {
		if len(r.Links) > 0 {
			return r.Links
		}
	}
	return nil
}

// FormatBucket renders one per-bucket alert. Items beyond maxLinks are
// summarized as a count, not dropped silently.
func FormatBucket(name string, items []catalog.Item, maxLinks int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d products)\n", name, len(items))

	shown := items
	if maxLinks > 0 && len(shown) > maxLinks {
		shown = shown[:maxLinks]
	}
	for _, it := range shown {
		b.WriteString("\n• ")
		b.WriteString(it.Link)
	}
	if rest := len(items) - len(shown); rest > 0 {
		fmt.Fprintf(&b, "\n… and %d more", rest)
	}
	return b.String()
}
