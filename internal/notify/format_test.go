package notify

import (
	"strings"
	"testing"
	"time"

	"stockwatch/internal/catalog"
)

func report(label string, track bool) CollectionReport {
	return CollectionReport{
		Collection: catalog.Collection{Key: strings.ToLower(label), Label: label, TrackItems: track},
	}
}

func TestFormatSummary(t *testing.T) {
	r1 := report("Drop Shoulder Tees", true)
	r1.Total = 12
	r1.Added = 2
	r1.NewItems = []catalog.Item{
		{ID: "2", Title: "Tee Two", Link: "https://shop.example/p/2"},
		{ID: "3", Title: "Tee Three", Link: "https://shop.example/p/3"},
	}
	r2 := report("All Products", false)
	r2.Total = 240
	r2.Removed = 1

	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	got := FormatSummary([]CollectionReport{r1, r2}, 12, at, time.UTC)

	for _, want := range []string{
		"📦 STOCK UPDATE",
		"1) Drop Shoulder Tees",
		"Total: 12",
		"Added: +2",
		"New items: 2",
		"2) All Products",
		"Removed: -1",
		"🔗 Top Links:",
		"• https://shop.example/p/2",
		"• https://shop.example/p/3",
		"Updated: 14 Mar 2026 09:30:00",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("summary missing %q:\n%s", want, got)
		}
	}
	// Count-only collection must not carry item lines.
	if strings.Count(got, "New items:") != 1 {
		t.Fatalf("count-only collection leaked item lines:\n%s", got)
	}
}

func TestFormatSummaryLinkCap(t *testing.T) {
	r := report("Tees", true)
	for i := 0; i < 15; i++ {
		r.NewItems = append(r.NewItems, catalog.Item{
			ID:    string(rune('a' + i)),
			Title: "Tee",
			Link:  "https://shop.example/p/" + string(rune('a'+i)),
		})
	}
	got := FormatSummary([]CollectionReport{r}, 12, time.Now(), time.UTC)

	if n := strings.Count(got, "• "); n != 12 {
		t.Fatalf("got %d links, want 12:\n%s", n, got)
	}
}

func TestFormatSummaryLinkFallback(t *testing.T) {
	// No new items this cycle: fall back to the tracked collection's current
	// listing rather than printing nothing.
	r := report("Tees", true)
	r.Total = 3
	r.Links = []catalog.Item{{ID: "1", Title: "Tee", Link: "https://shop.example/p/1"}}

	got := FormatSummary([]CollectionReport{r}, 12, time.Now(), time.UTC)
	if !strings.Contains(got, "• https://shop.example/p/1") {
		t.Fatalf("fallback links missing:\n%s", got)
	}
}

func TestFormatSummaryNoLinks(t *testing.T) {
	got := FormatSummary([]CollectionReport{report("All Products", false)}, 12, time.Now(), time.UTC)
	if !strings.Contains(got, "No links found") {
		t.Fatalf("empty link section placeholder missing:\n%s", got)
	}
}

func TestFormatSummaryDelisted(t *testing.T) {
	r := report("Tees", true)
	r.Delisted = 2
	got := FormatSummary([]CollectionReport{r}, 12, time.Now(), time.UTC)
	if !strings.Contains(got, "Delisted: 2") {
		t.Fatalf("delisted count missing:\n%s", got)
	}
}

func TestFormatBucket(t *testing.T) {
	items := []catalog.Item{
		{ID: "1", Title: "Hoodie A", Link: "https://shop.example/p/1"},
		{ID: "2", Title: "Hoodie B", Link: "https://shop.example/p/2"},
	}
	got := FormatBucket("HOODIES", items, 8)

	if !strings.HasPrefix(got, "HOODIES (2 products)") {
		t.Fatalf("bad header: %q", got)
	}
	if !strings.Contains(got, "• https://shop.example/p/1") || !strings.Contains(got, "• https://shop.example/p/2") {
		t.Fatalf("links missing: %q", got)
	}
	if strings.Contains(got, "more") {
		t.Fatalf("unexpected overflow note: %q", got)
	}
}
