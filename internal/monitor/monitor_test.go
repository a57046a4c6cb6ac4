package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"stockwatch/internal/catalog"
	"stockwatch/internal/notify"
	"stockwatch/internal/snapshot"
	"stockwatch/pkg/logx"
)

// fakeReader serves canned observations per collection key. When block is set,
// Read parks until release is closed.
type fakeReader struct {
	mu      sync.Mutex
	obs     map[string]catalog.Observation
	errs    map[string]error
	reads   int
	block   bool
	release chan struct{}
}

func (f *fakeReader) Read(ctx context.Context, col catalog.Collection) (catalog.Observation, error) {
	f.mu.Lock()
	f.reads++
	block := f.block
	release := f.release
	err := f.errs[col.Key]
	obs := f.obs[col.Key]
	f.mu.Unlock()

	if block {
		select {
		case <-release:
		case <-ctx.Done():
			return catalog.Observation{}, ctx.Err()
		}
	}
	if err != nil {
		return catalog.Observation{}, err
	}
	return obs, nil
}

// memStore is an in-memory snapshot.Store. saveErr makes every Save fail.
type memStore struct {
	mu      sync.Mutex
	data    map[string]snapshot.Snapshot
	saves   int
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{data: map[string]snapshot.Snapshot{}}
}

func (m *memStore) Load(_ context.Context, key string) (snapshot.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memStore) Save(_ context.Context, key string, snap snapshot.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.data[key] = snap
	return nil
}

func (m *memStore) Close() error { return nil }

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (r *recordingSender) Send(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, text)
	return nil
}

func (r *recordingSender) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

func obsOf(total int, ids ...string) catalog.Observation {
	items := make([]catalog.Item, 0, len(ids))
	for _, id := range ids {
		items = append(items, catalog.Item{
			ID:    id,
			Title: "Oversized Tee " + id,
			Link:  "https://shop.example/products/" + id,
		})
	}
	return catalog.Observation{TotalItems: total, Items: items, ObservedAt: time.Now()}
}

func testDispatcher(s notify.Sender) *notify.Dispatcher {
	return notify.NewDispatcher(notify.Config{
		Pace:       time.Nanosecond,
		RetryDelay: time.Nanosecond,
	}, s, logx.Nop())
}

func tees(track bool) catalog.Collection {
	return catalog.Collection{Key: "tees", Label: "Tees", URL: "https://shop.example/collections/tees", TrackItems: track}
}

func TestRunCycleFirstRun(t *testing.T) {
	reader := &fakeReader{obs: map[string]catalog.Observation{"tees": obsOf(2, "a", "b")}}
	store := newMemStore()
	sender := &recordingSender{}
	r := NewRunner(Config{Interval: time.Minute}, []catalog.Collection{tees(true)}, reader, store, testDispatcher(sender), nil, logx.Nop())

	r.RunCycle(context.Background())

	msgs := sender.messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 summary", len(msgs))
	}
	if !strings.Contains(msgs[0], "Added: +2") || !strings.Contains(msgs[0], "New items: 2") {
		t.Fatalf("first run must report everything as new:\n%s", msgs[0])
	}
	if got := store.data["tees"]; got.TotalItems != 2 {
		t.Fatalf("snapshot not persisted: %+v", got)
	}
}

func TestRunCycleSecondRunDiffsAgainstSnapshot(t *testing.T) {
	reader := &fakeReader{obs: map[string]catalog.Observation{"tees": obsOf(10, "a")}}
	store := newMemStore()
	sender := &recordingSender{}
	r := NewRunner(Config{}, []catalog.Collection{tees(true)}, reader, store, testDispatcher(sender), nil, logx.Nop())

	r.RunCycle(context.Background())

	reader.mu.Lock()
	reader.obs["tees"] = obsOf(12, "a", "b", "c")
	reader.mu.Unlock()

	r.RunCycle(context.Background())

	msgs := sender.messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	second := msgs[1]
	if !strings.Contains(second, "Added: +2") || !strings.Contains(second, "New items: 2") {
		t.Fatalf("second cycle delta wrong:\n%s", second)
	}
	if strings.Contains(second, "/products/a") {
		t.Fatalf("already-known item surfaced as a link:\n%s", second)
	}
	if !strings.Contains(second, "/products/b") || !strings.Contains(second, "/products/c") {
		t.Fatalf("new item links missing:\n%s", second)
	}
}

func TestRunCycleOverlappingTriggerDropped(t *testing.T) {
	release := make(chan struct{})
	reader := &fakeReader{
		obs:     map[string]catalog.Observation{"tees": obsOf(1, "a")},
		block:   true,
		release: release,
	}
	store := newMemStore()
	sender := &recordingSender{}
	r := NewRunner(Config{}, []catalog.Collection{tees(true)}, reader, store, testDispatcher(sender), nil, logx.Nop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.RunCycle(context.Background())
	}()

	// Wait until the first cycle is parked inside the reader.
	deadline := time.After(2 * time.Second)
	for !r.Running() {
		select {
		case <-deadline:
			t.Fatal("first cycle never started")
		case <-time.After(time.Millisecond):
		}
	}

	r.RunCycle(context.Background()) // must return immediately, no second read

	close(release)
	<-done

	reader.mu.Lock()
	reads := reader.reads
	reader.mu.Unlock()
	if reads != 1 {
		t.Fatalf("overlapping trigger reached the reader: %d reads", reads)
	}
	if len(sender.messages()) != 1 {
		t.Fatalf("got %d messages, want 1", len(sender.messages()))
	}
	if r.Running() {
		t.Fatal("guard not released after cycle")
	}
}

func TestRunCycleReadFailureKeepsSnapshot(t *testing.T) {
	reader := &fakeReader{obs: map[string]catalog.Observation{"tees": obsOf(5, "a")}}
	store := newMemStore()
	sender := &recordingSender{}
	r := NewRunner(Config{}, []catalog.Collection{tees(true)}, reader, store, testDispatcher(sender), nil, logx.Nop())

	r.RunCycle(context.Background())

	reader.mu.Lock()
	reader.errs = map[string]error{"tees": errors.New("navigation timeout")}
	reader.mu.Unlock()

	r.RunCycle(context.Background())

	if got := store.data["tees"]; got.TotalItems != 5 {
		t.Fatalf("failed read must leave the previous snapshot intact: %+v", got)
	}
	// Failed cycle observes nothing, so no second summary goes out.
	if len(sender.messages()) != 1 {
		t.Fatalf("got %d messages, want 1", len(sender.messages()))
	}
}

func TestRunCycleFailedCollectionDoesNotStopOthers(t *testing.T) {
	reader := &fakeReader{
		obs:  map[string]catalog.Observation{"hoodies": obsOf(3, "h1")},
		errs: map[string]error{"tees": errors.New("navigation timeout")},
	}
	store := newMemStore()
	sender := &recordingSender{}
	cols := []catalog.Collection{
		tees(true),
		{Key: "hoodies", Label: "Hoodies", URL: "https://shop.example/collections/hoodies", TrackItems: true},
	}
	r := NewRunner(Config{}, cols, reader, store, testDispatcher(sender), nil, logx.Nop())

	r.RunCycle(context.Background())

	msgs := sender.messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if strings.Contains(msgs[0], "Tees") {
		t.Fatalf("failed collection must not appear in the summary:\n%s", msgs[0])
	}
	if !strings.Contains(msgs[0], "Hoodies") {
		t.Fatalf("healthy collection missing from the summary:\n%s", msgs[0])
	}
}

func TestRunCyclePersistsDespiteDeliveryFailure(t *testing.T) {
	reader := &fakeReader{obs: map[string]catalog.Observation{"tees": obsOf(2, "a", "b")}}
	store := newMemStore()
	sender := &recordingSender{err: errors.New("chat unreachable")}
	r := NewRunner(Config{}, []catalog.Collection{tees(true)}, reader, store, testDispatcher(sender), nil, logx.Nop())

	r.RunCycle(context.Background())

	if got := store.data["tees"]; got.TotalItems != 2 || len(got.Items) != 2 {
		t.Fatalf("snapshot must be persisted before delivery: %+v", got)
	}
}

func TestRunCycleBucketAlerts(t *testing.T) {
	obs := catalog.Observation{TotalItems: 6, ObservedAt: time.Now()}
	for _, id := range []string{"h1", "h2", "h3", "t1", "t2", "t3"} {
		title := "Zip Hoodie " + id
		if strings.HasPrefix(id, "t") {
			title = "Oversized T-Shirt " + id
		}
		obs.Items = append(obs.Items, catalog.Item{ID: id, Title: title, Link: "https://shop.example/products/" + id})
	}
	reader := &fakeReader{obs: map[string]catalog.Observation{"tees": obs}}
	store := newMemStore()
	sender := &recordingSender{}
	r := NewRunner(Config{}, []catalog.Collection{tees(true)}, reader, store, testDispatcher(sender), nil, logx.Nop())

	r.RunCycle(context.Background())

	msgs := sender.messages()
	// Summary plus one message per matched bucket, in rule order.
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want summary + 2 buckets", len(msgs))
	}
	if !strings.HasPrefix(msgs[1], "T-SHIRTS (3 products)") {
		t.Fatalf("first bucket = %q", msgs[1])
	}
	if !strings.HasPrefix(msgs[2], "HOODIES (3 products)") {
		t.Fatalf("second bucket = %q", msgs[2])
	}
}

func TestRunCycleBelowBucketThreshold(t *testing.T) {
	reader := &fakeReader{obs: map[string]catalog.Observation{"tees": obsOf(4, "a", "b", "c", "d")}}
	store := newMemStore()
	sender := &recordingSender{}
	r := NewRunner(Config{}, []catalog.Collection{tees(true)}, reader, store, testDispatcher(sender), nil, logx.Nop())

	r.RunCycle(context.Background())

	if len(sender.messages()) != 1 {
		t.Fatalf("4 new items must produce the summary only, got %d messages", len(sender.messages()))
	}
}
