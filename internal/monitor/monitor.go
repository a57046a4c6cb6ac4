// Package monitor orchestrates the observe → diff → notify → persist cycle
// and triggers it on a fixed interval.
package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"stockwatch/internal/catalog"
	"stockwatch/internal/classify"
	"stockwatch/internal/diff"
	"stockwatch/internal/notify"
	"stockwatch/internal/snapshot"
	"stockwatch/pkg/logx"
)

type Config struct {
	// Interval between cycle triggers.
	Interval time.Duration

	// StartupDelay before the first cycle, to let the liveness probe come up.
	StartupDelay time.Duration

	// Cooldown between consecutive collection reads within a cycle.
	Cooldown time.Duration

	// Timezone for the human-readable timestamp in notifications (IANA name).
	Timezone string
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Minute
	}
	if c.Cooldown < 0 {
		c.Cooldown = 0
	}
}

// Runner executes one full cycle per trigger and guarantees at most one cycle
// runs at a time. An overlapping trigger is dropped, never queued: the catalog
// reader is a heavyweight, stateful resource that must not run twice
// concurrently.
type Runner struct {
	cfg         Config
	collections []catalog.Collection
	reader      catalog.Reader
	store       snapshot.Store
	disp        *notify.Dispatcher
	rules       []classify.Rule
	log         logx.Logger
	loc         *time.Location

	running atomic.Bool
}

func NewRunner(
	cfg Config,
	collections []catalog.Collection,
	reader catalog.Reader,
	store snapshot.Store,
	disp *notify.Dispatcher,
	rules []classify.Rule,
	log logx.Logger,
) *Runner {
	cfg.defaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	if len(rules) == 0 {
		rules = classify.DefaultRules
	}
	loc := time.Local
	if cfg.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Timezone); err == nil {
			loc = l
		} else {
			log.Warn("invalid timezone, using local", logx.String("tz", cfg.Timezone), logx.Err(err))
		}
	}
	return &Runner{
		cfg:         cfg,
		collections: collections,
		reader:      reader,
		store:       store,
		disp:        disp,
		rules:       rules,
		log:         log,
		loc:         loc,
	}
}

// RunCycle runs one full cycle. It returns immediately when a cycle is
// already in flight. The guard is released on all paths.
func (r *Runner) RunCycle(ctx context.Context) {
	if !r.running.CompareAndSwap(false, true) {
		r.log.Warn("cycle already running, trigger skipped")
		return
	}
	defer r.running.Store(false)

	start := time.Now()
	r.log.Info("cycle started", logx.Int("collections", len(r.collections)))

	var (
		reports  []notify.CollectionReport
		newItems []catalog.Item
	)

	for i, col := range r.collections {
		if i > 0 && r.cfg.Cooldown > 0 {
			select {
			case <-time.After(r.cfg.Cooldown):
			case <-ctx.Done():
				r.log.Warn("cycle aborted", logx.Err(ctx.Err()))
				return
			}
		}

		rep, ok := r.processCollection(ctx, col)
		if !ok {
			continue
		}
		reports = append(reports, rep)
		newItems = append(newItems, rep.NewItems...)
	}

	if len(reports) == 0 {
		r.log.Warn("no collection observed this cycle, nothing to report")
		return
	}

	summary := notify.FormatSummary(reports, r.disp.TopLinks(), time.Now(), r.loc)
	if err := r.disp.Deliver(ctx, summary); err != nil {
		r.log.Warn("summary delivery interrupted", logx.Err(err))
		return
	}

	if r.disp.ShouldSplitBuckets(len(newItems)) {
		buckets := classify.Classify(newItems, r.rules)
		if err := r.disp.DeliverBuckets(ctx, buckets, classify.Order(r.rules)); err != nil {
			r.log.Warn("bucket delivery interrupted", logx.Err(err))
			return
		}
	}

	r.log.Info("cycle finished",
		logx.Int("reported", len(reports)),
		logx.Int("new_items", len(newItems)),
		logx.Duration("took", time.Since(start)))
}

// processCollection runs read → diff → persist for one collection. A read
// failure aborts only this collection's steps: the previous snapshot stays
// intact and the next collection is still processed.
func (r *Runner) processCollection(ctx context.Context, col catalog.Collection) (notify.CollectionReport, bool) {
	obs, err := r.reader.Read(ctx, col)
	if err != nil {
		r.log.Error("collection read failed, keeping previous snapshot",
			logx.String("key", col.Key), logx.Err(err))
		return notify.CollectionReport{}, false
	}

	prev, err := r.store.Load(ctx, col.Key)
	if err != nil {
		// Treated like "never observed": first-run semantics apply.
		r.log.Warn("snapshot load failed, diffing against empty baseline",
			logx.String("key", col.Key), logx.Err(err))
		prev = snapshot.Snapshot{}
	}

	rec := diff.Compute(prev, obs, col.TrackItems)

	// Persist before delivery: the snapshot, not delivery success, is the
	// source of truth for dedup. A transient notification failure must not
	// cause the same items to be re-reported every future cycle.
	if err := r.store.Save(ctx, col.Key, snapshot.FromObservation(obs)); err != nil {
		r.log.Error("snapshot persist failed, items may be re-reported next cycle",
			logx.String("key", col.Key), logx.Err(err))
	}

	rep := notify.CollectionReport{
		Collection: col,
		Total:      obs.TotalItems,
		Added:      rec.Added,
		Removed:    rec.Removed,
		NewItems:   rec.NewItems,
		Delisted:   len(rec.RemovedIDs),
	}
	if col.TrackItems {
		rep.Links = obs.Items
	}

	r.log.Info("collection diffed",
		logx.String("key", col.Key),
		logx.Int("total", obs.TotalItems),
		logx.Int("added", rec.Added),
		logx.Int("removed", rec.Removed),
		logx.Int("new_items", len(rec.NewItems)))
	return rep, true
}

// Running reports whether a cycle is currently in flight.
func (r *Runner) Running() bool { return r.running.Load() }
