package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"stockwatch/pkg/logx"
)

// Scheduler fires the runner once at startup (after an optional delay) and
// then on a fixed interval, forever. It holds no state about cycle outcomes;
// success and failure handling is internal to the runner.
type Scheduler struct {
	cfg    Config
	runner *Runner
	log    logx.Logger

	mu sync.Mutex
	c  *cron.Cron
}

func NewScheduler(cfg Config, runner *Runner, log logx.Logger) *Scheduler {
	cfg.defaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{cfg: cfg, runner: runner, log: log}
}

// Start launches the periodic trigger. It returns after the first cycle has
// been kicked off; subsequent triggers run on the cron goroutine until ctx is
// canceled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cfg.StartupDelay > 0 {
		s.log.Debug("startup delay", logx.Duration("delay", s.cfg.StartupDelay))
		select {
		case <-time.After(s.cfg.StartupDelay):
		case <-ctx.Done():
			return
		}
	}

	s.mu.Lock()
	if s.c != nil {
		s.mu.Unlock()
		return
	}
	c := cron.New()
	c.Schedule(cron.Every(s.cfg.Interval), cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		s.runner.RunCycle(ctx)
	}))
	s.c = c
	s.mu.Unlock()

	// Immediate first run; cron's @every fires only after one full interval.
	s.runner.RunCycle(ctx)

	c.Start()
	s.log.Info("scheduler started", logx.Duration("interval", s.cfg.Interval))

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()
}

// Stop halts triggering and waits for an in-flight cycle up to ctx deadline.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	stopped := c.Stop() // running jobs keep going; Done fires when they finish
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}
