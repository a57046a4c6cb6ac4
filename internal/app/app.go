// Package app wires the stockwatch services together and owns their
// start/stop ordering.
package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"stockwatch/internal/catalog"
	"stockwatch/internal/classify"
	"stockwatch/internal/config"
	"stockwatch/internal/health"
	"stockwatch/internal/monitor"
	"stockwatch/internal/notify"
	rtsup "stockwatch/internal/runtime/supervisor"
	"stockwatch/internal/snapshot"
	"stockwatch/internal/telegram"
	"stockwatch/pkg/logx"
)

type App struct {
	cfgPath string

	logs *logx.Service
	log  logx.Logger

	store  snapshot.Store
	reader *catalog.RodReader
	sender *telegram.Sender
	disp   *notify.Dispatcher
	runner *monitor.Runner
	sched  *monitor.Scheduler
	health *health.Service

	sup *rtsup.Supervisor
}

func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	storeCfg, err := mapSnapshotConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := snapshot.Open(storeCfg, logSvc.Logger().With(logx.String("comp", "snapshot")))
	if err != nil {
		return nil, err
	}

	readerCfg, err := mapReaderConfig(cfg)
	if err != nil {
		return nil, err
	}
	reader := catalog.NewRodReader(readerCfg, logSvc.Logger().With(logx.String("comp", "reader")))

	sender, err := telegram.New(telegram.Config{
		Token:      cfg.Telegram.Token,
		ChatID:     cfg.Telegram.ChatID,
		RatePerSec: cfg.Telegram.RatePerSec,
	}, logSvc.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	notifyCfg, err := mapNotifyConfig(cfg)
	if err != nil {
		return nil, err
	}
	disp := notify.NewDispatcher(notifyCfg, sender, logSvc.Logger().With(logx.String("comp", "notify")))

	monCfg, err := mapMonitorConfig(cfg)
	if err != nil {
		return nil, err
	}
	runner := monitor.NewRunner(
		monCfg,
		mapCollections(cfg),
		reader,
		store,
		disp,
		classify.DefaultRules,
		logSvc.Logger().With(logx.String("comp", "monitor")),
	)
	sched := monitor.NewScheduler(monCfg, runner, logSvc.Logger().With(logx.String("comp", "scheduler")))

	hl := health.New(health.Config{
		Enabled: cfg.Health.Enabled,
		Addr:    cfg.Health.Addr,
	}, logSvc.Logger().With(logx.String("comp", "health")))

	return &App{
		cfgPath: cfgPath,
		logs:    logSvc,
		log:     log,
		store:   store,
		reader:  reader,
		sender:  sender,
		disp:    disp,
		runner:  runner,
		sched:   sched,
		health:  hl,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))

	if a.health.Enabled() {
		if err := a.health.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	if err := a.reader.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go0("scheduler", func(c context.Context) {
		a.sched.Start(c)
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return config.Watch(c, a.cfgPath, a.log.With(logx.String("comp", "config")))
	})

	// When running under systemd, report readiness and feed the watchdog.
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err == nil && sent {
		a.sup.Go0("systemd.watchdog", watchdogLoop)
	}

	a.log.Info("app started")
	return nil
}

func watchdogLoop(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel background loops first so an in-flight cycle starts unwinding.
	a.sup.Cancel()

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	a.sched.Stop(stopCtx)
	if err := a.reader.Close(); err != nil {
		a.log.Warn("reader close", logx.Err(err))
	}
	a.health.Stop(stopCtx)
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close", logx.Err(err))
	}
	_ = a.sup.Wait(stopCtx)

	a.log.Info("stopped")
	return a.logs.Close()
}

func mapSnapshotConfig(cfg *config.Config) (snapshot.Config, error) {
	busy, err := config.ParseDurationField("snapshot.busy_timeout", cfg.Snapshot.BusyTimeout)
	if err != nil {
		return snapshot.Config{}, err
	}
	return snapshot.Config{
		Driver:      cfg.Snapshot.Driver,
		Path:        cfg.Snapshot.Path,
		BusyTimeout: busy,
	}, nil
}

func mapReaderConfig(cfg *config.Config) (catalog.ReaderConfig, error) {
	timeout, err := config.ParseDurationOrDefault("reader.timeout", cfg.Reader.Timeout, 90*time.Second)
	if err != nil {
		return catalog.ReaderConfig{}, err
	}
	retryDelay, err := config.ParseDurationOrDefault("reader.retry_delay", cfg.Reader.RetryDelay, 6*time.Second)
	if err != nil {
		return catalog.ReaderConfig{}, err
	}
	blocked := cfg.Reader.BlockedResources
	if blocked == nil {
		blocked = []string{"image", "font", "media", "stylesheet"}
	}
	retryMax := cfg.Reader.RetryMax
	if retryMax == 0 {
		retryMax = 2
	}
	return catalog.ReaderConfig{
		RemoteURL:        cfg.Reader.RemoteURL,
		Timeout:          timeout,
		RetryMax:         retryMax,
		RetryDelay:       retryDelay,
		BlockedResources: blocked,
		UserAgent:        cfg.Reader.UserAgent,
	}, nil
}

func mapNotifyConfig(cfg *config.Config) (notify.Config, error) {
	pace, err := config.ParseDurationOrDefault("notify.pace", cfg.Notify.Pace, 300*time.Millisecond)
	if err != nil {
		return notify.Config{}, err
	}
	retryDelay, err := config.ParseDurationOrDefault("notify.retry_delay", cfg.Notify.RetryDelay, time.Second)
	if err != nil {
		return notify.Config{}, err
	}
	retryMax := cfg.Notify.RetryMax
	if retryMax == 0 {
		retryMax = 2
	}
	return notify.Config{
		MaxMessageLen:   cfg.Notify.MaxMessageLen,
		Pace:            pace,
		RetryMax:        retryMax,
		RetryDelay:      retryDelay,
		BucketThreshold: cfg.Notify.BucketThreshold,
		BucketMaxLinks:  cfg.Notify.BucketMaxLinks,
		TopLinks:        cfg.Notify.TopLinks,
	}, nil
}

func mapMonitorConfig(cfg *config.Config) (monitor.Config, error) {
	interval, err := config.ParseDurationOrDefault("monitor.interval", cfg.Monitor.Interval, 10*time.Minute)
	if err != nil {
		return monitor.Config{}, err
	}
	startupDelay, err := config.ParseDurationField("monitor.startup_delay", cfg.Monitor.StartupDelay)
	if err != nil {
		return monitor.Config{}, err
	}
	cooldown, err := config.ParseDurationOrDefault("monitor.cooldown", cfg.Monitor.Cooldown, 5*time.Second)
	if err != nil {
		return monitor.Config{}, err
	}
	return monitor.Config{
		Interval:     interval,
		StartupDelay: startupDelay,
		Cooldown:     cooldown,
		Timezone:     cfg.Monitor.Timezone,
	}, nil
}

func mapCollections(cfg *config.Config) []catalog.Collection {
	out := make([]catalog.Collection, 0, len(cfg.Collections))
	for _, c := range cfg.Collections {
		label := c.Label
		if label == "" {
			label = c.Key
		}
		out = append(out, catalog.Collection{
			Key:        c.Key,
			Label:      label,
			URL:        c.URL,
			TrackItems: c.TrackItems,
		})
	}
	return out
}
