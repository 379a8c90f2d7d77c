// Package app wires the dose tracker, reminder engine and analytics into one
// service and runs it.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/gmsas95/medremind/internal/adherence"
	"github.com/gmsas95/medremind/internal/api"
	"github.com/gmsas95/medremind/internal/config"
	"github.com/gmsas95/medremind/internal/cron"
	"github.com/gmsas95/medremind/internal/medication"
	"github.com/gmsas95/medremind/internal/metrics"
	"github.com/gmsas95/medremind/internal/notify"
	"github.com/gmsas95/medremind/internal/store"
	"github.com/gmsas95/medremind/internal/timeutil"
)

type App struct {
	Config     *config.Config
	ConfigFile string
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	Version    string

	Store       *medication.Store
	Records     *medication.RecordStore
	Tracker     *medication.Tracker
	Rollover    *medication.Rollover
	Notifier    *notify.LocalNotifier
	Breaker     *notify.BreakerNotifier
	Escalation  *notify.EscalationManager
	Scheduler   *notify.Scheduler
	Dispatcher  *notify.Dispatcher
	Adherence   *adherence.Engine
	Analyzer    *adherence.Analyzer
	CronRunner  *cron.Runner

	kv      store.KV
	ownsKV  bool
	clock   timeutil.Clock
	speaker Speaker
}

// Option customizes New.
type Option func(*App)

// WithStore uses kv instead of opening the configured backend. The caller
// keeps ownership of kv.
func WithStore(kv store.KV) Option {
	return func(a *App) { a.kv = kv }
}

// WithClock replaces the system clock.
func WithClock(c timeutil.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithSpeaker sets the voice confirmation output.
func WithSpeaker(s Speaker) Option {
	return func(a *App) { a.speaker = s }
}

// WithMetrics uses m instead of the process-wide metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *App) { a.Metrics = m }
}

// New builds every component from cfg.
func New(cfg *config.Config, logger *zap.Logger, version string, opts ...Option) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Version: version,
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.clock == nil {
		loc, err := cfg.Location()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve timezone: %w", err)
		}
		a.clock = timeutil.NewSystemClock(loc)
	}
	if a.kv == nil {
		kv, err := store.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		a.kv = kv
		a.ownsKV = true
	}
	if a.Metrics == nil {
		a.Metrics = metrics.Default()
	}
	if a.speaker == nil {
		a.speaker = LogSpeaker{Logger: logger}
	}

	retention := cfg.History.RetentionDays
	a.Store = medication.NewStore(a.kv, a.clock, logger)
	a.Records = medication.NewRecordStore(a.kv, a.clock, retention, logger)
	a.Tracker = medication.NewTracker(a.Store, a.Records, a.clock, a.Metrics, logger)
	a.Rollover = medication.NewRollover(a.kv, a.Store, a.Records, a.clock, retention, a.Metrics, logger)

	a.Notifier = notify.NewLocalNotifier(a.clock, logger)
	a.Breaker = notify.NewBreakerNotifier(a.Notifier, notify.BreakerSettings{
		MaxFailures: cfg.Reminders.Breaker.MaxFailures,
		OpenTimeout: cfg.Reminders.Breaker.OpenTimeout,
	}, logger)
	a.Escalation = notify.NewEscalationManager(a.Breaker, a.kv, a.clock, cfg.EscalationDelays(), a.Metrics, logger)
	a.Scheduler = notify.NewScheduler(a.Breaker, a.Escalation, a.kv, a.clock, notify.SchedulerOptions{
		QuietHours:    quietHours(cfg),
		SnoozeMinutes: cfg.Reminders.SnoozeMinutes,
	}, a.Metrics, logger)
	a.Dispatcher = notify.NewDispatcher(a, a.Scheduler, a.Escalation, a.Breaker, a.clock, logger)
	a.Dispatcher.OnEmergency(a.emergency)
	a.Notifier.OnDeliver(a.Dispatcher.OnDelivered)

	a.Adherence = adherence.NewEngine(a.Records, a.clock, logger)
	a.Analyzer = adherence.NewAnalyzer(a.Records, a.clock, logger)

	a.CronRunner = cron.NewRunner(cron.Config{
		Location:   a.clock.Now().Location(),
		RunOnStart: true,
	}, logger)
	if err := RegisterJobs(a); err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// Start restores persisted reminder state, starts the day-change job, which
// runs once immediately, arms today's reminders and then restores pending
// escalations.
func (a *App) Start(ctx context.Context) error {
	if err := a.Scheduler.Load(); err != nil {
		return err
	}
	if err := a.CronRunner.Start(); err != nil {
		return err
	}
	// Delivery timers live in this process, so today's reminders are
	// re-armed even when the daily pass already ran.
	meds, err := a.Store.List()
	if err != nil {
		return err
	}
	for _, med := range meds {
		if _, err := a.Scheduler.RearmReminders(ctx, med); err != nil {
			a.Logger.Warn("Failed to re-arm reminders", zap.String("medication_id", med.ID), zap.Error(err))
		}
	}
	// A new day's pass above cancels yesterday's escalations, so only
	// same-day ones survive to be restored.
	if n, err := a.Escalation.Restore(); err != nil {
		a.Logger.Warn("Failed to restore escalations", zap.Error(err))
	} else if n > 0 {
		a.Logger.Info("Re-armed escalations", zap.Int("count", n))
	}
	if pending, err := a.Tracker.PendingDoses(); err == nil {
		a.Logger.Info(medication.PendingSummary(len(pending)))
	}
	return nil
}

// Stop halts background jobs and closes the store. Escalation deadlines stay
// persisted for the next start.
func (a *App) Stop() {
	a.CronRunner.Stop()
	a.Close()
}

// Close releases the store when New opened it.
func (a *App) Close() {
	if a.ownsKV && a.kv != nil {
		if err := a.kv.Close(); err != nil {
			a.Logger.Warn("Failed to close store", zap.Error(err))
		}
		a.kv = nil
	}
}

// WatchConfig applies quiet-hour edits to the config file without a restart.
func (a *App) WatchConfig() error {
	if a.ConfigFile == "" {
		return nil
	}
	return config.Watch(a.ConfigFile, a.Logger, func(cfg *config.Config) {
		a.Scheduler.SetQuietHours(quietHours(cfg))
	})
}

func (a *App) RunServer() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		a.Logger.Fatal("Failed to start", zap.Error(err))
	}
	if err := a.WatchConfig(); err != nil {
		a.Logger.Warn("Config watch disabled", zap.Error(err))
	}

	server := api.New(a.Config, a, a.Metrics, a.Logger, a.Version)

	go func() {
		if err := server.Start(); err != nil {
			a.Logger.Fatal("Server error", zap.Error(err))
		}
	}()

	a.Logger.Info("Server started",
		zap.String("address", a.Config.Server.Address),
		zap.Int("port", a.Config.Server.Port),
		zap.String("url", fmt.Sprintf("http://localhost:%d", a.Config.Server.Port)),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	a.Logger.Info("Shutting down...")

	if err := server.Shutdown(); err != nil {
		a.Logger.Error("Server shutdown error", zap.Error(err))
	}
	a.Stop()
}

func quietHours(cfg *config.Config) notify.QuietHours {
	q := cfg.Reminders.QuietHours
	return notify.QuietHours{Enabled: q.Enabled, Start: q.Start, End: q.End}
}
