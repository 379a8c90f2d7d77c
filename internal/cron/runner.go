// Package cron runs the recurring maintenance jobs: the day-change check that
// closes out yesterday and re-arms today's reminders.
package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	robfig "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultDayCheck is the schedule used when none is configured.
const DefaultDayCheck = "@every 1m"

// Config holds cron runner configuration
type Config struct {
	Location *time.Location
	// RunOnStart runs every job once before the schedule takes over.
	RunOnStart bool
}

// JobFunc is the body of a scheduled job.
type JobFunc func(ctx context.Context) error

// JobStatus describes a registered job.
type JobStatus struct {
	Name    string    `json:"name"`
	Spec    string    `json:"spec"`
	NextRun time.Time `json:"next_run,omitempty"`
	PrevRun time.Time `json:"prev_run,omitempty"`
}

type job struct {
	name    string
	spec    string
	fn      JobFunc
	entryID robfig.EntryID
}

// Runner manages scheduled job execution
type Runner struct {
	config  Config
	cron    *robfig.Cron
	jobs    []*job
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	mu      sync.RWMutex
}

// NewRunner creates a new cron runner
func NewRunner(config Config, logger *zap.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	if config.Location == nil {
		config.Location = time.Local
	}

	cl := cronLogger{logger.Sugar()}
	c := robfig.New(
		robfig.WithLocation(config.Location),
		robfig.WithLogger(cl),
		robfig.WithChain(robfig.Recover(cl), robfig.SkipIfStillRunning(cl)),
	)

	return &Runner{
		config: config,
		cron:   c,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddJob registers fn under a standard cron spec or descriptor such as
// "@every 1m".
func (r *Runner) AddJob(name, spec string, fn JobFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j := &job{name: name, spec: spec, fn: fn}
	id, err := r.cron.AddFunc(spec, func() { r.execute(j) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", spec, name, err)
	}
	j.entryID = id
	r.jobs = append(r.jobs, j)

	r.logger.Info("Scheduled job added", zap.String("name", name), zap.String("spec", spec))
	return nil
}

// Start starts the cron runner
func (r *Runner) Start() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("cron runner already running")
	}
	r.running = true
	jobs := append([]*job(nil), r.jobs...)
	r.mu.Unlock()

	if r.config.RunOnStart {
		for _, j := range jobs {
			r.execute(j)
		}
	}
	r.cron.Start()
	r.logger.Info("Cron runner started", zap.Int("jobs", len(jobs)))
	return nil
}

// Stop stops the cron runner and waits for running jobs to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()
	<-r.cron.Stop().Done()
	r.logger.Info("Cron runner stopped")
}

// IsRunning returns whether the runner is active
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// RunNow executes the named job synchronously.
func (r *Runner) RunNow(name string) error {
	r.mu.RLock()
	var found *job
	for _, j := range r.jobs {
		if j.name == name {
			found = j
			break
		}
	}
	r.mu.RUnlock()

	if found == nil {
		return fmt.Errorf("unknown job: %s", name)
	}
	return r.execute(found)
}

// ListJobs returns every registered job with its next and previous runs.
func (r *Runner) ListJobs() []JobStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]JobStatus, 0, len(r.jobs))
	for _, j := range r.jobs {
		e := r.cron.Entry(j.entryID)
		out = append(out, JobStatus{Name: j.name, Spec: j.spec, NextRun: e.Next, PrevRun: e.Prev})
	}
	return out
}

func (r *Runner) execute(j *job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job %s panicked: %v", j.name, rec)
			r.logger.Error("Job panicked", zap.String("name", j.name), zap.Any("panic", rec))
		}
	}()

	start := time.Now()
	if err = j.fn(r.ctx); err != nil {
		r.logger.Error("Job execution failed", zap.String("name", j.name), zap.Error(err))
		return err
	}
	r.logger.Debug("Job completed", zap.String("name", j.name), zap.Duration("took", time.Since(start)))
	return nil
}

// cronLogger adapts zap to the cron library's logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
