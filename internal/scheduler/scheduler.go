// Package scheduler runs named workflows on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/playbook/internal/store"
	"github.com/rendis/playbook/pkg/schema"
)

// DefaultInterval is how often due jobs are polled when none is configured.
const DefaultInterval = time.Minute

// Last-run statuses recorded on a job.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusError   = "error"
)

// Runner runs a stored workflow by name. success reports the run outcome;
// err means the run could not start (missing workflow, store failure).
// Satisfied by the service layer.
type Runner interface {
	RunScheduled(ctx context.Context, workflowName string, variables map[string]any) (success bool, err error)
}

// Notifier is told about every finished scheduled run. Delivery is best
// effort: errors are logged and never affect the job.
type Notifier interface {
	Notify(ctx context.Context, payload map[string]any) error
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NextRun computes the first activation of a five-field cron expression
// (or @daily style descriptor) after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, schema.NewErrorf(schema.ErrCodeInvalidInput, "invalid cron expression %q", expr).WithCause(err)
	}
	return sched.Next(from), nil
}

// Config configures a Scheduler.
type Config struct {
	Interval time.Duration
	Notifier Notifier
	Logger   *slog.Logger
}

// Scheduler polls the store for due scheduled jobs and runs them.
type Scheduler struct {
	store    store.Store
	runner   Runner
	interval time.Duration
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job IDs currently executing
}

// New creates a Scheduler.
func New(s store.Store, runner Runner, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{
		store:    s,
		runner:   runner,
		interval: cfg.Interval,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
		now:      func() time.Time { return time.Now().UTC() },
		inflight: make(map[string]struct{}),
	}
}

// Start recovers missed jobs and launches the polling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	if err := s.RecoverMissed(schedCtx); err != nil {
		s.logger.Warn("missed job recovery failed", "error", err)
	}

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", "interval", s.interval)
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs every enabled job whose next run is due. A job without a next
// run time is due immediately.
func (s *Scheduler) Tick(ctx context.Context) int {
	enabled := true
	jobs, err := s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list scheduled jobs", "error", err)
		return 0
	}

	now := s.now()
	ran := 0
	for _, job := range jobs {
		if job.NextRunAt != nil && job.NextRunAt.After(now) {
			continue
		}
		if !s.tryAcquire(job.ID) {
			continue
		}
		if err := s.runJob(ctx, job, now); err != nil {
			s.logger.Error("failed to run scheduled job", "job_id", job.ID, "error", err)
		}
		s.releaseJob(job.ID)
		ran++
	}
	return ran
}

// runJob runs a job and records its status, next run and run count. A job
// that reaches its run budget is disabled.
func (s *Scheduler) runJob(ctx context.Context, job *store.ScheduledJob, now time.Time) error {
	if job.Exhausted() {
		disabled := false
		return s.store.UpdateScheduledJob(ctx, job.ID, store.ScheduledJobUpdate{Enabled: &disabled})
	}

	log := s.logger.With("job_id", job.ID, "workflow", job.WorkflowName)
	log.Info("running scheduled job")

	status := StatusSuccess
	ok, err := s.runner.RunScheduled(ctx, job.WorkflowName, job.Variables)
	switch {
	case err != nil:
		status = StatusError
		log.Error("scheduled job could not run", "error", err)
	case !ok:
		status = StatusFailed
		log.Warn("scheduled run failed")
	}

	update := store.ScheduledJobUpdate{LastRunAt: &now, LastRunStatus: status, CountRun: true}
	if next, err := NextRun(job.CronExpression, now); err == nil {
		update.NextRunAt = &next
	} else {
		disabled := false
		update.Enabled = &disabled
		log.Error("disabling job with invalid cron expression", "cron", job.CronExpression, "error", err)
	}
	if job.MaxRuns > 0 && job.RunCount+1 >= job.MaxRuns {
		disabled := false
		update.Enabled = &disabled
		log.Info("scheduled job reached max runs", "max_runs", job.MaxRuns)
	}
	if err := s.store.UpdateScheduledJob(ctx, job.ID, update); err != nil {
		return err
	}
	s.notify(ctx, log, job, status, now)
	return nil
}

func (s *Scheduler) notify(ctx context.Context, log *slog.Logger, job *store.ScheduledJob, status string, ranAt time.Time) {
	if s.notifier == nil {
		return
	}
	payload := map[string]any{
		"event":    "scheduled_run",
		"job_id":   job.ID,
		"workflow": job.WorkflowName,
		"status":   status,
		"ran_at":   ranAt.Format(time.RFC3339),
	}
	if err := s.notifier.Notify(ctx, payload); err != nil {
		log.Warn("scheduled run notification failed", "error", err)
	}
}

// tryAcquire marks the job in flight unless it already is.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

func (s *Scheduler) releaseJob(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// Stop cancels the loop and waits for it to exit. Stopping a stopped
// scheduler is a no-op.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RecoverMissed moves every overdue job's next run to its next future
// activation without running it, so a long downtime does not trigger a burst
// of catch-up runs.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	enabled := true
	jobs, err := s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{Enabled: &enabled})
	if err != nil {
		return fmt.Errorf("list missed jobs: %w", err)
	}

	now := s.now()
	recovered := 0
	for _, job := range jobs {
		if job.NextRunAt == nil || !job.NextRunAt.Before(now) {
			continue
		}
		next, err := NextRun(job.CronExpression, now)
		if err != nil {
			s.logger.Error("failed to recover missed job", "job_id", job.ID, "error", err)
			continue
		}
		if err := s.store.UpdateScheduledJob(ctx, job.ID, store.ScheduledJobUpdate{NextRunAt: &next}); err != nil {
			return err
		}
		recovered++
	}

	if recovered > 0 {
		s.logger.Info("skipped missed job runs", "count", recovered)
	}
	return nil
}
