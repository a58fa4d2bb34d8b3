// Package cron provides a periodic scheduler that fires due scheduled_tasks
// rows by injecting a synthetic message into the owning group's queue,
// exercising the same ingest -> queue -> runner path as a chat message.
package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// ScheduledTask mirrors a row of the scheduled_tasks table.
type ScheduledTask struct {
	ID          string
	GroupFolder string
	CronExpr    string
	Prompt      string
	Enabled     bool
	LastRunAt   *time.Time
	NextRunAt   *time.Time
}

// Store is the subset of internal/store the scheduler depends on.
type Store interface {
	DueScheduledTasks(ctx context.Context, now time.Time) ([]ScheduledTask, error)
	MarkScheduledTaskFired(ctx context.Context, id string, firedAt, nextRunAt time.Time) error
}

// Router is the Host Router's inbound edge, used to inject the fired
// task's prompt as a synthetic message into the owning group's queue.
type Router interface {
	RouteMessage(ctx context.Context, groupFolder, content string) (ingestSeq int64, err error)
}

// Config holds the dependencies for the cron scheduler.
type Config struct {
	Store    Store
	Router   Router
	Logger   *slog.Logger
	Interval time.Duration // tick interval; defaults to 1 minute if zero
}

// Scheduler periodically queries the store for due scheduled tasks
// and routes each one's prompt into its group's queue.
type Scheduler struct {
	store    Store
	router   Router
	logger   *slog.Logger
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new Scheduler with the given config.
func NewScheduler(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    cfg.Store,
		router:   cfg.Router,
		logger:   logger,
		interval: interval,
	}
}

// Start begins the scheduler loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("cron scheduler started", "interval", s.interval)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
}

// loop is the main scheduler loop. It ticks at the configured interval,
// queries for due scheduled tasks, and fires each one.
func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Fire immediately on startup, then on each tick.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick queries for due scheduled tasks and fires each one.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	due, err := s.store.DueScheduledTasks(ctx, now)
	if err != nil {
		s.logger.Error("cron: failed to query due scheduled tasks", "error", err)
		return
	}
	for _, task := range due {
		s.fire(ctx, task, now)
	}
}

// fire routes the task's prompt into its group's queue and advances its
// last_run_at/next_run_at.
func (s *Scheduler) fire(ctx context.Context, task ScheduledTask, now time.Time) {
	ingestSeq, err := s.router.RouteMessage(ctx, task.GroupFolder, task.Prompt)
	if err != nil {
		s.logger.Error("cron: failed to route scheduled task",
			"task_id", task.ID,
			"group_folder", task.GroupFolder,
			"error", err,
		)
		return
	}

	nextRun, err := NextRunTime(task.CronExpr, now)
	if err != nil {
		s.logger.Error("cron: failed to compute next run time",
			"task_id", task.ID,
			"cron_expr", task.CronExpr,
			"error", err,
		)
		return
	}

	if err := s.store.MarkScheduledTaskFired(ctx, task.ID, now, nextRun); err != nil {
		s.logger.Error("cron: failed to mark scheduled task fired",
			"task_id", task.ID,
			"error", err,
		)
		return
	}

	s.logger.Info("cron: scheduled task fired",
		"task_id", task.ID,
		"group_folder", task.GroupFolder,
		"ingest_seq", ingestSeq,
		"next_run_at", nextRun,
	)
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
