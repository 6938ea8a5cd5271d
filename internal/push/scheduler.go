package push

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alumnihub/alumnihub/internal/metrics"
)

// Runner runs one reminder pass for the current day.
type Runner interface {
	Trigger(ctx context.Context) (RunResult, error)
}

// SendLogPruner deletes audit rows older than a cutoff.
type SendLogPruner interface {
	PruneOlderThan(ctx context.Context, before time.Time) (int64, error)
}

type SchedulerConfig struct {
	// ReminderAt is the daily HH:MM the reminder run fires, in Location.
	ReminderAt string
	// PruneAt is the daily HH:MM send logs are pruned.
	PruneAt   string
	Retention time.Duration
	Location  *time.Location
	// JobTimeout bounds a prune job; zero means no bound. Reminder runs are
	// never cut short.
	JobTimeout time.Duration
}

// Scheduler registers the daily reminder and pruning jobs.
type Scheduler struct {
	cfg    SchedulerConfig
	runner Runner
	pruner SendLogPruner
	logger *slog.Logger
}

// Schedule is the handle of a started scheduler. The caller owns it and
// passes it back to Shutdown.
type Schedule struct {
	cron   *cron.Cron
	cancel context.CancelFunc
}

// Entries returns the next fire time of each registered job.
func (h *Schedule) Entries() []time.Time {
	var next []time.Time
	for _, e := range h.cron.Entries() {
		next = append(next, e.Next)
	}
	return next
}

func NewScheduler(cfg SchedulerConfig, runner Runner, pruner SendLogPruner, logger *slog.Logger) *Scheduler {
	if cfg.ReminderAt == "" {
		cfg.ReminderAt = "09:00"
	}
	if cfg.PruneAt == "" {
		cfg.PruneAt = "03:30"
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Scheduler{cfg: cfg, runner: runner, pruner: pruner, logger: logger}
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) (*Schedule, error) {
	reminderSpec, err := dailySpec(s.cfg.ReminderAt)
	if err != nil {
		return nil, fmt.Errorf("reminder time: %w", err)
	}
	pruneSpec, err := dailySpec(s.cfg.PruneAt)
	if err != nil {
		return nil, fmt.Errorf("prune time: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	cl := cronLogger{s.logger}
	c := cron.New(
		cron.WithLocation(s.cfg.Location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	if _, err := c.AddFunc(reminderSpec, func() { s.runReminders(ctx) }); err != nil {
		cancel()
		return nil, fmt.Errorf("add reminder job: %w", err)
	}
	if s.pruner != nil && s.cfg.Retention > 0 {
		if _, err := c.AddFunc(pruneSpec, func() { s.pruneSendLogs(ctx) }); err != nil {
			cancel()
			return nil, fmt.Errorf("add prune job: %w", err)
		}
	}

	c.Start()
	s.logger.Info("scheduler started", "reminder_at", s.cfg.ReminderAt, "tz", s.cfg.Location.String())
	return &Schedule{cron: c, cancel: cancel}, nil
}

// Shutdown stops the schedule and waits for running jobs, or until ctx is
// done.
func (s *Scheduler) Shutdown(ctx context.Context, h *Schedule) error {
	if h == nil {
		return nil
	}
	h.cancel()
	stopped := h.cron.Stop()
	select {
	case <-stopped.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}

func (s *Scheduler) jobContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.JobTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.JobTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *Scheduler) runReminders(ctx context.Context) {
	if _, err := s.runner.Trigger(ctx); err != nil {
		s.logger.Error("scheduled reminder run", "error", err)
	}
}

func (s *Scheduler) pruneSendLogs(ctx context.Context) {
	ctx, cancel := s.jobContext(ctx)
	defer cancel()

	n, err := s.pruner.PruneOlderThan(ctx, time.Now().Add(-s.cfg.Retention))
	if err != nil {
		s.logger.Error("prune send logs", "error", err)
		return
	}
	metrics.SendLogsPruned.Add(float64(n))
	if n > 0 {
		s.logger.Info("pruned send logs", "count", n)
	}
}

// dailySpec turns "HH:MM" into a five-field cron spec.
func dailySpec(hhmm string) (string, error) {
	h, m, err := parseHHMM(hhmm)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * *", m, h), nil
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
