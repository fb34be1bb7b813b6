package usage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner deletes ledger events past their retention.
type Pruner interface {
	Prune(ctx context.Context) (int64, error)
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// SweepSchedule is the cron expression of the sweep, e.g. "@every 30s".
	// Empty disables the sweep job.
	SweepSchedule string

	// SweepTimeout bounds a single sweep.
	SweepTimeout time.Duration

	// PruneSchedule is the cron expression of the ledger prune, e.g.
	// "0 3 * * *". Empty or a nil Pruner disables the prune job.
	PruneSchedule string
}

// Scheduler runs the sweep and the ledger prune on cron schedules.
type Scheduler struct {
	sweeper *Sweeper
	pruner  Pruner
	config  SchedulerConfig
	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	running bool
	entries map[string]cron.EntryID
}

// NewScheduler creates a Scheduler. pruner may be nil.
func NewScheduler(sweeper *Sweeper, pruner Pruner, cfg SchedulerConfig) *Scheduler {
	return &Scheduler{
		sweeper: sweeper,
		pruner:  pruner,
		config:  cfg,
		cron:    cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		logger:  slog.Default().With("component", "usage.scheduler"),
		entries: make(map[string]cron.EntryID),
	}
}

// Start registers the configured jobs and starts the cron runner. The
// scheduler stops when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if s.config.SweepSchedule != "" {
		id, err := s.cron.AddFunc(s.config.SweepSchedule, func() { s.runSweep(ctx) })
		if err != nil {
			return fmt.Errorf("invalid sweep schedule %q: %w", s.config.SweepSchedule, err)
		}
		s.entries["sweep"] = id
	}

	if s.pruner != nil && s.config.PruneSchedule != "" {
		id, err := s.cron.AddFunc(s.config.PruneSchedule, func() { s.runPrune(ctx) })
		if err != nil {
			return fmt.Errorf("invalid prune schedule %q: %w", s.config.PruneSchedule, err)
		}
		s.entries["prune"] = id
	}

	if len(s.entries) == 0 {
		s.logger.Info("no jobs configured, scheduler not started")
		return nil
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("scheduler started",
		"sweep_schedule", s.config.SweepSchedule,
		"prune_schedule", s.config.PruneSchedule,
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

func (s *Scheduler) runSweep(ctx context.Context) {
	if s.config.SweepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.SweepTimeout)
		defer cancel()
	}

	report, err := s.sweeper.RunScheduledSweep(ctx)
	if err != nil {
		s.logger.Error("scheduled sweep failed", "error", err)
		return
	}
	if len(report.Failed) > 0 {
		s.logger.Warn("scheduled sweep completed with failures",
			"reclaimed", report.Reclaimed,
			"reconciled", report.Reconciled,
			"failed", len(report.Failed),
		)
	}
}

func (s *Scheduler) runPrune(ctx context.Context) {
	s.logger.Info("starting scheduled ledger pruning")

	deleted, err := s.pruner.Prune(ctx)
	if err != nil {
		s.logger.Error("scheduled pruning failed", "error", err)
		return
	}

	if deleted > 0 {
		s.logger.Info("scheduled pruning completed", "deleted_count", deleted)
	} else {
		s.logger.Debug("scheduled pruning completed, no events deleted")
	}
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("scheduler stopped")
	}
}

// IsRunning reports whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next run time of the named job ("sweep" or "prune").
func (s *Scheduler) NextRun(job string) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.entries[job]
	if !ok {
		return nil
	}
	entry := s.cron.Entry(id)
	if !entry.Valid() {
		return nil
	}
	next := entry.Next
	return &next
}
