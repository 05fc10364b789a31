// Package scheduler runs the periodic governance jobs: the deadline sweep
// and archival of closed proposals.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"agenda/api/internal/config"
	"agenda/api/internal/engine"
)

// Jobs is the subset of the coordinator the scheduler drives.
type Jobs interface {
	Sweep(ctx context.Context) (engine.SweepReport, error)
	ArchiveDue(ctx context.Context) (int, error)
}

// Scheduler handles periodic tasks
type Scheduler struct {
	jobs     Jobs
	config   config.SchedulerConfig
	logger   *slog.Logger
	stopChan chan bool
	wg       sync.WaitGroup
	// archiving is false when no object store is configured.
	archiving bool
}

func NewScheduler(jobs Jobs, cfg config.SchedulerConfig, archiving bool) *Scheduler {
	return &Scheduler{
		jobs:      jobs,
		config:    cfg,
		logger:    slog.Default().With("component", "scheduler"),
		stopChan:  make(chan bool),
		archiving: archiving,
	}
}

func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// Start starts all scheduled tasks
func (s *Scheduler) Start() {
	archive := s.config.EnableArchive && s.archiving
	s.logger.Info("Starting scheduler",
		"sweep_enabled", s.config.EnableSweep,
		"sweep_interval", s.config.SweepInterval,
		"archive_enabled", archive)

	if s.config.EnableSweep {
		s.start(s.config.SweepInterval, "deadline_sweep", s.runSweep)
	}
	if archive {
		s.start(s.config.ArchiveInterval, "archive_closed", s.runArchive)
	}

	s.logger.Info("Scheduler started")
}

// Stop stops all scheduled tasks and waits for a running task to finish.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	close(s.stopChan)
	s.wg.Wait()
}

func (s *Scheduler) start(interval time.Duration, taskName string, task func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.scheduleIntervalTask(interval, taskName, task)
	}()
}

// scheduleIntervalTask runs a task immediately and then at regular intervals.
// The task context is cancelled when the scheduler stops.
func (s *Scheduler) scheduleIntervalTask(interval time.Duration, taskName string, task func(context.Context)) {
	s.logger.Info("Starting interval task", "task", taskName, "interval", interval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Running interval task", "task", taskName)
	task(ctx)

	for {
		select {
		case <-ticker.C:
			s.logger.Info("Running interval task", "task", taskName)
			task(ctx)
		case <-s.stopChan:
			s.logger.Info("Stopped interval task", "task", taskName)
			return
		}
	}
}

func (s *Scheduler) runSweep(ctx context.Context) {
	report, err := s.jobs.Sweep(ctx)
	if err != nil {
		s.logger.Error("Deadline sweep failed", "error", err)
		return
	}
	s.logger.Info("Deadline sweep finished",
		"visited", report.Visited,
		"changed", report.Changed,
		"failed", report.Failed)
}

func (s *Scheduler) runArchive(ctx context.Context) {
	archived, err := s.jobs.ArchiveDue(ctx)
	if err != nil {
		s.logger.Error("Archival failed", "error", err, "archived", archived)
		return
	}
	if archived > 0 {
		s.logger.Info("Archived closed proposals", "count", archived)
	}
}
