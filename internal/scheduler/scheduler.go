// Package scheduler drives configured snapshots on their cron schedules,
// one independent cron job per snapshot entry, guarding against a slow
// run overlapping its own next trigger.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mattiekat/chunk-locker/internal/config"
	"github.com/mattiekat/chunk-locker/internal/snapshot"
)

// JobResult records the outcome of the most recent run of a snapshot job.
type JobResult struct {
	Status   string // "completed", "failed", "skipped"
	Duration time.Duration
	Result   snapshot.Result
	Err      error
}

// Job pairs a configured snapshot entry with its execution guard and last
// known result, so a status endpoint can report on it without racing a
// concurrent run.
type Job struct {
	Entry config.SnapshotEntry

	mu         sync.Mutex
	running    bool
	LastResult *JobResult
}

// Running reports whether this job's snapshot is currently executing.
func (j *Job) Running() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// Scheduler manages one cron job per configured snapshot entry, each
// independently scheduled and independently guarded against overlap.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	runner *snapshot.Runner
	jobs   []*Job
}

// New builds a Scheduler with one cron entry per snapshot in entries, all
// driving runner.Run on trigger. The cron schedule syntax matches
// robfig/cron/v3's default parser (five fields, no seconds).
func New(runner *snapshot.Runner, entries []config.SnapshotEntry, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		logger: logger,
		runner: runner,
	}

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	for _, entry := range entries {
		job := &Job{Entry: entry}
		s.jobs = append(s.jobs, job)

		entryCopy := entry
		jobRef := job
		if _, err := c.AddFunc(entry.Schedule, func() {
			s.execute(jobRef, entryCopy)
		}); err != nil {
			return nil, fmt.Errorf("scheduler: adding cron job for snapshot %q: %w", entry.Name, err)
		}

		logger.Info("registered snapshot job", "snapshot", entry.Name, "schedule", entry.Schedule)
	}

	s.cron = c
	return s, nil
}

// Start begins dispatching scheduled runs. Non-blocking.
func (s *Scheduler) Start() {
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	s.cron.Start()
}

// Stop halts the scheduler, waiting for any run in flight to finish or for
// ctx to be done, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) {
	s.logger.Info("scheduler stopping")
	stopCtx := s.cron.Stop()

	select {
	case <-stopCtx.Done():
		s.logger.Info("scheduler stopped gracefully")
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out, runs in flight may be abandoned")
	}
}

// Jobs returns the registered jobs, for reporting.
func (s *Scheduler) Jobs() []*Job {
	return s.jobs
}

// RunNow triggers entry's job immediately, outside its cron schedule,
// honoring the same overlap guard as a scheduled trigger.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	for _, job := range s.jobs {
		if job.Entry.Name == name {
			return s.runGuarded(ctx, job, job.Entry)
		}
	}
	return fmt.Errorf("scheduler: no job named %q", name)
}

func (s *Scheduler) execute(job *Job, entry config.SnapshotEntry) {
	if err := s.runGuarded(context.Background(), job, entry); err != nil {
		s.logger.Error("scheduled snapshot failed", "snapshot", entry.Name, "error", err)
	}
}

func (s *Scheduler) runGuarded(ctx context.Context, job *Job, entry config.SnapshotEntry) error {
	entryLogger := s.logger.With("snapshot", entry.Name)

	job.mu.Lock()
	if job.running {
		job.mu.Unlock()
		entryLogger.Warn("snapshot already running, skipping this trigger")
		job.LastResult = &JobResult{Status: "skipped"}
		return nil
	}
	job.running = true
	job.mu.Unlock()

	defer func() {
		job.mu.Lock()
		job.running = false
		job.mu.Unlock()
	}()

	entryLogger.Info("snapshot triggered")
	start := time.Now()

	res, err := s.runner.Run(ctx, entry)
	duration := time.Since(start)

	if err != nil {
		entryLogger.Error("snapshot failed", "error", err, "duration", duration)
		job.LastResult = &JobResult{Status: "failed", Duration: duration, Result: res, Err: err}
		return err
	}

	entryLogger.Info("snapshot completed", "duration", duration)
	job.LastResult = &JobResult{Status: "completed", Duration: duration, Result: res}
	return nil
}
