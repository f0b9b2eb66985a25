// Package main provides the auto-heal job, run once or on a cron schedule.
package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/dukex/convoflow/pkg/autoheal"
	"github.com/dukex/convoflow/pkg/config"
)

// ErrRunInProgress is returned when a scheduled tick fires while the previous
// run is still going.
var ErrRunInProgress = errors.New("auto-heal run already in progress")

type Job struct {
	healer *autoheal.Healer
	cfg    config.AutohealConfig
	logger *slog.Logger

	mu      sync.Mutex
	running bool
}

func NewJob(healer *autoheal.Healer, cfg config.AutohealConfig, logger *slog.Logger) *Job {
	return &Job{
		healer: healer,
		cfg:    cfg,
		logger: logger,
	}
}

// RunOnce performs a single run and logs its summary.
func (j *Job) RunOnce(ctx context.Context) (*autoheal.Summary, error) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()

		return nil, ErrRunInProgress
	}

	j.running = true
	j.mu.Unlock()

	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()

	summary, err := j.healer.Run(ctx, j.cfg.Options)
	if err != nil {
		j.logger.ErrorContext(ctx, "Auto-heal run failed", "error", err)

		return summary, err
	}

	j.logger.InfoContext(ctx, "Auto-heal run finished",
		"dry_run", summary.DryRun,
		"scanned_creators", summary.ScannedCreators,
		"scanned_workflows", summary.ScannedWorkflows,
		"updated", summary.UpdatedWorkflows,
		"skipped", summary.SkippedWorkflows,
		"invalid", summary.InvalidWorkflows,
		"batches", summary.Batches,
	)

	return summary, nil
}

// RunScheduled runs the job on the configured schedule until ctx is done.
// Overlapping ticks are skipped. It returns once every started run, including
// the one on start, has finished.
func (j *Job) RunScheduled(ctx context.Context) error {
	schedule, err := j.cfg.CronSchedule()
	if err != nil {
		return err
	}

	c := cron.New()
	c.Schedule(schedule, cron.FuncJob(func() {
		if _, err := j.RunOnce(ctx); errors.Is(err, ErrRunInProgress) {
			j.logger.WarnContext(ctx, "Skipping auto-heal tick, previous run still in progress")
		}
	}))

	j.logger.InfoContext(ctx, "Auto-heal scheduled", "schedule", j.cfg.Schedule)

	var initial sync.WaitGroup

	if j.cfg.RunOnStart {
		initial.Add(1)

		go func() {
			defer initial.Done()

			_, _ = j.RunOnce(ctx)
		}()
	}

	c.Start()

	<-ctx.Done()

	<-c.Stop().Done()
	initial.Wait()

	j.logger.InfoContext(ctx, "Auto-heal scheduler stopped")

	return nil
}
