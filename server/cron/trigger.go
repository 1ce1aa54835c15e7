// Package cron schedules the server's recurring work: per-tenant refresh
// runs, retry queue polling and retry history cleanup.
//
// Jobs are registered on a Scheduler by name with a cron expression and
// run on a robfig/cron engine. A job still running when its next slot
// arrives is skipped rather than stacked.
//
// Example usage:
//
//	s := cron.NewScheduler(logger)
//	if err := s.AddTenant("tenant-1", "google_maps,facebook:0 2 * * *", registry, refresh); err != nil {
//	    log.Fatal(err)
//	}
//	s.Start(ctx) // Returns immediately, runs in background
//	<-ctx.Done()
//	<-s.Stop().Done()
package cron

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidCronSpec is returned when the cron specification cannot be parsed.
var ErrInvalidCronSpec = errors.New("invalid cron spec")

// JobFunc is the work performed by a scheduled job.
type JobFunc func(ctx context.Context) error

// Trigger is a named job with its schedule.
type Trigger struct {
	name     string
	spec     string
	schedule cron.Schedule
	fn       JobFunc
	logger   *slog.Logger
}

// NewTrigger creates a Trigger. The spec is a 5-field cron expression or a
// descriptor such as "@every 15m". Returns ErrInvalidCronSpec if the
// specification cannot be parsed.
func NewTrigger(name, spec string, fn JobFunc, logger *slog.Logger) (*Trigger, error) {
	schedule, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	return &Trigger{
		name:     name,
		spec:     spec,
		schedule: schedule,
		fn:       fn,
		logger:   logger.With("job", name),
	}, nil
}

// Name returns the job name.
func (t *Trigger) Name() string {
	return t.name
}

// Spec returns the cron expression.
func (t *Trigger) Spec() string {
	return t.spec
}

// NextRun returns the next scheduled run time after from.
func (t *Trigger) NextRun(from time.Time) time.Time {
	return t.schedule.Next(from)
}

// execute runs the job and logs the result.
func (t *Trigger) execute(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	t.logger.Info("starting scheduled job")

	if err := t.fn(ctx); err != nil {
		t.logger.Warn("scheduled job completed with error", "error", err, "duration", time.Since(start))
	} else {
		t.logger.Info("scheduled job completed", "duration", time.Since(start))
	}
}
