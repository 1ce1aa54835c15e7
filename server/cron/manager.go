package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/platform"
)

// RefreshFunc refreshes the given platforms of a tenant.
type RefreshFunc func(ctx context.Context, tenantID string, platforms []platform.Platform) error

// JobInfo describes a registered job.
type JobInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	NextRun  time.Time `json:"next_run"`
}

// Scheduler runs named triggers on a robfig/cron engine.
type Scheduler struct {
	logger *slog.Logger
	engine *cron.Cron

	mu       sync.Mutex
	triggers []*Trigger
	ctx      context.Context
	started  bool
}

// NewScheduler creates an empty Scheduler. Jobs still running at their
// next slot are skipped, and panics are recovered and logged.
func NewScheduler(logger *slog.Logger) *Scheduler {
	logger = logger.With("component", "scheduler")
	cl := cronLogger{logger: logger}
	return &Scheduler{
		logger: logger,
		engine: cron.New(
			cron.WithParser(scheduleParser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ctx: context.Background(),
	}
}

// Add registers a job. Jobs added after Start are scheduled immediately.
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	trigger, err := NewTrigger(name, spec, fn, s.logger)
	if err != nil {
		return fmt.Errorf("creating trigger %q: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine.Schedule(trigger.schedule, cron.FuncJob(func() {
		trigger.execute(s.jobContext())
	}))
	s.triggers = append(s.triggers, trigger)

	s.logger.Info("job registered", "job", name, "schedule", spec, "next_run", trigger.NextRun(time.Now()))
	return nil
}

// AddTenant registers one refresh job per trigger in spec, which uses the
// "platform1,platform2:cron;platform3:cron" syntax.
func (s *Scheduler) AddTenant(tenantID, spec string, reg *platform.Registry, refresh RefreshFunc) error {
	specs, err := ParseTriggerSpecs(spec, reg)
	if err != nil {
		return fmt.Errorf("tenant %s: %w", tenantID, err)
	}

	for _, ts := range specs {
		platforms := ts.Platforms
		name := fmt.Sprintf("refresh:%s:%s", tenantID, joinPlatforms(platforms, platformListSeparator))
		err := s.Add(name, ts.CronSpec, func(ctx context.Context) error {
			return refresh(ctx, tenantID, platforms)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Start begins scheduling. Jobs receive ctx; cancelling it makes pending
// runs no-ops but does not stop the engine, use Stop for that.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx = ctx
	s.started = true
	s.engine.Start()
	s.logger.Info("scheduler started", "jobs", len(s.triggers))
}

// Stop halts scheduling. The returned context is done once running jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("scheduler stopping")
	return s.engine.Stop()
}

// Jobs returns the registered jobs ordered by next run.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	jobs := make([]JobInfo, len(s.triggers))
	for i, t := range s.triggers {
		jobs[i] = JobInfo{Name: t.Name(), Schedule: t.Spec(), NextRun: t.NextRun(now)}
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].NextRun.Before(jobs[j].NextRun)
	})
	return jobs
}

// NextRun returns the earliest scheduled run time across all jobs.
// Returns zero time if there are no jobs.
func (s *Scheduler) NextRun() time.Time {
	jobs := s.Jobs()
	if len(jobs) == 0 {
		return time.Time{}
	}
	return jobs[0].NextRun
}

func (s *Scheduler) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// cronLogger adapts slog to the robfig/cron logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	// The engine logs every wake-up; keep that out of info output.
	l.logger.Debug(msg, normalizeKeys(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(normalizeKeys(keysAndValues), "error", err)...)
}

// normalizeKeys turns robfig's camelCase keys into snake_case.
func normalizeKeys(kv []interface{}) []any {
	out := make([]any, len(kv))
	for i, v := range kv {
		if key, ok := v.(string); ok && i%2 == 0 {
			v = toSnake(key)
		}
		out[i] = v
	}
	return out
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
