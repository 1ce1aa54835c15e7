package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/keylock"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/logging"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/metrics"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/platform"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/tracker"
)

const (
	DefaultProfileTimeout   = 30 * time.Second
	DefaultCollectTimeout   = 15 * time.Minute
	DefaultAnalyticsTimeout = 5 * time.Minute
	DefaultBatchConcurrency = 10
	DefaultMessageLimit     = 20
)

// Orchestrator runs the profile -> collect -> analyze pipeline.
type Orchestrator struct {
	locator          *platform.Locator
	tracker          *tracker.Tracker
	runLocker        keylock.Locker
	metrics          *metrics.PipelineMetrics
	logger           *slog.Logger
	loggerHook       logging.LoggerHook
	profileTimeout   time.Duration
	collectTimeout   time.Duration
	analyticsTimeout time.Duration
	batchConcurrency int
	messageLimit     int
	now              func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger.With("component", "orchestrator")
	}
}

// WithLoggerHook wraps the logger of every run, keyed by the run's task ID.
func WithLoggerHook(hook logging.LoggerHook) Option {
	return func(o *Orchestrator) {
		o.loggerHook = hook
	}
}

// WithMetrics records run outcomes.
func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithRunLocker sets the locker that serializes whole runs per (tenant, platform).
// Default is an in-process keylock.Local.
func WithRunLocker(locker keylock.Locker) Option {
	return func(o *Orchestrator) {
		o.runLocker = locker
	}
}

// WithTimeouts bounds each collaborator call. Zero values keep the defaults.
func WithTimeouts(profile, collect, analytics time.Duration) Option {
	return func(o *Orchestrator) {
		if profile > 0 {
			o.profileTimeout = profile
		}
		if collect > 0 {
			o.collectTimeout = collect
		}
		if analytics > 0 {
			o.analyticsTimeout = analytics
		}
	}
}

// WithBatchConcurrency bounds how many runs ProcessBatchBusinessData executes at once.
func WithBatchConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.batchConcurrency = n
		}
	}
}

// WithMessageLimit sets how many task messages GetBusinessData returns.
func WithMessageLimit(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.messageLimit = n
		}
	}
}

// New creates an Orchestrator resolving collaborators from locator and
// recording progress in tr.
func New(locator *platform.Locator, tr *tracker.Tracker, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		locator:          locator,
		tracker:          tr,
		runLocker:        keylock.NewLocal(),
		logger:           slog.Default().With("component", "orchestrator"),
		profileTimeout:   DefaultProfileTimeout,
		collectTimeout:   DefaultCollectTimeout,
		analyticsTimeout: DefaultAnalyticsTimeout,
		batchConcurrency: DefaultBatchConcurrency,
		messageLimit:     DefaultMessageLimit,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// collaborators are the resolved implementations for one platform.
type collaborators struct {
	profiles  ProfileService
	collector ReviewCollector
	analytics AnalyticsService
}

func (o *Orchestrator) resolve(p platform.Platform) (collaborators, error) {
	var c collaborators
	var err error
	if c.profiles, err = platform.Resolve[ProfileService](o.locator, p, platform.BusinessKind); err != nil {
		return c, err
	}
	if c.collector, err = platform.Resolve[ReviewCollector](o.locator, p, platform.ReviewKind); err != nil {
		return c, err
	}
	if c.analytics, err = platform.Resolve[AnalyticsService](o.locator, p, platform.AnalyticsKind); err != nil {
		return c, err
	}
	return c, nil
}

func (r Request) validate() error {
	if r.TenantID == "" {
		return fmt.Errorf("%w: tenant ID is required", ErrInvalidRequest)
	}
	if r.Platform == "" {
		return fmt.Errorf("%w: platform is required", ErrInvalidRequest)
	}
	if r.Identifier == "" {
		return fmt.Errorf("%w: identifier is required", ErrInvalidRequest)
	}
	return nil
}

// run carries the state of one pipeline execution.
type run struct {
	req    Request
	result Result
	logger *slog.Logger
	// book is ctx detached from cancellation, for tracker bookkeeping.
	book context.Context
	// stepStart is when the current step began, zero once it has ended.
	stepStart time.Time
}

// ProcessBusinessData runs the full pipeline for one request. The error is
// non-nil only for configuration problems; every other failure is reported
// in the Result with the furthest completed step reflected in the task.
func (o *Orchestrator) ProcessBusinessData(ctx context.Context, req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}
	c, err := o.resolve(req.Platform)
	if err != nil {
		return Result{}, err
	}

	r := &run{
		req: req,
		result: Result{
			TenantID:   req.TenantID,
			Platform:   req.Platform,
			Identifier: req.Identifier,
		},
		logger: o.logger.With("tenant_id", req.TenantID, "platform", req.Platform, "identifier", req.Identifier),
		book:   context.WithoutCancel(ctx),
	}

	unlock, err := o.runLocker.Lock(ctx, "pipeline:"+req.TenantID+"/"+string(req.Platform))
	if err != nil {
		r.result.Cancelled = true
		r.result.Error = fmt.Sprintf("waiting for a concurrent run: %v", err)
		return r.result, nil
	}
	defer unlock()

	start := o.now()
	o.execute(ctx, c, r)
	r.result.Duration = o.now().Sub(start)

	outcome := "success"
	switch {
	case r.result.Cancelled:
		outcome = "cancelled"
	case !r.result.Success:
		outcome = "failure"
	}
	o.metrics.RecordRun(string(req.Platform), outcome, r.result.ItemsProcessed, r.result.Duration)

	r.logger.Info("pipeline finished",
		"outcome", outcome,
		"business_id", r.result.BusinessID,
		"items_processed", r.result.ItemsProcessed,
		"analytics_generated", r.result.AnalyticsGenerated,
		"duration", r.result.Duration,
	)
	return r.result, nil
}

func (o *Orchestrator) execute(ctx context.Context, c collaborators, r *run) {
	req := r.req

	task, err := o.tracker.CreateTask(r.book, req.TenantID, req.Platform, req.Identifier)
	if err != nil {
		r.logger.Error("failed to create task", "error", err)
		r.result.Error = fmt.Sprintf("creating task: %v", err)
		return
	}
	r.result.TaskID = task.ID
	if o.loggerHook != nil {
		r.logger = o.loggerHook.LoggerForRun(r.logger, task.ID)
	}

	// Step 1: profile
	o.startStep(r, tracker.StepProfile, "Ensuring business profile")
	var ref ProfileRef
	err = o.call(ctx, o.profileTimeout, func(ctx context.Context) error {
		var err error
		ref, err = c.profiles.EnsureProfile(ctx, req.TenantID, req.Platform, req.Identifier)
		return err
	})
	if err != nil {
		o.stepFailed(ctx, r, tracker.StepProfile, err)
		return
	}
	r.result.BusinessID = ref.ID
	r.result.ProfileCreated = ref.Created
	o.completeStep(r, tracker.StepProfile, "Business profile ready", map[string]any{
		"business_id": ref.ID,
		"created":     ref.Created,
	})

	// Step 2: collect
	o.startStep(r, tracker.StepCollect, "Collecting reviews")
	o.reportCollectProgress(r, collectDispatched, "Collection request dispatched to provider")
	var collected CollectResult
	err = o.call(ctx, o.collectTimeout, func(ctx context.Context) error {
		var err error
		collected, err = c.collector.Collect(ctx, CollectRequest{
			TenantID:     req.TenantID,
			BusinessID:   ref.ID,
			Platform:     req.Platform,
			Identifier:   req.Identifier,
			ForceRefresh: req.Options.ForceRefresh,
			MaxItems:     req.Options.MaxItems,
		}, func(completed, total int, message string) {
			o.reportCollectProgress(r, collectFraction(completed, total), message)
		})
		return err
	})
	if err != nil {
		o.stepFailed(ctx, r, tracker.StepCollect, err)
		return
	}
	r.result.ItemsProcessed = collected.ItemsProcessed
	o.completeStep(r, tracker.StepCollect, fmt.Sprintf("Collected %d reviews", collected.ItemsProcessed), map[string]any{
		"items_processed": collected.ItemsProcessed,
	})

	// Step 3: analyze. Failure here is recorded but does not fail the run.
	o.startStep(r, tracker.StepAnalyze, "Computing analytics")
	err = o.call(ctx, o.analyticsTimeout, func(ctx context.Context) error {
		res, err := c.analytics.ComputeAndPersist(ctx, ref.ID, req.Platform)
		if err == nil && !res.Success {
			err = ErrAnalyticsUnsuccessful
		}
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			o.cancelled(ctx, r, tracker.StepAnalyze)
			return
		}
		r.logger.Warn("analytics failed, continuing without derived metrics", "error", err)
		o.metrics.RecordStepFailure(string(req.Platform), string(tracker.StepAnalyze))
		o.endStep(r, tracker.StepAnalyze, "failure")
		if _, ferr := o.tracker.RecordStepError(r.book, req.TenantID, req.Platform, tracker.StepAnalyze, err.Error()); ferr != nil {
			r.logger.Warn("failed to record analytics failure", "error", ferr)
		}
		o.completeStep(r, tracker.StepAnalyze, "Pipeline completed without analytics", map[string]any{
			"analytics_generated": false,
		})
	} else {
		r.result.AnalyticsGenerated = true
		o.completeStep(r, tracker.StepAnalyze, "Analytics computed", map[string]any{
			"analytics_generated": true,
		})
	}
	r.result.Success = true
}

// call runs fn under timeout, converting panics to errors and naming timeouts.
func (o *Orchestrator) call(ctx context.Context, timeout time.Duration, fn func(context.Context) error) (err error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("collaborator panicked: %v", p)
		}
	}()

	err = fn(cctx)
	if err != nil && ctx.Err() == nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("timed out after %s: %w", timeout, err)
	}
	return err
}

// stepFailed records a fatal step failure, or a cancellation if ctx is done.
func (o *Orchestrator) stepFailed(ctx context.Context, r *run, step tracker.Step, err error) {
	if ctx.Err() != nil {
		o.cancelled(ctx, r, step)
		return
	}

	r.logger.Error("pipeline step failed", "step", step, "error", err)
	o.metrics.RecordStepFailure(string(r.req.Platform), string(step))
	o.endStep(r, step, "failure")
	r.result.FailedStep = step
	r.result.Error = fmt.Sprintf("%s: %v", step, err)
	if _, ferr := o.tracker.FailStep(r.book, r.req.TenantID, r.req.Platform, step, err.Error()); ferr != nil {
		r.logger.Warn("failed to record step failure", "step", step, "error", ferr)
	}
}

func (o *Orchestrator) cancelled(ctx context.Context, r *run, step tracker.Step) {
	reason := fmt.Sprintf("cancelled during %s: %v", step, context.Cause(ctx))
	r.logger.Warn("pipeline cancelled", "step", step, "cause", context.Cause(ctx))
	o.endStep(r, step, "cancelled")
	r.result.Cancelled = true
	r.result.FailedStep = step
	r.result.Error = reason
	if _, err := o.tracker.CancelTask(r.book, r.req.TenantID, r.req.Platform, reason); err != nil {
		r.logger.Warn("failed to record cancellation", "error", err)
	}
}

// Tracker write failures are logged and never abort the run; the task is
// advisory state and the Result is authoritative for the caller.

func (o *Orchestrator) startStep(r *run, step tracker.Step, message string) {
	r.stepStart = o.now()
	if _, err := o.tracker.StartStep(r.book, r.req.TenantID, r.req.Platform, step, message); err != nil {
		r.logger.Warn("failed to record step start", "step", step, "error", err)
	}
}

func (o *Orchestrator) completeStep(r *run, step tracker.Step, message string, result map[string]any) {
	o.endStep(r, step, "success")
	if _, err := o.tracker.CompleteStep(r.book, r.req.TenantID, r.req.Platform, step, message, result); err != nil {
		r.logger.Warn("failed to record step completion", "step", step, "error", err)
	}
}

// endStep records the step's duration once; later calls for the same step
// are ignored.
func (o *Orchestrator) endStep(r *run, step tracker.Step, outcome string) {
	if r.stepStart.IsZero() {
		return
	}
	o.metrics.RecordStepDuration(string(r.req.Platform), string(step), outcome, o.now().Sub(r.stepStart))
	r.stepStart = time.Time{}
}

func (o *Orchestrator) reportCollectProgress(r *run, fraction float64, message string) {
	pct := collectPercent(fraction)
	if _, err := o.tracker.UpdateProgress(r.book, r.req.TenantID, r.req.Platform, tracker.ProgressUpdate{
		Percent: &pct,
		Message: message,
	}); err != nil {
		r.logger.Debug("failed to record collection progress", "error", err)
	}
}
