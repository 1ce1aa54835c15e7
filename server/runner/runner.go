// Package runner executes pipeline runs for the wirecrest server.
//
// The runner handles:
//   - Starting runs in the background from the API and the scheduler
//   - Preventing concurrent runs for the same tenant and platform
//   - Handing failed runs to the retry queue, and resolving queued retries
//     once a direct run succeeds
//   - Maintaining a history of finished runs with their captured logs
//
// # Example
//
//	r := runner.New(logger, orch, queue, runner.WithRunLogs(logs))
//
//	summary, err := r.Run(orchestrator.Request{TenantID: "t1", Platform: platform.GoogleMaps, Identifier: "place"})
//	if errors.Is(err, runner.ErrRunInProgress) {
//	    // Handle concurrent run attempt
//	}
//
//	status := r.Status()  // active runs
//	history := r.History() // most recent first
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/logging"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/orchestrator"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/platform"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/retryqueue"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/workflows/pipeline"
)

const defaultMaxHistorySize = 100

// ErrRunInProgress is returned when a run for the same tenant and platform
// is already active.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// ErrShuttingDown is returned for runs requested after Shutdown.
var ErrShuttingDown = errors.New("runner is shutting down")

// Pipeline executes pipeline runs.
type Pipeline interface {
	ProcessBusinessData(ctx context.Context, req orchestrator.Request) (orchestrator.Result, error)
	RefreshBusinessData(ctx context.Context, tenantID string, p platform.Platform) (orchestrator.Result, error)
}

// RetryQueue receives failed runs.
type RetryQueue interface {
	AddToQueue(ctx context.Context, f retryqueue.Failure) (retryqueue.AddResult, error)
	RemoveFromQueue(ctx context.Context, businessEntityID string, p platform.Platform) error
}

// Runner manages pipeline run execution.
type Runner struct {
	logger   *slog.Logger
	pipeline Pipeline
	queue    RetryQueue
	store    StateStore
	runLogs  *logging.RunLogs
	maxItems int
	now      func() time.Time

	// ctx is cancelled by Shutdown; background runs derive from it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	active   map[string]*RunSummary // keyed by tenant/platform
	last     *RunSummary
	finished chan RunSummary
}

// Option configures a Runner.
type Option func(*Runner)

// WithStateStore configures the runner to use the provided store for persistence.
func WithStateStore(store StateStore) Option {
	return func(r *Runner) {
		r.store = store
	}
}

// WithRunLogs collects the logs captured for each run into its history entry.
// logs must be the buffer the pipeline's capturing hook writes to.
func WithRunLogs(logs *logging.RunLogs) Option {
	return func(r *Runner) {
		r.runLogs = logs
	}
}

// WithMaxItems caps the reviews collected by retry runs.
func WithMaxItems(n int) Option {
	return func(r *Runner) {
		r.maxItems = n
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// WithFinishedChannel sends every finished run summary to ch without
// blocking. Tests use it to wait for background runs.
func WithFinishedChannel(ch chan RunSummary) Option {
	return func(r *Runner) {
		r.finished = ch
	}
}

// New creates a new Runner. queue may be nil, in which case failures are
// only recorded.
func New(logger *slog.Logger, p Pipeline, queue RetryQueue, opts ...Option) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		logger:   logger.With("component", "runner"),
		pipeline: p,
		queue:    queue,
		store:    NewMemoryStore(defaultMaxHistorySize),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		active:   make(map[string]*RunSummary),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts a pipeline run in the background and returns its summary.
// Returns ErrRunInProgress if the tenant and platform already have an
// active run.
func (r *Runner) Run(req orchestrator.Request) (RunSummary, error) {
	summary, err := r.tryStart(TriggerManual, req.TenantID, req.Platform, req.Identifier, true)
	if err != nil {
		return RunSummary{}, err
	}

	r.logger.Info("starting run", "run_id", summary.ID, "tenant_id", req.TenantID, "platform", req.Platform)
	go func() {
		defer r.wg.Done()
		res, err := r.pipeline.ProcessBusinessData(r.ctx, req)
		r.finish(r.ctx, summary.ID, res, err, true)
	}()
	return summary, nil
}

// RefreshTenant starts a force-refresh run for each platform of a tenant.
// Platforms with an active run are skipped. It returns the runs started.
func (r *Runner) RefreshTenant(tenantID string, platforms []platform.Platform) []RunSummary {
	var started []RunSummary
	for _, p := range platforms {
		summary, err := r.tryStart(TriggerCron, tenantID, p, "", true)
		if err != nil {
			r.logger.Warn("skipping scheduled refresh", "tenant_id", tenantID, "platform", p, "error", err)
			continue
		}
		started = append(started, summary)

		go func(id string, p platform.Platform) {
			defer r.wg.Done()
			res, err := r.pipeline.RefreshBusinessData(r.ctx, tenantID, p)
			r.finish(r.ctx, id, res, err, true)
		}(summary.ID, p)
	}
	return started
}

// Retry re-runs a queued entry synchronously on behalf of the retry queue.
// The run is recorded in history but never re-enqueued; the queue owns the
// entry's bookkeeping. An unsuccessful run is returned as an error. When the
// run cannot start because one is already active or the runner is closing,
// the error wraps retryqueue.ErrAttemptSkipped so the attempt is not counted.
func (r *Runner) Retry(ctx context.Context, entry retryqueue.Entry) error {
	summary, err := r.tryStart(TriggerRetry, entry.TenantID, entry.Platform, entry.Identifier, false)
	if err != nil {
		return fmt.Errorf("%w: %w", retryqueue.ErrAttemptSkipped, err)
	}

	res, err := r.pipeline.ProcessBusinessData(ctx, pipeline.RetryRequest(entry, r.maxItems))
	r.finish(ctx, summary.ID, res, err, false)
	if err != nil {
		return err
	}
	return pipeline.ResultError(ctx, res)
}

// Status returns the active runs and the last finished one.
func (r *Runner) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := RunStatus{Active: make([]RunSummary, 0, len(r.active))}
	for _, s := range r.active {
		status.Active = append(status.Active, *s)
	}
	sort.Slice(status.Active, func(i, j int) bool {
		return status.Active[i].StartedAt.Before(*status.Active[j].StartedAt)
	})
	if r.last != nil {
		last := *r.last
		status.Last = &last
	}
	return status
}

// IsRunning reports whether a run is active for the tenant and platform.
func (r *Runner) IsRunning(tenantID string, p platform.Platform) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[runKey(tenantID, p)]
	return ok
}

// History returns finished runs, most recent first.
func (r *Runner) History() []RunSummary {
	return r.store.History()
}

// Logs returns the captured logs of a finished run.
func (r *Runner) Logs(id string) []logging.LogEntry {
	return r.store.Logs(id)
}

// Shutdown cancels background runs and waits for them to record their
// outcome, or for ctx to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func runKey(tenantID string, p platform.Platform) string {
	return tenantID + "/" + string(p)
}

// tryStart registers an active run, failing if the key is already busy.
// Background runs are added to the shutdown wait group under the lock.
func (r *Runner) tryStart(trigger Trigger, tenantID string, p platform.Platform, identifier string, background bool) (RunSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return RunSummary{}, ErrShuttingDown
	}
	key := runKey(tenantID, p)
	if _, ok := r.active[key]; ok {
		return RunSummary{}, fmt.Errorf("%w: %s", ErrRunInProgress, key)
	}

	now := r.now()
	summary := &RunSummary{
		ID:         uuid.NewString(),
		Trigger:    trigger,
		TenantID:   tenantID,
		Platform:   p,
		Identifier: identifier,
		State:      RunStateRunning,
		StartedAt:  &now,
	}
	r.active[key] = summary
	if background {
		r.wg.Add(1)
	}
	return *summary, nil
}

// finish records the outcome, updates the retry queue when enqueue is set,
// and moves the run from active to history.
func (r *Runner) finish(ctx context.Context, id string, res orchestrator.Result, runErr error, enqueue bool) {
	r.mu.Lock()
	var summary RunSummary
	var key string
	for k, s := range r.active {
		if s.ID == id {
			summary, key = *s, k
			break
		}
	}
	r.mu.Unlock()
	if key == "" {
		r.logger.Error("finished run is not active", "run_id", id)
		return
	}

	ended := r.now()
	summary.EndedAt = &ended
	summary.TaskID = res.TaskID
	summary.BusinessID = res.BusinessID
	summary.ItemsProcessed = res.ItemsProcessed
	summary.FailedStep = string(res.FailedStep)
	if res.Identifier != "" {
		summary.Identifier = res.Identifier
	}

	switch {
	case runErr != nil:
		// Invalid requests and unbound platforms will not fix themselves.
		summary.State = RunStateFailed
		summary.Error = runErr.Error()
	case res.Success:
		summary.State = RunStateSucceeded
	case res.Cancelled:
		summary.State = RunStateCancelled
		summary.Error = res.Error
	default:
		summary.State = RunStateFailed
		summary.Error = res.Error
	}

	// Queue bookkeeping must survive shutdown cancellation.
	book := context.WithoutCancel(ctx)
	if enqueue && r.queue != nil {
		switch summary.State {
		case RunStateSucceeded:
			r.resolveRetry(book, summary)
		case RunStateFailed:
			if runErr == nil {
				summary.Enqueued = r.enqueue(book, summary)
			}
		}
	}

	var logs []logging.LogEntry
	if r.runLogs != nil && summary.TaskID != "" {
		logs = r.runLogs.Take(summary.TaskID)
	}

	logger := r.logger.With("run_id", summary.ID, "tenant_id", summary.TenantID, "platform", summary.Platform)
	if summary.State == RunStateSucceeded {
		logger.Info("run completed", "items_processed", summary.ItemsProcessed, "duration", summary.Duration())
	} else {
		logger.Warn("run did not succeed", "state", summary.State, "error", summary.Error, "duration", summary.Duration())
	}

	if err := r.store.Save(summary, logs); err != nil {
		logger.Error("failed to save run to store", "error", err)
	}

	r.mu.Lock()
	delete(r.active, key)
	r.last = &summary
	r.mu.Unlock()

	if r.finished != nil {
		select {
		case r.finished <- summary:
		default:
		}
	}
}

// entityID is the key the retry queue uses for a run. Runs that failed
// before a profile existed fall back to the platform identifier.
func entityID(s RunSummary) string {
	if s.BusinessID != "" {
		return s.BusinessID
	}
	return s.Identifier
}

func (r *Runner) enqueue(ctx context.Context, s RunSummary) bool {
	added, err := r.queue.AddToQueue(ctx, retryqueue.Failure{
		TenantID:         s.TenantID,
		BusinessEntityID: entityID(s),
		Platform:         s.Platform,
		Identifier:       s.Identifier,
		Error:            s.Error,
	})
	if err != nil {
		r.logger.Error("failed to enqueue retry", "run_id", s.ID, "error", err)
		return false
	}
	r.logger.Info("retry enqueued", "run_id", s.ID, "accepted", added.Accepted, "message", added.Message)
	return added.Accepted
}

func (r *Runner) resolveRetry(ctx context.Context, s RunSummary) {
	err := r.queue.RemoveFromQueue(ctx, entityID(s), s.Platform)
	if err != nil && !errors.Is(err, retryqueue.ErrEntryNotFound) {
		r.logger.Warn("failed to resolve queued retry", "run_id", s.ID, "error", err)
	}
}
