// Package tracker records the progress of pipeline runs.
//
// One Task exists per (tenant, platform) key. Each Task moves through
//
//	pending -> in_progress -> {completed | failed | retrying | cancelled}
//	retrying -> pending (RetryTask) -> in_progress ...
//	retrying -> failed (retries exhausted)
//
// and carries a bounded, append-only log of Messages. All mutations for a
// key are serialized through a keylock.Locker so concurrent callers never
// observe or produce an inconsistent completedSteps/status pair. Keys do
// not contend with each other.
//
// # Example
//
//	t := tracker.New(tracker.WithLogger(logger))
//	task, _ := t.CreateTask(ctx, "tenant-1", platform.GoogleMaps, "place-1")
//	_, _ = t.StartStep(ctx, "tenant-1", platform.GoogleMaps, tracker.StepProfile, "ensuring profile")
//	_, _ = t.CompleteStep(ctx, "tenant-1", platform.GoogleMaps, tracker.StepProfile, "profile ready", nil)
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/keylock"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/platform"
)

const (
	defaultMaxRetries  = 3
	defaultMaxMessages = 100
)

// Tracker is the single source of truth for pipeline progress.
type Tracker struct {
	store       Store
	locker      keylock.Locker
	logger      *slog.Logger
	maxRetries  int
	maxMessages int
	now         func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithStore sets the backing store. Default is a MemoryStore.
func WithStore(store Store) Option {
	return func(t *Tracker) {
		t.store = store
	}
}

// WithLocker sets the per-key locker. Default is an in-process keylock.Local.
func WithLocker(locker keylock.Locker) Option {
	return func(t *Tracker) {
		t.locker = locker
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger.With("component", "tracker")
	}
}

// WithMaxRetries sets the failure count at which a task becomes failed.
func WithMaxRetries(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.maxRetries = n
		}
	}
}

// WithMaxMessages bounds the number of messages kept per task.
func WithMaxMessages(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.maxMessages = n
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// New creates a Tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		store:       NewMemoryStore(),
		locker:      keylock.NewLocal(),
		logger:      slog.Default().With("component", "tracker"),
		maxRetries:  defaultMaxRetries,
		maxMessages: defaultMaxMessages,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// CreateTask allocates a pending task, replacing any prior task for the same key.
func (t *Tracker) CreateTask(ctx context.Context, tenantID string, p platform.Platform, identifier string) (*Task, error) {
	key := Key{TenantID: tenantID, Platform: p}

	unlock, err := t.locker.Lock(ctx, lockKey(key))
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", key, err)
	}
	defer unlock()

	if prior, err := t.store.GetTask(ctx, key); err == nil {
		if err := t.store.DeleteMessages(ctx, prior.ID); err != nil {
			t.logger.Warn("failed to drop messages of replaced task", "task_id", prior.ID, "error", err)
		}
	} else if !errors.Is(err, ErrTaskNotFound) {
		return nil, err
	}

	now := t.now()
	task := &Task{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		Platform:       p,
		Identifier:     identifier,
		Status:         StatusPending,
		TotalSteps:     len(Steps()),
		MaxRetries:     t.maxRetries,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := t.store.PutTask(ctx, task); err != nil {
		return nil, fmt.Errorf("saving task %s: %w", key, err)
	}
	t.appendMessage(ctx, task, Message{
		Message:  "pipeline created",
		Severity: SeverityInfo,
		Progress: intPtr(0),
	})

	t.logger.Info("task created", "task_id", task.ID, "tenant_id", tenantID, "platform", p, "identifier", identifier)
	return task.Clone(), nil
}

// StartStep marks step as the current step and the task as in progress.
func (t *Tracker) StartStep(ctx context.Context, tenantID string, p platform.Platform, step Step, message string) (*Task, error) {
	return t.mutate(ctx, Key{TenantID: tenantID, Platform: p}, func(task *Task) (*Message, error) {
		if task.Status.IsTerminal() {
			return nil, fmt.Errorf("starting %s: %w (%s)", step, ErrTaskTerminal, task.Status)
		}
		task.CurrentStep = step
		task.Status = StatusInProgress

		t.logger.Info(message, "task_id", task.ID, "step", step)
		return &Message{
			Step:     step,
			Message:  message,
			Severity: SeverityInfo,
			Progress: intPtr(task.ProgressPercent),
		}, nil
	})
}

// UpdateProgress applies an intra-step update. It never changes CompletedSteps.
// Explicit percentages are clamped to 0-99 since only completion reaches 100,
// and terminal statuses cannot be set this way.
func (t *Tracker) UpdateProgress(ctx context.Context, tenantID string, p platform.Platform, update ProgressUpdate) (*Task, error) {
	return t.mutate(ctx, Key{TenantID: tenantID, Platform: p}, func(task *Task) (*Message, error) {
		if task.Status.IsTerminal() {
			return nil, fmt.Errorf("updating progress: %w (%s)", ErrTaskTerminal, task.Status)
		}
		if update.Status != nil {
			if update.Status.IsTerminal() {
				return nil, fmt.Errorf("%w: cannot set %s via progress update", ErrInvalidTransition, *update.Status)
			}
			task.Status = *update.Status
		}
		if update.Step != nil {
			task.CurrentStep = *update.Step
		}
		if update.Percent != nil {
			task.ProgressPercent = clampPercent(*update.Percent)
		}

		if update.Message == "" {
			return nil, nil
		}
		t.logger.Debug(update.Message, "task_id", task.ID, "progress", task.ProgressPercent)
		return &Message{
			Step:     task.CurrentStep,
			Message:  update.Message,
			Severity: SeverityInfo,
			Progress: intPtr(task.ProgressPercent),
		}, nil
	})
}

// CompleteStep records one finished step. Progress is recomputed from
// CompletedSteps; when all steps are done the task becomes completed.
func (t *Tracker) CompleteStep(ctx context.Context, tenantID string, p platform.Platform, step Step, message string, result map[string]any) (*Task, error) {
	return t.mutate(ctx, Key{TenantID: tenantID, Platform: p}, func(task *Task) (*Message, error) {
		if task.Status.IsTerminal() {
			return nil, fmt.Errorf("completing %s: %w (%s)", step, ErrTaskTerminal, task.Status)
		}
		if task.CompletedSteps < task.TotalSteps {
			task.CompletedSteps++
		}
		task.CurrentStep = step
		task.ProgressPercent = stepPercent(task.CompletedSteps, task.TotalSteps)

		if task.CompletedSteps >= task.TotalSteps {
			now := t.now()
			task.Status = StatusCompleted
			task.ProgressPercent = 100
			task.CompletedAt = &now
			t.logger.Info("task completed", "task_id", task.ID, "tenant_id", task.TenantID, "platform", task.Platform)
		} else {
			task.Status = StatusInProgress
		}

		return &Message{
			Step:     step,
			Message:  message,
			Severity: SeveritySuccess,
			Progress: intPtr(task.ProgressPercent),
			Result:   result,
		}, nil
	})
}

// FailStep records a step failure. The task becomes failed once ErrorCount
// reaches MaxRetries, otherwise retrying.
func (t *Tracker) FailStep(ctx context.Context, tenantID string, p platform.Platform, step Step, errorMessage string) (*Task, error) {
	return t.mutate(ctx, Key{TenantID: tenantID, Platform: p}, func(task *Task) (*Message, error) {
		if task.Status.IsTerminal() {
			return nil, fmt.Errorf("failing %s: %w (%s)", step, ErrTaskTerminal, task.Status)
		}
		task.ErrorCount++
		task.LastError = errorMessage
		task.CurrentStep = step
		if task.ErrorCount >= task.MaxRetries {
			task.Status = StatusFailed
		} else {
			task.Status = StatusRetrying
		}

		t.logger.Warn("step failed",
			"task_id", task.ID,
			"step", step,
			"status", task.Status,
			"error_count", task.ErrorCount,
			"max_retries", task.MaxRetries,
			"error", errorMessage,
		)
		return &Message{
			Step:       step,
			Message:    errorMessage,
			Severity:   SeverityError,
			Progress:   intPtr(task.ProgressPercent),
			ErrorCount: intPtr(task.ErrorCount),
			MaxRetries: intPtr(task.MaxRetries),
		}, nil
	})
}

// RecordStepError records a step error the run can continue past. It sets
// LastError and logs an error message but leaves Status and ErrorCount
// alone, so it never consumes the retry budget. The task must be in progress.
func (t *Tracker) RecordStepError(ctx context.Context, tenantID string, p platform.Platform, step Step, errorMessage string) (*Task, error) {
	return t.mutate(ctx, Key{TenantID: tenantID, Platform: p}, func(task *Task) (*Message, error) {
		if task.Status != StatusInProgress {
			return nil, fmt.Errorf("%w: recording %s error on a %s task", ErrInvalidTransition, step, task.Status)
		}
		task.LastError = errorMessage
		task.CurrentStep = step

		t.logger.Warn("step error recorded", "task_id", task.ID, "step", step, "error", errorMessage)
		return &Message{
			Step:     step,
			Message:  errorMessage,
			Severity: SeverityError,
			Progress: intPtr(task.ProgressPercent),
		}, nil
	})
}

// RetryTask resets a retrying task to pending so the pipeline can run again.
func (t *Tracker) RetryTask(ctx context.Context, tenantID string, p platform.Platform) (*Task, error) {
	return t.mutate(ctx, Key{TenantID: tenantID, Platform: p}, func(task *Task) (*Message, error) {
		if task.Status.IsTerminal() {
			return nil, fmt.Errorf("retrying: %w (%s)", ErrTaskTerminal, task.Status)
		}
		if task.Status == StatusInProgress {
			return nil, fmt.Errorf("%w: cannot retry a task that is in progress", ErrInvalidTransition)
		}
		task.Status = StatusPending
		task.ErrorCount = 0
		task.LastError = ""
		task.CompletedSteps = 0
		task.ProgressPercent = 0
		task.CurrentStep = ""

		t.logger.Info("task reset for retry", "task_id", task.ID)
		return &Message{
			Message:  "task reset for retry",
			Severity: SeverityInfo,
			Progress: intPtr(0),
		}, nil
	})
}

// CancelTask marks a non-terminal task as cancelled.
func (t *Tracker) CancelTask(ctx context.Context, tenantID string, p platform.Platform, reason string) (*Task, error) {
	return t.mutate(ctx, Key{TenantID: tenantID, Platform: p}, func(task *Task) (*Message, error) {
		if task.Status.IsTerminal() {
			return nil, fmt.Errorf("cancelling: %w (%s)", ErrTaskTerminal, task.Status)
		}
		task.Status = StatusCancelled
		task.LastError = reason

		t.logger.Warn("task cancelled", "task_id", task.ID, "reason", reason)
		return &Message{
			Step:     task.CurrentStep,
			Message:  reason,
			Severity: SeverityError,
			Progress: intPtr(task.ProgressPercent),
		}, nil
	})
}

// GetTask returns the task for the key.
func (t *Tracker) GetTask(ctx context.Context, tenantID string, p platform.Platform) (*Task, error) {
	return t.store.GetTask(ctx, Key{TenantID: tenantID, Platform: p})
}

// GetMessages returns up to limit messages for the key's task, most recent first.
func (t *Tracker) GetMessages(ctx context.Context, tenantID string, p platform.Platform, limit int) ([]Message, error) {
	task, err := t.store.GetTask(ctx, Key{TenantID: tenantID, Platform: p})
	if err != nil {
		return nil, err
	}
	return t.store.Messages(ctx, task.ID, limit)
}

// DeleteTask removes the key's task and its messages.
func (t *Tracker) DeleteTask(ctx context.Context, tenantID string, p platform.Platform) error {
	key := Key{TenantID: tenantID, Platform: p}

	unlock, err := t.locker.Lock(ctx, lockKey(key))
	if err != nil {
		return fmt.Errorf("locking %s: %w", key, err)
	}
	defer unlock()

	task, err := t.store.GetTask(ctx, key)
	if err != nil {
		return err
	}
	if err := t.store.DeleteMessages(ctx, task.ID); err != nil {
		return err
	}
	return t.store.DeleteTask(ctx, key)
}

// mutate runs fn on the key's task under the key lock and persists the result.
func (t *Tracker) mutate(ctx context.Context, key Key, fn func(task *Task) (*Message, error)) (*Task, error) {
	unlock, err := t.locker.Lock(ctx, lockKey(key))
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", key, err)
	}
	defer unlock()

	task, err := t.store.GetTask(ctx, key)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, key)
		}
		return nil, err
	}

	msg, err := fn(task)
	if err != nil {
		return nil, err
	}

	task.LastActivityAt = t.now()
	if err := t.store.PutTask(ctx, task); err != nil {
		return nil, fmt.Errorf("saving task %s: %w", key, err)
	}
	if msg != nil {
		t.appendMessage(ctx, task, *msg)
	}
	return task.Clone(), nil
}

// appendMessage stamps and stores a message. Failures are logged only; the
// task record is the source of truth and has already been saved.
func (t *Tracker) appendMessage(ctx context.Context, task *Task, msg Message) {
	msg.ID = uuid.NewString()
	msg.TaskID = task.ID
	msg.Status = task.Status
	msg.CreatedAt = t.now()
	if err := t.store.AppendMessage(ctx, msg, t.maxMessages); err != nil {
		t.logger.Error("failed to append task message", "task_id", task.ID, "error", err)
	}
}

func lockKey(key Key) string {
	return "task:" + key.String()
}

// stepPercent is completed/total*100 rounded to the nearest integer, capped
// at 99 until every step is done.
func stepPercent(completed, total int) int {
	if total <= 0 {
		return 0
	}
	if completed >= total {
		return 100
	}
	pct := (completed*100 + total/2) / total
	return clampPercent(pct)
}

func clampPercent(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 99 {
		return 99
	}
	return pct
}
