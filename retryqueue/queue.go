// Package retryqueue keeps a backlog of entities whose pipeline runs failed
// and retries them on an exponential backoff schedule.
//
// Each (business entity, platform) pair has at most one Entry. Its status
// cycles between pending and retrying until it either succeeds (resolved)
// or exhausts MaxRetries (failed). A failed entry is never retried
// automatically again and triggers a notification, since no further
// recovery will happen without a human.
//
// Retry attempts in one ProcessQueue pass run on a bounded worker pool.
// Every attempt has its own timeout and panic recovery, so one slow or
// broken entity cannot hold up or abort the rest of the batch.
package retryqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/keylock"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/metrics"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/platform"
)

const (
	DefaultMaxRetries     = 3
	DefaultConcurrency    = 5
	DefaultBatchSize      = 10
	DefaultAttemptTimeout = 10 * time.Minute
	defaultNotifyTimeout  = 10 * time.Second

	// claimGrace is how long past the attempt timeout a retrying entry may
	// go without a recorded outcome before another pass reclaims it.
	claimGrace = 5 * time.Minute

	// NotifyAudience receives permanent failure notifications.
	NotifyAudience = "admins"
)

// ErrNoRetryFunc is returned by ProcessQueue when no retry action is configured.
var ErrNoRetryFunc = errors.New("no retry action configured")

// RetryFunc re-runs the pipeline for an entry. A nil error resolves the entry.
type RetryFunc func(ctx context.Context, entry Entry) error

// Notifier delivers permanent failure alerts.
type Notifier interface {
	Notify(ctx context.Context, audience, title string, metadata map[string]any) error
}

// Failure describes a failed pipeline run being reported to the queue.
type Failure struct {
	TenantID         string
	BusinessEntityID string
	Platform         platform.Platform
	Identifier       string
	Error            string
}

// Queue is the retry backlog.
type Queue struct {
	store          Store
	locker         keylock.Locker
	notifier       Notifier
	retry          RetryFunc
	backoff        Backoff
	maxRetries     int
	concurrency    int
	attemptTimeout time.Duration
	notifyTimeout  time.Duration
	metrics        *metrics.RetryMetrics
	logger         *slog.Logger
	now            func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithStore sets the entry store. Default is a MemoryStore.
func WithStore(store Store) Option {
	return func(q *Queue) {
		q.store = store
	}
}

// WithLocker sets the per-key locker. Default is an in-process keylock.Local.
func WithLocker(locker keylock.Locker) Option {
	return func(q *Queue) {
		q.locker = locker
	}
}

// WithNotifier sets the permanent failure notifier.
func WithNotifier(n Notifier) Option {
	return func(q *Queue) {
		q.notifier = n
	}
}

// WithRetryFunc sets the action ProcessQueue runs for each due entry.
func WithRetryFunc(fn RetryFunc) Option {
	return func(q *Queue) {
		q.retry = fn
	}
}

// WithBackoff sets the backoff policy.
func WithBackoff(b Backoff) Option {
	return func(q *Queue) {
		q.backoff = b
	}
}

// WithMaxRetries sets the failure count at which an entry is marked failed.
func WithMaxRetries(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxRetries = n
		}
	}
}

// WithConcurrency bounds how many retry actions run at once.
func WithConcurrency(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.concurrency = n
		}
	}
}

// WithAttemptTimeout bounds a single retry action.
func WithAttemptTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.attemptTimeout = d
		}
	}
}

// WithMetrics records queue activity.
func WithMetrics(m *metrics.RetryMetrics) Option {
	return func(q *Queue) {
		q.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger.With("component", "retryqueue")
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// New creates a Queue.
func New(opts ...Option) (*Queue, error) {
	q := &Queue{
		store:          NewMemoryStore(),
		locker:         keylock.NewLocal(),
		backoff:        DefaultBackoff(),
		maxRetries:     DefaultMaxRetries,
		concurrency:    DefaultConcurrency,
		attemptTimeout: DefaultAttemptTimeout,
		notifyTimeout:  defaultNotifyTimeout,
		logger:         slog.Default().With("component", "retryqueue"),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	if err := q.backoff.Validate(); err != nil {
		return nil, err
	}
	return q, nil
}

// AddToQueue records a failure for an entity. The first failure creates the
// entry; later ones increment RetryCount and push NextRetryAt out along the
// backoff curve. Once RetryCount reaches MaxRetries the entry is marked
// failed, a notification is sent and Accepted is false. Failures reported
// against an already failed entry change nothing.
func (q *Queue) AddToQueue(ctx context.Context, f Failure) (AddResult, error) {
	if f.BusinessEntityID == "" || f.Platform == "" {
		return AddResult{}, fmt.Errorf("%w: business entity ID and platform are required", ErrInvalidEntry)
	}
	key := Key{BusinessEntityID: f.BusinessEntityID, Platform: f.Platform}

	unlock, err := q.locker.Lock(ctx, lockKey(key))
	if err != nil {
		return AddResult{}, fmt.Errorf("locking %s: %w", key, err)
	}

	entry, err := q.store.Get(ctx, key)
	switch {
	case errors.Is(err, ErrEntryNotFound):
		now := q.now()
		entry = &Entry{
			TenantID:         f.TenantID,
			BusinessEntityID: f.BusinessEntityID,
			Platform:         key.Platform,
			Identifier:       f.Identifier,
			MaxRetries:       q.maxRetries,
			Status:           StatusPending,
			CreatedAt:        now,
		}
	case err != nil:
		unlock()
		return AddResult{}, err
	case entry.Status == StatusFailed:
		unlock()
		return AddResult{
			Accepted: false,
			Message:  fmt.Sprintf("%s already failed permanently after %d attempts", key, entry.RetryCount),
			Entry:    entry,
		}, nil
	case entry.Status == StatusResolved:
		// a new failure after recovery starts a fresh episode
		entry.RetryCount = 0
		entry.ResolvedAt = nil
		entry.MaxRetries = q.maxRetries
	}

	if f.TenantID != "" {
		entry.TenantID = f.TenantID
	}
	if f.Identifier != "" {
		entry.Identifier = f.Identifier
	}

	accepted := q.recordFailure(entry, f.Error)
	if err := q.store.Put(ctx, entry); err != nil {
		unlock()
		return AddResult{}, err
	}
	unlock()

	q.metrics.RecordEnqueued(string(entry.Platform))
	if !accepted {
		q.permanentlyFailed(ctx, entry)
		return AddResult{
			Accepted: false,
			Message:  fmt.Sprintf("%s failed permanently after %d attempts", key, entry.RetryCount),
			Entry:    entry.Clone(),
		}, nil
	}

	q.logger.Info("entry queued for retry",
		"entity_id", entry.BusinessEntityID,
		"platform", entry.Platform,
		"retry_count", entry.RetryCount,
		"next_retry_at", entry.NextRetryAt,
	)
	return AddResult{
		Accepted: true,
		Message:  fmt.Sprintf("retry %d/%d scheduled for %s", entry.RetryCount, entry.MaxRetries, entry.NextRetryAt.Format(time.RFC3339)),
		Entry:    entry.Clone(),
	}, nil
}

// ProcessQueue retries up to batchSize due entries. Each attempt runs on the
// worker pool under its own timeout; a panic or error in one attempt only
// affects that entry. Entries not selected are left untouched. Entries left
// in retrying by an attempt that never finished, such as one interrupted by
// a crash, are picked up again once their claim is stale.
func (q *Queue) ProcessQueue(ctx context.Context, batchSize int) (ProcessResult, error) {
	if q.retry == nil {
		return ProcessResult{}, ErrNoRetryFunc
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	now := q.now()
	due, err := q.store.Due(ctx, now, q.staleBefore(now), batchSize)
	if err != nil {
		return ProcessResult{}, err
	}
	result := ProcessResult{Selected: len(due)}
	if len(due) == 0 {
		return result, nil
	}

	pool, err := ants.NewPool(q.concurrency, ants.WithPanicHandler(func(p any) {
		q.logger.Error("retry worker panicked", "panic", p)
	}))
	if err != nil {
		return result, fmt.Errorf("creating retry pool: %w", err)
	}
	defer pool.Release()

	q.logger.Info("processing retry queue", "selected", len(due), "concurrency", q.concurrency)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	tally := func(o outcome) {
		mu.Lock()
		defer mu.Unlock()
		switch o {
		case outcomeResolved:
			result.Resolved++
		case outcomeRequeued:
			result.Requeued++
		case outcomeDeferred:
			result.Deferred++
		case outcomeFailed:
			result.Failed++
		}
	}

	for _, entry := range due {
		entry := entry
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			tally(q.attempt(ctx, entry.Key()))
		})
		if submitErr != nil {
			wg.Done()
			q.logger.Error("failed to submit retry", "entity_id", entry.BusinessEntityID, "platform", entry.Platform, "error", submitErr)
		}
	}
	wg.Wait()

	q.logger.Info("retry queue pass finished",
		"selected", result.Selected,
		"resolved", result.Resolved,
		"requeued", result.Requeued,
		"deferred", result.Deferred,
		"failed", result.Failed,
	)
	return result, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeResolved
	outcomeRequeued
	outcomeDeferred
	outcomeFailed
)

func (o outcome) String() string {
	switch o {
	case outcomeResolved:
		return "resolved"
	case outcomeRequeued:
		return "requeued"
	case outcomeDeferred:
		return "deferred"
	case outcomeFailed:
		return "failed"
	default:
		return "skipped"
	}
}

// attempt claims one entry, runs the retry action and records the result.
func (q *Queue) attempt(ctx context.Context, key Key) outcome {
	entry, ok := q.claim(ctx, key)
	if !ok {
		return outcomeSkipped
	}

	logger := q.logger.With("entity_id", key.BusinessEntityID, "platform", key.Platform, "retry_count", entry.RetryCount)
	logger.Info("retrying entry")

	runErr := q.run(ctx, *entry)

	// bookkeeping must land even if ctx was cancelled mid-attempt
	bookCtx := context.WithoutCancel(ctx)
	unlock, err := q.locker.Lock(bookCtx, lockKey(key))
	if err != nil {
		logger.Error("failed to lock entry after attempt", "error", err)
		return outcomeSkipped
	}

	current, err := q.store.Get(bookCtx, key)
	if err != nil {
		unlock()
		logger.Error("failed to reload entry after attempt", "error", err)
		return outcomeSkipped
	}
	if current.Status != StatusRetrying || !sameAttempt(current.LastAttemptAt, entry.LastAttemptAt) {
		// resolved out-of-band, or reclaimed as stale, while the attempt ran
		unlock()
		return outcomeSkipped
	}

	now := q.now()
	result := outcomeResolved
	switch {
	case runErr == nil:
		current.Status = StatusResolved
		current.ResolvedAt = &now
		current.UpdatedAt = now
	case ctx.Err() != nil:
		// shutdown is not the entity's fault
		current.Status = StatusPending
		current.UpdatedAt = now
		result = outcomeSkipped
	case errors.Is(runErr, ErrAttemptSkipped):
		current.Status = StatusPending
		current.NextRetryAt = now.Add(q.backoff.Base)
		current.UpdatedAt = now
		result = outcomeDeferred
	default:
		if q.recordFailure(current, runErr.Error()) {
			result = outcomeRequeued
		} else {
			result = outcomeFailed
		}
	}

	if err := q.store.Put(bookCtx, current); err != nil {
		unlock()
		logger.Error("failed to save entry after attempt", "error", err)
		return outcomeSkipped
	}
	unlock()

	q.metrics.RecordAttempt(string(key.Platform), result.String())
	switch result {
	case outcomeResolved:
		logger.Info("entry resolved")
	case outcomeRequeued:
		logger.Warn("retry failed, requeued", "error", runErr, "next_retry_at", current.NextRetryAt)
	case outcomeDeferred:
		logger.Info("retry deferred", "reason", runErr, "next_retry_at", current.NextRetryAt)
	case outcomeFailed:
		q.permanentlyFailed(bookCtx, current)
	}
	return result
}

// claim moves a pending or abandoned entry to retrying. It returns false if
// the entry is no longer claimable, for example when another worker or
// RemoveFromQueue got there first.
func (q *Queue) claim(ctx context.Context, key Key) (*Entry, bool) {
	unlock, err := q.locker.Lock(ctx, lockKey(key))
	if err != nil {
		q.logger.Warn("failed to lock entry", "entity_id", key.BusinessEntityID, "platform", key.Platform, "error", err)
		return nil, false
	}
	defer unlock()

	entry, err := q.store.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	now := q.now()
	switch {
	case entry.Status == StatusPending:
	case entry.claimAbandoned(q.staleBefore(now)):
		q.logger.Warn("reclaiming abandoned retry", "entity_id", key.BusinessEntityID, "platform", key.Platform, "last_attempt_at", entry.LastAttemptAt)
	default:
		return nil, false
	}

	entry.Status = StatusRetrying
	entry.LastAttemptAt = &now
	entry.UpdatedAt = now
	if err := q.store.Put(ctx, entry); err != nil {
		q.logger.Error("failed to claim entry", "entity_id", key.BusinessEntityID, "platform", key.Platform, "error", err)
		return nil, false
	}
	return entry, true
}

// staleBefore is the claim time before which a retrying entry counts as
// abandoned.
func (q *Queue) staleBefore(now time.Time) time.Time {
	return now.Add(-(q.attemptTimeout + claimGrace))
}

// sameAttempt compares claim times at the precision every store keeps.
func sameAttempt(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Truncate(time.Millisecond).Equal(b.Truncate(time.Millisecond))
}

// run invokes the retry action under the attempt timeout, converting a
// panic into an error.
func (q *Queue) run(ctx context.Context, entry Entry) (err error) {
	ctx, cancel := context.WithTimeout(ctx, q.attemptTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("retry action panicked: %v", r)
		}
	}()

	if err := q.retry(ctx, entry); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("retry attempt timed out after %s: %w", q.attemptTimeout, err)
		}
		return err
	}
	return nil
}

// recordFailure increments RetryCount and either schedules the next attempt
// or marks the entry failed. It returns false when the entry became failed.
func (q *Queue) recordFailure(entry *Entry, errMsg string) bool {
	now := q.now()
	entry.RetryCount++
	entry.LastError = errMsg
	entry.UpdatedAt = now

	if entry.RetryCount >= entry.MaxRetries {
		entry.Status = StatusFailed
		return false
	}
	entry.Status = StatusPending
	entry.NextRetryAt = q.backoff.NextRetryAt(now, entry.RetryCount)
	return true
}

// permanentlyFailed logs and notifies. Notification errors are logged only.
func (q *Queue) permanentlyFailed(ctx context.Context, entry *Entry) {
	q.logger.Error("entry failed permanently",
		"tenant_id", entry.TenantID,
		"entity_id", entry.BusinessEntityID,
		"platform", entry.Platform,
		"retry_count", entry.RetryCount,
		"error", entry.LastError,
	)
	q.metrics.RecordPermanentFailure(string(entry.Platform))

	if q.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.notifyTimeout)
	defer cancel()

	title := fmt.Sprintf("Data collection for %s on %s failed permanently", entry.BusinessEntityID, entry.Platform)
	err := q.notifier.Notify(nctx, NotifyAudience, title, map[string]any{
		"tenant_id":          entry.TenantID,
		"business_entity_id": entry.BusinessEntityID,
		"platform":           string(entry.Platform),
		"identifier":         entry.Identifier,
		"retry_count":        entry.RetryCount,
		"max_retries":        entry.MaxRetries,
		"last_error":         entry.LastError,
	})
	if err != nil {
		q.logger.Error("failed to send permanent failure notification", "entity_id", entry.BusinessEntityID, "error", err)
	}
}

// RemoveFromQueue resolves the entry, typically because a direct run
// succeeded and made the queued retry obsolete.
func (q *Queue) RemoveFromQueue(ctx context.Context, businessEntityID string, p platform.Platform) error {
	key := Key{BusinessEntityID: businessEntityID, Platform: p}

	unlock, err := q.locker.Lock(ctx, lockKey(key))
	if err != nil {
		return fmt.Errorf("locking %s: %w", key, err)
	}
	defer unlock()

	entry, err := q.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if entry.Status == StatusResolved {
		return nil
	}

	now := q.now()
	entry.Status = StatusResolved
	entry.ResolvedAt = &now
	entry.UpdatedAt = now
	if err := q.store.Put(ctx, entry); err != nil {
		return err
	}

	q.logger.Info("entry resolved out-of-band", "entity_id", businessEntityID, "platform", key.Platform)
	return nil
}

// GetEntry returns the entry for an entity and platform.
func (q *Queue) GetEntry(ctx context.Context, businessEntityID string, p platform.Platform) (*Entry, error) {
	return q.store.Get(ctx, Key{BusinessEntityID: businessEntityID, Platform: p})
}

// GetStats counts entries per status.
func (q *Queue) GetStats(ctx context.Context) (Stats, error) {
	counts, err := q.store.CountByStatus(ctx)
	if err != nil {
		return Stats{}, err
	}
	for _, s := range Statuses() {
		q.metrics.SetEntries(string(s), counts[s])
	}
	return statsFromCounts(counts), nil
}

// CleanupOldEntries deletes resolved entries resolved more than
// retentionDays ago. Pending, retrying and failed entries are kept.
func (q *Queue) CleanupOldEntries(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays < 0 {
		return 0, fmt.Errorf("retention days must not be negative, got %d", retentionDays)
	}
	cutoff := q.now().Add(-time.Duration(retentionDays) * 24 * time.Hour)

	deleted, err := q.store.DeleteResolvedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		q.logger.Info("cleaned up resolved entries", "deleted", deleted, "retention_days", retentionDays)
	}
	return deleted, nil
}

func lockKey(key Key) string {
	return "retry:" + key.String()
}
