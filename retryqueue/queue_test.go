package retryqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/platform"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (n *recordingNotifier) Notify(ctx context.Context, audience, title string, metadata map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, audience+": "+title)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newTestQueue(t *testing.T, clock *fakeClock, opts ...Option) *Queue {
	t.Helper()
	q, err := New(append([]Option{WithLogger(testLogger()), WithClock(clock.Now)}, opts...)...)
	require.NoError(t, err)
	return q
}

func failure(entity string) Failure {
	return Failure{
		TenantID:         "t1",
		BusinessEntityID: entity,
		Platform:         platform.GoogleMaps,
		Identifier:       "place-" + entity,
		Error:            "scraper timeout",
	}
}

func TestBackoff_Delay(t *testing.T) {
	b := DefaultBackoff()

	assert.Equal(t, 5*time.Minute, b.Delay(1))
	assert.Equal(t, 15*time.Minute, b.Delay(2))
	assert.Equal(t, 45*time.Minute, b.Delay(3))
	assert.Equal(t, 5*time.Minute, b.Delay(0), "counts below 1 use the first delay")

	prev := time.Duration(0)
	for n := 1; n <= 12; n++ {
		d := b.Delay(n)
		assert.Greater(t, d, prev, "delay must grow with retry count")
		prev = d
		if d == maxBackoff {
			break
		}
	}
	assert.Equal(t, maxBackoff, b.Delay(100))
}

func TestBackoff_Validate(t *testing.T) {
	tests := []struct {
		name    string
		backoff Backoff
		wantErr bool
	}{
		{"default", DefaultBackoff(), false},
		{"ratio two", Backoff{Base: time.Minute, Ratio: 2}, false},
		{"linear", Backoff{Base: time.Minute, Ratio: 1}, true},
		{"zero base", Backoff{Base: 0, Ratio: 3}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.backoff.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	_, err := New(WithBackoff(Backoff{Base: time.Minute, Ratio: 1}))
	assert.Error(t, err)
}

func TestAddToQueue_BackoffAndPermanentFailure(t *testing.T) {
	clock := newFakeClock()
	notifier := &recordingNotifier{}
	q := newTestQueue(t, clock, WithMaxRetries(3), WithNotifier(notifier))
	ctx := context.Background()
	start := clock.Now()

	res, err := q.AddToQueue(ctx, failure("biz-1"))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, 1, res.Entry.RetryCount)
	assert.Equal(t, StatusPending, res.Entry.Status)
	assert.Equal(t, start.Add(5*time.Minute), res.Entry.NextRetryAt)

	res, err = q.AddToQueue(ctx, failure("biz-1"))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, 2, res.Entry.RetryCount)
	assert.Equal(t, start.Add(15*time.Minute), res.Entry.NextRetryAt)
	assert.Equal(t, 0, notifier.count(), "no notification before retries are exhausted")

	res, err = q.AddToQueue(ctx, failure("biz-1"))
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, 3, res.Entry.RetryCount)
	assert.Equal(t, StatusFailed, res.Entry.Status)
	assert.Equal(t, 1, notifier.count())

	// a fourth report does not reset a failed entry
	res, err = q.AddToQueue(ctx, failure("biz-1"))
	require.NoError(t, err)
	assert.False(t, res.Accepted)

	entry, err := q.GetEntry(ctx, "biz-1", platform.GoogleMaps)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, entry.Status)
	assert.Equal(t, 3, entry.RetryCount)
	assert.Equal(t, 1, notifier.count(), "permanent failure is announced once")
}

func TestAddToQueue_NotifierErrorIsNotReturned(t *testing.T) {
	clock := newFakeClock()
	notifier := &recordingNotifier{err: errors.New("smtp down")}
	q := newTestQueue(t, clock, WithMaxRetries(1), WithNotifier(notifier))

	res, err := q.AddToQueue(context.Background(), failure("biz-1"))
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, 1, notifier.count())
}

func TestAddToQueue_Validation(t *testing.T) {
	q := newTestQueue(t, newFakeClock())

	_, err := q.AddToQueue(context.Background(), Failure{Platform: platform.GoogleMaps})
	assert.ErrorIs(t, err, ErrInvalidEntry)
	_, err = q.AddToQueue(context.Background(), Failure{BusinessEntityID: "biz-1"})
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

func TestAddToQueue_AfterResolutionStartsOver(t *testing.T) {
	clock := newFakeClock()
	q := newTestQueue(t, clock)
	ctx := context.Background()

	_, err := q.AddToQueue(ctx, failure("biz-1"))
	require.NoError(t, err)
	_, err = q.AddToQueue(ctx, failure("biz-1"))
	require.NoError(t, err)
	require.NoError(t, q.RemoveFromQueue(ctx, "biz-1", platform.GoogleMaps))

	res, err := q.AddToQueue(ctx, failure("biz-1"))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, 1, res.Entry.RetryCount)
	assert.Nil(t, res.Entry.ResolvedAt)
}

func TestProcessQueue_ResolvesAndRequeues(t *testing.T) {
	clock := newFakeClock()
	ctx := context.Background()

	var calls int32
	retry := func(ctx context.Context, e Entry) error {
		atomic.AddInt32(&calls, 1)
		if e.BusinessEntityID == "bad" {
			return errors.New("still broken")
		}
		return nil
	}
	q := newTestQueue(t, clock, WithRetryFunc(retry))

	for _, id := range []string{"good", "bad"} {
		_, err := q.AddToQueue(ctx, failure(id))
		require.NoError(t, err)
	}

	// nothing is due yet
	res, err := q.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Selected)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	clock.Advance(5 * time.Minute)
	res, err = q.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, ProcessResult{Selected: 2, Resolved: 1, Requeued: 1}, res)

	good, err := q.GetEntry(ctx, "good", platform.GoogleMaps)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, good.Status)
	require.NotNil(t, good.ResolvedAt)
	require.NotNil(t, good.LastAttemptAt)

	bad, err := q.GetEntry(ctx, "bad", platform.GoogleMaps)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, bad.Status)
	assert.Equal(t, 2, bad.RetryCount)
	assert.Equal(t, "still broken", bad.LastError)
	assert.Equal(t, clock.Now().Add(15*time.Minute), bad.NextRetryAt)

	clock.Advance(15 * time.Minute)
	res, err = q.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, ProcessResult{Selected: 1, Failed: 1}, res)

	bad, err = q.GetEntry(ctx, "bad", platform.GoogleMaps)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, bad.Status)

	// failed entries are never retried again
	clock.Advance(24 * time.Hour)
	res, err = q.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Selected)
}

func TestProcessQueue_IsolatesPanicsAndSlowEntries(t *testing.T) {
	clock := newFakeClock()
	ctx := context.Background()

	retry := func(ctx context.Context, e Entry) error {
		switch e.BusinessEntityID {
		case "panics":
			panic("nil map")
		case "hangs":
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}
	q := newTestQueue(t, clock,
		WithRetryFunc(retry),
		WithConcurrency(4),
		WithAttemptTimeout(50*time.Millisecond),
	)

	ids := []string{"panics", "hangs", "ok-1", "ok-2"}
	for _, id := range ids {
		_, err := q.AddToQueue(ctx, failure(id))
		require.NoError(t, err)
	}
	clock.Advance(5 * time.Minute)

	done := make(chan ProcessResult, 1)
	go func() {
		res, err := q.ProcessQueue(ctx, 10)
		assert.NoError(t, err)
		done <- res
	}()

	select {
	case res := <-done:
		assert.Equal(t, 4, res.Selected)
		assert.Equal(t, 2, res.Resolved)
		assert.Equal(t, 2, res.Requeued)
	case <-time.After(5 * time.Second):
		t.Fatal("a hanging retry action blocked the batch")
	}

	panicked, err := q.GetEntry(ctx, "panics", platform.GoogleMaps)
	require.NoError(t, err)
	assert.Contains(t, panicked.LastError, "panicked")

	hung, err := q.GetEntry(ctx, "hangs", platform.GoogleMaps)
	require.NoError(t, err)
	assert.Contains(t, hung.LastError, "timed out")
}

func TestProcessQueue_BatchSizeLimitsSelection(t *testing.T) {
	clock := newFakeClock()
	ctx := context.Background()
	q := newTestQueue(t, clock, WithRetryFunc(func(ctx context.Context, e Entry) error { return nil }))

	for i := 0; i < 5; i++ {
		_, err := q.AddToQueue(ctx, failure(fmt.Sprintf("biz-%d", i)))
		require.NoError(t, err)
	}
	clock.Advance(time.Hour)

	res, err := q.ProcessQueue(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Selected)

	stats, err := q.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Pending: 3, Resolved: 2, Total: 5}, stats)
}

func TestProcessQueue_SkippedAttemptKeepsRetryBudget(t *testing.T) {
	clock := newFakeClock()
	ctx := context.Background()

	var calls int32
	q := newTestQueue(t, clock, WithRetryFunc(func(ctx context.Context, e Entry) error {
		atomic.AddInt32(&calls, 1)
		return fmt.Errorf("%w: run already in progress", ErrAttemptSkipped)
	}))

	_, err := q.AddToQueue(ctx, failure("busy"))
	require.NoError(t, err)

	// more passes than MaxRetries, none of which may use up the budget
	for i := 0; i < DefaultMaxRetries+2; i++ {
		clock.Advance(DefaultBackoffBase)
		res, err := q.ProcessQueue(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, ProcessResult{Selected: 1, Deferred: 1}, res)

		entry, err := q.GetEntry(ctx, "busy", platform.GoogleMaps)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, entry.Status)
		assert.Equal(t, 1, entry.RetryCount)
		assert.Equal(t, clock.Now().Add(DefaultBackoffBase), entry.NextRetryAt)
	}
	assert.Equal(t, int32(DefaultMaxRetries+2), atomic.LoadInt32(&calls))

	// not due again until a full base delay has passed
	clock.Advance(DefaultBackoffBase - time.Second)
	res, err := q.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Selected)
}

func TestProcessQueue_ReclaimsAbandonedClaim(t *testing.T) {
	clock := newFakeClock()
	ctx := context.Background()

	var calls int32
	q := newTestQueue(t, clock,
		WithAttemptTimeout(time.Minute),
		WithRetryFunc(func(ctx context.Context, e Entry) error {
			atomic.AddInt32(&calls, 1)
			return nil
		}),
	)

	_, err := q.AddToQueue(ctx, failure("biz-1"))
	require.NoError(t, err)
	clock.Advance(5 * time.Minute)

	// a worker claims the entry and dies before recording the outcome
	claimed, ok := q.claim(ctx, Key{"biz-1", platform.GoogleMaps})
	require.True(t, ok)
	require.Equal(t, StatusRetrying, claimed.Status)

	res, err := q.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Selected, "a fresh claim is left to its worker")

	clock.Advance(time.Minute + claimGrace + time.Second)
	res, err = q.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, ProcessResult{Selected: 1, Resolved: 1}, res)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	entry, err := q.GetEntry(ctx, "biz-1", platform.GoogleMaps)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, entry.Status)
}

func TestAttempt_ReclaimedEntryIgnoresLateOutcome(t *testing.T) {
	clock := newFakeClock()
	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan struct{})
	q := newTestQueue(t, clock,
		WithAttemptTimeout(time.Minute),
		WithRetryFunc(func(ctx context.Context, e Entry) error {
			close(started)
			<-release
			return errors.New("late failure")
		}),
	)

	_, err := q.AddToQueue(ctx, failure("biz-1"))
	require.NoError(t, err)
	clock.Advance(5 * time.Minute)
	key := Key{"biz-1", platform.GoogleMaps}

	done := make(chan outcome, 1)
	go func() { done <- q.attempt(ctx, key) }()
	<-started

	// the slow attempt is taken over by another worker
	clock.Advance(time.Minute + claimGrace + time.Second)
	reclaimed, ok := q.claim(ctx, key)
	require.True(t, ok)

	close(release)
	assert.Equal(t, outcomeSkipped, <-done)

	entry, err := q.GetEntry(ctx, "biz-1", platform.GoogleMaps)
	require.NoError(t, err)
	assert.Equal(t, StatusRetrying, entry.Status, "the new claim still owns the entry")
	assert.Equal(t, 1, entry.RetryCount)
	assert.Equal(t, "scraper timeout", entry.LastError)
	require.NotNil(t, entry.LastAttemptAt)
	assert.True(t, entry.LastAttemptAt.Equal(*reclaimed.LastAttemptAt))
}

func TestProcessQueue_RequiresRetryFunc(t *testing.T) {
	q := newTestQueue(t, newFakeClock())
	_, err := q.ProcessQueue(context.Background(), 10)
	assert.ErrorIs(t, err, ErrNoRetryFunc)
}

func TestRemoveFromQueue(t *testing.T) {
	q := newTestQueue(t, newFakeClock())
	ctx := context.Background()

	err := q.RemoveFromQueue(ctx, "missing", platform.GoogleMaps)
	assert.ErrorIs(t, err, ErrEntryNotFound)

	_, err = q.AddToQueue(ctx, failure("biz-1"))
	require.NoError(t, err)
	require.NoError(t, q.RemoveFromQueue(ctx, "biz-1", platform.GoogleMaps))
	require.NoError(t, q.RemoveFromQueue(ctx, "biz-1", platform.GoogleMaps), "resolving twice is a no-op")

	entry, err := q.GetEntry(ctx, "biz-1", platform.GoogleMaps)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, entry.Status)
}

func TestCleanupOldEntries_KeepsUnresolved(t *testing.T) {
	clock := newFakeClock()
	q := newTestQueue(t, clock, WithMaxRetries(1))
	ctx := context.Background()

	// biz-old resolved 10 days ago, biz-new resolved today
	_, err := q.AddToQueue(ctx, Failure{BusinessEntityID: "biz-old", Platform: platform.GoogleMaps, Error: "x"})
	require.NoError(t, err)
	require.NoError(t, q.RemoveFromQueue(ctx, "biz-old", platform.GoogleMaps))
	clock.Advance(10 * 24 * time.Hour)

	q2 := newTestQueue(t, clock, WithStore(q.store))
	_, err = q2.AddToQueue(ctx, Failure{BusinessEntityID: "biz-new", Platform: platform.GoogleMaps, Error: "x"})
	require.NoError(t, err)
	require.NoError(t, q2.RemoveFromQueue(ctx, "biz-new", platform.GoogleMaps))
	_, err = q2.AddToQueue(ctx, Failure{BusinessEntityID: "biz-pending", Platform: platform.GoogleMaps, Error: "x"})
	require.NoError(t, err)
	// failed long ago, must survive cleanup
	_, err = q.AddToQueue(ctx, Failure{BusinessEntityID: "biz-failed", Platform: platform.Facebook, Error: "x"})
	require.NoError(t, err)

	deleted, err := q.CleanupOldEntries(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = q.GetEntry(ctx, "biz-old", platform.GoogleMaps)
	assert.ErrorIs(t, err, ErrEntryNotFound)
	for _, key := range []Key{
		{"biz-new", platform.GoogleMaps},
		{"biz-pending", platform.GoogleMaps},
		{"biz-failed", platform.Facebook},
	} {
		_, err := q.GetEntry(ctx, key.BusinessEntityID, key.Platform)
		assert.NoError(t, err, key.String())
	}

	_, err = q.CleanupOldEntries(ctx, -1)
	assert.Error(t, err)
}

func TestAddToQueue_ConcurrentReportsAreNotLost(t *testing.T) {
	q := newTestQueue(t, newFakeClock(), WithMaxRetries(100))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.AddToQueue(ctx, failure("biz-1"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entry, err := q.GetEntry(ctx, "biz-1", platform.GoogleMaps)
	require.NoError(t, err)
	assert.Equal(t, 20, entry.RetryCount)
}

func newGormStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "retry.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store, err := NewGormStore(db)
	require.NoError(t, err)
	return store
}

func TestGormStore_QueueLifecycle(t *testing.T) {
	clock := newFakeClock()
	ctx := context.Background()
	store := newGormStore(t)

	var attempts int32
	q := newTestQueue(t, clock,
		WithStore(store),
		WithRetryFunc(func(ctx context.Context, e Entry) error {
			if atomic.AddInt32(&attempts, 1) == 1 {
				return errors.New("first retry fails")
			}
			return nil
		}),
	)

	_, err := q.AddToQueue(ctx, failure("biz-1"))
	require.NoError(t, err)

	entry, err := store.Get(ctx, Key{"biz-1", platform.GoogleMaps})
	require.NoError(t, err)
	assert.Equal(t, "t1", entry.TenantID)
	assert.Equal(t, "place-biz-1", entry.Identifier)
	assert.True(t, entry.NextRetryAt.Equal(clock.Now().Add(5*time.Minute)))

	clock.Advance(5 * time.Minute)
	res, err := q.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Requeued)

	clock.Advance(15 * time.Minute)
	res, err = q.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Resolved)

	stats, err := q.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Resolved: 1, Total: 1}, stats)

	clock.Advance(31 * 24 * time.Hour)
	deleted, err := q.CleanupOldEntries(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}

func TestGormStore_ReclaimsAbandonedClaim(t *testing.T) {
	clock := newFakeClock()
	ctx := context.Background()
	store := newGormStore(t)

	// left behind by a process that crashed mid-attempt
	claimedAt := clock.Now().Add(-time.Minute)
	require.NoError(t, store.Put(ctx, &Entry{
		TenantID:         "t1",
		BusinessEntityID: "biz-1",
		Platform:         platform.Facebook,
		Identifier:       "page-1",
		RetryCount:       1,
		MaxRetries:       3,
		Status:           StatusRetrying,
		NextRetryAt:      claimedAt,
		LastAttemptAt:    &claimedAt,
		CreatedAt:        claimedAt,
		UpdatedAt:        claimedAt,
	}))

	var calls int32
	q := newTestQueue(t, clock,
		WithStore(store),
		WithAttemptTimeout(time.Minute),
		WithRetryFunc(func(ctx context.Context, e Entry) error {
			atomic.AddInt32(&calls, 1)
			return nil
		}),
	)

	res, err := q.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Selected)

	clock.Advance(claimGrace + time.Minute)
	res, err = q.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, ProcessResult{Selected: 1, Resolved: 1}, res)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	stats, err := q.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Resolved: 1, Total: 1}, stats)
}

func TestGormStore_UpsertKeepsOneRowPerKey(t *testing.T) {
	store := newGormStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	e := &Entry{
		BusinessEntityID: "biz-1",
		Platform:         platform.TripAdvisor,
		Identifier:       "loc-1",
		RetryCount:       1,
		MaxRetries:       3,
		Status:           StatusPending,
		NextRetryAt:      now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, store.Put(ctx, e))

	e.RetryCount = 2
	e.Identifier = "loc-2"
	require.NoError(t, store.Put(ctx, e))

	var count int64
	require.NoError(t, store.db.Model(&entryRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	got, err := store.Get(ctx, e.Key())
	require.NoError(t, err)
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, "loc-2", got.Identifier)

	due, err := store.Due(ctx, now.Add(time.Second), now.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[StatusPending])
}
