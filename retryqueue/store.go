package retryqueue

import (
	"context"
	"time"
)

// Store persists retry entries.
//
// Implementations only need single-call atomicity; the Queue serializes
// read-modify-write sequences per key through its keylock.Locker.
type Store interface {
	// Get returns the entry for key, or ErrEntryNotFound.
	Get(ctx context.Context, key Key) (*Entry, error)
	// Put creates or replaces the entry for its key.
	Put(ctx context.Context, entry *Entry) error
	// Due returns up to limit entries ready for an attempt, earliest
	// NextRetryAt first: pending entries with NextRetryAt <= now, and
	// retrying entries whose LastAttemptAt is before staleBefore. The latter
	// were claimed by an attempt that never recorded its outcome.
	Due(ctx context.Context, now, staleBefore time.Time, limit int) ([]*Entry, error)
	// CountByStatus returns the number of entries per status.
	CountByStatus(ctx context.Context) (map[Status]int, error)
	// DeleteResolvedBefore removes resolved entries with ResolvedAt before cutoff.
	DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int, error)
}
