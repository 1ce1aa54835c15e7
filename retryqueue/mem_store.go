package retryqueue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	entries map[Key]*Entry
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[Key]*Entry),
	}
}

// Get returns a copy of the entry for key.
func (s *MemoryStore) Get(ctx context.Context, key Key) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return e.Clone(), nil
}

// Put stores a copy of the entry.
func (s *MemoryStore) Put(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Key()] = entry.Clone()
	return nil
}

// Due returns pending entries whose retry time has passed and abandoned
// retrying entries.
func (s *MemoryStore) Due(ctx context.Context, now, staleBefore time.Time, limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*Entry
	for _, e := range s.entries {
		if (e.Status == StatusPending && !e.NextRetryAt.After(now)) || e.claimAbandoned(staleBefore) {
			due = append(due, e.Clone())
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRetryAt.Before(due[j].NextRetryAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// CountByStatus returns the number of entries per status.
func (s *MemoryStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[Status]int)
	for _, e := range s.entries {
		counts[e.Status]++
	}
	return counts, nil
}

// DeleteResolvedBefore removes resolved entries older than cutoff.
func (s *MemoryStore) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for key, e := range s.entries {
		if e.Status == StatusResolved && e.ResolvedAt != nil && e.ResolvedAt.Before(cutoff) {
			delete(s.entries, key)
			deleted++
		}
	}
	return deleted, nil
}
