// Package keylock provides per-key mutual exclusion.
//
// Callers that mutate records keyed by a composite key (tenant+platform,
// entity+platform) take the lock for that key only, so unrelated keys
// proceed in parallel.
//
// Two implementations are provided:
//   - Local serializes callers inside one process.
//   - Redis serializes callers across processes sharing a Redis instance.
//
// # Example
//
//	locker := keylock.NewLocal()
//	unlock, err := locker.Lock(ctx, "tenant-1/google_maps")
//	if err != nil {
//	    return err
//	}
//	defer unlock()
package keylock

import (
	"context"
	"sync"
)

// Locker acquires an exclusive lock for a key.
// The returned function releases the lock and must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Local is an in-process Locker. Lock entries are reference counted and
// removed when no caller holds or waits for them.
type Local struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{} // buffered(1); holding the token means holding the lock
	refs int
}

// NewLocal creates a new in-process Locker.
func NewLocal() *Local {
	return &Local{
		locks: make(map[string]*entry),
	}
}

// Lock blocks until the key is free or ctx is done.
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(key, e)
		})
	}, nil
}

// Len returns the number of keys currently held or waited on.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *Local) release(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}
