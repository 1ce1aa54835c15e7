package keylock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_SerializesSameKey(t *testing.T) {
	locker := NewLocal()
	ctx := context.Background()

	var inside int32
	var maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "k")
			require.NoError(t, err)
			n := atomic.AddInt32(&inside, 1)
			for {
				cur := atomic.LoadInt32(&maxInside)
				if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, locker.Len(), "entries should be removed once released")
}

func TestLocal_DifferentKeysDoNotBlock(t *testing.T) {
	locker := NewLocal()
	ctx := context.Background()

	unlockA, err := locker.Lock(ctx, "a")
	require.NoError(t, err)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB, err := locker.Lock(ctx, "b")
		require.NoError(t, err)
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key was blocked")
	}
}

func TestLocal_ContextCancelled(t *testing.T) {
	locker := NewLocal()

	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = locker.Lock(ctx, "k")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocal_UnlockIsIdempotent(t *testing.T) {
	locker := NewLocal()
	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)

	unlock()
	unlock()

	unlock2, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	unlock2()
}

func TestRedis_LockAndRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	locker := NewRedis(client, WithPollInterval(5*time.Millisecond))
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "tenant/google_maps")
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:tenant/google_maps"))

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(waitCtx, "tenant/google_maps")
	require.Error(t, err, "second holder should time out while the first holds the lock")

	unlock()
	assert.False(t, mr.Exists("lock:tenant/google_maps"))

	unlock2, err := locker.Lock(ctx, "tenant/google_maps")
	require.NoError(t, err)
	unlock2()
}

func TestRedis_ReleaseDoesNotDeleteForeignLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	locker := NewRedis(client)
	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)

	// Simulate expiry followed by another holder taking the key.
	require.NoError(t, mr.Set("lock:k", "someone-else"))
	unlock()

	val, err := mr.Get("lock:k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", val)
}

func TestRedis_HeldLockOutlivesTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ttl := 300 * time.Millisecond
	locker := NewRedis(client, WithTTL(ttl), WithPollInterval(5*time.Millisecond))
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "tenant/facebook")
	require.NoError(t, err)

	// Each window lets the holder extend the lock at least once before
	// Redis time moves on by most of the TTL.
	for i := 0; i < 10; i++ {
		time.Sleep(250 * time.Millisecond)
		mr.FastForward(200 * time.Millisecond)
	}
	require.True(t, mr.Exists("lock:tenant/facebook"), "lock expired while still held")

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(waitCtx, "tenant/facebook")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.False(t, mr.Exists("lock:tenant/facebook"))

	// Once released nothing extends the key any more.
	unlock2, err := locker.Lock(ctx, "tenant/facebook")
	require.NoError(t, err)
	unlock2()
	unlock2()
}

func TestRedis_StopsExtendingLostLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	locker := NewRedis(client, WithTTL(150*time.Millisecond))
	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	require.NoError(t, mr.Set("lock:k", "someone-else"))
	mr.SetTTL("lock:k", time.Minute)
	time.Sleep(200 * time.Millisecond)

	// The foreign holder's expiry is left alone.
	assert.Equal(t, time.Minute, mr.TTL("lock:k"))
}
