package keylock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL      = 30 * time.Second
	defaultPollInterval = 25 * time.Millisecond
	lockKeyPrefix       = "lock:"
)

// releaseScript deletes the lock only if it is still owned by the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript resets the expiry only while the caller still owns the lock.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// ErrLockLost is logged when a lock expired before it was released.
var ErrLockLost = errors.New("lock expired before release")

// Redis is a Locker backed by SET NX PX on a shared Redis instance.
// A held lock is extended every TTL/3 until it is released, so holders may
// keep a key for longer than the TTL. The TTL only bounds how long a crashed
// holder can block a key.
type Redis struct {
	client       *redis.Client
	ttl          time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
}

// RedisOption configures a Redis locker.
type RedisOption func(*Redis)

// WithTTL sets the lock expiry.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		r.ttl = ttl
	}
}

// WithPollInterval sets how often a waiting caller retries acquisition.
func WithPollInterval(d time.Duration) RedisOption {
	return func(r *Redis) {
		r.pollInterval = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RedisOption {
	return func(r *Redis) {
		r.logger = logger.With("component", "keylock")
	}
}

// NewRedis creates a Redis-backed Locker.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client:       client,
		ttl:          defaultLockTTL,
		pollInterval: defaultPollInterval,
		logger:       slog.Default().With("component", "keylock"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lock polls until the key is acquired or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := lockKeyPrefix + key
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquiring lock %q: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.pollInterval):
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(key, redisKey, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			r.release(key, redisKey, token)
		})
	}, nil
}

// keepAlive extends the lock until stop is closed or ownership is lost.
func (r *Redis) keepAlive(key, redisKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
		n, err := extendScript.Run(ctx, r.client, []string{redisKey}, token, r.ttl.Milliseconds()).Int()
		cancel()
		if err != nil {
			// Transient errors are retried on the next tick while the TTL lasts.
			r.logger.Warn("failed to extend lock", "key", key, "error", err)
			continue
		}
		if n == 0 {
			r.logger.Error("lock lost while held", "key", key, "error", ErrLockLost)
			return
		}
	}
}

func (r *Redis) release(key, redisKey, token string) {
	// Release on a fresh context so a cancelled caller still frees the key.
	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n, err := releaseScript.Run(releaseCtx, r.client, []string{redisKey}, token).Int()
	if err != nil {
		r.logger.Error("failed to release lock", "key", key, "error", err)
		return
	}
	if n == 0 {
		r.logger.Warn("lock released after expiry", "key", key, "error", ErrLockLost)
	}
}
