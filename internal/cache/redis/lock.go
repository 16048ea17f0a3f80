package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/prn-tf/meridian-vault/internal/repository"
)

// Lock release and extend must only act on locks this process acquired, so
// each acquisition stores a random token and the scripts compare it before
// mutating the key.
var (
	releaseScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0
	`)

	extendScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		end
		return 0
	`)
)

// DistLock implements repository.DistributedLock on Redis.
type DistLock struct {
	rdb *redis.Client

	mu     sync.Mutex
	tokens map[string]string
}

// NewDistLock creates a distributed lock manager sharing the cache client's
// connection pool.
func NewDistLock(client *Client) *DistLock {
	return &DistLock{
		rdb:    client.rdb,
		tokens: make(map[string]string),
	}
}

// Acquire attempts to acquire a lock.
func (l *DistLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis lock acquire failed: %w", err)
	}
	if ok {
		l.mu.Lock()
		l.tokens[key] = token
		l.mu.Unlock()
	}
	return ok, nil
}

// AcquireWithWait keeps trying to acquire the lock until maxWait elapses,
// polling every retryDelay.
func (l *DistLock) AcquireWithWait(ctx context.Context, key string, ttl, maxWait, retryDelay time.Duration) (bool, error) {
	deadline := time.Now().Add(maxWait)
	for {
		acquired, err := l.Acquire(ctx, key, ttl)
		if err != nil || acquired {
			return acquired, err
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
}

// Release releases a lock if this process holds it.
func (l *DistLock) Release(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	token, held := l.tokens[key]
	delete(l.tokens, key)
	l.mu.Unlock()

	if !held {
		return false, nil
	}

	n, err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("redis lock release failed: %w", err)
	}
	return n > 0, nil
}

// Extend extends the TTL of a lock this process holds.
func (l *DistLock) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	token, held := l.tokens[key]
	l.mu.Unlock()

	if !held {
		return false, nil
	}

	n, err := extendScript.Run(ctx, l.rdb, []string{key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis lock extend failed: %w", err)
	}
	return n > 0, nil
}

// IsHeld checks if the lock key exists, regardless of owner.
func (l *DistLock) IsHeld(ctx context.Context, key string) (bool, error) {
	n, err := l.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis lock check failed: %w", err)
	}
	return n > 0, nil
}

// Ensure DistLock implements repository.DistributedLock.
var _ repository.DistributedLock = (*DistLock)(nil)
