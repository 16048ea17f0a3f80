package lock

import (
	"context"
	"time"
)

// NoOpLocker grants every acquisition immediately. It stands in for a
// real locker in unit tests where ingest/GC interleaving is not what is
// being exercised.
type NoOpLocker struct{}

// NewNoOpLocker creates a locker that never contends.
func NewNoOpLocker() *NoOpLocker {
	return &NoOpLocker{}
}

// Acquire always succeeds.
func (n *NoOpLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return true, ctx.Err()
}

// AcquireWithWait always succeeds without waiting.
func (n *NoOpLocker) AcquireWithWait(ctx context.Context, key string, ttl, maxWait, retryDelay time.Duration) (bool, error) {
	return true, ctx.Err()
}

// Release always reports the lock as released.
func (n *NoOpLocker) Release(ctx context.Context, key string) (bool, error) {
	return true, ctx.Err()
}

// Extend always reports the lock as extended.
func (n *NoOpLocker) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return true, ctx.Err()
}

// IsHeld always reports no holder.
func (n *NoOpLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	return false, ctx.Err()
}

// Ensure NoOpLocker implements Locker.
var _ Locker = (*NoOpLocker)(nil)
