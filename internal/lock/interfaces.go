// Package lock provides the locking abstractions that serialize blob
// ingestion against garbage collection. Single-node deployments use the
// in-process MemoryLocker; multi-instance deployments use RedisLocker so
// a digest is locked across the whole fleet.
package lock

import (
	"context"
	"time"
)

// Locker is the lock provider the ingest and GC services coordinate
// through. Locks expire after their TTL so a crashed holder cannot block
// a digest forever.
type Locker interface {
	// Acquire takes the lock if it is free or expired.
	// Returns false when another holder has it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// AcquireWithWait keeps trying to take the lock until maxWait elapses,
	// polling every retryDelay. Contention on a digest lock is routine, so
	// callers wait out the current holder rather than fail.
	AcquireWithWait(ctx context.Context, key string, ttl, maxWait, retryDelay time.Duration) (bool, error)

	// Release drops the lock. Returns false if it was not held.
	Release(ctx context.Context, key string) (bool, error)

	// Extend pushes out the expiry of a held lock.
	// Returns false if the lock is no longer held.
	Extend(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsHeld reports whether the lock is currently held.
	IsHeld(ctx context.Context, key string) (bool, error)
}

// =============================================================================
// Common Lock Keys
// =============================================================================

// Keys provides lock key generation for common scenarios.
var Keys = lockKeys{}

type lockKeys struct{}

// BlobIngest returns the per-digest lock key serializing blob promotion
// against garbage collection for the same digest.
func (lockKeys) BlobIngest(digest string) string {
	return "lock:blob:ingest:" + digest
}

// BlobGC returns the global lock key for the garbage collection sweep.
func (lockKeys) BlobGC() string {
	return "lock:gc:blob"
}
