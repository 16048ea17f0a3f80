// Package memory implements repository.Cache in process memory. It backs
// session tokens and storage-stats caching on single-node deployments
// where no Redis is configured; entries vanish on restart, which for
// sessions just means users log in again.
package memory

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/prn-tf/meridian-vault/internal/repository"
)

// Cache is a TTL-aware in-memory key/value store.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	stopCh  chan struct{}
	stopped bool
}

// entry is one cached value. A zero TTL at store time means no expiry.
type entry struct {
	value     []byte
	expiresAt time.Time
	noExpiry  bool
}

func (e *entry) expired() bool {
	return !e.noExpiry && time.Now().After(e.expiresAt)
}

// newEntry copies the value so callers cannot mutate cached bytes.
func newEntry(value []byte, ttl time.Duration) *entry {
	buf := make([]byte, len(value))
	copy(buf, value)

	e := &entry{value: buf}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	} else {
		e.noExpiry = true
	}
	return e
}

// NewCache creates the cache and starts its expiry sweeper.
func NewCache() *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		stopCh:  make(chan struct{}),
	}
	go c.sweepExpired()
	return c
}

// sweepExpired drops expired entries so expired sessions do not pile up
// between reads.
func (c *Cache) sweepExpired() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			for key, e := range c.entries {
				if e.expired() {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Stop terminates the expiry sweeper.
func (c *Cache) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.stopped {
		close(c.stopCh)
		c.stopped = true
	}
}

// Get retrieves a value by key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, exists := c.entries[key]
	if !exists || e.expired() {
		return nil, repository.ErrCacheMiss
	}

	result := make([]byte, len(e.value))
	copy(result, e.value)
	return result, nil
}

// Set stores a value. A zero ttl means the value does not expire.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = newEntry(value, ttl)
	return nil
}

// SetNX stores a value only when the key is absent or expired.
func (c *Cache) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, exists := c.entries[key]; exists && !e.expired() {
		return false, nil
	}

	c.entries[key] = newEntry(value, ttl)
	return true, nil
}

// Delete removes a value by key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	return nil
}

// Exists reports whether an unexpired value is stored under the key.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, exists := c.entries[key]
	return exists && !e.expired(), nil
}

// Expire sets or updates the TTL for a key. A zero ttl removes the expiry.
func (c *Cache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[key]
	if !exists {
		return nil
	}

	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
		e.noExpiry = false
	} else {
		e.noExpiry = true
	}
	return nil
}

// Increment adds delta to the counter under key, creating it at zero.
// Counters are stored as little-endian int64 and never expire.
func (c *Cache) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var current int64
	if e, exists := c.entries[key]; exists && !e.expired() && len(e.value) == 8 {
		current = int64(binary.LittleEndian.Uint64(e.value))
	}

	next := current + delta
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(next))
	c.entries[key] = &entry{value: buf, noExpiry: true}

	return next, nil
}

// Decrement subtracts delta from the counter under key.
func (c *Cache) Decrement(ctx context.Context, key string, delta int64) (int64, error) {
	return c.Increment(ctx, key, -delta)
}

// Ensure Cache implements repository.Cache.
var _ repository.Cache = (*Cache)(nil)
