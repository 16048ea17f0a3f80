package handler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiter_EnforcesBurst(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})

	require.True(t, rl.allow("10.0.0.1"))
	require.True(t, rl.allow("10.0.0.1"))
	require.False(t, rl.allow("10.0.0.1"))

	// Other clients have their own bucket.
	require.True(t, rl.allow("10.0.0.2"))
}

func TestRateLimiter_PrunesStaleClients(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})

	require.True(t, rl.allow("10.0.0.1"))
	require.Len(t, rl.clients, 1)

	rl.clients["10.0.0.1"].lastSeen = time.Now().Add(-2 * staleClientAge)
	rl.lastPrune = time.Now().Add(-2 * staleClientAge)

	require.True(t, rl.allow("10.0.0.2"))
	require.Len(t, rl.clients, 1)
	require.Contains(t, rl.clients, "10.0.0.2")
}
