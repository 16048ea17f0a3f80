package handler

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// staleClientAge is how long an idle client's bucket is kept before pruning.
const staleClientAge = 3 * time.Minute

// RateLimitConfig configures the per-client request limiter.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	BurstSize         int
}

// rateLimiter keeps a token bucket per client address. Buckets for idle
// clients are pruned opportunistically during lookups.
type rateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket
	rps     rate.Limit
	burst   int

	lastPrune time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	return &rateLimiter{
		clients:   make(map[string]*clientBucket),
		rps:       rate.Limit(cfg.RequestsPerSecond),
		burst:     cfg.BurstSize,
		lastPrune: time.Now(),
	}
}

func (rl *rateLimiter) allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastPrune) > staleClientAge {
		for addr, bucket := range rl.clients {
			if now.Sub(bucket.lastSeen) > staleClientAge {
				delete(rl.clients, addr)
			}
		}
		rl.lastPrune = now
	}

	bucket, ok := rl.clients[client]
	if !ok {
		bucket = &clientBucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.clients[client] = bucket
	}
	bucket.lastSeen = now

	return bucket.limiter.Allow()
}

// middleware rejects requests from clients that exhausted their bucket.
// Runs after RealIP so RemoteAddr identifies the client, not a proxy.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(r.RemoteAddr) {
			writeJSON(w, http.StatusTooManyRequests, APIError{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
