package remotestore

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter throttles outbound requests per computed request path, the
// same per-key token-bucket shape as the teacher's
// pkg/middleware/ratelimit.go TokenBucket.Allow(key), rendered with
// golang.org/x/time/rate.Limiter instead of the teacher's hand-rolled
// atomic-CAS bucket since the ecosystem library covers on-demand refill and
// burst capacity exactly as well.
type RateLimiter struct {
	refillPerSecond rate.Limit
	burst           int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewRateLimiter builds a per-path rate limiter: refillPerSecond tokens
// added per second, up to burst tokens held.
func NewRateLimiter(refillPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		refillPerSecond: rate.Limit(refillPerSecond),
		burst:           burst,
		buckets:         make(map[string]*rate.Limiter),
	}
}

// Wait blocks until a token for key is available or ctx is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	return rl.bucketFor(key).Wait(ctx)
}

// Allow reports whether a token for key is immediately available, consuming
// it if so.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.bucketFor(key).Allow()
}

func (rl *RateLimiter) bucketFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[key]
	if !ok {
		b = rate.NewLimiter(rl.refillPerSecond, rl.burst)
		rl.buckets[key] = b
	}
	return b
}
