package exchange

import (
	"context"
	"sync"
	"time"
)

// RateLimiter enforces a minimum interval between outbound exchange requests
// process-wide. Requests beyond the limit are suspended until eligible, never
// dropped. All exchange client implementations share one instance.
type RateLimiter struct {
	mu           sync.Mutex
	minInterval  time.Duration
	nextEligible time.Time
}

// NewRateLimiter creates a rate limiter with the given minimum inter-request
// interval. A non-positive interval disables pacing.
func NewRateLimiter(minInterval time.Duration) *RateLimiter {
	return &RateLimiter{minInterval: minInterval}
}

// Wait blocks until the caller may issue a request, or until ctx is done.
// Slots are handed out in arrival order under the mutex.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r.minInterval <= 0 {
		return ctx.Err()
	}

	r.mu.Lock()
	now := time.Now()
	wait := r.nextEligible.Sub(now)
	if wait < 0 {
		wait = 0
	}
	// Claim the slot before sleeping so concurrent callers queue behind us.
	start := now.Add(wait)
	r.nextEligible = start.Add(r.minInterval)
	r.mu.Unlock()

	if wait == 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MinInterval returns the configured pacing interval.
func (r *RateLimiter) MinInterval() time.Duration {
	return r.minInterval
}
