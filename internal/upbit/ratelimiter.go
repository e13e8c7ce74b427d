package upbit

import (
	"math"
	"sync"
	"time"
)

// RateLimiter enforces a minimum interval between outgoing requests and
// tracks exponential backoff across consecutive failures. Unlike the
// weight-budget/circuit-breaker schemes used elsewhere in this codebase, the
// exchange here only needs the simple interval+backoff contract.
type RateLimiter struct {
	mu                  sync.Mutex
	maxRequestsPerSec   float64
	minInterval         time.Duration
	lastRequestTime     time.Time
	consecutiveFailures int
	maxRetries          int
}

// NewRateLimiter builds a limiter enforcing maxRequestsPerSec. ShouldRetry
// stops permitting retries once maxRetries consecutive failures have been
// recorded.
func NewRateLimiter(maxRequestsPerSec float64, maxRetries int) *RateLimiter {
	if maxRequestsPerSec <= 0 {
		maxRequestsPerSec = 10.0
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &RateLimiter{
		maxRequestsPerSec: maxRequestsPerSec,
		minInterval:       time.Duration(float64(time.Second) / maxRequestsPerSec),
		maxRetries:        maxRetries,
	}
}

// WaitIfNeeded blocks, if necessary, so that requests are spaced at least
// minInterval apart.
func (r *RateLimiter) WaitIfNeeded() {
	r.mu.Lock()
	now := time.Now()
	elapsed := now.Sub(r.lastRequestTime)
	var sleep time.Duration
	if elapsed < r.minInterval {
		sleep = r.minInterval - elapsed
	}
	r.mu.Unlock()

	if sleep > 0 {
		time.Sleep(sleep)
	}

	r.mu.Lock()
	r.lastRequestTime = time.Now()
	r.mu.Unlock()
}

// BackoffDelay returns the exponential backoff delay for the current
// consecutive-failure count: 0 with no failures, otherwise
// min(2^(failures-1), 60) seconds.
func (r *RateLimiter) BackoffDelay() time.Duration {
	r.mu.Lock()
	failures := r.consecutiveFailures
	r.mu.Unlock()

	if failures == 0 {
		return 0
	}
	seconds := math.Min(math.Pow(2, float64(failures-1)), 60.0)
	return time.Duration(seconds * float64(time.Second))
}

// RecordSuccess resets the consecutive-failure counter.
func (r *RateLimiter) RecordSuccess() {
	r.mu.Lock()
	r.consecutiveFailures = 0
	r.mu.Unlock()
}

// RecordFailure increments the consecutive-failure counter.
func (r *RateLimiter) RecordFailure() {
	r.mu.Lock()
	r.consecutiveFailures++
	r.mu.Unlock()
}

// ShouldRetry reports whether another attempt is still permitted given the
// current failure count.
func (r *RateLimiter) ShouldRetry() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.consecutiveFailures < r.maxRetries
}
