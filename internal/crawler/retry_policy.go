package crawler

import (
	"errors"
	"math"
	"time"
)

// ExponentialRetryPolicy retries transient failures with a clamped, unjittered
// exponential backoff: after attempt n it waits 2^(n-1) seconds bounded to
// [minDelay, maxDelay].
type ExponentialRetryPolicy struct {
	maxAttempts int
	minDelay    time.Duration
	maxDelay    time.Duration
}

// NewExponentialRetryPolicy builds a policy. Zero values fall back to 5
// attempts between 4s and 60s.
func NewExponentialRetryPolicy(maxAttempts int, minDelay, maxDelay time.Duration) *ExponentialRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if minDelay <= 0 {
		minDelay = 4 * time.Second
	}
	if maxDelay < minDelay {
		maxDelay = max(60*time.Second, minDelay)
	}
	return &ExponentialRetryPolicy{
		maxAttempts: maxAttempts,
		minDelay:    minDelay,
		maxDelay:    maxDelay,
	}
}

// MaxAttempts returns the total attempt budget.
func (p *ExponentialRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry decides whether another attempt is allowed after attempt
// (1-based) failed with err. Request timeouts are retried; cancellation of
// the caller's context is detected by the FetchPolicy before it gets here.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, ErrFatal) {
		return false
	}
	return true
}

// Backoff returns the wait before the attempt following attempt.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(time.Second) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		return p.maxDelay
	}
	if delay < float64(p.minDelay) {
		return p.minDelay
	}
	return time.Duration(delay)
}
