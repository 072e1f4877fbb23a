// Package breaker implements the failure-density circuit breaker guarding the
// remote source.
//
// The breaker has no success transition: only the reset timeout clears the
// failure count, so isolated failures interleaved with successes still
// accumulate toward the threshold.
package breaker

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/school-rankings-crawler/internal/clock"
	"github.com/JakeFAU/school-rankings-crawler/internal/metrics"
)

// Config controls when the breaker opens and how long it stays open.
type Config struct {
	Threshold    int
	ResetTimeout time.Duration
}

// State is a point-in-time copy of the breaker counters.
type State struct {
	FailureCount  int
	Threshold     int
	LastFailureAt time.Time
	Open          bool
}

// Breaker is safe for concurrent use; every mutation happens under one mutex.
type Breaker struct {
	mu           sync.Mutex
	threshold    int
	resetTimeout time.Duration
	failures     int
	lastFailure  time.Time
	open         bool
	clock        clock.Clock
	logger       *zap.Logger
}

// New builds a closed Breaker.
func New(cfg Config, clk clock.Clock, logger *zap.Logger) (*Breaker, error) {
	if cfg.Threshold <= 0 {
		return nil, fmt.Errorf("breaker threshold must be > 0")
	}
	if cfg.ResetTimeout <= 0 {
		return nil, fmt.Errorf("breaker reset timeout must be > 0")
	}
	if clk == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.SetBreakerOpen(false)
	return &Breaker{
		threshold:    cfg.Threshold,
		resetTimeout: cfg.ResetTimeout,
		clock:        clk,
		logger:       logger,
	}, nil
}

// RecordFailure counts a failed request and stamps the failure time.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = b.clock.Now()
	if !b.open && b.failures >= b.threshold {
		b.open = true
		metrics.SetBreakerOpen(true)
		b.logger.Warn("circuit breaker opened",
			zap.Int("failure_count", b.failures),
			zap.Int("threshold", b.threshold),
			zap.Duration("reset_timeout", b.resetTimeout),
		)
	}
}

// IsOpen reports whether traffic must be held back. Once the reset timeout has
// elapsed since the last failure, the first check silently closes the breaker.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.threshold {
		return false
	}
	if b.clock.Now().Sub(b.lastFailure) > b.resetTimeout {
		b.logger.Info("circuit breaker reset",
			zap.Int("failure_count", b.failures),
			zap.Time("last_failure_at", b.lastFailure),
		)
		b.failures = 0
		b.lastFailure = time.Time{}
		b.open = false
		metrics.SetBreakerOpen(false)
		return false
	}
	return true
}

// Snapshot returns a copy of the current counters.
func (b *Breaker) Snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return State{
		FailureCount:  b.failures,
		Threshold:     b.threshold,
		LastFailureAt: b.lastFailure,
		Open:          b.open,
	}
}
