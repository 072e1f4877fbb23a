// Package ratelimit implements the adaptive pacing limiter for outbound requests.
//
// Pacing is cooperative rather than token based: every Wait sleeps for the
// interval implied by the current rate, and an Adjust made while a caller is
// sleeping is only observed by the next Wait.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/school-rankings-crawler/internal/clock"
	"github.com/JakeFAU/school-rankings-crawler/internal/metrics"
)

const (
	increaseFactor = 1.1
	decreaseFactor = 0.9
)

// Config holds the rate bounds in requests per second.
type Config struct {
	Initial float64
	Min     float64
	Max     float64
}

// State is a point-in-time copy of the limiter.
type State struct {
	Current float64
	Min     float64
	Max     float64
}

// Limiter adapts its request rate to recent outcomes.
type Limiter struct {
	mu      sync.Mutex
	current float64
	min     float64
	max     float64
	clock   clock.Clock
	logger  *zap.Logger
}

// New creates a new Limiter.
func New(cfg Config, clk clock.Clock, logger *zap.Logger) (*Limiter, error) {
	if cfg.Min <= 0 {
		return nil, fmt.Errorf("rate min must be > 0")
	}
	if cfg.Max < cfg.Min {
		return nil, fmt.Errorf("rate max must be >= min")
	}
	if cfg.Initial < cfg.Min || cfg.Initial > cfg.Max {
		return nil, fmt.Errorf("rate initial %.3f outside [%.3f, %.3f]", cfg.Initial, cfg.Min, cfg.Max)
	}
	if clk == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.SetRate(cfg.Initial)
	return &Limiter{
		current: cfg.Initial,
		min:     cfg.Min,
		max:     cfg.Max,
		clock:   clk,
		logger:  logger,
	}, nil
}

// Wait blocks for 1/current seconds, respecting the context.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.clock.Sleep(ctx, l.Interval()); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Interval is the pause the next Wait will take.
func (l *Limiter) Interval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Duration(float64(time.Second) / l.current)
}

// Adjust raises the rate by 10% on success and lowers it by 10% on failure,
// clamped to the configured bounds.
func (l *Limiter) Adjust(success bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.current
	if success {
		l.current = math.Min(l.current*increaseFactor, l.max)
	} else {
		l.current = math.Max(l.current*decreaseFactor, l.min)
	}
	if l.current == prev {
		return
	}
	metrics.SetRate(l.current)
	l.logger.Debug("request rate adjusted",
		zap.Bool("success", success),
		zap.Float64("previous_rps", prev),
		zap.Float64("current_rps", l.current),
	)
}

// Current returns the current rate in requests per second.
func (l *Limiter) Current() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Snapshot returns a copy of the limiter state.
func (l *Limiter) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return State{Current: l.current, Min: l.min, Max: l.max}
}
