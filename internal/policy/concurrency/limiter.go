// Package concurrency bounds the number of in-flight requests with a limit
// that grows on success and shrinks on failure.
package concurrency

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/school-rankings-crawler/internal/metrics"
)

// Config holds the slot bounds.
type Config struct {
	Initial int
	Min     int
	Max     int
}

// State is a point-in-time copy of the limiter.
type State struct {
	Limit    int
	Min      int
	Max      int
	InFlight int
	Waiting  int
}

// Limiter is a counting semaphore whose capacity can change at runtime.
// Waiters are granted slots in FIFO order.
type Limiter struct {
	mu       sync.Mutex
	limit    int
	min      int
	max      int
	inFlight int
	waiters  list.List
	logger   *zap.Logger
}

// New creates a new Limiter.
func New(cfg Config, logger *zap.Logger) (*Limiter, error) {
	if cfg.Min < 1 {
		return nil, fmt.Errorf("concurrency min must be >= 1")
	}
	if cfg.Max < cfg.Min {
		return nil, fmt.Errorf("concurrency max must be >= min")
	}
	if cfg.Initial < cfg.Min || cfg.Initial > cfg.Max {
		return nil, fmt.Errorf("concurrency initial %d outside [%d, %d]", cfg.Initial, cfg.Min, cfg.Max)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Limiter{limit: cfg.Initial, min: cfg.Min, max: cfg.Max, logger: logger}
	metrics.SetConcurrency(l.limit, 0)
	return l, nil
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.inFlight < l.limit && l.waiters.Len() == 0 {
		l.inFlight++
		metrics.SetConcurrency(l.limit, l.inFlight)
		l.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	elem := l.waiters.PushBack(ready)
	l.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		select {
		case <-ready:
			// Granted while we were cancelling; hand the slot back.
			l.inFlight--
			l.notifyLocked()
		default:
			l.waiters.Remove(elem)
			l.notifyLocked()
		}
		l.mu.Unlock()
		return fmt.Errorf("acquire slot: %w", ctx.Err())
	}
}

// Release returns a slot. Releasing with nothing in flight is a no-op.
func (l *Limiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight == 0 {
		return
	}
	l.inFlight--
	l.notifyLocked()
}

// Do runs fn while holding a slot.
func (l *Limiter) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn(ctx)
}

// Adjust moves the limit by one in the direction of the outcome, within bounds.
// A lowered limit never revokes slots already held.
func (l *Limiter) Adjust(success bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.limit
	if success && l.limit < l.max {
		l.limit++
	} else if !success && l.limit > l.min {
		l.limit--
	}
	if l.limit == prev {
		return
	}
	l.logger.Debug("concurrency limit adjusted",
		zap.Bool("success", success),
		zap.Int("previous_limit", prev),
		zap.Int("limit", l.limit),
	)
	l.notifyLocked()
}

// Limit returns the current capacity.
func (l *Limiter) Limit() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit
}

// Snapshot returns a copy of the limiter state.
func (l *Limiter) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return State{
		Limit:    l.limit,
		Min:      l.min,
		Max:      l.max,
		InFlight: l.inFlight,
		Waiting:  l.waiters.Len(),
	}
}

func (l *Limiter) notifyLocked() {
	for l.inFlight < l.limit {
		front := l.waiters.Front()
		if front == nil {
			break
		}
		ready, _ := front.Value.(chan struct{})
		l.waiters.Remove(front)
		l.inFlight++
		close(ready)
	}
	metrics.SetConcurrency(l.limit, l.inFlight)
}
