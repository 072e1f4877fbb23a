package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/school-rankings-crawler/internal/clock"
	"github.com/JakeFAU/school-rankings-crawler/internal/metrics"
)

// FetchPolicyConfig bounds the wait taken while the breaker is open.
type FetchPolicyConfig struct {
	BreakerBackoffFloor time.Duration
	BreakerBackoffCap   time.Duration
}

// FetchPolicyDeps groups the collaborators of a FetchPolicy.
type FetchPolicyDeps struct {
	Fetcher     Fetcher
	Breaker     Breaker
	RateLimiter RateLimiter
	Slots       ConcurrencyLimiter
	Retry       RetryPolicy
	Clock       clock.Clock
	Logger      *zap.Logger
}

// FetchPolicy wraps a Fetcher with breaker gating, pacing, slot limits,
// outcome classification and bounded retries.
type FetchPolicy struct {
	fetcher Fetcher
	breaker Breaker
	rate    RateLimiter
	slots   ConcurrencyLimiter
	retry   RetryPolicy
	clock   clock.Clock
	logger  *zap.Logger

	mu      sync.Mutex
	backoff time.Duration
	floor   time.Duration
	ceiling time.Duration
}

// NewFetchPolicy wires a FetchPolicy.
func NewFetchPolicy(cfg FetchPolicyConfig, deps FetchPolicyDeps) (*FetchPolicy, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("fetch policy requires a fetcher")
	case deps.Breaker == nil:
		return nil, errors.New("fetch policy requires a breaker")
	case deps.RateLimiter == nil:
		return nil, errors.New("fetch policy requires a rate limiter")
	case deps.Slots == nil:
		return nil, errors.New("fetch policy requires a concurrency limiter")
	case deps.Retry == nil:
		return nil, errors.New("fetch policy requires a retry policy")
	case deps.Clock == nil:
		return nil, errors.New("fetch policy requires a clock")
	}
	if cfg.BreakerBackoffFloor <= 0 {
		return nil, fmt.Errorf("breaker backoff floor must be > 0")
	}
	if cfg.BreakerBackoffCap < cfg.BreakerBackoffFloor {
		return nil, fmt.Errorf("breaker backoff cap must be >= floor")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FetchPolicy{
		fetcher: deps.Fetcher,
		breaker: deps.Breaker,
		rate:    deps.RateLimiter,
		slots:   deps.Slots,
		retry:   deps.Retry,
		clock:   deps.Clock,
		logger:  logger.Named("fetch"),
		backoff: cfg.BreakerBackoffFloor,
		floor:   cfg.BreakerBackoffFloor,
		ceiling: cfg.BreakerBackoffCap,
	}, nil
}

// Fetch retrieves url. The returned error is non-nil only for fatal
// conditions (cancellation, malformed requests); every other result is
// reported through the outcome.
func (p *FetchPolicy) Fetch(ctx context.Context, url string) (FetchOutcome, error) {
	for attempt := 1; ; attempt++ {
		outcome, err := p.attempt(ctx, url)
		if err != nil {
			fatal := fmt.Errorf("%w: %w", ErrFatal, err)
			metrics.ObserveFetch(OutcomeFatal.String(), 0)
			p.logger.Error("fatal fetch error", zap.String("url", url), zap.Error(err))
			return FetchOutcome{Kind: OutcomeFatal, URL: url, Cause: fatal}, fatal
		}
		if outcome.Kind != OutcomeTransient {
			metrics.ObserveFetch(outcome.Kind.String(), outcome.Bytes)
			return outcome, nil
		}
		if !p.retry.ShouldRetry(outcome.Cause, attempt) {
			outcome.Cause = fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, outcome.Cause)
			metrics.ObserveFetch(outcome.Kind.String(), 0)
			p.logger.Warn("giving up on url",
				zap.String("url", url),
				zap.Int("attempts", attempt),
				zap.Error(outcome.Cause),
			)
			return outcome, nil
		}
		delay := p.retry.Backoff(attempt)
		p.logger.Info("retrying fetch",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(outcome.Cause),
		)
		if err := p.clock.Sleep(ctx, delay); err != nil {
			fatal := fmt.Errorf("%w: %w", ErrFatal, err)
			metrics.ObserveFetch(OutcomeFatal.String(), 0)
			return FetchOutcome{Kind: OutcomeFatal, URL: url, Cause: fatal}, fatal
		}
	}
}

// ResetBackoff returns the breaker wait to its floor.
func (p *FetchPolicy) ResetBackoff() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.backoff = p.floor
}

// attempt performs one gated request. A non-nil error is always fatal.
func (p *FetchPolicy) attempt(ctx context.Context, url string) (FetchOutcome, error) {
	if err := p.waitForBreaker(ctx); err != nil {
		return FetchOutcome{}, err
	}
	if err := p.rate.Wait(ctx); err != nil {
		return FetchOutcome{}, err
	}
	if err := p.slots.Acquire(ctx); err != nil {
		return FetchOutcome{}, err
	}
	defer p.slots.Release()

	resp, err := p.fetcher.Fetch(ctx, FetchRequest{URL: url})
	if err != nil {
		if errors.Is(err, ErrFatal) || ctx.Err() != nil {
			return FetchOutcome{}, fmt.Errorf("fetch %s: %w", url, err)
		}
		p.penalize()
		return FetchOutcome{Kind: OutcomeTransient, URL: url, Cause: err}, nil
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		p.logger.Debug("page not found", zap.String("url", url))
		return FetchOutcome{Kind: OutcomeNotFound, URL: url, StatusCode: resp.StatusCode}, nil
	case resp.StatusCode == http.StatusForbidden:
		p.logger.Warn("access forbidden", zap.String("url", url))
		return FetchOutcome{Kind: OutcomeForbidden, URL: url, StatusCode: resp.StatusCode}, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		p.penalize()
		return FetchOutcome{
			Kind:       OutcomeTransient,
			URL:        url,
			StatusCode: resp.StatusCode,
			Cause:      fmt.Errorf("unexpected status %d", resp.StatusCode),
		}, nil
	}

	content := DecodeBody(resp.Body, resp.Headers.Get("Content-Type"))
	p.rate.Adjust(true)
	p.slots.Adjust(true)
	return FetchOutcome{
		Kind:       OutcomeSuccess,
		URL:        url,
		Content:    content,
		Bytes:      len(resp.Body),
		StatusCode: resp.StatusCode,
	}, nil
}

func (p *FetchPolicy) penalize() {
	p.breaker.RecordFailure()
	p.rate.Adjust(false)
	p.slots.Adjust(false)
}

func (p *FetchPolicy) waitForBreaker(ctx context.Context) error {
	for p.breaker.IsOpen() {
		delay := p.nextBreakerBackoff()
		metrics.ObserveBreakerWait()
		p.logger.Warn("circuit breaker open, backing off", zap.Duration("delay", delay))
		if err := p.clock.Sleep(ctx, delay); err != nil {
			return err
		}
	}
	return nil
}

func (p *FetchPolicy) nextBreakerBackoff() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	delay := p.backoff
	p.backoff = min(p.backoff*2, p.ceiling)
	return delay
}
