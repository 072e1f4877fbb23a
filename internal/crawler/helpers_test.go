package crawler

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/school-rankings-crawler/internal/clock/fake"
	"github.com/JakeFAU/school-rankings-crawler/internal/policy/breaker"
	"github.com/JakeFAU/school-rankings-crawler/internal/policy/concurrency"
	"github.com/JakeFAU/school-rankings-crawler/internal/policy/ratelimit"
)

type scriptedResponse struct {
	status      int
	body        string
	contentType string
	err         error
}

// scriptedFetcher replays per-URL responses; the last one repeats. Unknown
// URLs answer 404.
type scriptedFetcher struct {
	mu        sync.Mutex
	responses map[string][]scriptedResponse
	calls     map[string]int
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		responses: make(map[string][]scriptedResponse),
		calls:     make(map[string]int),
	}
}

func (f *scriptedFetcher) on(url string, responses ...scriptedResponse) *scriptedFetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = append(f.responses[url], responses...)
	return f
}

func (f *scriptedFetcher) Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error) {
	if err := ctx.Err(); err != nil {
		return FetchResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.calls[req.URL]
	f.calls[req.URL] = n + 1
	script := f.responses[req.URL]
	if len(script) == 0 {
		return FetchResponse{URL: req.URL, StatusCode: http.StatusNotFound}, nil
	}
	r := script[min(n, len(script)-1)]
	if r.err != nil {
		return FetchResponse{}, r.err
	}
	headers := http.Header{}
	if r.contentType != "" {
		headers.Set("Content-Type", r.contentType)
	}
	return FetchResponse{URL: req.URL, StatusCode: r.status, Headers: headers, Body: []byte(r.body)}, nil
}

func (f *scriptedFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

type policyHarness struct {
	clock   *fake.Clock
	breaker *breaker.Breaker
	rate    *ratelimit.Limiter
	slots   *concurrency.Limiter
	policy  *FetchPolicy
}

func newPolicyHarness(t *testing.T, fetcher Fetcher, breakerCfg breaker.Config) *policyHarness {
	t.Helper()
	clk := fake.New(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	b, err := breaker.New(breakerCfg, clk, nil)
	require.NoError(t, err)
	rl, err := ratelimit.New(ratelimit.Config{Initial: 0.5, Min: 0.1, Max: 2.0}, clk, nil)
	require.NoError(t, err)
	slots, err := concurrency.New(concurrency.Config{Initial: 3, Min: 1, Max: 5}, nil)
	require.NoError(t, err)
	p, err := NewFetchPolicy(FetchPolicyConfig{
		BreakerBackoffFloor: time.Minute,
		BreakerBackoffCap:   time.Hour,
	}, FetchPolicyDeps{
		Fetcher:     fetcher,
		Breaker:     b,
		RateLimiter: rl,
		Slots:       slots,
		Retry:       NewExponentialRetryPolicy(5, 4*time.Second, 60*time.Second),
		Clock:       clk,
	})
	require.NoError(t, err)
	return &policyHarness{clock: clk, breaker: b, rate: rl, slots: slots, policy: p}
}

func defaultBreaker() breaker.Config {
	return breaker.Config{Threshold: 10, ResetTimeout: 10 * time.Minute}
}
