package collyfetcher

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/time/rate"
)

// ceilingTransport enforces a hard requests-per-second ceiling below the
// adaptive limiter, shared by every request the fetcher issues.
type ceilingTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func newCeilingTransport(base http.RoundTripper, perSecond float64, burst int) *ceilingTransport {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &ceilingTransport{base: base, limiter: rate.NewLimiter(limit, burst)}
}

func (t *ceilingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("ceiling transport received nil request")
	}
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate ceiling wait: %w", err)
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("ceiling transport base roundtrip: %w", err)
	}
	return resp, nil
}
