package crawler

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// overlapFetcher holds detail fetches open until a sibling is in flight and
// records how many overlapped. When holdFirst is set, the first entry's
// fetch is held until another record has reached the sink.
type overlapFetcher struct {
	*scriptedFetcher
	sink      *memorySink
	limit     func() int
	holdFirst string

	mu        sync.Mutex
	inFlight  int
	peak      int
	overLimit int
}

func (f *overlapFetcher) Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error) {
	if !strings.HasPrefix(req.URL, detailURL("")) {
		return f.scriptedFetcher.Fetch(ctx, req)
	}
	f.mu.Lock()
	f.inFlight++
	f.peak = max(f.peak, f.inFlight)
	if f.limit != nil && f.inFlight > f.limit() {
		f.overLimit++
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	ready := func() bool {
		if req.URL == f.holdFirst {
			return len(f.sink.ids()) > 0
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.inFlight >= 2
	}
	deadline := time.Now().Add(2 * time.Second)
	for !ready() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	return f.scriptedFetcher.Fetch(ctx, req)
}

func (f *overlapFetcher) stats() (peak, overLimit int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak, f.overLimit
}

func (s *memorySink) order() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.puts...)
}

func newOverlapController(t *testing.T, cfg ControllerConfig, ids []string, holdFirst bool) (*overlapFetcher, *policyHarness, *Controller) {
	t.Helper()
	scripted := newScriptedFetcher().on(listURL(1), listing("", ids...))
	for _, id := range ids {
		scripted.on(detailURL(id), detail(id))
	}
	sink := newMemorySink()
	f := &overlapFetcher{scriptedFetcher: scripted, sink: sink}
	if holdFirst {
		f.holdFirst = detailURL(ids[0])
	}
	ph := newPolicyHarness(t, f, defaultBreaker())
	f.limit = ph.slots.Limit
	c, err := NewController(cfg, ControllerDeps{
		Fetcher:     ph.policy,
		Extractor:   fakeExtractor{},
		Sink:        sink,
		Checkpoints: &memoryCheckpoints{},
		Clock:       ph.clock,
	})
	require.NoError(t, err)
	return f, ph, c
}

func TestController_DetailFetchesOverlapWithinLimiterBound(t *testing.T) {
	t.Parallel()

	ids := []string{"a", "b", "c", "d", "e", "f"}
	f, ph, c := newOverlapController(t, testControllerConfig(), ids, true)

	require.NoError(t, c.Run(context.Background()))
	require.Equal(t, len(ids), c.Stats().Records)

	peak, overLimit := f.stats()
	require.Greater(t, peak, 1, "detail fetches never overlapped")
	require.LessOrEqual(t, peak, ph.slots.Limit())
	require.Zero(t, overLimit, "in-flight fetches exceeded the concurrency limit")

	order := f.sink.order()
	require.Len(t, order, len(ids))
	require.NotEqual(t, "a", order[0], "the held first entry should complete after a sibling")
	require.ElementsMatch(t, ids, order)
}

func TestController_DetailWorkersCapOverlap(t *testing.T) {
	t.Parallel()

	cfg := testControllerConfig()
	cfg.DetailWorkers = 2
	f, _, c := newOverlapController(t, cfg, []string{"a", "b", "c", "d"}, false)

	require.NoError(t, c.Run(context.Background()))
	require.Equal(t, 4, c.Stats().Records)
	peak, _ := f.stats()
	require.Equal(t, 2, peak)
}
