package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	if fetchOutcomesTotal == nil || breakerOpen == nil || rateCurrent == nil ||
		concurrencyLimit == nil || pagesTotal == nil || recordsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveFetch(t *testing.T) {
	before := testutil.ToFloat64(fetchOutcomesTotal.WithLabelValues("success"))
	beforeBytes := testutil.ToFloat64(fetchBytesTotal)

	ObserveFetch("success", 512)
	ObserveFetch("success", 0)

	if got := testutil.ToFloat64(fetchOutcomesTotal.WithLabelValues("success")) - before; got != 2 {
		t.Errorf("expected 2 success outcomes, got %f", got)
	}
	if got := testutil.ToFloat64(fetchBytesTotal) - beforeBytes; got != 512 {
		t.Errorf("expected 512 bytes, got %f", got)
	}
}

func TestGauges(t *testing.T) {
	testCases := []struct {
		name  string
		apply func()
		check func() float64
		want  float64
	}{
		{"breaker open", func() { SetBreakerOpen(true) }, func() float64 { return testutil.ToFloat64(breakerOpen) }, 1},
		{"breaker closed", func() { SetBreakerOpen(false) }, func() float64 { return testutil.ToFloat64(breakerOpen) }, 0},
		{"rate", func() { SetRate(1.25) }, func() float64 { return testutil.ToFloat64(rateCurrent) }, 1.25},
		{"concurrency limit", func() { SetConcurrency(4, 2) }, func() float64 { return testutil.ToFloat64(concurrencyLimit) }, 4},
		{"concurrency in flight", func() { SetConcurrency(4, 2) }, func() float64 { return testutil.ToFloat64(concurrencyInFlight) }, 2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.apply()
			if got := tc.check(); got != tc.want {
				t.Errorf("got %f; want %f", got, tc.want)
			}
		})
	}
}

func TestCounters(t *testing.T) {
	Init()
	pages := testutil.ToFloat64(pagesTotal.WithLabelValues("skipped"))
	records := testutil.ToFloat64(recordsTotal.WithLabelValues("stored"))
	saves := testutil.ToFloat64(checkpointSavesTotal)
	waits := testutil.ToFloat64(breakerWaitsTotal)

	ObservePage("skipped")
	ObserveRecord("stored")
	ObserveCheckpointSave()
	ObserveBreakerWait()

	if got := testutil.ToFloat64(pagesTotal.WithLabelValues("skipped")) - pages; got != 1 {
		t.Errorf("pages skipped delta = %f", got)
	}
	if got := testutil.ToFloat64(recordsTotal.WithLabelValues("stored")) - records; got != 1 {
		t.Errorf("records stored delta = %f", got)
	}
	if got := testutil.ToFloat64(checkpointSavesTotal) - saves; got != 1 {
		t.Errorf("checkpoint saves delta = %f", got)
	}
	if got := testutil.ToFloat64(breakerWaitsTotal) - waits; got != 1 {
		t.Errorf("breaker waits delta = %f", got)
	}
}
