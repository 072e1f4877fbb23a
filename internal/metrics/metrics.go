// Package metrics exposes Prometheus collectors for the crawler and the schools API.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchOutcomesTotal         *prometheus.CounterVec
	fetchBytesTotal            prometheus.Counter
	breakerOpen                prometheus.Gauge
	breakerWaitsTotal          prometheus.Counter
	rateCurrent                prometheus.Gauge
	concurrencyLimit           prometheus.Gauge
	concurrencyInFlight        prometheus.Gauge
	pagesTotal                 *prometheus.CounterVec
	recordsTotal               *prometheus.CounterVec
	checkpointSavesTotal       prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_outcomes_total",
				Help: "Terminal fetch outcomes, labeled by kind.",
			},
			[]string{"kind"},
		)

		fetchBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_fetch_bytes_total",
				Help: "Total number of body bytes fetched successfully.",
			},
		)

		breakerOpen = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_breaker_open",
				Help: "1 while the circuit breaker is open, 0 otherwise.",
			},
		)

		breakerWaitsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_breaker_waits_total",
				Help: "Number of backoff sleeps taken while the breaker was open.",
			},
		)

		rateCurrent = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_rate_current",
				Help: "Current adaptive request rate in requests per second.",
			},
		)

		concurrencyLimit = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_concurrency_limit",
				Help: "Current adaptive concurrency bound.",
			},
		)

		concurrencyInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_concurrency_in_flight",
				Help: "Requests currently holding a concurrency slot.",
			},
		)

		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Listing pages processed, labeled by status (done, retried, skipped).",
			},
			[]string{"status"},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_records_total",
				Help: "Detail records, labeled by status (stored, failed, absent, invalid).",
			},
			[]string{"status"},
		)

		checkpointSavesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_checkpoint_saves_total",
				Help: "Number of checkpoints persisted.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch counts a terminal fetch outcome and the bytes it carried.
func ObserveFetch(kind string, bytesFetched int) {
	Init()
	fetchOutcomesTotal.WithLabelValues(kind).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.Add(float64(bytesFetched))
	}
}

// SetBreakerOpen records the breaker state.
func SetBreakerOpen(open bool) {
	Init()
	if open {
		breakerOpen.Set(1)
		return
	}
	breakerOpen.Set(0)
}

// ObserveBreakerWait counts one open-breaker backoff sleep.
func ObserveBreakerWait() {
	Init()
	breakerWaitsTotal.Inc()
}

// SetRate records the adaptive request rate.
func SetRate(rps float64) {
	Init()
	rateCurrent.Set(rps)
}

// SetConcurrency records the adaptive concurrency bound and in-flight count.
func SetConcurrency(limit, inFlight int) {
	Init()
	concurrencyLimit.Set(float64(limit))
	concurrencyInFlight.Set(float64(inFlight))
}

// ObservePage counts a listing page by status.
func ObservePage(status string) {
	Init()
	pagesTotal.WithLabelValues(status).Inc()
}

// ObserveRecord counts a detail record by status.
func ObserveRecord(status string) {
	Init()
	recordsTotal.WithLabelValues(status).Inc()
}

// ObserveCheckpointSave counts a persisted checkpoint.
func ObserveCheckpointSave() {
	Init()
	checkpointSavesTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
