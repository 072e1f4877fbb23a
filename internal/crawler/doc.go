// Package crawler implements the resilient crawl engine: the fetch policy that
// composes the circuit breaker, adaptive rate limiter and adaptive concurrency
// gate around a transport, and the controller that walks paginated listings,
// fetches detail pages and checkpoints progress.
package crawler
