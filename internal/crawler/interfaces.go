package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher performs a single HTTP GET.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Extractor turns raw page content into entries and records. Implementations
// must be pure functions of their input.
type Extractor interface {
	ExtractListing(content []byte) ([]SummaryEntry, string, error)
	ExtractDetail(content []byte, seed SummaryEntry) (Record, error)
}

// RecordSink stores extracted records.
type RecordSink interface {
	Put(ctx context.Context, record Record) error
}

// CheckpointStore persists the crawl resume point. Load returns nil, nil when
// nothing has been saved.
type CheckpointStore interface {
	Load(ctx context.Context) (*Checkpoint, error)
	Save(ctx context.Context, checkpoint Checkpoint) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes record events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for archive object names.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// PageArchiver keeps a copy of fetched page content.
type PageArchiver interface {
	Archive(ctx context.Context, url string, content []byte) (string, error)
}

// OutcomeFetcher is the fetch surface the controller drives.
type OutcomeFetcher interface {
	Fetch(ctx context.Context, url string) (FetchOutcome, error)
	ResetBackoff()
}

// RetryPolicy decides whether and how long to wait before another attempt.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Breaker gates traffic after repeated failures.
type Breaker interface {
	IsOpen() bool
	RecordFailure()
}

// RateLimiter paces requests and adapts to outcomes.
type RateLimiter interface {
	Wait(ctx context.Context) error
	Adjust(success bool)
}

// ConcurrencyLimiter bounds in-flight requests and adapts to outcomes.
type ConcurrencyLimiter interface {
	Acquire(ctx context.Context) error
	Release()
	Adjust(success bool)
}
