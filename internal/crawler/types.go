package crawler

import (
	"errors"
	"net/http"
	"time"
)

var (
	// ErrFatal marks failures that must abort the crawl.
	ErrFatal = errors.New("fatal crawl error")
	// ErrRetriesExhausted is wrapped into transient outcomes once the retry budget is spent.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrExtraction wraps parser failures for a listing or detail page.
	ErrExtraction = errors.New("extraction failed")
	// ErrInvalidRecord is returned by sinks that reject a record before storing it.
	ErrInvalidRecord = errors.New("invalid record")
)

// OutcomeKind tags the result of a fetch.
type OutcomeKind int

// Fetch outcome kinds.
const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeNotFound
	OutcomeForbidden
	OutcomeTransient
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeForbidden:
		return "forbidden"
	case OutcomeTransient:
		return "transient"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// FetchOutcome is the classified result of fetching one URL.
type FetchOutcome struct {
	Kind       OutcomeKind
	URL        string
	Content    string
	Bytes      int
	StatusCode int
	Cause      error
}

// Absent reports whether the source answered but has nothing for us.
func (o FetchOutcome) Absent() bool {
	return o.Kind == OutcomeNotFound || o.Kind == OutcomeForbidden
}

// Checkpoint is the persisted resume point of a crawl.
type Checkpoint struct {
	Cursor  string    `json:"cursor"`
	Page    int       `json:"page,omitempty"`
	SavedAt time.Time `json:"saved_at"`
}

// SummaryEntry is one row of a listing page, used to seed the detail fetch.
type SummaryEntry struct {
	ID     string
	Name   string
	Link   string
	Fields map[string]any
}

// Record is one fully extracted item, keyed by a stable ID.
type Record struct {
	ID     string
	Fields map[string]any
}

// String returns the named field as a string, or "" if absent or not a string.
func (r Record) String(key string) string {
	v, ok := r.Fields[key].(string)
	if !ok {
		return ""
	}
	return v
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation. Non-2xx
// responses are returned with a nil error so callers can classify them.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
