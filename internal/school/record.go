package school

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/school-rankings-crawler/internal/crawler"
)

// FromRecord maps an extracted record onto a School. Fields without a column
// are kept in Extra.
func FromRecord(r crawler.Record, now time.Time) School {
	s := School{ID: r.ID, UpdatedAt: now}
	targets := TextTargets(&s)
	known := make(map[string]bool, len(TextColumns)+len(IntColumns))
	for i, col := range TextColumns {
		known[col] = true
		if v, ok := r.Fields[col]; ok && v != nil {
			*(targets[i].(*string)) = fmt.Sprint(v)
		}
	}
	for _, col := range IntColumns {
		known[col] = true
	}

	switch v := r.Fields["national_rank"].(type) {
	case string:
		s.NationalRank = ParseRank(v)
	case int:
		s.NationalRank = &v
	}
	if y, ok := r.Fields["year"].(int); ok {
		s.Year = &y
	} else {
		s.Year = YearFromLink(s.Link)
	}

	for k, v := range r.Fields {
		if known[k] || v == nil {
			continue
		}
		if s.Extra == nil {
			s.Extra = make(map[string]string)
		}
		s.Extra[k] = fmt.Sprint(v)
	}
	return s
}

// Sink adapts a Store to crawler.RecordSink.
type Sink struct {
	store Store
	now   func() time.Time
}

// NewSink returns a Sink writing to store. now stamps UpdatedAt.
func NewSink(store Store, now func() time.Time) *Sink {
	return &Sink{store: store, now: now}
}

// Put converts and upserts r.
func (s *Sink) Put(ctx context.Context, r crawler.Record) error {
	return s.store.Put(ctx, FromRecord(r, s.now()))
}
