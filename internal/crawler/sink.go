package crawler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/school-rankings-crawler/internal/clock"
)

// RecordNotice is published after a record is stored.
type RecordNotice struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	NationalRank any       `json:"national_rank,omitempty"`
	StoredAt     time.Time `json:"stored_at"`
}

// ValidatingSink rejects malformed records, stores the rest and optionally
// announces them on a topic.
type ValidatingSink struct {
	next      RecordSink
	publisher Publisher
	topic     string
	clock     clock.Clock
	logger    *zap.Logger
}

// NewValidatingSink wraps next. publisher may be nil to disable notices.
func NewValidatingSink(next RecordSink, publisher Publisher, topic string, clk clock.Clock, logger *zap.Logger) *ValidatingSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ValidatingSink{
		next:      next,
		publisher: publisher,
		topic:     topic,
		clock:     clk,
		logger:    logger.Named("sink"),
	}
}

// Put validates and stores record. Publish failures are logged only.
func (s *ValidatingSink) Put(ctx context.Context, record Record) error {
	if err := ValidateRecord(record); err != nil {
		return err
	}
	if err := s.next.Put(ctx, record); err != nil {
		return fmt.Errorf("store record %s: %w", record.ID, err)
	}
	if s.publisher == nil {
		return nil
	}
	notice := RecordNotice{
		ID:           record.ID,
		Name:         record.String("name"),
		NationalRank: record.Fields["national_rank"],
		StoredAt:     s.clock.Now(),
	}
	if _, err := s.publisher.Publish(ctx, s.topic, notice); err != nil {
		s.logger.Warn("publish record notice failed", zap.String("id", record.ID), zap.Error(err))
	}
	return nil
}

// ValidateRecord checks the fields every stored record needs.
func ValidateRecord(record Record) error {
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRecord)
	}
	if strings.TrimSpace(record.String("name")) == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidRecord)
	}
	return nil
}
