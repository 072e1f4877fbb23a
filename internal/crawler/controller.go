package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/school-rankings-crawler/internal/clock"
	"github.com/JakeFAU/school-rankings-crawler/internal/metrics"
)

// State is a controller lifecycle state.
type State string

// Controller states.
const (
	StateIdle           State = "idle"
	StatePaginating     State = "paginating"
	StateExtracting     State = "extracting"
	StateFetchingDetail State = "fetching_detail"
	StateCheckpointing  State = "checkpointing"
	StateDone           State = "done"
	StateAborted        State = "aborted"
)

// ControllerConfig holds the pagination knobs.
type ControllerConfig struct {
	// InitialURL is the first listing page when no checkpoint exists.
	InitialURL string
	// PageURLTemplate builds a listing URL from a page number (one %d verb).
	// It is only used to skip past a page that keeps failing.
	PageURLTemplate    string
	MaxPages           int
	PageAttempts       int
	PageRetryDelay     time.Duration
	CheckpointInterval time.Duration
	// DetailWorkers caps the goroutines fetching detail pages for one listing.
	DetailWorkers int
}

// Validate checks for obviously bad configuration combinations.
func (c ControllerConfig) Validate() error {
	if strings.TrimSpace(c.InitialURL) == "" {
		return fmt.Errorf("initial url must be set")
	}
	if strings.Count(c.PageURLTemplate, "%d") != 1 {
		return fmt.Errorf("page url template must contain exactly one %%d")
	}
	if c.MaxPages < 1 {
		return fmt.Errorf("max pages must be >= 1")
	}
	if c.PageAttempts < 1 {
		return fmt.Errorf("page attempts must be >= 1")
	}
	if c.PageRetryDelay < 0 {
		return fmt.Errorf("page retry delay must be >= 0")
	}
	if c.CheckpointInterval < 0 {
		return fmt.Errorf("checkpoint interval must be >= 0")
	}
	if c.DetailWorkers < 1 {
		return fmt.Errorf("detail workers must be >= 1")
	}
	return nil
}

// ControllerDeps groups the collaborators of a Controller. Archiver is optional.
type ControllerDeps struct {
	Fetcher     OutcomeFetcher
	Extractor   Extractor
	Sink        RecordSink
	Checkpoints CheckpointStore
	Archiver    PageArchiver
	Clock       clock.Clock
	Logger      *zap.Logger
}

// Stats summarises a run.
type Stats struct {
	Pages         int
	PagesSkipped  int
	Records       int
	RecordsFailed int
	Absent        int
	Checkpoints   int
}

// Controller walks the paginated listing, fetches each entry's detail page and
// streams the resulting records to the sink.
type Controller struct {
	cfg         ControllerConfig
	fetcher     OutcomeFetcher
	extractor   Extractor
	sink        RecordSink
	checkpoints CheckpointStore
	archiver    PageArchiver
	clock       clock.Clock
	logger      *zap.Logger

	lastCheckpoint time.Time

	mu    sync.Mutex
	state State
	stats Stats
}

// NewController wires a Controller.
func NewController(cfg ControllerConfig, deps ControllerDeps) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("controller requires a fetcher")
	case deps.Extractor == nil:
		return nil, errors.New("controller requires an extractor")
	case deps.Sink == nil:
		return nil, errors.New("controller requires a record sink")
	case deps.Checkpoints == nil:
		return nil, errors.New("controller requires a checkpoint store")
	case deps.Clock == nil:
		return nil, errors.New("controller requires a clock")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:         cfg,
		fetcher:     deps.Fetcher,
		extractor:   deps.Extractor,
		sink:        deps.Sink,
		checkpoints: deps.Checkpoints,
		archiver:    deps.Archiver,
		clock:       deps.Clock,
		logger:      logger.Named("controller"),
		state:       StateIdle,
	}, nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns a copy of the run counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Run crawls until the listing has no next page, the page bound is reached or
// a fatal error occurs. Only fatal errors are returned.
func (c *Controller) Run(ctx context.Context) error {
	cursor, page, err := c.resume(ctx)
	if err != nil {
		c.transition(StateAborted, zap.Error(err))
		return err
	}
	c.lastCheckpoint = c.clock.Now()

	for cursor != "" && page <= c.cfg.MaxPages {
		c.transition(StatePaginating, zap.Int("page", page), zap.String("url", cursor))
		next, err := c.crawlPageWithRetries(ctx, cursor, page)
		if err != nil {
			c.transition(StateAborted, zap.Int("page", page), zap.Error(err))
			return err
		}
		page++
		cursor = next
		if cursor != "" {
			c.maybeCheckpoint(ctx, cursor, page)
		}
	}

	stats := c.Stats()
	c.transition(StateDone,
		zap.Int("pages", stats.Pages),
		zap.Int("pages_skipped", stats.PagesSkipped),
		zap.Int("records", stats.Records),
		zap.Int("records_failed", stats.RecordsFailed),
		zap.Bool("page_bound_reached", cursor != ""),
	)
	return nil
}

func (c *Controller) resume(ctx context.Context) (string, int, error) {
	cp, err := c.checkpoints.Load(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("%w: load checkpoint: %w", ErrFatal, err)
	}
	if cp == nil || cp.Cursor == "" {
		c.logger.Info("no checkpoint, starting from initial url", zap.String("url", c.cfg.InitialURL))
		return c.cfg.InitialURL, 1, nil
	}
	page := max(cp.Page, 1)
	c.logger.Info("resuming from checkpoint",
		zap.String("cursor", cp.Cursor),
		zap.Int("page", page),
		zap.Time("saved_at", cp.SavedAt),
	)
	return cp.Cursor, page, nil
}

func (c *Controller) crawlPageWithRetries(ctx context.Context, cursor string, page int) (string, error) {
	for attempt := 1; attempt <= c.cfg.PageAttempts; attempt++ {
		next, err := c.crawlPage(ctx, cursor, page)
		if err == nil {
			c.fetcher.ResetBackoff()
			metrics.ObservePage("done")
			c.bump(func(s *Stats) { s.Pages++ })
			return next, nil
		}
		if errors.Is(err, ErrFatal) {
			return "", err
		}
		c.logger.Warn("listing page failed",
			zap.Int("page", page),
			zap.Int("attempt", attempt),
			zap.String("url", cursor),
			zap.Error(err),
		)
		if attempt == c.cfg.PageAttempts {
			break
		}
		metrics.ObservePage("retried")
		if err := c.clock.Sleep(ctx, c.cfg.PageRetryDelay*time.Duration(attempt)); err != nil {
			return "", fmt.Errorf("%w: %w", ErrFatal, err)
		}
	}

	skip := fmt.Sprintf(c.cfg.PageURLTemplate, page+1)
	c.logger.Error("page attempts exhausted, skipping to computed next page",
		zap.Int("page", page),
		zap.String("failed_url", cursor),
		zap.String("next_url", skip),
		zap.Bool("approximate", true),
	)
	metrics.ObservePage("skipped")
	c.bump(func(s *Stats) { s.PagesSkipped++ })
	return skip, nil
}

func (c *Controller) crawlPage(ctx context.Context, cursor string, page int) (string, error) {
	out, err := c.fetcher.Fetch(ctx, cursor)
	if err != nil {
		return "", err
	}
	if out.Kind != OutcomeSuccess {
		if out.Cause != nil {
			return "", fmt.Errorf("listing fetch %s: %w", out.Kind, out.Cause)
		}
		return "", fmt.Errorf("listing fetch %s", out.Kind)
	}

	c.transition(StateExtracting, zap.Int("page", page))
	entries, next, err := c.extractListing([]byte(out.Content))
	if err != nil {
		return "", err
	}

	c.transition(StateFetchingDetail, zap.Int("page", page), zap.Int("entries", len(entries)))
	if err := c.fetchDetails(ctx, entries); err != nil {
		return "", err
	}
	if next == "" {
		c.logger.Info("no next page", zap.Int("page", page))
	}
	return next, nil
}

func (c *Controller) fetchDetails(ctx context.Context, entries []SummaryEntry) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.DetailWorkers)
	for _, entry := range entries {
		g.Go(func() error {
			return c.processEntry(gctx, entry)
		})
	}
	return g.Wait()
}

// processEntry fetches, extracts and stores one entry. Only fatal errors are
// returned; everything else is logged and counted.
func (c *Controller) processEntry(ctx context.Context, entry SummaryEntry) error {
	logger := c.logger.With(zap.String("name", entry.Name), zap.String("url", entry.Link))
	if entry.Link == "" {
		logger.Warn("entry has no detail link")
		c.recordFailed()
		return nil
	}

	out, err := c.fetcher.Fetch(ctx, entry.Link)
	if err != nil {
		return err
	}
	switch {
	case out.Absent():
		logger.Info("detail page unavailable", zap.String("outcome", out.Kind.String()))
		metrics.ObserveRecord("absent")
		c.bump(func(s *Stats) { s.Absent++ })
		return nil
	case out.Kind != OutcomeSuccess:
		logger.Warn("detail fetch failed", zap.Error(out.Cause))
		c.recordFailed()
		return nil
	}

	content := []byte(out.Content)
	if c.archiver != nil {
		if uri, err := c.archiver.Archive(ctx, entry.Link, content); err != nil {
			logger.Warn("archive page failed", zap.Error(err))
		} else {
			logger.Debug("archived page", zap.String("uri", uri))
		}
	}

	record, err := c.extractDetail(content, entry)
	if err != nil {
		logger.Error("detail extraction failed", zap.Error(err))
		c.recordFailed()
		return nil
	}
	if err := c.sink.Put(ctx, record); err != nil {
		logger.Error("store record failed", zap.String("id", record.ID), zap.Error(err))
		c.recordFailed()
		return nil
	}
	metrics.ObserveRecord("stored")
	c.bump(func(s *Stats) { s.Records++ })
	return nil
}

func (c *Controller) extractListing(content []byte) (entries []SummaryEntry, next string, err error) {
	defer func() {
		if r := recover(); r != nil {
			entries, next = nil, ""
			err = fmt.Errorf("%w: listing panic: %v", ErrExtraction, r)
		}
	}()
	entries, next, err = c.extractor.ExtractListing(content)
	if err != nil {
		return nil, "", fmt.Errorf("%w: listing: %w", ErrExtraction, err)
	}
	return entries, next, nil
}

func (c *Controller) extractDetail(content []byte, seed SummaryEntry) (record Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			record = Record{}
			err = fmt.Errorf("%w: detail panic: %v", ErrExtraction, r)
		}
	}()
	record, err = c.extractor.ExtractDetail(content, seed)
	if err != nil {
		return Record{}, fmt.Errorf("%w: detail: %w", ErrExtraction, err)
	}
	if record.ID == "" {
		record.ID = seed.ID
	}
	return record, nil
}

// maybeCheckpoint persists cursor if the checkpoint interval has elapsed.
// Save failures are logged; the next page tries again.
func (c *Controller) maybeCheckpoint(ctx context.Context, cursor string, page int) {
	now := c.clock.Now()
	if now.Sub(c.lastCheckpoint) < c.cfg.CheckpointInterval {
		return
	}
	c.transition(StateCheckpointing, zap.String("cursor", cursor), zap.Int("page", page))
	cp := Checkpoint{Cursor: cursor, Page: page, SavedAt: now}
	if err := c.checkpoints.Save(ctx, cp); err != nil {
		c.logger.Error("save checkpoint failed", zap.String("cursor", cursor), zap.Error(err))
		return
	}
	c.lastCheckpoint = now
	metrics.ObserveCheckpointSave()
	c.bump(func(s *Stats) { s.Checkpoints++ })
	c.logger.Info("checkpoint saved", zap.String("cursor", cursor), zap.Int("page", page))
}

func (c *Controller) transition(to State, fields ...zap.Field) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()
	c.logger.Info("crawl state transition",
		append([]zap.Field{zap.String("from", string(from)), zap.String("to", string(to))}, fields...)...)
}

func (c *Controller) recordFailed() {
	metrics.ObserveRecord("failed")
	c.bump(func(s *Stats) { s.RecordsFailed++ })
}

func (c *Controller) bump(fn func(*Stats)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.stats)
}
