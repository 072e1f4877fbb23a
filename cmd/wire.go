package cmd

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	filecheckpoint "github.com/JakeFAU/school-rankings-crawler/internal/checkpoint/file"
	"github.com/JakeFAU/school-rankings-crawler/internal/clock"
	"github.com/JakeFAU/school-rankings-crawler/internal/config"
	"github.com/JakeFAU/school-rankings-crawler/internal/crawler"
	"github.com/JakeFAU/school-rankings-crawler/internal/extract/usnews"
	collyfetcher "github.com/JakeFAU/school-rankings-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/school-rankings-crawler/internal/hash/sha256"
	"github.com/JakeFAU/school-rankings-crawler/internal/id/uuid"
	"github.com/JakeFAU/school-rankings-crawler/internal/policy/breaker"
	"github.com/JakeFAU/school-rankings-crawler/internal/policy/concurrency"
	"github.com/JakeFAU/school-rankings-crawler/internal/policy/ratelimit"
	memorypub "github.com/JakeFAU/school-rankings-crawler/internal/publisher/memory"
	"github.com/JakeFAU/school-rankings-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/school-rankings-crawler/internal/school"
	"github.com/JakeFAU/school-rankings-crawler/internal/storage"
)

// crawlRun is a fully wired crawl plus the resources it holds.
type crawlRun struct {
	controller  *crawler.Controller
	checkpoints *filecheckpoint.Store
	store       school.Store
	closers     []func() error
}

// Close releases every resource in reverse acquisition order.
func (r *crawlRun) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildCrawl(ctx context.Context, cfg config.Config, clk clock.Clock, logger *zap.Logger) (_ *crawlRun, err error) {
	run := &crawlRun{}
	defer func() {
		if err != nil {
			_ = run.Close()
		}
	}()

	store, err := storage.NewSchoolStore(ctx, storage.StoreOptions{
		Driver:   cfg.Storage.Driver,
		DSN:      cfg.Storage.DSN,
		Table:    cfg.Storage.Table,
		MaxConns: cfg.Storage.MaxConns,
	})
	if err != nil {
		return nil, err
	}
	run.closers = append(run.closers, store.Close)
	run.store = store

	publisher, closePublisher, err := newPublisher(ctx, cfg.PubSub, logger)
	if err != nil {
		return nil, err
	}
	run.closers = append(run.closers, closePublisher)

	var archiver crawler.PageArchiver
	if cfg.Crawler.ArchiveRawPages {
		blobs, closeBlobs, err := storage.NewBlobStore(ctx, storage.ArchiveOptions{
			Provider:    cfg.Archive.Provider,
			BaseDir:     cfg.Archive.BaseDir,
			Bucket:      cfg.Archive.GCSBucket,
			GCSEndpoint: cfg.Archive.GCSEndpoint,
		})
		if err != nil {
			return nil, err
		}
		run.closers = append(run.closers, closeBlobs)
		if blobs != nil {
			a, err := crawler.NewBlobArchiver(blobs, sha256.New(), clk, cfg.Archive.Prefix)
			if err != nil {
				return nil, fmt.Errorf("archiver: %w", err)
			}
			archiver = a
		}
	}

	checkpoints, err := filecheckpoint.New(cfg.Checkpoint.Path, logger)
	if err != nil {
		return nil, err
	}
	run.checkpoints = checkpoints

	policy, err := buildFetchPolicy(cfg, clk, logger)
	if err != nil {
		return nil, err
	}

	extractor, err := usnews.New(cfg.Crawler.BaseURL, uuid.NewGenerator(), logger)
	if err != nil {
		return nil, fmt.Errorf("extractor: %w", err)
	}

	sink := crawler.NewValidatingSink(school.NewSink(store, clk.Now), publisher, cfg.PubSub.TopicName, clk, logger)

	controller, err := crawler.NewController(crawler.ControllerConfig{
		InitialURL:         cfg.Crawler.InitialURL,
		PageURLTemplate:    cfg.Crawler.PageURLTemplate,
		MaxPages:           cfg.Crawler.MaxPages,
		PageAttempts:       cfg.Crawler.PageAttempts,
		PageRetryDelay:     cfg.Crawler.PageRetryDelay,
		CheckpointInterval: cfg.Crawler.CheckpointInterval,
		DetailWorkers:      cfg.Crawler.DetailWorkers,
	}, crawler.ControllerDeps{
		Fetcher:     policy,
		Extractor:   extractor,
		Sink:        sink,
		Checkpoints: checkpoints,
		Archiver:    archiver,
		Clock:       clk,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("controller: %w", err)
	}
	run.controller = controller
	return run, nil
}

// newPublisher returns a nil Publisher when notifications are disabled.
func newPublisher(ctx context.Context, cfg config.PubSubConfig, logger *zap.Logger) (crawler.Publisher, func() error, error) {
	noop := func() error { return nil }
	if !cfg.Enabled() {
		return nil, noop, nil
	}
	if cfg.Provider == "memory" {
		pub := memorypub.New(logger)
		return pub, pub.Close, nil
	}
	pub, err := pubsub.Open(ctx, pubsub.Config{ProjectID: cfg.ProjectID, TopicID: cfg.TopicName})
	if err != nil {
		return nil, noop, err
	}
	return pub, pub.Close, nil
}

func buildFetchPolicy(cfg config.Config, clk clock.Clock, logger *zap.Logger) (*crawler.FetchPolicy, error) {
	brk, err := breaker.New(breaker.Config{
		Threshold:    cfg.Breaker.FailureThreshold,
		ResetTimeout: cfg.Breaker.ResetTimeout,
	}, clk, logger)
	if err != nil {
		return nil, fmt.Errorf("breaker: %w", err)
	}
	rate, err := ratelimit.New(ratelimit.Config{
		Initial: cfg.Rate.Initial,
		Min:     cfg.Rate.Min,
		Max:     cfg.Rate.Max,
	}, clk, logger)
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	slots, err := concurrency.New(concurrency.Config{
		Initial: cfg.Concurrency.Initial,
		Min:     cfg.Concurrency.Min,
		Max:     cfg.Concurrency.Max,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("concurrency limiter: %w", err)
	}
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.Crawler.UserAgent,
		Timeout:     cfg.Crawler.RequestTimeout,
		RateCeiling: cfg.Rate.Max,
		Burst:       cfg.Rate.CeilingBurst,
	})
	policy, err := crawler.NewFetchPolicy(crawler.FetchPolicyConfig{
		BreakerBackoffFloor: cfg.Retry.BreakerBackoffFloor,
		BreakerBackoffCap:   cfg.Retry.BreakerBackoffCap,
	}, crawler.FetchPolicyDeps{
		Fetcher:     fetcher,
		Breaker:     brk,
		RateLimiter: rate,
		Slots:       slots,
		Retry:       crawler.NewExponentialRetryPolicy(cfg.Retry.MaxAttempts, cfg.Retry.MinDelay, cfg.Retry.MaxDelay),
		Clock:       clk,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch policy: %w", err)
	}
	return policy, nil
}
