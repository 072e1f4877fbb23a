package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/school-rankings-crawler/internal/clock/system"
	"github.com/JakeFAU/school-rankings-crawler/internal/metrics"
)

func newCrawlCmd() *cobra.Command {
	var (
		resetCheckpoint bool
		metricsAddr     string
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the archived rankings into the school store",
		Long: `Walks the paginated national rankings listing, fetches every school's
detail page and upserts the extracted record. The run resumes from the saved
checkpoint unless --reset-checkpoint is given.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd.Context(), resetCheckpoint, metricsAddr)
		},
	}
	cmd.Flags().BoolVar(&resetCheckpoint, "reset-checkpoint", false, "discard the saved checkpoint and start from the first page")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while crawling (e.g. :9090)")
	return cmd
}

func runCrawl(ctx context.Context, resetCheckpoint bool, metricsAddr string) error {
	e, err := envFrom(ctx)
	if err != nil {
		return err
	}
	logger := e.logger.Named("crawl")
	metrics.Init()

	run, err := buildCrawl(ctx, e.cfg, system.New(), logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := run.Close(); cerr != nil {
			logger.Warn("failed to release crawl resources", zap.Error(cerr))
		}
	}()

	if resetCheckpoint {
		if err := run.checkpoints.Remove(); err != nil {
			return err
		}
		logger.Info("checkpoint reset", zap.String("path", run.checkpoints.Path()))
	}

	if metricsAddr != "" {
		stop := serveMetrics(metricsAddr, logger)
		defer stop()
	}

	err = run.controller.Run(ctx)
	stats := run.controller.Stats()
	logger.Info("crawl finished",
		zap.String("state", string(run.controller.State())),
		zap.Int("pages", stats.Pages),
		zap.Int("pages_skipped", stats.PagesSkipped),
		zap.Int("records", stats.Records),
		zap.Int("records_failed", stats.RecordsFailed),
		zap.Int("absent", stats.Absent),
		zap.Int("checkpoints", stats.Checkpoints),
	)
	if errors.Is(err, context.Canceled) {
		logger.Info("crawl interrupted; resume picks up from the last checkpoint")
		return nil
	}
	if err != nil {
		return fmt.Errorf("run crawler: %w", err)
	}
	return nil
}

func serveMetrics(addr string, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("metrics listener started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener error", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("metrics listener shutdown error", zap.Error(err))
		}
	}
}
