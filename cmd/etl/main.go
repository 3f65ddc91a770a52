package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/calsim-tables/internal/adapter/cache"
	"github.com/couchcryptid/calsim-tables/internal/adapter/cdec"
	httpadapter "github.com/couchcryptid/calsim-tables/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/calsim-tables/internal/adapter/kafka"
	"github.com/couchcryptid/calsim-tables/internal/adapter/postgres"
	"github.com/couchcryptid/calsim-tables/internal/config"
	"github.com/couchcryptid/calsim-tables/internal/domain"
	"github.com/couchcryptid/calsim-tables/internal/observability"
	"github.com/couchcryptid/calsim-tables/internal/pipeline"
)

// readiness reports ready only when every check passes.
type readiness []interface {
	CheckReadiness(ctx context.Context) error
}

func (r readiness) CheckReadiness(ctx context.Context) error {
	for _, c := range r {
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store *postgres.Store
	if cfg.DatabaseURL != "" {
		store, err = postgres.Open(ctx, cfg.DatabaseURL, metrics, logger)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
	}

	reader := kafkaadapter.NewReader(cfg, logger)
	transformer := pipeline.NewTransformer(cfg.Operation, cfg.FiscalYearEnd, logger)

	var loader pipeline.BatchLoader
	var writer *kafkaadapter.Writer
	if cfg.Sink == config.SinkPostgres {
		loader = store
	} else {
		writer = kafkaadapter.NewWriter(cfg, logger)
		loader = writer
	}
	logger.Info("pipeline configured", "operation", cfg.Operation, "sink", cfg.Sink, "batch_size", cfg.BatchSize)

	p := pipeline.New(reader, transformer, loader, logger, metrics, cfg.BatchSize)

	checks := readiness{p}
	var series domain.SeriesReader
	if store != nil {
		series = store
		checks = append(checks, store)
	} else {
		client := cdec.NewClient(cfg.CDECBaseURL, cfg.CDECTimeout, metrics, logger)
		series = cache.NewCachedReader(client, cfg.SeriesCacheSize, metrics)
		logger.Info("serving series from cdec", "base_url", cfg.CDECBaseURL, "cache_size", cfg.SeriesCacheSize)
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, checks, series, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Error("database close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
