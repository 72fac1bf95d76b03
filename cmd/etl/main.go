package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/flir-etl-service/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/flir-etl-service/internal/adapter/kafka"
	"github.com/couchcryptid/flir-etl-service/internal/adapter/ledger"
	"github.com/couchcryptid/flir-etl-service/internal/adapter/mapbox"
	"github.com/couchcryptid/flir-etl-service/internal/adapter/s3store"
	"github.com/couchcryptid/flir-etl-service/internal/config"
	"github.com/couchcryptid/flir-etl-service/internal/observability"
	"github.com/couchcryptid/flir-etl-service/internal/pipeline"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	var opts []pipeline.Option

	// Site lookup (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
		opts = append(opts, pipeline.WithSiteLocator(mapbox.NewCachedLocator(client, cfg.MapboxCacheSize, metrics)))
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox site lookup enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox site lookup disabled")
	}

	if cfg.S3Bucket != "" {
		api, err := s3store.NewS3API(cfg.AWSRegion)
		if err != nil {
			logger.Error("failed to create s3 client", "error", err)
			os.Exit(1)
		}
		opts = append(opts, pipeline.WithPublisher(s3store.NewPublisher(api, cfg.S3Bucket, cfg.S3Prefix, metrics, logger)))
		logger.Info("artifact upload enabled", "bucket", cfg.S3Bucket, "prefix", cfg.S3Prefix)
	}

	var store *ledger.Store
	if cfg.LedgerPath != "" {
		store, err = ledger.Open(cfg.LedgerPath, logger)
		if err != nil {
			logger.Error("failed to open ledger", "error", err, "path", cfg.LedgerPath)
			os.Exit(1)
		}
		opts = append(opts, pipeline.WithProcessedChecker(store))
		logger.Info("ledger enabled", "path", cfg.LedgerPath)
	}

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)
	transformer := pipeline.NewTransformer(pipeline.SettingsFromConfig(cfg), metrics, logger, opts...)

	p := pipeline.New(reader, transformer, writer, logger, metrics, cfg.BatchSize)

	var srv *httpadapter.Server
	if store != nil {
		p.SetRecorder(store)
		srv = httpadapter.NewServer(cfg.HTTPAddr, store, logger, p, store)
	} else {
		srv = httpadapter.NewServer(cfg.HTTPAddr, nil, logger, p)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start ETL pipeline.
	done := make(chan struct{})
	go func() {
		defer close(done)
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
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("pipeline did not stop before shutdown timeout")
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Error("ledger close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
