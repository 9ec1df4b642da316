package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/coldbell/perpdex/backend/internal/apiserver"
	"github.com/coldbell/perpdex/backend/internal/chain"
	"github.com/coldbell/perpdex/backend/internal/config"
	"github.com/coldbell/perpdex/backend/internal/indexer"
	"github.com/coldbell/perpdex/backend/internal/logging"
	"github.com/coldbell/perpdex/backend/internal/metrics"
	_ "github.com/joho/godotenv/autoload"
)

func main() {
	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadAPIServerConfig()
	if err != nil {
		bootstrapLogger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger, closeLogger, err := logging.New("api-server", cfg.Log)
	if err != nil {
		bootstrapLogger.Error("failed to initialize logger", "err", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := closeLogger(); closeErr != nil {
			bootstrapLogger.Error("failed to close logger", "err", closeErr)
		}
	}()

	if source, sourceErr := config.CurrentConfigSource(); sourceErr == nil {
		logger.Info("configuration loaded", "phase", source.Phase, "path", source.Path, "loaded", source.Loaded)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reader := chain.NewReader(cfg.Chain)
	if err := reader.CheckProgram(ctx); err != nil {
		logger.Error("perp program unavailable", "err", err)
		os.Exit(1)
	}

	m := metrics.New()
	opts := []indexer.Option{indexer.WithMetrics(m)}
	var snapshots apiserver.SnapshotLister
	if cfg.DBDSN != "" {
		store, err := indexer.NewStore(cfg.DBDSN, cfg.Indexer.SnapshotRetention)
		if err != nil {
			logger.Error("failed to initialize snapshot store", "err", err)
			os.Exit(1)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("failed to close store", "err", err)
			}
		}()
		opts = append(opts, indexer.WithSink(store))
		snapshots = store
	}

	idx, err := indexer.New(cfg.Indexer, reader, logger, opts...)
	if err != nil {
		logger.Error("failed to initialize indexer", "err", err)
		os.Exit(1)
	}

	svc := apiserver.New(cfg, idx, chain.NewRelay(cfg.Chain), snapshots, m, logger)
	if err := svc.Run(ctx); err != nil {
		logger.Error("api-server exited with error", "err", err)
		os.Exit(1)
	}
}
