package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/coldbell/perpdex/backend/internal/chain"
	"github.com/coldbell/perpdex/backend/internal/config"
	"github.com/coldbell/perpdex/backend/internal/liquidator"
	"github.com/coldbell/perpdex/backend/internal/logging"
	"github.com/coldbell/perpdex/backend/internal/metrics"
	_ "github.com/joho/godotenv/autoload"
	"golang.org/x/sync/errgroup"
)

func main() {
	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadLiquidatorConfig()
	if err != nil {
		bootstrapLogger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger, closeLogger, err := logging.New("liquidator", cfg.Log)
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

	sender, err := chain.LoadSender(cfg.Chain, cfg.Tx)
	if err != nil {
		logger.Error("failed to load liquidator keypair", "err", err)
		os.Exit(1)
	}
	reader := chain.NewReader(cfg.Chain)
	if err := reader.CheckProgram(ctx); err != nil {
		logger.Error("perp program unavailable", "err", err)
		os.Exit(1)
	}

	m := metrics.New()
	scanner, err := liquidator.New(ctx, cfg, reader, sender, m, logger)
	if err != nil {
		logger.Error("failed to initialize liquidator", "err", err)
		os.Exit(1)
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return m.Serve(gctx, cfg.MetricsAddr, logger) })
	group.Go(func() error { return scanner.Run(gctx) })
	if err := group.Wait(); err != nil {
		logger.Error("liquidator exited with error", "err", err)
		os.Exit(1)
	}
}
