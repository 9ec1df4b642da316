package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/coldbell/perpdex/backend/internal/chain"
	"github.com/coldbell/perpdex/backend/internal/config"
	"github.com/coldbell/perpdex/backend/internal/keeper"
	"github.com/coldbell/perpdex/backend/internal/logging"
	"github.com/coldbell/perpdex/backend/internal/metrics"
	_ "github.com/joho/godotenv/autoload"
	"golang.org/x/sync/errgroup"
)

func main() {
	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadEventCrankerConfig()
	if err != nil {
		bootstrapLogger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger, closeLogger, err := logging.New("event-cranker", cfg.Log)
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
		logger.Error("failed to load cranker authority", "err", err)
		os.Exit(1)
	}
	reader := chain.NewReader(cfg.Chain)
	if err := reader.CheckProgram(ctx); err != nil {
		logger.Error("perp program unavailable", "err", err)
		os.Exit(1)
	}
	markets, err := keeper.ResolveMarkets(ctx, cfg.Chain.ProgramID, cfg.MarketSymbols, reader, logger)
	if err != nil {
		logger.Error("failed to resolve markets", "err", err)
		os.Exit(1)
	}

	m := metrics.New()
	cranker, err := keeper.NewEventCranker(cfg, reader, sender, markets, m, logger)
	if err != nil {
		logger.Error("failed to initialize event cranker", "err", err)
		os.Exit(1)
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return m.Serve(gctx, cfg.MetricsAddr, logger) })
	group.Go(func() error { return cranker.Run(gctx) })
	if err := group.Wait(); err != nil {
		logger.Error("event cranker exited with error", "err", err)
		os.Exit(1)
	}
}
