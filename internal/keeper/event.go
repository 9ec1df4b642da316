package keeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/coldbell/perpdex/backend/internal/chain"
	"github.com/coldbell/perpdex/backend/internal/codec"
	"github.com/coldbell/perpdex/backend/internal/config"
	"github.com/coldbell/perpdex/backend/internal/dex"
	"github.com/coldbell/perpdex/backend/internal/metrics"
	"github.com/gagliardetto/solana-go"
)

// EventCranker consumes the event at the head of the event queue by trying
// position_manager for the head user on each known market in turn.
type EventCranker struct {
	cfg       config.CrankerConfig
	queues    dex.Queues
	markets   []dex.MarketAccounts
	reader    Reader
	submitter Submitter
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewEventCranker(
	cfg config.CrankerConfig,
	reader Reader,
	submitter Submitter,
	markets []dex.MarketAccounts,
	m *metrics.Metrics,
	logger *slog.Logger,
) (*EventCranker, error) {
	queues, err := dex.DeriveQueues(cfg.Chain.ProgramID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.New()
	}
	return &EventCranker{
		cfg:       cfg,
		queues:    queues,
		markets:   markets,
		reader:    reader,
		submitter: submitter,
		metrics:   m,
		logger:    logger,
	}, nil
}

func (c *EventCranker) Run(ctx context.Context) error {
	c.logger.Info("event cranker started",
		"rpc", c.cfg.Chain.RPCURL,
		"program", c.cfg.Chain.ProgramID,
		"authority", c.submitter.PublicKey(),
		"markets", symbols(c.markets),
		"poll_interval", c.cfg.PollInterval.String(),
		"retry_delay", c.cfg.RetryDelay.String(),
	)
	if len(c.markets) == 0 {
		c.logger.Warn("no markets configured")
	}
	runLoop(ctx, c.Tick)
	c.logger.Info("event cranker stopped")
	return nil
}

// Tick tries to consume the head event. When no market accepts it the next
// tick comes after the short retry delay.
func (c *EventCranker) Tick(ctx context.Context) time.Duration {
	data, err := c.reader.GetAccount(ctx, c.queues.EventQueue)
	if err != nil {
		c.logger.Error("read event queue failed", "queue", c.queues.EventQueue, "err", err)
		return c.cfg.PollInterval
	}
	count := codec.QueueCount(data)
	c.metrics.QueueDepth.WithLabelValues("event").Set(float64(count))
	if count == 0 {
		return c.cfg.PollInterval
	}

	user, ok := codec.PeekEventHeadUser(data)
	if !ok {
		return c.cfg.PollInterval
	}
	if c.consume(ctx, user) {
		return c.cfg.PollInterval
	}
	return c.cfg.RetryDelay
}

func (c *EventCranker) consume(ctx context.Context, user solana.PublicKey) bool {
	set := newAttemptSet(c.markets)
	for market, ok := set.next(); ok && ctx.Err() == nil; market, ok = set.next() {
		ix, err := dex.NewPositionManagerInstruction(c.cfg.Chain.ProgramID, market, c.queues, user)
		if err != nil {
			c.logger.Error("build position_manager failed", "market", market.Symbol, "user", user, "err", err)
			continue
		}

		signature, err := c.submitter.Send(ctx, ix)
		if err == nil {
			set.succeed(market)
			c.metrics.CrankAttempts.WithLabelValues("event", market.Symbol, "ok").Inc()
			c.logger.Info("position manager applied", "market", market.Symbol, "user", user, "signature", signature)
			break
		}
		if chain.Classify(err) == chain.KindEventNotForUser {
			c.metrics.CrankAttempts.WithLabelValues("event", market.Symbol, "not_for_user").Inc()
			continue
		}
		c.metrics.CrankAttempts.WithLabelValues("event", market.Symbol, "failed").Inc()
		c.logger.Warn("position_manager failed", "market", market.Symbol, "user", user, "err", err)
	}

	if !set.consumed() {
		c.logger.Debug("head event not consumed", "user", user, "attempted", set.attempted)
	}
	return set.consumed()
}

// attemptSet tracks the markets tried for one head event. It is terminal on
// the first success or once every market has been attempted.
type attemptSet struct {
	remaining []dex.MarketAccounts
	attempted []string
	winner    *dex.MarketAccounts
}

func newAttemptSet(markets []dex.MarketAccounts) *attemptSet {
	return &attemptSet{remaining: append([]dex.MarketAccounts(nil), markets...)}
}

func (a *attemptSet) next() (dex.MarketAccounts, bool) {
	if a.winner != nil || len(a.remaining) == 0 {
		return dex.MarketAccounts{}, false
	}
	market := a.remaining[0]
	a.remaining = a.remaining[1:]
	a.attempted = append(a.attempted, market.Symbol)
	return market, true
}

func (a *attemptSet) succeed(market dex.MarketAccounts) { a.winner = &market }

func (a *attemptSet) consumed() bool { return a.winner != nil }
