package keeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coldbell/perpdex/backend/internal/chain"
	"github.com/coldbell/perpdex/backend/internal/codec"
	"github.com/coldbell/perpdex/backend/internal/config"
	"github.com/coldbell/perpdex/backend/internal/dex"
	"github.com/coldbell/perpdex/backend/internal/metrics"
)

// RequestCranker drains the request queue by calling process_place_order
// for each known market until the queue is empty.
type RequestCranker struct {
	cfg       config.CrankerConfig
	queues    dex.Queues
	markets   []dex.MarketAccounts
	reader    Reader
	submitter Submitter
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewRequestCranker(
	cfg config.CrankerConfig,
	reader Reader,
	submitter Submitter,
	markets []dex.MarketAccounts,
	m *metrics.Metrics,
	logger *slog.Logger,
) (*RequestCranker, error) {
	queues, err := dex.DeriveQueues(cfg.Chain.ProgramID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.New()
	}
	return &RequestCranker{
		cfg:       cfg,
		queues:    queues,
		markets:   markets,
		reader:    reader,
		submitter: submitter,
		metrics:   m,
		logger:    logger,
	}, nil
}

func (c *RequestCranker) Run(ctx context.Context) error {
	c.logger.Info("request cranker started",
		"rpc", c.cfg.Chain.RPCURL,
		"program", c.cfg.Chain.ProgramID,
		"authority", c.submitter.PublicKey(),
		"markets", symbols(c.markets),
		"poll_interval", c.cfg.PollInterval.String(),
	)
	if len(c.markets) == 0 {
		c.logger.Warn("no markets configured")
	}
	runLoop(ctx, c.Tick)
	c.logger.Info("request cranker stopped")
	return nil
}

// Tick runs one Waiting/Draining pass and returns the delay before the next.
func (c *RequestCranker) Tick(ctx context.Context) time.Duration {
	count, err := c.queueCount(ctx)
	if err != nil {
		c.logger.Error("read request queue failed", "err", err)
		return c.cfg.PollInterval
	}
	if count == 0 {
		return c.cfg.PollInterval
	}

	for _, market := range c.markets {
		if ctx.Err() != nil {
			break
		}
		ix := dex.NewProcessPlaceOrderInstruction(c.cfg.Chain.ProgramID, c.submitter.PublicKey(), market, c.queues)
		signature, err := c.submitter.Send(ctx, ix)
		if err != nil {
			if chain.Classify(err) == chain.KindQueueEmpty {
				c.metrics.CrankAttempts.WithLabelValues("request", market.Symbol, "queue_empty").Inc()
				break
			}
			c.metrics.CrankAttempts.WithLabelValues("request", market.Symbol, "failed").Inc()
			c.logger.Warn("process_place_order failed", "market", market.Symbol, "err", err)
		} else {
			c.metrics.CrankAttempts.WithLabelValues("request", market.Symbol, "ok").Inc()
			c.logger.Info("processed place order", "market", market.Symbol, "signature", signature)
		}

		count, err = c.queueCount(ctx)
		if err != nil {
			c.logger.Error("read request queue failed", "err", err)
			break
		}
		if count == 0 {
			break
		}
	}
	return c.cfg.PollInterval
}

func (c *RequestCranker) queueCount(ctx context.Context) (uint16, error) {
	data, err := c.reader.GetAccount(ctx, c.queues.RequestQueue)
	if err != nil {
		return 0, fmt.Errorf("get request queue %s: %w", c.queues.RequestQueue, err)
	}
	count := codec.QueueCount(data)
	c.metrics.QueueDepth.WithLabelValues("request").Set(float64(count))
	return count, nil
}
