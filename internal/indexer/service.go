// Package indexer polls the perp program, builds snapshots of markets, queue
// depths, order books and subscribed users, and publishes them on change.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coldbell/perpdex/backend/internal/chain"
	"github.com/coldbell/perpdex/backend/internal/config"
	"github.com/coldbell/perpdex/backend/internal/dex"
	"github.com/coldbell/perpdex/backend/internal/metrics"
	"github.com/coldbell/perpdex/backend/internal/orderbook"
	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"
)

const rateLimitLogInterval = time.Minute

// SnapshotSink persists published snapshots.
type SnapshotSink interface {
	InsertSnapshot(ctx context.Context, fingerprint string, snapshot Snapshot) error
}

type Service struct {
	cfg     config.IndexerConfig
	fetcher *Fetcher
	state   *State
	sink    SnapshotSink
	metrics *metrics.Metrics
	logger  *slog.Logger
	backoff *Backoff

	lastRateLimitLog time.Time
	now              func() time.Time
}

type Option func(*Service)

func WithState(state *State) Option { return func(s *Service) { s.state = state } }

func WithSink(sink SnapshotSink) Option { return func(s *Service) { s.sink = sink } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func New(cfg config.IndexerConfig, reader Reader, logger *slog.Logger, opts ...Option) (*Service, error) {
	fetcher, err := NewFetcher(reader, cfg.Chain.ProgramID, cfg.OrderbookDepth)
	if err != nil {
		return nil, fmt.Errorf("init fetcher: %w", err)
	}
	s := &Service{
		cfg:     cfg,
		fetcher: fetcher,
		logger:  logger,
		backoff: NewBackoff(cfg.PollInterval, cfg.MaxBackoff),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.state == nil {
		s.state = NewState()
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	return s, nil
}

func (s *Service) State() *State { return s.state }

func (s *Service) Fetcher() *Fetcher { return s.fetcher }

func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("indexer started",
		"rpc", s.cfg.Chain.RPCURL,
		"program", s.cfg.Chain.ProgramID,
		"poll_interval", s.cfg.PollInterval.String(),
		"max_backoff", s.cfg.MaxBackoff.String(),
		"persist", s.sink != nil,
	)

	for {
		delay := s.scheduleNext(ctx, s.RunOnce(ctx))
		s.metrics.IndexerBackoff.Set(delay.Seconds())

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("indexer stopped")
			return nil
		case <-timer.C:
		}
	}
}

// RunOnce performs one poll. A failed poll publishes nothing and leaves the
// previously published snapshot in place.
func (s *Service) RunOnce(ctx context.Context) error {
	users := s.state.SubscribedUsers(s.cfg.MaxSubscribedUsers)
	s.metrics.SubscribedUsers.Set(float64(s.state.SubscriberCount()))

	var (
		markets      []dex.Market
		requestCount uint16
		eventCount   uint16
	)
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		markets, err = s.fetcher.Markets(gctx)
		return err
	})
	group.Go(func() error {
		var err error
		requestCount, err = s.fetcher.RequestQueueCount(gctx)
		if err != nil {
			return fmt.Errorf("request queue count: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		var err error
		eventCount, err = s.fetcher.EventQueueCount(gctx)
		if err != nil {
			return fmt.Errorf("event queue count: %w", err)
		}
		return nil
	})
	if err := group.Wait(); err != nil {
		return err
	}
	s.metrics.QueueDepth.WithLabelValues("request").Set(float64(requestCount))
	s.metrics.QueueDepth.WithLabelValues("event").Set(float64(eventCount))

	var mu sync.Mutex
	books := make(map[string]orderbook.Book, len(markets))
	userStates := make(map[string]UserState, len(users))

	bySymbol, shadowed := marketsBySymbol(markets)
	for _, market := range shadowed {
		s.logger.Warn("duplicate market symbol, order book omitted",
			"market", market.Symbol,
			"omitted", market.Address,
			"kept", bySymbol[market.Symbol].Address,
		)
	}

	group, gctx = errgroup.WithContext(ctx)
	for _, market := range bySymbol {
		if !market.HasBook() {
			continue
		}
		group.Go(func() error {
			book, err := s.fetcher.OrderBook(gctx, market)
			if err != nil {
				return err
			}
			mu.Lock()
			books[market.Symbol] = book
			mu.Unlock()
			return nil
		})
	}
	for _, user := range users {
		group.Go(func() error {
			key, err := solana.PublicKeyFromBase58(user)
			if err != nil {
				return nil
			}
			state, err := s.fetcher.User(gctx, key)
			if err != nil {
				return fmt.Errorf("fetch user %s: %w", user, err)
			}
			mu.Lock()
			userStates[user] = state
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	snapshot := Snapshot{
		Markets:           marketViews(markets),
		RequestQueueCount: requestCount,
		EventQueueCount:   eventCount,
		Users:             userStates,
		OrderBooks:        books,
	}
	if !s.state.PublishIfChanged(snapshot) {
		return nil
	}

	s.metrics.SnapshotsPublished.Inc()
	s.logger.Debug("snapshot published",
		"markets", len(snapshot.Markets),
		"request_queue", requestCount,
		"event_queue", eventCount,
		"users", len(userStates),
	)
	if s.sink != nil {
		if err := s.sink.InsertSnapshot(ctx, s.state.Fingerprint(), snapshot); err != nil {
			s.logger.Error("persist snapshot failed", "err", err)
		}
	}
	return nil
}

// scheduleNext returns the delay before the next tick: the base interval
// after success or an ordinary failure, a growing delay while rate limited.
func (s *Service) scheduleNext(ctx context.Context, err error) time.Duration {
	switch {
	case err == nil:
		s.metrics.IndexerTicks.WithLabelValues("ok").Inc()
		return s.backoff.Reset()
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return s.backoff.Base()
	case chain.Classify(err) == chain.KindRateLimited:
		s.metrics.IndexerTicks.WithLabelValues("rate_limited").Inc()
		delay := s.backoff.Next()
		if now := s.now(); now.Sub(s.lastRateLimitLog) > rateLimitLogInterval {
			s.lastRateLimitLog = now
			s.logger.Warn("rpc rate limited, backing off; raise INDEXER_POLL_INTERVAL or use a dedicated RPC",
				"next_delay", delay.String(),
			)
		}
		return delay
	default:
		s.metrics.IndexerTicks.WithLabelValues("error").Inc()
		s.logger.Error("indexer tick failed", "err", err)
		return s.backoff.Base()
	}
}
