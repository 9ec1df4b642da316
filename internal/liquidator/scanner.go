// Package liquidator scans open positions and requests liquidation of those
// whose estimated health is negative.
package liquidator

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/coldbell/perpdex/backend/internal/chain"
	"github.com/coldbell/perpdex/backend/internal/codec"
	"github.com/coldbell/perpdex/backend/internal/config"
	"github.com/coldbell/perpdex/backend/internal/dex"
	"github.com/coldbell/perpdex/backend/internal/metrics"
	"github.com/gagliardetto/solana-go"
)

type Reader interface {
	GetAccount(ctx context.Context, address solana.PublicKey) ([]byte, error)
	GetAccounts(ctx context.Context, addresses ...solana.PublicKey) ([][]byte, error)
	dex.AccountLister
}

type Submitter interface {
	Send(ctx context.Context, instructions ...solana.Instruction) (solana.Signature, error)
	PublicKey() solana.PublicKey
}

// ScanResult summarizes one pass over the open positions.
type ScanResult struct {
	Open       int
	Skipped    int
	Unhealthy  int
	Liquidated int
}

type Scanner struct {
	cfg       config.LiquidatorConfig
	reader    Reader
	submitter Submitter
	queues    dex.Queues
	accounts  Accounts
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New loads the program-wide accounts liquidate needs. A missing global
// config or vault is a startup error.
func New(ctx context.Context, cfg config.LiquidatorConfig, reader Reader, submitter Submitter, m *metrics.Metrics, logger *slog.Logger) (*Scanner, error) {
	queues, err := dex.DeriveQueues(cfg.Chain.ProgramID)
	if err != nil {
		return nil, err
	}
	accounts, err := LoadAccounts(ctx, reader, queues, submitter.PublicKey())
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.New()
	}
	return &Scanner{
		cfg:       cfg,
		reader:    reader,
		submitter: submitter,
		queues:    queues,
		accounts:  accounts,
		metrics:   m,
		logger:    logger,
	}, nil
}

func (s *Scanner) Run(ctx context.Context) error {
	s.logger.Info("liquidator started",
		"rpc", s.cfg.Chain.RPCURL,
		"program", s.cfg.Chain.ProgramID,
		"liquidator", s.submitter.PublicKey(),
		"usdc_mint", s.accounts.USDCMint,
		"poll_interval", s.cfg.PollInterval.String(),
	)

	s.tick(ctx)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("liquidator stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scanner) tick(ctx context.Context) {
	result, err := s.Scan(ctx)
	if err != nil {
		s.logger.Error("liquidation scan failed", "err", err)
		return
	}
	if result.Unhealthy > 0 {
		s.logger.Info("liquidation scan complete",
			"open_positions", result.Open,
			"skipped", result.Skipped,
			"unhealthy", result.Unhealthy,
			"liquidated", result.Liquidated,
		)
	}
}

type candidate struct {
	position dex.Position
	market   dex.Market
}

// Scan evaluates every open position once and sends liquidate for each one
// with negative health.
func (s *Scanner) Scan(ctx context.Context) (ScanResult, error) {
	positions, dropped, err := dex.ListPositions(ctx, s.reader, nil)
	if err != nil {
		return ScanResult{}, err
	}
	if dropped > 0 {
		s.logger.Debug("skipped undecodable positions", "count", dropped)
	}
	markets, _, err := dex.ListMarkets(ctx, s.reader)
	if err != nil {
		return ScanResult{}, err
	}
	marketByAddress := make(map[solana.PublicKey]dex.Market, len(markets))
	for _, market := range markets {
		marketByAddress[market.Address] = market
	}

	var result ScanResult
	var candidates []candidate
	for _, position := range positions {
		if position.State.BasePosition == 0 {
			continue
		}
		result.Open++
		market, ok := marketByAddress[position.State.Market]
		if !ok || market.State.LastOraclePrice <= 0 {
			result.Skipped++
			continue
		}
		candidates = append(candidates, candidate{position: position, market: market})
	}
	s.metrics.PositionsScanned.Set(float64(result.Open))
	if len(candidates) == 0 {
		return result, nil
	}

	collaterals := s.collaterals(ctx, candidates)

	for _, c := range candidates {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		owner := c.position.State.Owner
		collateral, ok := collaterals[owner]
		if !ok {
			result.Skipped++
			continue
		}

		health := Health(collateral, c.position.State.BasePosition, c.position.State.EntryPrice, c.market.State.LastOraclePrice, c.market.State.MmBps)
		if health.Sign() >= 0 {
			continue
		}
		result.Unhealthy++
		if s.liquidate(ctx, c, health) {
			result.Liquidated++
		}
	}
	return result, nil
}

// collaterals fetches each distinct owner's collateral in batches of
// chain.MaxAccountsPerRequest. Owners whose batch failed or whose account is
// missing or undecodable are absent from the result.
func (s *Scanner) collaterals(ctx context.Context, candidates []candidate) map[solana.PublicKey]*big.Int {
	var owners []solana.PublicKey
	var addresses []solana.PublicKey
	seen := make(map[solana.PublicKey]struct{}, len(candidates))
	for _, c := range candidates {
		owner := c.position.State.Owner
		if _, ok := seen[owner]; ok {
			continue
		}
		seen[owner] = struct{}{}
		address, _, err := dex.DeriveUserCollateralPDA(s.cfg.Chain.ProgramID, owner)
		if err != nil {
			s.logger.Warn("derive collateral PDA failed", "user", owner, "err", err)
			continue
		}
		owners = append(owners, owner)
		addresses = append(addresses, address)
	}

	out := make(map[solana.PublicKey]*big.Int, len(owners))
	for start := 0; start < len(addresses); start += chain.MaxAccountsPerRequest {
		end := min(start+chain.MaxAccountsPerRequest, len(addresses))
		data, err := s.reader.GetAccounts(ctx, addresses[start:end]...)
		if err != nil {
			s.logger.Warn("fetch user collateral failed", "owners", end-start, "err", err)
			continue
		}
		for i, owner := range owners[start:end] {
			if i >= len(data) || data[i] == nil {
				continue
			}
			collateral, err := codec.DecodeUserCollateral(data[i])
			if err != nil {
				s.logger.Debug("skipping undecodable collateral", "user", owner, "err", err)
				continue
			}
			out[owner] = codec.Int128Big(collateral.CollateralAmount)
		}
	}
	return out
}
