// Package keeper runs the request-queue and event-queue crank loops.
package keeper

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coldbell/perpdex/backend/internal/dex"
	"github.com/gagliardetto/solana-go"
)

// Submitter signs and sends program instructions.
type Submitter interface {
	Send(ctx context.Context, instructions ...solana.Instruction) (solana.Signature, error)
	PublicKey() solana.PublicKey
}

type Reader interface {
	GetAccount(ctx context.Context, address solana.PublicKey) ([]byte, error)
	dex.AccountLister
}

// ResolveMarkets returns the markets a cranker works on. Configured symbols
// are derived directly; otherwise the program's markets are discovered once.
func ResolveMarkets(ctx context.Context, programID solana.PublicKey, symbols []string, lister dex.AccountLister, logger *slog.Logger) ([]dex.MarketAccounts, error) {
	if len(symbols) > 0 {
		out := make([]dex.MarketAccounts, 0, len(symbols))
		for _, symbol := range symbols {
			accounts, err := dex.DeriveMarketAccounts(programID, symbol)
			if err != nil {
				return nil, err
			}
			out = append(out, accounts)
		}
		return out, nil
	}

	markets, dropped, err := dex.ListMarkets(ctx, lister)
	if err != nil {
		return nil, fmt.Errorf("discover markets: %w", err)
	}
	if dropped > 0 {
		logger.Warn("skipped undecodable market accounts", "count", dropped)
	}

	out := make([]dex.MarketAccounts, 0, len(markets))
	for _, market := range markets {
		accounts, err := market.Accounts(programID)
		if err != nil {
			return nil, err
		}
		out = append(out, accounts)
	}
	return out, nil
}

func symbols(markets []dex.MarketAccounts) []string {
	out := make([]string, 0, len(markets))
	for _, m := range markets {
		out = append(out, m.Symbol)
	}
	return out
}
