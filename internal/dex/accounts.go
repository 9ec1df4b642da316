package dex

import (
	"context"
	"fmt"
	"sort"

	"github.com/coldbell/perpdex/backend/internal/chain"
	"github.com/coldbell/perpdex/backend/internal/codec"
	"github.com/gagliardetto/solana-go"
)

// positionOwnerOffset is where Position.owner starts, right after the discriminator.
const positionOwnerOffset = codec.DiscriminatorLen

type AccountLister interface {
	ListAccountsByDiscriminator(ctx context.Context, disc [8]byte, extra ...chain.Memcmp) ([]chain.KeyedAccount, error)
}

type Market struct {
	Address solana.PublicKey
	Symbol  string
	State   *codec.MarketState
}

func (m Market) View() codec.MarketView {
	return codec.NewMarketView(m.Address, m.State)
}

// HasBook reports whether both order book slabs are set on the market.
func (m Market) HasBook() bool {
	return !m.State.Bid.IsZero() && !m.State.Asks.IsZero()
}

// Accounts returns the instruction accounts for m, preferring the addresses
// stored on chain over derived ones.
func (m Market) Accounts(programID solana.PublicKey) (MarketAccounts, error) {
	out, err := DeriveMarketAccounts(programID, m.Symbol)
	if err != nil {
		return MarketAccounts{}, err
	}
	out.Market = m.Address
	if m.HasBook() {
		out.Bids = m.State.Bid
		out.Asks = m.State.Asks
	}
	return out, nil
}

type Position struct {
	Address solana.PublicKey
	State   *codec.Position
}

// ListMarkets returns every decodable market account ordered by symbol.
// Accounts that fail to decode are dropped and counted.
func ListMarkets(ctx context.Context, lister AccountLister) ([]Market, int, error) {
	accounts, err := lister.ListAccountsByDiscriminator(ctx, codec.MarketStateDiscriminator)
	if err != nil {
		return nil, 0, fmt.Errorf("list markets: %w", err)
	}

	markets := make([]Market, 0, len(accounts))
	dropped := 0
	for _, account := range accounts {
		state, err := codec.DecodeMarket(account.Data)
		if err != nil {
			dropped++
			continue
		}
		markets = append(markets, Market{
			Address: account.Address,
			Symbol:  codec.MarketSymbol(account.Address, state.Symbol),
			State:   state,
		})
	}
	sort.Slice(markets, func(i, j int) bool {
		if markets[i].Symbol != markets[j].Symbol {
			return markets[i].Symbol < markets[j].Symbol
		}
		return markets[i].Address.String() < markets[j].Address.String()
	})
	return markets, dropped, nil
}

// ListPositions returns decodable positions, optionally restricted to owner.
func ListPositions(ctx context.Context, lister AccountLister, owner *solana.PublicKey) ([]Position, int, error) {
	var extra []chain.Memcmp
	if owner != nil {
		extra = append(extra, chain.Memcmp{Offset: positionOwnerOffset, Bytes: owner.Bytes()})
	}
	accounts, err := lister.ListAccountsByDiscriminator(ctx, codec.PositionDiscriminator, extra...)
	if err != nil {
		return nil, 0, fmt.Errorf("list positions: %w", err)
	}

	positions := make([]Position, 0, len(accounts))
	dropped := 0
	for _, account := range accounts {
		state, err := codec.DecodePosition(account.Data)
		if err != nil {
			dropped++
			continue
		}
		positions = append(positions, Position{Address: account.Address, State: state})
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Address.String() < positions[j].Address.String()
	})
	return positions, dropped, nil
}
