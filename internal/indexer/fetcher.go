package indexer

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/coldbell/perpdex/backend/internal/chain"
	"github.com/coldbell/perpdex/backend/internal/codec"
	"github.com/coldbell/perpdex/backend/internal/dex"
	"github.com/coldbell/perpdex/backend/internal/orderbook"
	"github.com/gagliardetto/solana-go"
)

var ErrMarketNotFound = errors.New("market or order book not found")

// Reader is the chain access the fetcher needs; *chain.Reader satisfies it.
type Reader interface {
	GetAccount(ctx context.Context, address solana.PublicKey) ([]byte, error)
	GetAccounts(ctx context.Context, addresses ...solana.PublicKey) ([][]byte, error)
	ListAccountsByDiscriminator(ctx context.Context, disc [8]byte, extra ...chain.Memcmp) ([]chain.KeyedAccount, error)
}

// Fetcher reads and decodes the program state served by the indexer and the
// read API.
type Fetcher struct {
	reader    Reader
	programID solana.PublicKey
	queues    dex.Queues
	depth     int
}

func NewFetcher(reader Reader, programID solana.PublicKey, depth int) (*Fetcher, error) {
	queues, err := dex.DeriveQueues(programID)
	if err != nil {
		return nil, err
	}
	return &Fetcher{reader: reader, programID: programID, queues: queues, depth: depth}, nil
}

func (f *Fetcher) Markets(ctx context.Context) ([]dex.Market, error) {
	markets, _, err := dex.ListMarkets(ctx, f.reader)
	return markets, err
}

func (f *Fetcher) MarketViews(ctx context.Context) ([]codec.MarketView, error) {
	markets, err := f.Markets(ctx)
	if err != nil {
		return nil, err
	}
	return marketViews(markets), nil
}

func (f *Fetcher) RequestQueueCount(ctx context.Context) (uint16, error) {
	return f.queueCount(ctx, f.queues.RequestQueue)
}

func (f *Fetcher) EventQueueCount(ctx context.Context) (uint16, error) {
	return f.queueCount(ctx, f.queues.EventQueue)
}

func (f *Fetcher) queueCount(ctx context.Context, address solana.PublicKey) (uint16, error) {
	data, err := f.reader.GetAccount(ctx, address)
	if err != nil {
		return 0, err
	}
	return codec.QueueCount(data), nil
}

// OrderBook fetches both slabs of the market in one round trip.
func (f *Fetcher) OrderBook(ctx context.Context, market dex.Market) (orderbook.Book, error) {
	slabs, err := f.reader.GetAccounts(ctx, market.State.Bid, market.State.Asks)
	if err != nil {
		return orderbook.Book{}, fmt.Errorf("fetch order book %s: %w", market.Symbol, err)
	}
	var bids, asks []byte
	if len(slabs) == 2 {
		bids, asks = slabs[0], slabs[1]
	}
	return orderbook.Build(bids, asks, f.depth), nil
}

// OrderBookBySymbol resolves the market by symbol first and returns
// ErrMarketNotFound when it is unknown or has no book accounts.
func (f *Fetcher) OrderBookBySymbol(ctx context.Context, symbol string) (orderbook.Book, error) {
	markets, err := f.Markets(ctx)
	if err != nil {
		return orderbook.Book{}, err
	}
	bySymbol, _ := marketsBySymbol(markets)
	market, ok := bySymbol[symbol]
	if !ok || !market.HasBook() {
		return orderbook.Book{}, ErrMarketNotFound
	}
	return f.OrderBook(ctx, market)
}

// marketsBySymbol picks one market per symbol, the one with the lowest
// address, and returns the markets it shadowed.
func marketsBySymbol(markets []dex.Market) (map[string]dex.Market, []dex.Market) {
	out := make(map[string]dex.Market, len(markets))
	var shadowed []dex.Market
	for _, market := range markets {
		current, ok := out[market.Symbol]
		if !ok {
			out[market.Symbol] = market
			continue
		}
		if bytes.Compare(market.Address[:], current.Address[:]) < 0 {
			out[market.Symbol] = market
			market = current
		}
		shadowed = append(shadowed, market)
	}
	return out, shadowed
}

// User returns the collateral record (nil when absent or undecodable) and
// the positions owned by user.
func (f *Fetcher) User(ctx context.Context, user solana.PublicKey) (UserState, error) {
	collateralKey, _, err := dex.DeriveUserCollateralPDA(f.programID, user)
	if err != nil {
		return UserState{}, fmt.Errorf("derive collateral PDA: %w", err)
	}
	data, err := f.reader.GetAccount(ctx, collateralKey)
	if err != nil {
		return UserState{}, err
	}

	out := UserState{Positions: []codec.PositionView{}}
	if data != nil {
		if collateral, err := codec.DecodeUserCollateral(data); err == nil {
			view := codec.NewUserCollateralView(collateral)
			out.Collateral = &view
		}
	}

	positions, _, err := dex.ListPositions(ctx, f.reader, &user)
	if err != nil {
		return UserState{}, err
	}
	for _, position := range positions {
		out.Positions = append(out.Positions, codec.NewPositionView(position.Address, position.State))
	}
	return out, nil
}

func marketViews(markets []dex.Market) []codec.MarketView {
	out := make([]codec.MarketView, 0, len(markets))
	for _, market := range markets {
		out = append(out, market.View())
	}
	return out
}
