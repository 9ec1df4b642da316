// Package orderbook turns raw bid/ask slab accounts into a depth view.
package orderbook

import (
	"math/big"
	"sort"
	"strconv"

	"github.com/coldbell/perpdex/backend/internal/codec"
	"github.com/shopspring/decimal"
)

const DefaultDepth = 20

type Level struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// Book is the aggregated depth of one market. MidPrice, BidPct and AskPct are
// absent when they cannot be computed.
type Book struct {
	Bids     []Level  `json:"bids"`
	Asks     []Level  `json:"asks"`
	MidPrice *string  `json:"midPrice,omitempty"`
	BidPct   *float64 `json:"bidPct,omitempty"`
	AskPct   *float64 `json:"askPct,omitempty"`
}

var hundred = decimal.NewFromInt(100)

// Build aggregates both slabs. Nil or short slab data yields an empty side.
func Build(bidData, askData []byte, depth int) Book {
	if depth <= 0 {
		depth = DefaultDepth
	}

	bidPrices, bids, bidVol := side(codec.SlabLevels(bidData), depth, true)
	askPrices, asks, askVol := side(codec.SlabLevels(askData), depth, false)

	book := Book{Bids: bids, Asks: asks}
	book.MidPrice = midPrice(bidPrices, askPrices)

	total := bidVol.Add(askVol)
	if total.IsPositive() {
		bidPct := bidVol.Div(total).Mul(hundred).Round(2).InexactFloat64()
		askPct := askVol.Div(total).Mul(hundred).Round(2).InexactFloat64()
		book.BidPct = &bidPct
		book.AskPct = &askPct
	}
	return book
}

func side(levels map[uint64]uint64, depth int, descending bool) ([]uint64, []Level, decimal.Decimal) {
	prices := make([]uint64, 0, len(levels))
	for price := range levels {
		prices = append(prices, price)
	}
	sort.Slice(prices, func(i, j int) bool {
		if descending {
			return prices[i] > prices[j]
		}
		return prices[i] < prices[j]
	})
	if len(prices) > depth {
		prices = prices[:depth]
	}

	out := make([]Level, 0, len(prices))
	volume := decimal.Zero
	for _, price := range prices {
		size := levels[price]
		out = append(out, Level{
			Price: strconv.FormatUint(price, 10),
			Size:  strconv.FormatUint(size, 10),
		})
		volume = volume.Add(fromUint64(size))
	}
	return prices, out, volume
}

func midPrice(bids, asks []uint64) *string {
	var out string
	switch {
	case len(bids) > 0 && len(asks) > 0:
		out = fromUint64(bids[0]).Add(fromUint64(asks[0])).Div(decimal.NewFromInt(2)).StringFixed(4)
	case len(bids) > 0:
		out = strconv.FormatUint(bids[0], 10)
	case len(asks) > 0:
		out = strconv.FormatUint(asks[0], 10)
	default:
		return nil
	}
	return &out
}

func fromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}
