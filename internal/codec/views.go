package codec

import (
	"math/big"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// MarketView is the JSON shape served to clients. Integers that can exceed
// 2^53 are rendered as strings.
type MarketView struct {
	PublicKey        string `json:"publicKey"`
	Symbol           string `json:"symbol"`
	Authority        string `json:"authority"`
	LastOraclePrice  int64  `json:"lastOraclePrice"`
	LastOracleTs     int64  `json:"lastOracleTs"`
	Bid              string `json:"bid"`
	Asks             string `json:"asks"`
	ImBps            uint16 `json:"imBps"`
	MmBps            uint16 `json:"mmBps"`
	TickSize         uint16 `json:"tickSize"`
	StepSize         uint8  `json:"stepSize"`
	MinOrderNotional uint64 `json:"minOrderNotional"`
}

type UserCollateralView struct {
	Owner            string `json:"owner"`
	CollateralAmount string `json:"collateralAmount"`
	LastUpdated      int64  `json:"lastUpdated"`
}

type PositionView struct {
	PublicKey    string `json:"publicKey"`
	Owner        string `json:"owner"`
	Market       string `json:"market"`
	OrderID      string `json:"orderId"`
	Side         string `json:"side"`
	OrderType    string `json:"orderType"`
	Status       string `json:"status"`
	BasePosition int64  `json:"basePosition"`
	EntryPrice   uint64 `json:"entryPrice"`
	RealizedPnl  int64  `json:"realizedPnl"`
	Qty          uint64 `json:"qty"`
	Leverage     uint8  `json:"leverage"`
	UpdatedAt    int64  `json:"updatedAt"`
}

// MarketSymbol strips NUL padding; an empty symbol falls back to the first
// eight characters of the market address.
func MarketSymbol(address solana.PublicKey, raw string) string {
	symbol := strings.TrimSpace(strings.ReplaceAll(raw, "\x00", ""))
	if symbol != "" {
		return symbol
	}
	addr := address.String()
	if len(addr) > 8 {
		addr = addr[:8]
	}
	return addr
}

func NewMarketView(address solana.PublicKey, m *MarketState) MarketView {
	return MarketView{
		PublicKey:        address.String(),
		Symbol:           MarketSymbol(address, m.Symbol),
		Authority:        m.Authority.String(),
		LastOraclePrice:  m.LastOraclePrice,
		LastOracleTs:     m.LastOracleTs,
		Bid:              m.Bid.String(),
		Asks:             m.Asks.String(),
		ImBps:            m.ImBps,
		MmBps:            m.MmBps,
		TickSize:         m.TickSize,
		StepSize:         m.StepSize,
		MinOrderNotional: m.MinOrderNotional,
	}
}

func NewUserCollateralView(c *UserCollateral) UserCollateralView {
	return UserCollateralView{
		Owner:            c.Owner.String(),
		CollateralAmount: Int128String(c.CollateralAmount),
		LastUpdated:      c.LastUpdated,
	}
}

func NewPositionView(address solana.PublicKey, p *Position) PositionView {
	return PositionView{
		PublicKey:    address.String(),
		Owner:        p.Owner.String(),
		Market:       p.Market.String(),
		OrderID:      Uint128String(p.OrderID),
		Side:         p.Side.String(),
		OrderType:    p.OrderType.String(),
		Status:       p.Status.String(),
		BasePosition: p.BasePosition,
		EntryPrice:   p.EntryPrice,
		RealizedPnl:  p.RealizedPnl,
		Qty:          p.Qty,
		Leverage:     p.Leverage,
		UpdatedAt:    p.UpdatedAt,
	}
}

func Uint128Big(v bin.Uint128) *big.Int {
	out := new(big.Int).SetUint64(v.Hi)
	out.Lsh(out, 64)
	return out.Or(out, new(big.Int).SetUint64(v.Lo))
}

// Int128Big interprets the two words as a two's complement i128.
func Int128Big(v bin.Int128) *big.Int {
	out := Uint128Big(bin.Uint128{Lo: v.Lo, Hi: v.Hi})
	if v.Hi&(1<<63) != 0 {
		out.Sub(out, new(big.Int).Lsh(big.NewInt(1), 128))
	}
	return out
}

func Uint128String(v bin.Uint128) string { return Uint128Big(v).String() }

func Int128String(v bin.Int128) string { return Int128Big(v).String() }
