package codec

import (
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const MaxSymbolLen = 16

var ErrInvalidField = errors.New("invalid account field")

type Side uint8

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

type OrderType uint8

const (
	OrderTypeMarket OrderType = iota
	OrderTypeLimit
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "market"
	case OrderTypeLimit:
		return "limit"
	default:
		return fmt.Sprintf("order_type(%d)", uint8(t))
	}
}

type OrderStatus uint8

const (
	StatusPending OrderStatus = iota
	StatusPartiallyFilled
	StatusFilled
	StatusClosed
	StatusCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusPartiallyFilled:
		return "partiallyFilled"
	case StatusFilled:
		return "filled"
	case StatusClosed:
		return "closed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// MarketState mirrors the Borsh layout of the on-chain market account.
type MarketState struct {
	Symbol           string
	Authority        solana.PublicKey
	OraclePubkey     solana.PublicKey
	LastOraclePrice  int64
	LastOracleTs     int64
	Bid              solana.PublicKey
	Asks             solana.PublicKey
	EventQueue       solana.PublicKey
	RequestQueue     solana.PublicKey
	ImBps            uint16
	MmBps            uint16
	TakerFeeBps      uint16
	OracleBandBps    uint16
	CumFundingLong   int64
	CumFundingShort  int64
	LastFundingTs    int64
	TickSize         uint16
	StepSize         uint8
	MinOrderNotional uint64
	Bump             uint8
}

type Position struct {
	Owner          solana.PublicKey
	Market         solana.PublicKey
	OrderID        bin.Uint128
	Side           Side
	Price          uint32
	Qty            uint64
	OrderType      OrderType
	Status         OrderStatus
	BasePosition   int64
	EntryPrice     uint64
	RealizedPnl    int64
	LastCumFunding int64
	InitialMargin  uint64
	Leverage       uint8
	Flags          uint32
	CreatedAt      int64
	UpdatedAt      int64
}

type UserCollateral struct {
	Owner            solana.PublicKey
	CollateralAmount bin.Int128
	LastUpdated      int64
}

type GlobalConfig struct {
	Authority           solana.PublicKey
	VaultQuote          solana.PublicKey
	InsuranceFund       solana.PublicKey
	FeePool             solana.PublicKey
	RequestQueue        solana.PublicKey
	EventQueue          solana.PublicKey
	TradingPaused       bool
	FundingIntervalSecs uint32
	Bump                uint8
}

func DecodeMarket(data []byte) (*MarketState, error) {
	var out MarketState
	if err := decodeBorsh(data, MarketStateDiscriminator, &out); err != nil {
		return nil, fmt.Errorf("decode market: %w", err)
	}
	if len(out.Symbol) > MaxSymbolLen {
		return nil, fmt.Errorf("decode market: %w: symbol length %d", ErrInvalidField, len(out.Symbol))
	}
	return &out, nil
}

func DecodePosition(data []byte) (*Position, error) {
	var out Position
	if err := decodeBorsh(data, PositionDiscriminator, &out); err != nil {
		return nil, fmt.Errorf("decode position: %w", err)
	}
	if out.Side > SideSell || out.OrderType > OrderTypeLimit || out.Status > StatusCancelled {
		return nil, fmt.Errorf("decode position: %w: enum out of range", ErrInvalidField)
	}
	return &out, nil
}

func DecodeUserCollateral(data []byte) (*UserCollateral, error) {
	var out UserCollateral
	if err := decodeBorsh(data, UserCollateralDiscriminator, &out); err != nil {
		return nil, fmt.Errorf("decode user collateral: %w", err)
	}
	return &out, nil
}

func DecodeGlobalConfig(data []byte) (*GlobalConfig, error) {
	var out GlobalConfig
	if err := decodeBorsh(data, GlobalConfigDiscriminator, &out); err != nil {
		return nil, fmt.Errorf("decode global config: %w", err)
	}
	return &out, nil
}

func decodeBorsh(data []byte, disc [8]byte, v any) error {
	if err := checkDiscriminator(data, disc); err != nil {
		return err
	}
	if err := bin.NewBorshDecoder(data[DiscriminatorLen:]).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrShortBuffer, err)
	}
	return nil
}

type Kind uint8

const (
	KindFailure Kind = iota
	KindMarket
	KindPosition
	KindUserCollateral
	KindGlobalConfig
)

func (k Kind) String() string {
	switch k {
	case KindMarket:
		return "market"
	case KindPosition:
		return "position"
	case KindUserCollateral:
		return "user_collateral"
	case KindGlobalConfig:
		return "global_config"
	default:
		return "failure"
	}
}

// Decoded is the result of DecodeAccount. Exactly one of the record pointers
// is set unless Kind is KindFailure, in which case Err explains why.
type Decoded struct {
	Kind           Kind
	Market         *MarketState
	Position       *Position
	UserCollateral *UserCollateral
	GlobalConfig   *GlobalConfig
	Err            error
}

// DecodeAccount dispatches on the account discriminator.
func DecodeAccount(data []byte) Decoded {
	if len(data) < DiscriminatorLen {
		return Decoded{Kind: KindFailure, Err: ErrShortBuffer}
	}

	var disc [8]byte
	copy(disc[:], data[:DiscriminatorLen])

	switch disc {
	case MarketStateDiscriminator:
		m, err := DecodeMarket(data)
		if err != nil {
			return Decoded{Kind: KindFailure, Err: err}
		}
		return Decoded{Kind: KindMarket, Market: m}
	case PositionDiscriminator:
		p, err := DecodePosition(data)
		if err != nil {
			return Decoded{Kind: KindFailure, Err: err}
		}
		return Decoded{Kind: KindPosition, Position: p}
	case UserCollateralDiscriminator:
		c, err := DecodeUserCollateral(data)
		if err != nil {
			return Decoded{Kind: KindFailure, Err: err}
		}
		return Decoded{Kind: KindUserCollateral, UserCollateral: c}
	case GlobalConfigDiscriminator:
		g, err := DecodeGlobalConfig(data)
		if err != nil {
			return Decoded{Kind: KindFailure, Err: err}
		}
		return Decoded{Kind: KindGlobalConfig, GlobalConfig: g}
	default:
		return Decoded{Kind: KindFailure, Err: ErrDiscriminatorMismatch}
	}
}
