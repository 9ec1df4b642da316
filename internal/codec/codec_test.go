package codec_test

import (
	"errors"
	"math"
	"math/rand"
	"reflect"
	"testing"

	"github.com/coldbell/perpdex/backend/internal/codec"
	"github.com/coldbell/perpdex/backend/internal/codec/codectest"
)

func TestHasDiscriminator(t *testing.T) {
	data := codectest.EncodeMarket(codectest.Market{Symbol: "SOL-PERP", Price: 100})
	if !codec.HasDiscriminator(data, codec.MarketStateDiscriminator) {
		t.Fatal("expected market discriminator to match")
	}
	if codec.HasDiscriminator(data, codec.PositionDiscriminator) {
		t.Fatal("position discriminator must not match market data")
	}
	if codec.HasDiscriminator(data[:7], codec.MarketStateDiscriminator) {
		t.Fatal("short buffer must be rejected")
	}
}

func TestAccountDiscriminatorMatchesKnownConstants(t *testing.T) {
	if got := codec.AccountDiscriminator("MarketState"); got != codec.MarketStateDiscriminator {
		t.Fatalf("MarketState discriminator=%v want %v", got, codec.MarketStateDiscriminator)
	}
	if got := codec.AccountDiscriminator("Position"); got != codec.PositionDiscriminator {
		t.Fatalf("Position discriminator=%v want %v", got, codec.PositionDiscriminator)
	}
}

func TestSlabLevelsAggregatesLeaves(t *testing.T) {
	data := codectest.Slab([]codectest.Leaf{
		{Tag: codec.NodeLeaf, Price: 100, Seq: 1, Quantity: 5},
		{Tag: codec.NodeInner, Price: 999, Quantity: 999},
		{Tag: codec.NodeLeaf, Price: 100, Seq: 2, Quantity: 7},
		{Tag: codec.NodeFree, Price: 50, Quantity: 1},
		{Tag: codec.NodeLeaf, Price: 101, Seq: 3, Quantity: 1},
		{Tag: codec.NodeLeaf, Price: 0, Seq: 4, Quantity: 10},
		{Tag: codec.NodeLeaf, Price: 102, Seq: 5, Quantity: 0},
		{Tag: codec.NodeLeaf, Price: math.MaxUint64, Seq: 6, Quantity: 3},
		{Tag: codec.NodeLastFree},
	})

	got := codec.SlabLevels(data)
	want := map[uint64]uint64{100: 12, 101: 1}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SlabLevels=%v want %v", got, want)
	}
}

func TestSlabLevelsIgnoresPartialNodesAndShortBuffers(t *testing.T) {
	data := codectest.Levels(100, 5)
	if got := codec.SlabLevels(data[:len(data)-1]); len(got) != 0 {
		t.Fatalf("expected no levels for truncated slab, got %v", got)
	}

	withTail := append(append([]byte{}, data...), make([]byte, codec.SlabNodeSize-1)...)
	if got := codec.SlabLevels(withTail); got[100] != 5 || len(got) != 1 {
		t.Fatalf("trailing partial node changed result: %v", got)
	}
	if n := codec.SlabNodeCount(withTail); n != 1 {
		t.Fatalf("SlabNodeCount=%d want 1", n)
	}
}

func TestSlabLevelsOrderIndependent(t *testing.T) {
	leaves := []codectest.Leaf{
		{Tag: codec.NodeLeaf, Price: 10, Seq: 1, Quantity: 1},
		{Tag: codec.NodeLeaf, Price: 11, Seq: 2, Quantity: 2},
		{Tag: codec.NodeLeaf, Price: 10, Seq: 3, Quantity: 3},
		{Tag: codec.NodeInner},
		{Tag: codec.NodeLeaf, Price: 12, Seq: 4, Quantity: 4},
		{Tag: codec.NodeLeaf, Price: 11, Seq: 5, Quantity: 5},
	}
	want := codec.SlabLevels(codectest.Slab(leaves))

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]codectest.Leaf(nil), leaves...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		if got := codec.SlabLevels(codectest.Slab(shuffled)); !reflect.DeepEqual(got, want) {
			t.Fatalf("permutation %d changed levels: %v want %v", i, got, want)
		}
	}
}

func TestDecodeQueueHeader(t *testing.T) {
	data := codectest.Queue(codec.RequestQueueDiscriminator, 3, 4, 64)
	got, err := codec.DecodeQueueHeader(data)
	if err != nil {
		t.Fatalf("DecodeQueueHeader error: %v", err)
	}
	want := codec.QueueHeader{Head: 3, Tail: 7, Count: 4, Capacity: 64}
	if got != want {
		t.Fatalf("header=%+v want %+v", got, want)
	}
	if codec.QueueCount(data) != 4 {
		t.Fatalf("QueueCount=%d want 4", codec.QueueCount(data))
	}
	if _, err := codec.DecodeQueueHeader(data[:15]); !errors.Is(err, codec.ErrShortBuffer) {
		t.Fatalf("expected ErrShortBuffer, got %v", err)
	}
	if codec.QueueCount(data[:13]) != 0 {
		t.Fatal("short buffer must read as empty queue")
	}
}

func TestPeekEventHeadUser(t *testing.T) {
	alice := codectest.Pubkey(0xA1)
	bob := codectest.Pubkey(0xB0)
	slots := []codectest.EventSlot{
		{Occupied: true, PayloadLen: 90, User: alice},
		{Occupied: true, PayloadLen: 90, User: bob},
		{Occupied: false, PayloadLen: 90, User: alice},
		{Occupied: true, PayloadLen: 48, User: bob},
	}

	cases := []struct {
		name  string
		head  uint16
		count uint16
		want  bool
		user  [32]byte
	}{
		{name: "empty queue", head: 0, count: 0, want: false},
		{name: "head at first slot", head: 0, count: 2, want: true, user: alice},
		{name: "head at second slot", head: 1, count: 1, want: true, user: bob},
		{name: "unoccupied slot", head: 2, count: 1, want: false},
		{name: "payload too short for user", head: 3, count: 1, want: false},
		{name: "head beyond buffer", head: 9, count: 1, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := codec.PeekEventHeadUser(codectest.EventQueue(tc.head, tc.count, slots))
			if ok != tc.want {
				t.Fatalf("ok=%v want %v", ok, tc.want)
			}
			if ok && got != tc.user {
				t.Fatalf("user=%s want %x", got, tc.user)
			}
		})
	}
}

func TestDecodeAccountDispatch(t *testing.T) {
	owner := codectest.Pubkey(7)
	market := codectest.Pubkey(8)

	m := codec.DecodeAccount(codectest.EncodeMarket(codectest.Market{Symbol: "SOL-PERP", Price: 150, MmBps: 500}))
	if m.Kind != codec.KindMarket || m.Market == nil {
		t.Fatalf("market decode kind=%v err=%v", m.Kind, m.Err)
	}
	if m.Market.Symbol != "SOL-PERP" || m.Market.LastOraclePrice != 150 || m.Market.MmBps != 500 || m.Market.Bump != 254 {
		t.Fatalf("unexpected market %+v", m.Market)
	}

	p := codec.DecodeAccount(codectest.EncodePosition(codectest.Position{
		Owner: owner, Market: market, Side: codec.SideSell, Status: codec.StatusFilled, Base: -4, Entry: 90,
	}))
	if p.Kind != codec.KindPosition {
		t.Fatalf("position decode kind=%v err=%v", p.Kind, p.Err)
	}
	if p.Position.Owner != owner || p.Position.BasePosition != -4 || p.Position.EntryPrice != 90 || p.Position.Side != codec.SideSell {
		t.Fatalf("unexpected position %+v", p.Position)
	}
	if p.Position.UpdatedAt != 1_700_000_100 {
		t.Fatalf("UpdatedAt=%d, field alignment is off", p.Position.UpdatedAt)
	}

	c := codec.DecodeAccount(codectest.EncodeUserCollateral(owner, -25))
	if c.Kind != codec.KindUserCollateral {
		t.Fatalf("collateral decode kind=%v err=%v", c.Kind, c.Err)
	}
	if got := codec.Int128String(c.UserCollateral.CollateralAmount); got != "-25" {
		t.Fatalf("collateral=%s want -25", got)
	}

	g := codec.DecodeAccount(codectest.EncodeGlobalConfig(codectest.GlobalConfig{VaultQuote: codectest.Pubkey(3), InsuranceFund: codectest.Pubkey(4)}))
	if g.Kind != codec.KindGlobalConfig || g.GlobalConfig.VaultQuote != codectest.Pubkey(3) || g.GlobalConfig.FundingIntervalSecs != 3600 {
		t.Fatalf("global config decode kind=%v err=%v cfg=%+v", g.Kind, g.Err, g.GlobalConfig)
	}
}

func TestDecodeAccountFailures(t *testing.T) {
	full := codectest.EncodeMarket(codectest.Market{Symbol: "SOL-PERP", Price: 1})

	cases := map[string][]byte{
		"short":        full[:4],
		"unknown disc": append([]byte{9, 9, 9, 9, 9, 9, 9, 9}, full[8:]...),
		"truncated":    full[:40],
		"long symbol":  codectest.EncodeMarket(codectest.Market{Symbol: "THIS-SYMBOL-IS-TOO-LONG"}),
		"bad enum": codectest.EncodePosition(codectest.Position{
			Side: codec.Side(7),
		}),
	}
	for name, data := range cases {
		got := codec.DecodeAccount(data)
		if got.Kind != codec.KindFailure || got.Err == nil {
			t.Fatalf("%s: expected failure, got kind=%v", name, got.Kind)
		}
	}

	if _, err := codec.DecodePosition(full); !errors.Is(err, codec.ErrDiscriminatorMismatch) {
		t.Fatalf("expected discriminator mismatch, got %v", err)
	}
}

func TestViews(t *testing.T) {
	addr := codectest.Pubkey(0x11)
	m, err := codec.DecodeMarket(codectest.EncodeMarket(codectest.Market{Symbol: "\x00\x00", Price: 5}))
	if err != nil {
		t.Fatal(err)
	}
	view := codec.NewMarketView(addr, m)
	if view.Symbol != addr.String()[:8] {
		t.Fatalf("symbol fallback=%q want %q", view.Symbol, addr.String()[:8])
	}
	if view.PublicKey != addr.String() || view.LastOraclePrice != 5 {
		t.Fatalf("unexpected view %+v", view)
	}

	pos, err := codec.DecodePosition(codectest.EncodePosition(codectest.Position{Owner: addr, Side: codec.SideBuy, Status: codec.StatusPending, Base: 3}))
	if err != nil {
		t.Fatal(err)
	}
	pv := codec.NewPositionView(addr, pos)
	if pv.Side != "buy" || pv.Status != "pending" || pv.OrderType != "limit" || pv.OrderID != "42" {
		t.Fatalf("unexpected position view %+v", pv)
	}
}
