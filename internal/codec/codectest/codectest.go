// Package codectest builds synthetic perp program accounts for tests.
package codectest

import (
	"bytes"
	"encoding/binary"

	"github.com/coldbell/perpdex/backend/internal/codec"
	"github.com/gagliardetto/solana-go"
)

// Leaf describes one slab node.
type Leaf struct {
	Tag      codec.NodeTag
	Price    uint64
	Seq      uint64
	Quantity uint64
}

func Slab(nodes []Leaf) []byte {
	start := codec.DiscriminatorLen + codec.SlabHeaderLen
	data := make([]byte, start+len(nodes)*codec.SlabNodeSize)
	disc := codec.AccountDiscriminator("BidAsk")
	copy(data, disc[:])
	for i, n := range nodes {
		node := data[start+i*codec.SlabNodeSize:]
		binary.LittleEndian.PutUint32(node[0:], uint32(n.Tag))
		binary.LittleEndian.PutUint64(node[16:], n.Seq)
		binary.LittleEndian.PutUint64(node[24:], n.Price)
		binary.LittleEndian.PutUint64(node[64:], n.Quantity)
	}
	return data
}

// Levels builds a slab whose leaves are the given price/quantity pairs.
func Levels(pairs ...uint64) []byte {
	nodes := make([]Leaf, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		nodes = append(nodes, Leaf{Tag: codec.NodeLeaf, Price: pairs[i], Seq: uint64(i), Quantity: pairs[i+1]})
	}
	return Slab(nodes)
}

func Queue(disc [8]byte, head, count, capacity uint16) []byte {
	data := make([]byte, codec.EventSlotsOffset)
	copy(data, disc[:])
	binary.LittleEndian.PutUint16(data[8:], head)
	binary.LittleEndian.PutUint16(data[10:], head+count)
	binary.LittleEndian.PutUint16(data[12:], count)
	binary.LittleEndian.PutUint16(data[14:], capacity)
	return data
}

type EventSlot struct {
	Occupied   bool
	PayloadLen uint16
	User       solana.PublicKey
}

func EventQueue(head, count uint16, slots []EventSlot) []byte {
	data := append(Queue(codec.EventQueueDiscriminator, head, count, uint16(len(slots))), make([]byte, len(slots)*codec.EventSlotSize)...)
	for i, s := range slots {
		slot := data[codec.EventSlotsOffset+i*codec.EventSlotSize:]
		slot[0] = 1
		copy(slot[17:], s.User[:])
		binary.LittleEndian.PutUint16(slot[128:], s.PayloadLen)
		if s.Occupied {
			slot[130] = 1
		}
	}
	return data
}

func Pubkey(b byte) solana.PublicKey {
	var k solana.PublicKey
	for i := range k {
		k[i] = b
	}
	return k
}

type writer struct {
	buf bytes.Buffer
}

func newWriter(disc [8]byte) *writer {
	w := &writer{}
	w.buf.Write(disc[:])
	return w
}

func (w *writer) put(v any)              { _ = binary.Write(&w.buf, binary.LittleEndian, v) }
func (w *writer) key(k solana.PublicKey) { w.buf.Write(k[:]) }
func (w *writer) str(s string) {
	w.put(uint32(len(s)))
	w.buf.WriteString(s)
}

type Market struct {
	Symbol string
	Price  int64
	MmBps  uint16
	Bid    solana.PublicKey
	Asks   solana.PublicKey
}

func EncodeMarket(m Market) []byte {
	w := newWriter(codec.MarketStateDiscriminator)
	w.str(m.Symbol)
	w.key(Pubkey(1))
	w.key(Pubkey(2))
	w.put(m.Price)
	w.put(int64(1_700_000_000))
	w.key(m.Bid)
	w.key(m.Asks)
	w.key(Pubkey(5))
	w.key(Pubkey(6))
	w.put(uint16(1000))
	w.put(m.MmBps)
	w.put(uint16(10))
	w.put(uint16(250))
	w.put(int64(0))
	w.put(int64(0))
	w.put(int64(1_700_000_000))
	w.put(uint16(1))
	w.put(uint8(1))
	w.put(uint64(100))
	w.put(uint8(254))
	return w.buf.Bytes()
}

type Position struct {
	Owner  solana.PublicKey
	Market solana.PublicKey
	Side   codec.Side
	Status codec.OrderStatus
	Base   int64
	Entry  uint64
}

func EncodePosition(p Position) []byte {
	w := newWriter(codec.PositionDiscriminator)
	w.key(p.Owner)
	w.key(p.Market)
	w.put(uint64(42))
	w.put(uint64(0))
	w.put(uint8(p.Side))
	w.put(uint32(100))
	w.put(uint64(10))
	w.put(uint8(codec.OrderTypeLimit))
	w.put(uint8(p.Status))
	w.put(p.Base)
	w.put(p.Entry)
	w.put(int64(-3))
	w.put(int64(0))
	w.put(uint64(500))
	w.put(uint8(5))
	w.put(uint32(0))
	w.put(int64(1_700_000_000))
	w.put(int64(1_700_000_100))
	return w.buf.Bytes()
}

// EncodeUserCollateral writes amount as a sign-extended i128.
func EncodeUserCollateral(owner solana.PublicKey, amount int64) []byte {
	w := newWriter(codec.UserCollateralDiscriminator)
	w.key(owner)
	w.put(uint64(amount))
	if amount < 0 {
		w.put(^uint64(0))
	} else {
		w.put(uint64(0))
	}
	w.put(int64(1_700_000_000))
	return w.buf.Bytes()
}

type GlobalConfig struct {
	VaultQuote    solana.PublicKey
	InsuranceFund solana.PublicKey
}

func EncodeGlobalConfig(g GlobalConfig) []byte {
	w := newWriter(codec.GlobalConfigDiscriminator)
	w.key(Pubkey(1))
	w.key(g.VaultQuote)
	w.key(g.InsuranceFund)
	w.key(Pubkey(9))
	w.key(Pubkey(6))
	w.key(Pubkey(5))
	w.put(uint8(0))
	w.put(uint32(3600))
	w.put(uint8(253))
	return w.buf.Bytes()
}
