package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

const (
	queueHeadOffset     = 8
	queueTailOffset     = 10
	queueCountOffset    = 12
	queueCapacityOffset = 14
	queueHeaderEnd      = 16

	// Event slots start after the header and the u64 sequence counter.
	EventSlotsOffset = 24
	// data[128] + len u16 + occupied u8 + 5 bytes padding.
	EventSlotSize = 136

	eventSlotPayloadLen     = 128
	eventSlotLenOffset      = 128
	eventSlotOccupiedOffset = 130

	// MatchedOrder payload: is_maker u8, order_id u128, user pubkey.
	matchedOrderUserOffset = 1 + 16
	matchedOrderUserLen    = 32
)

type QueueHeader struct {
	Head     uint16 `json:"head"`
	Tail     uint16 `json:"tail"`
	Count    uint16 `json:"count"`
	Capacity uint16 `json:"capacity"`
}

func DecodeQueueHeader(data []byte) (QueueHeader, error) {
	if len(data) < queueHeaderEnd {
		return QueueHeader{}, fmt.Errorf("%w: queue header needs %d bytes, got %d", ErrShortBuffer, queueHeaderEnd, len(data))
	}
	return QueueHeader{
		Head:     binary.LittleEndian.Uint16(data[queueHeadOffset:]),
		Tail:     binary.LittleEndian.Uint16(data[queueTailOffset:]),
		Count:    binary.LittleEndian.Uint16(data[queueCountOffset:]),
		Capacity: binary.LittleEndian.Uint16(data[queueCapacityOffset:]),
	}, nil
}

// QueueCount reads the pending entry count, treating short buffers as empty.
func QueueCount(data []byte) uint16 {
	if len(data) < queueCountOffset+2 {
		return 0
	}
	return binary.LittleEndian.Uint16(data[queueCountOffset:])
}

// PeekEventHeadUser returns the user of the matched order at the event queue
// head without consuming it.
func PeekEventHeadUser(data []byte) (solana.PublicKey, bool) {
	if QueueCount(data) == 0 {
		return solana.PublicKey{}, false
	}
	head := int(binary.LittleEndian.Uint16(data[queueHeadOffset:]))
	slot := EventSlotsOffset + head*EventSlotSize
	if len(data) < slot+eventSlotOccupiedOffset+1 {
		return solana.PublicKey{}, false
	}
	if data[slot+eventSlotOccupiedOffset] != 1 {
		return solana.PublicKey{}, false
	}
	payloadLen := int(binary.LittleEndian.Uint16(data[slot+eventSlotLenOffset:]))
	if payloadLen < matchedOrderUserOffset+matchedOrderUserLen || payloadLen > eventSlotPayloadLen {
		return solana.PublicKey{}, false
	}
	start := slot + matchedOrderUserOffset
	return solana.PublicKeyFromBytes(data[start : start+matchedOrderUserLen]), true
}
