package codec

import (
	"encoding/binary"
	"math"
)

const (
	SlabHeaderLen = 32
	SlabNodeSize  = 88

	slabNodesOffset = DiscriminatorLen + SlabHeaderLen

	// Leaf layout: tag u32, fee tier and padding, key u128 at 16, owner at 32,
	// quantity u64 at 64, timestamp at 72.
	leafKeyLowOffset   = 16
	leafKeyHighOffset  = 24
	leafQuantityOffset = 64
)

type NodeTag uint32

const (
	NodeUninitialized NodeTag = 0
	NodeInner         NodeTag = 1
	NodeLeaf          NodeTag = 2
	NodeFree          NodeTag = 3
	NodeLastFree      NodeTag = 4
)

// SlabNodeCount returns how many whole nodes fit after the slab header.
func SlabNodeCount(data []byte) int {
	if len(data) < slabNodesOffset {
		return 0
	}
	return (len(data) - slabNodesOffset) / SlabNodeSize
}

// SlabLevels aggregates the resting leaves of one book side into price to
// total quantity. Node order in the buffer does not affect the result.
func SlabLevels(data []byte) map[uint64]uint64 {
	levels := make(map[uint64]uint64)
	if len(data) < slabNodesOffset+SlabNodeSize {
		return levels
	}

	count := SlabNodeCount(data)
	for i := 0; i < count; i++ {
		node := data[slabNodesOffset+i*SlabNodeSize : slabNodesOffset+(i+1)*SlabNodeSize]
		if NodeTag(binary.LittleEndian.Uint32(node[0:4])) != NodeLeaf {
			continue
		}
		price := binary.LittleEndian.Uint64(node[leafKeyHighOffset : leafKeyHighOffset+8])
		quantity := binary.LittleEndian.Uint64(node[leafQuantityOffset : leafQuantityOffset+8])
		if !positive(price) || !positive(quantity) {
			continue
		}
		levels[price] = saturatingAdd(levels[price], quantity)
	}
	return levels
}

// positive rejects zero and values that are negative when read as i64.
func positive(v uint64) bool {
	return v > 0 && v <= math.MaxInt64
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
