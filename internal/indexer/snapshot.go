package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/coldbell/perpdex/backend/internal/codec"
	"github.com/coldbell/perpdex/backend/internal/orderbook"
)

type UserState struct {
	Collateral *codec.UserCollateralView `json:"collateral"`
	Positions  []codec.PositionView      `json:"positions"`
}

// Snapshot is the aggregate state at one poll instant. It is never mutated
// after it has been built.
type Snapshot struct {
	Markets           []codec.MarketView        `json:"markets"`
	RequestQueueCount uint16                    `json:"requestQueueCount"`
	EventQueueCount   uint16                    `json:"eventQueueCount"`
	Users             map[string]UserState      `json:"users"`
	OrderBooks        map[string]orderbook.Book `json:"orderBooks"`
}

func EmptySnapshot() Snapshot {
	return Snapshot{
		Markets:    []codec.MarketView{},
		Users:      map[string]UserState{},
		OrderBooks: map[string]orderbook.Book{},
	}
}

// Fingerprint hashes a canonical encoding of the snapshot. Slices are sorted
// by identity and maps are encoded with sorted keys, so equal content always
// yields the same value regardless of fetch order.
func Fingerprint(s Snapshot) string {
	markets := append([]codec.MarketView(nil), s.Markets...)
	sort.Slice(markets, func(i, j int) bool { return markets[i].PublicKey < markets[j].PublicKey })

	users := make(map[string]UserState, len(s.Users))
	for key, user := range s.Users {
		positions := append([]codec.PositionView(nil), user.Positions...)
		sort.Slice(positions, func(i, j int) bool { return positions[i].PublicKey < positions[j].PublicKey })
		users[key] = UserState{Collateral: user.Collateral, Positions: positions}
	}

	canonical := struct {
		RequestQueueCount uint16                    `json:"r"`
		EventQueueCount   uint16                    `json:"e"`
		Markets           []codec.MarketView        `json:"m"`
		Users             map[string]UserState      `json:"u"`
		OrderBooks        map[string]orderbook.Book `json:"b"`
	}{
		RequestQueueCount: s.RequestQueueCount,
		EventQueueCount:   s.EventQueueCount,
		Markets:           markets,
		Users:             users,
		OrderBooks:        s.OrderBooks,
	}

	// Only plain data types reach the encoder, so Marshal cannot fail here.
	raw, _ := json.Marshal(canonical)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
