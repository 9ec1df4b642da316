package codec

import (
	"bytes"
	"crypto/sha256"
	"errors"
)

const DiscriminatorLen = 8

var (
	ErrShortBuffer           = errors.New("account data too short")
	ErrDiscriminatorMismatch = errors.New("account discriminator mismatch")
)

// Anchor account discriminators of the perp program.
var (
	MarketStateDiscriminator    = [8]byte{0, 125, 123, 215, 95, 96, 164, 194}
	PositionDiscriminator       = [8]byte{170, 188, 143, 228, 122, 64, 247, 208}
	UserCollateralDiscriminator = AccountDiscriminator("UserCollateral")
	GlobalConfigDiscriminator   = AccountDiscriminator("GlobalConfig")
	RequestQueueDiscriminator   = AccountDiscriminator("RequestQueue")
	EventQueueDiscriminator     = AccountDiscriminator("EventQueue")
)

// AccountDiscriminator is sha256("account:<name>")[:8].
func AccountDiscriminator(name string) [8]byte {
	hash := sha256.Sum256([]byte("account:" + name))
	var out [8]byte
	copy(out[:], hash[:8])
	return out
}

func HasDiscriminator(data []byte, disc [8]byte) bool {
	return len(data) >= DiscriminatorLen && bytes.Equal(data[:DiscriminatorLen], disc[:])
}

func checkDiscriminator(data []byte, disc [8]byte) error {
	if len(data) < DiscriminatorLen {
		return ErrShortBuffer
	}
	if !bytes.Equal(data[:DiscriminatorLen], disc[:]) {
		return ErrDiscriminatorMismatch
	}
	return nil
}
