package address

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Seed prefixes for the record kinds managed by the protocol. The prefix is
// the first keccak input so records of different kinds can never collide even
// when their identifying fields match.
const (
	OperatorSeed = "operator"
	MerchantSeed = "merchant"
	ConfigSeed   = "merchant_operator_config"
	PaymentSeed  = "payment"
)

// Address identifies a protocol record. It is the keccak256 digest of the
// record's seed tuple plus a disambiguation bump byte, so any party holding
// the seeds can recompute it offline without a lookup table.
type Address [32]byte

var errNoValidBump = errors.New("address: no valid bump for seed tuple")

// ErrBumpMismatch is returned when a caller-supplied bump does not reproduce
// the claimed address.
var ErrBumpMismatch = errors.New("address: bump does not derive address")

// Derive computes the record address for the seed tuple and the bump that
// makes it land on a valid storage slot. Bumps are scanned from 255 downward;
// digests whose first byte is zero are rejected because the zero page is
// reserved for table prefixes. Derivation is pure: identical seeds always
// yield the identical address and bump.
func Derive(prefix string, seeds ...[]byte) (Address, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		addr := deriveAt(prefix, seeds, uint8(bump))
		if addr[0] != 0x00 {
			return addr, uint8(bump), nil
		}
	}
	// 256 consecutive zero-prefixed digests is not reachable in practice.
	return Address{}, 0, errNoValidBump
}

// Verify checks that the supplied bump reproduces addr from the seed tuple.
// A wrong bump simply fails to match the real record, which makes addresses
// tamper evident.
func Verify(addr Address, bump uint8, prefix string, seeds ...[]byte) error {
	derived := deriveAt(prefix, seeds, bump)
	if derived != addr || derived[0] == 0x00 {
		return ErrBumpMismatch
	}
	return nil
}

func deriveAt(prefix string, seeds [][]byte, bump uint8) Address {
	parts := make([][]byte, 0, len(seeds)+2)
	parts = append(parts, []byte(prefix))
	parts = append(parts, seeds...)
	parts = append(parts, []byte{bump})
	var addr Address
	copy(addr[:], ethcrypto.Keccak256(parts...))
	return addr
}

// Bytes returns the address as a byte slice.
func (a Address) Bytes() []byte { return a[:] }

// Hex renders the address as a 0x-prefixed hex string.
func (a Address) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

// String implements fmt.Stringer.
func (a Address) String() string { return a.Hex() }

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool { return a == Address{} }

// Parse decodes a hex address with or without the 0x prefix.
func Parse(s string) (Address, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return Address{}, fmt.Errorf("address: invalid hex: %w", err)
	}
	if len(raw) != len(Address{}) {
		return Address{}, fmt.Errorf("address: expected %d bytes, got %d", len(Address{}), len(raw))
	}
	var addr Address
	copy(addr[:], raw)
	return addr, nil
}
