package commerce

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"commercepay/core/address"
)

// PublicKey identifies an off-protocol authority (operator owner, merchant
// owner, settlement wallet, buyer). The protocol never verifies signatures
// itself; the surrounding signer capability supplies authenticated callers.
type PublicKey [32]byte

// CurrencyID identifies a fungible token recognised by the deployment.
type CurrencyID [32]byte

// Hex renders the key as a 0x-prefixed hex string.
func (p PublicKey) Hex() string { return "0x" + hex.EncodeToString(p[:]) }

// IsZero reports whether the key is unset.
func (p PublicKey) IsZero() bool { return p == PublicKey{} }

// Hex renders the currency identifier as a 0x-prefixed hex string.
func (c CurrencyID) Hex() string { return "0x" + hex.EncodeToString(c[:]) }

// ParsePublicKey decodes a 32-byte hex public key.
func ParsePublicKey(s string) (PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return PublicKey{}, fmt.Errorf("commerce: invalid public key hex: %w", err)
	}
	if len(raw) != 32 {
		return PublicKey{}, fmt.Errorf("commerce: public key must be 32 bytes, got %d", len(raw))
	}
	var key PublicKey
	copy(key[:], raw)
	return key, nil
}

// ParseCurrencyID decodes a 32-byte hex currency identifier.
func ParseCurrencyID(s string) (CurrencyID, error) {
	key, err := ParsePublicKey(s)
	if err != nil {
		return CurrencyID{}, fmt.Errorf("commerce: invalid currency id: %w", err)
	}
	return CurrencyID(key), nil
}

// Status enumerates the lifecycle states of a Payment record. "Closed" is not
// a stored status: it is the absence of the record after ClosePayment.
type Status uint8

const (
	StatusPaid        Status = 0
	StatusCleared     Status = 1
	StatusChargedback Status = 2
	StatusRefunded    Status = 3
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusPaid, StatusCleared, StatusChargedback, StatusRefunded:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusPaid:
		return "paid"
	case StatusCleared:
		return "cleared"
	case StatusChargedback:
		return "chargedback"
	case StatusRefunded:
		return "refunded"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Operator brokers payments for merchants in exchange for a fee. One record
// exists per owning key; only the owner rotates.
type Operator struct {
	Owner PublicKey
	Bump  uint8
}

// Merchant holds the escrow side of the protocol. Escrow custodial accounts
// are owned by the record address itself; settlement custodial accounts are
// owned by the settlement wallet.
type Merchant struct {
	Owner            PublicKey
	SettlementWallet PublicKey
	Bump             uint8
}

// MerchantOperatorConfig binds one merchant to one operator under a version,
// carrying the fee terms, business policies and the order-id counter. The
// version allows re-configuration without mutating payment history.
type MerchantOperatorConfig struct {
	Merchant           address.Address
	Operator           address.Address
	Version            uint32
	Bump               uint8
	OperatorFee        uint64
	FeeType            FeeType
	CurrentOrderID     uint32
	DaysToClose        uint16
	Policies           []PolicyData
	AcceptedCurrencies []CurrencyID
}

// Payment is one escrow record per (config, buyer, currency, orderId) tuple.
// The tuple is the record's address, so uniqueness holds by construction.
type Payment struct {
	OrderID   uint32
	Amount    uint64
	CreatedAt int64
	Status    Status
	Bump      uint8
}

// Clone returns a deep copy of the config so callers can mutate the copy
// without aliasing the stored policies or currency list.
func (c *MerchantOperatorConfig) Clone() *MerchantOperatorConfig {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Policies = append([]PolicyData(nil), c.Policies...)
	clone.AcceptedCurrencies = append([]CurrencyID(nil), c.AcceptedCurrencies...)
	return &clone
}

// AcceptsCurrency reports whether the currency appears in the closed accepted
// list.
func (c *MerchantOperatorConfig) AcceptsCurrency(currency CurrencyID) bool {
	if c == nil {
		return false
	}
	for _, accepted := range c.AcceptedCurrencies {
		if accepted == currency {
			return true
		}
	}
	return false
}

// OperatorAddress derives the Operator record address for the owning key.
func OperatorAddress(owner PublicKey) (address.Address, uint8, error) {
	return address.Derive(address.OperatorSeed, owner[:])
}

// MerchantAddress derives the Merchant record address for the owning key.
func MerchantAddress(owner PublicKey) (address.Address, uint8, error) {
	return address.Derive(address.MerchantSeed, owner[:])
}

// ConfigAddress derives the MerchantOperatorConfig record address.
func ConfigAddress(merchant, operator address.Address, version uint32) (address.Address, uint8, error) {
	return address.Derive(address.ConfigSeed, merchant[:], operator[:], uint32Seed(version))
}

// PaymentAddress derives the Payment record address. Identical seed tuples
// always yield byte-identical addresses and bumps.
func PaymentAddress(config address.Address, buyer PublicKey, currency CurrencyID, orderID uint32) (address.Address, uint8, error) {
	return address.Derive(address.PaymentSeed, config[:], buyer[:], currency[:], uint32Seed(orderID))
}

func uint32Seed(v uint32) []byte {
	seed := make([]byte, 4)
	binary.LittleEndian.PutUint32(seed, v)
	return seed
}
