package commerce

import "fmt"

// FeeType selects how the operator fee magnitude on a config is interpreted.
type FeeType uint8

const (
	FeeTypeBps   FeeType = 0
	FeeTypeFixed FeeType = 1
)

// MaxBps is the denominator for basis-point fees (1 bps = 0.01%).
const MaxBps = 10_000

// Valid reports whether the fee type value is within the supported range.
func (t FeeType) Valid() bool {
	return t == FeeTypeBps || t == FeeTypeFixed
}

func (t FeeType) String() string {
	switch t {
	case FeeTypeBps:
		return "bps"
	case FeeTypeFixed:
		return "fixed"
	default:
		return fmt.Sprintf("feetype(%d)", uint8(t))
	}
}

// PolicyType keys the business rules carried on a config.
type PolicyType uint8

const (
	PolicyRefund     PolicyType = 0
	PolicyChargeback PolicyType = 1
	PolicySettlement PolicyType = 2
)

func (t PolicyType) String() string {
	switch t {
	case PolicyRefund:
		return "refund"
	case PolicyChargeback:
		return "chargeback"
	case PolicySettlement:
		return "settlement"
	default:
		return fmt.Sprintf("policytype(%d)", uint8(t))
	}
}

// RefundPolicy bounds what RefundPayment will accept. Zero fields mean no
// restriction of that category.
type RefundPolicy struct {
	MaxAmount uint64
	// MaxTimeAfterPurchase is the refund window in seconds from CreatedAt.
	MaxTimeAfterPurchase uint64
}

// ChargebackPolicy is a reserved policy kind: the chargeback transition is
// declared but not implemented by the engine.
type ChargebackPolicy struct {
	MaxAmount            uint64
	MaxTimeAfterPurchase uint64
}

// SettlementPolicy gates ClearPayment. AutoSettle is advisory metadata for
// off-protocol schedulers; the state machine never acts on it by itself.
type SettlementPolicy struct {
	MinSettlementAmount      uint64
	SettlementFrequencyHours uint32
	AutoSettle               bool
}

// PolicyData is the stored union of the typed policies. Exactly one branch is
// populated, selected by Type. A flat struct keeps the record RLP-friendly.
type PolicyData struct {
	Type       PolicyType
	Refund     RefundPolicy
	Chargeback ChargebackPolicy
	Settlement SettlementPolicy
}

// NewRefundPolicy wraps a refund policy for storage on a config.
func NewRefundPolicy(p RefundPolicy) PolicyData {
	return PolicyData{Type: PolicyRefund, Refund: p}
}

// NewChargebackPolicy wraps the reserved chargeback policy kind.
func NewChargebackPolicy(p ChargebackPolicy) PolicyData {
	return PolicyData{Type: PolicyChargeback, Chargeback: p}
}

// NewSettlementPolicy wraps a settlement policy for storage on a config.
func NewSettlementPolicy(p SettlementPolicy) PolicyData {
	return PolicyData{Type: PolicySettlement, Settlement: p}
}

// PolicyByType returns the first policy of the requested kind. Absence of a
// kind means no restriction of that category.
func PolicyByType(policies []PolicyData, kind PolicyType) (PolicyData, bool) {
	for _, policy := range policies {
		if policy.Type == kind {
			return policy, true
		}
	}
	return PolicyData{}, false
}

// SettlementPolicyOf resolves the settlement policy on a config, if any.
func (c *MerchantOperatorConfig) SettlementPolicyOf() (SettlementPolicy, bool) {
	policy, ok := PolicyByType(c.Policies, PolicySettlement)
	if !ok {
		return SettlementPolicy{}, false
	}
	return policy.Settlement, true
}

// RefundPolicyOf resolves the refund policy on a config, if any.
func (c *MerchantOperatorConfig) RefundPolicyOf() (RefundPolicy, bool) {
	policy, ok := PolicyByType(c.Policies, PolicyRefund)
	if !ok {
		return RefundPolicy{}, false
	}
	return policy.Refund, true
}

// ValidatePolicies rejects unknown kinds and duplicate kinds. Policies are
// ordered but each kind may appear at most once.
func ValidatePolicies(policies []PolicyData) error {
	seen := make(map[PolicyType]bool, len(policies))
	for _, policy := range policies {
		switch policy.Type {
		case PolicyRefund, PolicyChargeback, PolicySettlement:
		default:
			return fmt.Errorf("commerce: unknown policy type %d", policy.Type)
		}
		if seen[policy.Type] {
			return fmt.Errorf("commerce: duplicate %s policy", policy.Type)
		}
		seen[policy.Type] = true
	}
	return nil
}
