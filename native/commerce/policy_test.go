package commerce

import "testing"

func TestValidatePolicies(t *testing.T) {
	ok := []PolicyData{
		NewRefundPolicy(RefundPolicy{MaxAmount: 100}),
		NewSettlementPolicy(SettlementPolicy{MinSettlementAmount: 10}),
		NewChargebackPolicy(ChargebackPolicy{}),
	}
	if err := ValidatePolicies(ok); err != nil {
		t.Fatalf("valid policy set rejected: %v", err)
	}
	if err := ValidatePolicies(nil); err != nil {
		t.Fatalf("empty policy set rejected: %v", err)
	}

	dup := []PolicyData{
		NewSettlementPolicy(SettlementPolicy{}),
		NewSettlementPolicy(SettlementPolicy{MinSettlementAmount: 1}),
	}
	if err := ValidatePolicies(dup); err == nil {
		t.Fatalf("duplicate kind accepted")
	}

	unknown := []PolicyData{{Type: PolicyType(9)}}
	if err := ValidatePolicies(unknown); err == nil {
		t.Fatalf("unknown kind accepted")
	}
}

func TestPolicyLookups(t *testing.T) {
	cfg := &MerchantOperatorConfig{Policies: []PolicyData{
		NewRefundPolicy(RefundPolicy{MaxAmount: 5, MaxTimeAfterPurchase: 60}),
	}}

	refund, ok := cfg.RefundPolicyOf()
	if !ok || refund.MaxAmount != 5 || refund.MaxTimeAfterPurchase != 60 {
		t.Fatalf("refund policy lookup = %+v, %v", refund, ok)
	}
	if _, ok := cfg.SettlementPolicyOf(); ok {
		t.Fatalf("absent settlement policy reported present")
	}
}

func TestAcceptsCurrency(t *testing.T) {
	accepted := testCurrency(0x01)
	other := testCurrency(0x02)
	cfg := &MerchantOperatorConfig{AcceptedCurrencies: []CurrencyID{accepted}}

	if !cfg.AcceptsCurrency(accepted) {
		t.Fatalf("accepted currency rejected")
	}
	if cfg.AcceptsCurrency(other) {
		t.Fatalf("closed list accepted a foreign currency")
	}
}

func TestPaymentAddressIdempotence(t *testing.T) {
	merchantAddr, _, err := MerchantAddress(testKey(0x0A))
	if err != nil {
		t.Fatalf("merchant address: %v", err)
	}
	operatorAddr, _, err := OperatorAddress(testKey(0x0B))
	if err != nil {
		t.Fatalf("operator address: %v", err)
	}
	cfg, _, err := ConfigAddress(merchantAddr, operatorAddr, 1)
	if err != nil {
		t.Fatalf("config address: %v", err)
	}
	first, firstBump, err := PaymentAddress(cfg, testKey(0x01), testCurrency(0x02), 7)
	if err != nil {
		t.Fatalf("payment address: %v", err)
	}
	second, secondBump, err := PaymentAddress(cfg, testKey(0x01), testCurrency(0x02), 7)
	if err != nil {
		t.Fatalf("payment address: %v", err)
	}
	if first != second || firstBump != secondBump {
		t.Fatalf("payment addressing not idempotent")
	}

	next, _, err := PaymentAddress(cfg, testKey(0x01), testCurrency(0x02), 8)
	if err != nil {
		t.Fatalf("payment address: %v", err)
	}
	if next == first {
		t.Fatalf("distinct order ids must derive distinct addresses")
	}
}
