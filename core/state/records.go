package state

import (
	"commercepay/core/address"
	"commercepay/native/commerce"
)

// Stored mirrors keep the persisted layout RLP-friendly (unsigned integers,
// flat policy rows) and decoupled from the in-memory protocol types.

type storedOperator struct {
	Owner [32]byte
	Bump  uint8
}

type storedMerchant struct {
	Owner            [32]byte
	SettlementWallet [32]byte
	Bump             uint8
}

type storedPolicy struct {
	Type                     uint8
	MaxAmount                uint64
	MaxTimeAfterPurchase     uint64
	MinSettlementAmount      uint64
	SettlementFrequencyHours uint32
	AutoSettle               bool
}

type storedConfig struct {
	Merchant       [32]byte
	Operator       [32]byte
	Version        uint32
	Bump           uint8
	OperatorFee    uint64
	FeeType        uint8
	CurrentOrderID uint32
	DaysToClose    uint16
	Policies       []storedPolicy
	Currencies     [][32]byte
}

type storedPayment struct {
	OrderID   uint32
	Amount    uint64
	CreatedAt uint64
	Status    uint8
	Bump      uint8
}

// OperatorPut persists the operator record under its derived address.
func (t *Txn) OperatorPut(addr address.Address, op *commerce.Operator) error {
	return t.kvPut(prefixedKey(operatorPrefix, addr[:]), &storedOperator{Owner: op.Owner, Bump: op.Bump})
}

// OperatorGet loads the operator record stored under the address.
func (t *Txn) OperatorGet(addr address.Address) (*commerce.Operator, bool, error) {
	var stored storedOperator
	ok, err := t.kvGet(prefixedKey(operatorPrefix, addr[:]), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &commerce.Operator{Owner: stored.Owner, Bump: stored.Bump}, true, nil
}

// MerchantPut persists the merchant record under its derived address.
func (t *Txn) MerchantPut(addr address.Address, m *commerce.Merchant) error {
	return t.kvPut(prefixedKey(merchantPrefix, addr[:]), &storedMerchant{
		Owner:            m.Owner,
		SettlementWallet: m.SettlementWallet,
		Bump:             m.Bump,
	})
}

// MerchantGet loads the merchant record stored under the address.
func (t *Txn) MerchantGet(addr address.Address) (*commerce.Merchant, bool, error) {
	var stored storedMerchant
	ok, err := t.kvGet(prefixedKey(merchantPrefix, addr[:]), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &commerce.Merchant{
		Owner:            stored.Owner,
		SettlementWallet: stored.SettlementWallet,
		Bump:             stored.Bump,
	}, true, nil
}

// ConfigPut persists the merchant/operator config under its derived address.
func (t *Txn) ConfigPut(addr address.Address, cfg *commerce.MerchantOperatorConfig) error {
	stored := storedConfig{
		Merchant:       cfg.Merchant,
		Operator:       cfg.Operator,
		Version:        cfg.Version,
		Bump:           cfg.Bump,
		OperatorFee:    cfg.OperatorFee,
		FeeType:        uint8(cfg.FeeType),
		CurrentOrderID: cfg.CurrentOrderID,
		DaysToClose:    cfg.DaysToClose,
		Policies:       make([]storedPolicy, 0, len(cfg.Policies)),
		Currencies:     make([][32]byte, 0, len(cfg.AcceptedCurrencies)),
	}
	for _, policy := range cfg.Policies {
		row := storedPolicy{Type: uint8(policy.Type)}
		switch policy.Type {
		case commerce.PolicyRefund:
			row.MaxAmount = policy.Refund.MaxAmount
			row.MaxTimeAfterPurchase = policy.Refund.MaxTimeAfterPurchase
		case commerce.PolicyChargeback:
			row.MaxAmount = policy.Chargeback.MaxAmount
			row.MaxTimeAfterPurchase = policy.Chargeback.MaxTimeAfterPurchase
		case commerce.PolicySettlement:
			row.MinSettlementAmount = policy.Settlement.MinSettlementAmount
			row.SettlementFrequencyHours = policy.Settlement.SettlementFrequencyHours
			row.AutoSettle = policy.Settlement.AutoSettle
		}
		stored.Policies = append(stored.Policies, row)
	}
	for _, currency := range cfg.AcceptedCurrencies {
		stored.Currencies = append(stored.Currencies, currency)
	}
	return t.kvPut(prefixedKey(configPrefix, addr[:]), &stored)
}

// ConfigGet loads the merchant/operator config stored under the address.
func (t *Txn) ConfigGet(addr address.Address) (*commerce.MerchantOperatorConfig, bool, error) {
	var stored storedConfig
	ok, err := t.kvGet(prefixedKey(configPrefix, addr[:]), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	cfg := &commerce.MerchantOperatorConfig{
		Merchant:           stored.Merchant,
		Operator:           stored.Operator,
		Version:            stored.Version,
		Bump:               stored.Bump,
		OperatorFee:        stored.OperatorFee,
		FeeType:            commerce.FeeType(stored.FeeType),
		CurrentOrderID:     stored.CurrentOrderID,
		DaysToClose:        stored.DaysToClose,
		Policies:           make([]commerce.PolicyData, 0, len(stored.Policies)),
		AcceptedCurrencies: make([]commerce.CurrencyID, 0, len(stored.Currencies)),
	}
	for _, row := range stored.Policies {
		switch commerce.PolicyType(row.Type) {
		case commerce.PolicyRefund:
			cfg.Policies = append(cfg.Policies, commerce.NewRefundPolicy(commerce.RefundPolicy{
				MaxAmount:            row.MaxAmount,
				MaxTimeAfterPurchase: row.MaxTimeAfterPurchase,
			}))
		case commerce.PolicyChargeback:
			cfg.Policies = append(cfg.Policies, commerce.NewChargebackPolicy(commerce.ChargebackPolicy{
				MaxAmount:            row.MaxAmount,
				MaxTimeAfterPurchase: row.MaxTimeAfterPurchase,
			}))
		case commerce.PolicySettlement:
			cfg.Policies = append(cfg.Policies, commerce.NewSettlementPolicy(commerce.SettlementPolicy{
				MinSettlementAmount:      row.MinSettlementAmount,
				SettlementFrequencyHours: row.SettlementFrequencyHours,
				AutoSettle:               row.AutoSettle,
			}))
		}
	}
	for _, currency := range stored.Currencies {
		cfg.AcceptedCurrencies = append(cfg.AcceptedCurrencies, currency)
	}
	return cfg, true, nil
}

// PaymentPut persists the payment record under its derived address.
func (t *Txn) PaymentPut(addr address.Address, p *commerce.Payment) error {
	return t.kvPut(prefixedKey(paymentPrefix, addr[:]), &storedPayment{
		OrderID:   p.OrderID,
		Amount:    p.Amount,
		CreatedAt: uint64(p.CreatedAt),
		Status:    uint8(p.Status),
		Bump:      p.Bump,
	})
}

// PaymentGet loads the payment record stored under the address.
func (t *Txn) PaymentGet(addr address.Address) (*commerce.Payment, bool, error) {
	var stored storedPayment
	ok, err := t.kvGet(prefixedKey(paymentPrefix, addr[:]), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &commerce.Payment{
		OrderID:   stored.OrderID,
		Amount:    stored.Amount,
		CreatedAt: int64(stored.CreatedAt),
		Status:    commerce.Status(stored.Status),
		Bump:      stored.Bump,
	}, true, nil
}

// PaymentDelete destroys the payment record. After the commit the address
// reads as uninitialised again.
func (t *Txn) PaymentDelete(addr address.Address) error {
	t.del(prefixedKey(paymentPrefix, addr[:]))
	return nil
}
