package commerce

import (
	"strconv"

	"commercepay/core/address"
	"commercepay/core/events"
)

const (
	EventTypeOperatorCreated          = "commerce.operator.created"
	EventTypeMerchantInitialized      = "commerce.merchant.initialized"
	EventTypeConfigInitialized        = "commerce.config.initialized"
	EventTypePaymentCreated           = "commerce.payment.created"
	EventTypePaymentCleared           = "commerce.payment.cleared"
	EventTypePaymentRefunded          = "commerce.payment.refunded"
	EventTypePaymentClosed            = "commerce.payment.closed"
	EventTypeOperatorAuthorityRotated = "commerce.operator.authority_rotated"
	EventTypeMerchantAuthorityRotated = "commerce.merchant.authority_rotated"
	EventTypeSettlementWalletRotated  = "commerce.merchant.settlement_wallet_rotated"
)

// NewOperatorCreatedEvent returns the canonical payload for a new operator
// record.
func NewOperatorCreatedEvent(addr address.Address, owner PublicKey) *events.Event {
	return &events.Event{Type: EventTypeOperatorCreated, Attributes: map[string]string{
		"operator": addr.Hex(),
		"owner":    owner.Hex(),
	}}
}

// NewMerchantInitializedEvent returns the canonical payload for a new
// merchant record.
func NewMerchantInitializedEvent(addr address.Address, owner, settlementWallet PublicKey) *events.Event {
	return &events.Event{Type: EventTypeMerchantInitialized, Attributes: map[string]string{
		"merchant":         addr.Hex(),
		"owner":            owner.Hex(),
		"settlementWallet": settlementWallet.Hex(),
	}}
}

// NewConfigInitializedEvent returns the canonical payload for a new
// merchant/operator config.
func NewConfigInitializedEvent(addr address.Address, cfg *MerchantOperatorConfig) *events.Event {
	return &events.Event{Type: EventTypeConfigInitialized, Attributes: map[string]string{
		"config":   addr.Hex(),
		"merchant": cfg.Merchant.Hex(),
		"operator": cfg.Operator.Hex(),
		"version":  strconv.FormatUint(uint64(cfg.Version), 10),
		"feeType":  cfg.FeeType.String(),
		"fee":      strconv.FormatUint(cfg.OperatorFee, 10),
	}}
}

func paymentAttributes(addr, config address.Address, buyer PublicKey, currency CurrencyID, p *Payment) map[string]string {
	return map[string]string{
		"payment":  addr.Hex(),
		"config":   config.Hex(),
		"buyer":    buyer.Hex(),
		"currency": currency.Hex(),
		"orderId":  strconv.FormatUint(uint64(p.OrderID), 10),
		"amount":   strconv.FormatUint(p.Amount, 10),
		"status":   p.Status.String(),
	}
}

// NewPaymentCreatedEvent returns the canonical payload for a freshly paid
// escrow record. The attributes carry the full seed tuple, so a consumer can
// reconstruct the record identity without touching state.
func NewPaymentCreatedEvent(addr, config address.Address, buyer PublicKey, currency CurrencyID, p *Payment) *events.Event {
	return &events.Event{Type: EventTypePaymentCreated, Attributes: paymentAttributes(addr, config, buyer, currency, p)}
}

// NewPaymentClearedEvent returns the canonical payload for a clearing,
// including the exact fee split.
func NewPaymentClearedEvent(addr, config address.Address, buyer PublicKey, currency CurrencyID, p *Payment, operatorFee, merchantReceive uint64) *events.Event {
	attrs := paymentAttributes(addr, config, buyer, currency, p)
	attrs["operatorFee"] = strconv.FormatUint(operatorFee, 10)
	attrs["merchantReceive"] = strconv.FormatUint(merchantReceive, 10)
	return &events.Event{Type: EventTypePaymentCleared, Attributes: attrs}
}

// NewPaymentRefundedEvent returns the canonical payload for a refund back to
// the buyer.
func NewPaymentRefundedEvent(addr, config address.Address, buyer PublicKey, currency CurrencyID, p *Payment) *events.Event {
	return &events.Event{Type: EventTypePaymentRefunded, Attributes: paymentAttributes(addr, config, buyer, currency, p)}
}

// NewPaymentClosedEvent returns the canonical payload for a destroyed payment
// record and its reclaimed deposit.
func NewPaymentClosedEvent(addr address.Address, payer PublicKey, deposit uint64) *events.Event {
	return &events.Event{Type: EventTypePaymentClosed, Attributes: map[string]string{
		"payment": addr.Hex(),
		"payer":   payer.Hex(),
		"deposit": strconv.FormatUint(deposit, 10),
	}}
}

// NewAuthorityRotatedEvent returns the canonical payload for an authority
// rotation on an operator or merchant record.
func NewAuthorityRotatedEvent(eventType string, addr address.Address, previous, next PublicKey) *events.Event {
	return &events.Event{Type: eventType, Attributes: map[string]string{
		"record":   addr.Hex(),
		"previous": previous.Hex(),
		"next":     next.Hex(),
	}}
}

// NewSettlementWalletRotatedEvent returns the canonical payload for a
// settlement wallet rotation.
func NewSettlementWalletRotatedEvent(addr address.Address, previous, next PublicKey) *events.Event {
	return &events.Event{Type: EventTypeSettlementWalletRotated, Attributes: map[string]string{
		"merchant": addr.Hex(),
		"previous": previous.Hex(),
		"next":     next.Hex(),
	}}
}
