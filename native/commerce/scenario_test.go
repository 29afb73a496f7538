package commerce_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"commercepay/core/address"
	"commercepay/core/state"
	"commercepay/native/commerce"
	"commercepay/storage"
)

// These tests drive the engine through the real state manager over an
// in-memory database, so every instruction commits through the same batch
// path the daemon uses.

func key(fill byte) commerce.PublicKey {
	var k commerce.PublicKey
	for i := range k {
		k[i] = fill
	}
	return k
}

func currency(fill byte) commerce.CurrencyID {
	var c commerce.CurrencyID
	for i := range c {
		c[i] = fill
	}
	return c
}

type scenario struct {
	t        *testing.T
	manager  *state.Manager
	engine   *commerce.Engine
	now      int64
	usd      commerce.CurrencyID
	feePayer commerce.PublicKey
	opOwner  commerce.PublicKey
	mOwner   commerce.PublicKey
	wallet   commerce.PublicKey
	buyer    commerce.PublicKey
	operator address.Address
	merchant address.Address
	config   address.Address
}

func newScenario(t *testing.T, cfg commerce.ConfigParams) *scenario {
	t.Helper()
	s := &scenario{
		t:        t,
		manager:  state.NewManager(storage.NewMemDB()),
		engine:   commerce.NewEngine(),
		now:      1_700_000_000,
		usd:      currency(0x55),
		feePayer: key(0x01),
		opOwner:  key(0x02),
		mOwner:   key(0x03),
		wallet:   key(0x04),
		buyer:    key(0x05),
	}
	s.engine.SetState(func() commerce.State { return s.manager.Begin() })
	s.engine.SetRecognizedCurrencies([]commerce.CurrencyID{s.usd})
	s.engine.SetNowFunc(func() int64 { return s.now })

	// Genesis funding: the fee payer covers record deposits, the buyer holds
	// custodial funds in the accepted currency.
	txn := s.manager.Begin()
	require.NoError(t, txn.NativeCredit(s.feePayer, 100_000_000))
	require.NoError(t, txn.TokenCredit(s.buyer, s.usd, 10_000_000))
	require.NoError(t, txn.Commit())

	var err error
	s.operator, err = s.engine.CreateOperator(s.feePayer, s.opOwner)
	require.NoError(t, err)
	s.merchant, err = s.engine.InitializeMerchant(s.feePayer, s.mOwner, s.wallet)
	require.NoError(t, err)

	cfg.Authority = s.mOwner
	cfg.Merchant = s.merchant
	cfg.Operator = s.operator
	if len(cfg.AcceptedCurrencies) == 0 {
		cfg.AcceptedCurrencies = []commerce.CurrencyID{s.usd}
	}
	s.config, err = s.engine.InitializeConfig(s.feePayer, cfg)
	require.NoError(t, err)
	return s
}

func (s *scenario) pay(amount uint64) (address.Address, *commerce.Payment) {
	s.t.Helper()
	addr, payment, err := s.engine.MakePayment(commerce.MakePaymentParams{
		FeePayer:          s.feePayer,
		Buyer:             s.buyer,
		OperatorAuthority: s.opOwner,
		Config:            s.config,
		Currency:          s.usd,
		Amount:            amount,
	})
	require.NoError(s.t, err)
	return addr, payment
}

func (s *scenario) params(orderID uint32) commerce.PaymentParams {
	return commerce.PaymentParams{
		Config:   s.config,
		Buyer:    s.buyer,
		Currency: s.usd,
		OrderID:  orderID,
	}
}

func (s *scenario) balance(holder [32]byte) uint64 {
	s.t.Helper()
	balance, err := s.engine.TokenBalance(holder, s.usd)
	require.NoError(s.t, err)
	return balance
}

func (s *scenario) native(owner commerce.PublicKey) uint64 {
	s.t.Helper()
	balance, err := s.manager.View().NativeBalance(owner)
	require.NoError(s.t, err)
	return balance
}

func TestScenarioPayClearClose(t *testing.T) {
	s := newScenario(t, commerce.ConfigParams{
		Version:     1,
		OperatorFee: 100_000,
		FeeType:     commerce.FeeTypeFixed,
	})

	nativeBefore := s.native(s.feePayer)
	_, payment := s.pay(1_000_000)
	require.Equal(t, uint32(0), payment.OrderID)
	require.Equal(t, commerce.StatusPaid, payment.Status)
	require.Equal(t, uint64(9_000_000), s.balance(s.buyer))
	require.Equal(t, uint64(1_000_000), s.balance(s.merchant))
	require.Equal(t, nativeBefore-commerce.DefaultRecordDeposit, s.native(s.feePayer))

	cleared, err := s.engine.ClearPayment(s.opOwner, s.params(0))
	require.NoError(t, err)
	require.Equal(t, commerce.StatusCleared, cleared.Status)
	require.Equal(t, uint64(900_000), s.balance(s.wallet))
	require.Equal(t, uint64(100_000), s.balance(s.opOwner))
	require.Equal(t, uint64(0), s.balance(s.merchant))

	require.NoError(t, s.engine.ClosePayment(s.feePayer, s.opOwner, s.params(0)))
	require.Equal(t, nativeBefore, s.native(s.feePayer))
	_, _, err = s.engine.GetPayment(s.params(0))
	require.ErrorIs(t, err, commerce.ErrNotFound)
}

func TestScenarioPayRefund(t *testing.T) {
	s := newScenario(t, commerce.ConfigParams{
		Version:     1,
		OperatorFee: 250,
		FeeType:     commerce.FeeTypeBps,
	})

	s.pay(1_000_000)
	refunded, err := s.engine.RefundPayment(s.opOwner, s.params(0))
	require.NoError(t, err)
	require.Equal(t, commerce.StatusRefunded, refunded.Status)
	require.Equal(t, uint64(10_000_000), s.balance(s.buyer))
	require.Equal(t, uint64(0), s.balance(s.merchant))
	require.Equal(t, uint64(0), s.balance(s.wallet))

	// Refunded is terminal: no settlement and no close.
	_, err = s.engine.ClearPayment(s.opOwner, s.params(0))
	require.ErrorIs(t, err, commerce.ErrInvalidStatus)
	err = s.engine.ClosePayment(s.feePayer, s.opOwner, s.params(0))
	require.ErrorIs(t, err, commerce.ErrInvalidStatus)
}

func TestScenarioCloseBeforeClearLeavesRecordIntact(t *testing.T) {
	s := newScenario(t, commerce.ConfigParams{
		Version:     1,
		OperatorFee: 100_000,
		FeeType:     commerce.FeeTypeFixed,
	})

	s.pay(1_000_000)
	nativeAfterPay := s.native(s.feePayer)

	err := s.engine.ClosePayment(s.feePayer, s.opOwner, s.params(0))
	require.ErrorIs(t, err, commerce.ErrInvalidStatus)

	// The failed close commits nothing: record, escrow and deposit untouched.
	_, payment, err := s.engine.GetPayment(s.params(0))
	require.NoError(t, err)
	require.Equal(t, commerce.StatusPaid, payment.Status)
	require.Equal(t, uint64(1_000_000), s.balance(s.merchant))
	require.Equal(t, nativeAfterPay, s.native(s.feePayer))
}

func TestScenarioFailedTransferRollsBack(t *testing.T) {
	s := newScenario(t, commerce.ConfigParams{
		Version:     1,
		OperatorFee: 0,
		FeeType:     commerce.FeeTypeFixed,
	})

	cfgBefore, err := s.engine.GetConfig(s.config)
	require.NoError(t, err)

	// The buyer holds 10_000_000, so this payment fails mid-instruction.
	_, _, err = s.engine.MakePayment(commerce.MakePaymentParams{
		FeePayer:          s.feePayer,
		Buyer:             s.buyer,
		OperatorAuthority: s.opOwner,
		Config:            s.config,
		Currency:          s.usd,
		Amount:            20_000_000,
	})
	require.ErrorIs(t, err, commerce.ErrInsufficientBalance)

	cfgAfter, err := s.engine.GetConfig(s.config)
	require.NoError(t, err)
	require.Equal(t, cfgBefore.CurrentOrderID, cfgAfter.CurrentOrderID)
	require.Equal(t, uint64(10_000_000), s.balance(s.buyer))
	_, _, err = s.engine.GetPayment(s.params(cfgBefore.CurrentOrderID))
	require.ErrorIs(t, err, commerce.ErrNotFound)
}

func TestScenarioOrderSequencing(t *testing.T) {
	s := newScenario(t, commerce.ConfigParams{
		Version:     1,
		OperatorFee: 0,
		FeeType:     commerce.FeeTypeFixed,
	})

	addrA, paymentA := s.pay(100)
	addrB, paymentB := s.pay(200)
	require.Equal(t, uint32(0), paymentA.OrderID)
	require.Equal(t, uint32(1), paymentB.OrderID)
	require.NotEqual(t, addrA, addrB)

	cfg, err := s.engine.GetConfig(s.config)
	require.NoError(t, err)
	require.Equal(t, uint32(2), cfg.CurrentOrderID)

	// A stale hint is retryable: the error names the mismatch, and the same
	// submission with the fresh counter succeeds.
	stale := uint32(0)
	_, _, err = s.engine.MakePayment(commerce.MakePaymentParams{
		FeePayer:          s.feePayer,
		Buyer:             s.buyer,
		OperatorAuthority: s.opOwner,
		Config:            s.config,
		Currency:          s.usd,
		Amount:            300,
		OrderIDHint:       &stale,
	})
	require.ErrorIs(t, err, commerce.ErrOrderIDMismatch)

	fresh := cfg.CurrentOrderID
	_, paymentC, err := s.engine.MakePayment(commerce.MakePaymentParams{
		FeePayer:          s.feePayer,
		Buyer:             s.buyer,
		OperatorAuthority: s.opOwner,
		Config:            s.config,
		Currency:          s.usd,
		Amount:            300,
		OrderIDHint:       &fresh,
	})
	require.NoError(t, err)
	require.Equal(t, uint32(2), paymentC.OrderID)
}

func TestScenarioChargebackRefused(t *testing.T) {
	s := newScenario(t, commerce.ConfigParams{
		Version:     1,
		OperatorFee: 0,
		FeeType:     commerce.FeeTypeFixed,
	})

	s.pay(500)
	err := s.engine.ChargebackPayment(s.opOwner, s.params(0))
	require.ErrorIs(t, err, commerce.ErrChargebackNotImplemented)
	require.False(t, errors.Is(err, commerce.ErrInvalidStatus))

	// The record is untouched and still settles normally.
	_, err = s.engine.ClearPayment(s.opOwner, s.params(0))
	require.NoError(t, err)
}
