package commerce

import (
	"fmt"
	"sync"
	"time"

	"commercepay/core/address"
	"commercepay/core/events"
)

const (
	secondsPerHour = 3600
	secondsPerDay  = 86400
)

// DefaultRecordDeposit is the native deposit locked when a record is created
// and returned when the record is destroyed.
const DefaultRecordDeposit uint64 = 2_000_000

// State is the transactional backend the engine runs against. Every method
// stages effects; nothing is visible to other instructions until Commit.
type State interface {
	OperatorGet(addr address.Address) (*Operator, bool, error)
	OperatorPut(addr address.Address, op *Operator) error
	MerchantGet(addr address.Address) (*Merchant, bool, error)
	MerchantPut(addr address.Address, m *Merchant) error
	ConfigGet(addr address.Address) (*MerchantOperatorConfig, bool, error)
	ConfigPut(addr address.Address, cfg *MerchantOperatorConfig) error
	PaymentGet(addr address.Address) (*Payment, bool, error)
	PaymentPut(addr address.Address, p *Payment) error
	PaymentDelete(addr address.Address) error

	TokenEnsure(holder [32]byte, currency CurrencyID) error
	TokenBalance(holder [32]byte, currency CurrencyID) (uint64, error)
	TokenTransfer(from, to [32]byte, currency CurrencyID, amount uint64) error

	DepositLock(record address.Address, funder PublicKey, amount uint64) error
	DepositRelease(record address.Address) (PublicKey, uint64, error)

	Commit() error
}

// BeginFunc opens a fresh transaction for one instruction.
type BeginFunc func() State

// Engine executes the escrow payment protocol: every exported method is one
// instruction running in one transaction, either committing every state
// mutation and value movement or none of them. Instructions serialize through
// the engine mutex, which is what lets MakePayment treat the config's order
// counter as a single-writer cell.
type Engine struct {
	mu            sync.Mutex
	begin         BeginFunc
	emitter       events.Emitter
	nowFn         func() int64
	recognized    []CurrencyID
	recordDeposit uint64
}

// NewEngine creates an engine with a no-op emitter and the default record
// deposit. Callers must wire a state backend via SetState before use.
func NewEngine() *Engine {
	return &Engine{
		emitter:       events.NoopEmitter{},
		nowFn:         func() int64 { return time.Now().Unix() },
		recordDeposit: DefaultRecordDeposit,
	}
}

// SetState configures the transactional state backend.
func (e *Engine) SetState(begin BeginFunc) { e.begin = begin }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetRecognizedCurrencies configures the deployment currency registry used to
// provision custodial accounts at record creation.
func (e *Engine) SetRecognizedCurrencies(currencies []CurrencyID) {
	e.recognized = append([]CurrencyID(nil), currencies...)
}

// SetRecordDeposit overrides the deposit locked per created record.
func (e *Engine) SetRecordDeposit(amount uint64) { e.recordDeposit = amount }

func (e *Engine) emit(event *events.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(event)
}

func (e *Engine) now() int64 { return e.nowFn() }

var errNilState = fmt.Errorf("commerce engine: state not configured")

func (e *Engine) beginTxn() (State, error) {
	if e == nil || e.begin == nil {
		return nil, errNilState
	}
	return e.begin(), nil
}

// CreateOperator creates the operator record for the owning key and
// provisions settlement custodial accounts for every recognised currency.
func (e *Engine) CreateOperator(feePayer, owner PublicKey) (address.Address, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	txn, err := e.beginTxn()
	if err != nil {
		return address.Address{}, err
	}
	addr, bump, err := OperatorAddress(owner)
	if err != nil {
		return address.Address{}, err
	}
	if _, ok, err := txn.OperatorGet(addr); err != nil {
		return address.Address{}, err
	} else if ok {
		return address.Address{}, fmt.Errorf("operator %s: %w", addr, ErrAlreadyExists)
	}
	if err := txn.OperatorPut(addr, &Operator{Owner: owner, Bump: bump}); err != nil {
		return address.Address{}, err
	}
	for _, currency := range e.recognized {
		if err := txn.TokenEnsure(owner, currency); err != nil {
			return address.Address{}, err
		}
	}
	if err := txn.DepositLock(addr, feePayer, e.recordDeposit); err != nil {
		return address.Address{}, err
	}
	if err := txn.Commit(); err != nil {
		return address.Address{}, err
	}
	e.emit(NewOperatorCreatedEvent(addr, owner))
	return addr, nil
}

// InitializeMerchant creates the merchant record plus escrow custodial
// accounts owned by the record itself and settlement custodial accounts owned
// by the settlement wallet, one pair per recognised currency.
func (e *Engine) InitializeMerchant(feePayer, owner, settlementWallet PublicKey) (address.Address, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	txn, err := e.beginTxn()
	if err != nil {
		return address.Address{}, err
	}
	if settlementWallet.IsZero() {
		return address.Address{}, fmt.Errorf("commerce: settlement wallet must be set")
	}
	addr, bump, err := MerchantAddress(owner)
	if err != nil {
		return address.Address{}, err
	}
	if _, ok, err := txn.MerchantGet(addr); err != nil {
		return address.Address{}, err
	} else if ok {
		return address.Address{}, fmt.Errorf("merchant %s: %w", addr, ErrAlreadyExists)
	}
	if err := txn.MerchantPut(addr, &Merchant{Owner: owner, SettlementWallet: settlementWallet, Bump: bump}); err != nil {
		return address.Address{}, err
	}
	for _, currency := range e.recognized {
		if err := txn.TokenEnsure(addr, currency); err != nil {
			return address.Address{}, err
		}
		if err := txn.TokenEnsure(settlementWallet, currency); err != nil {
			return address.Address{}, err
		}
	}
	if err := txn.DepositLock(addr, feePayer, e.recordDeposit); err != nil {
		return address.Address{}, err
	}
	if err := txn.Commit(); err != nil {
		return address.Address{}, err
	}
	e.emit(NewMerchantInitializedEvent(addr, owner, settlementWallet))
	return addr, nil
}

// ConfigParams carries the business terms for a new merchant/operator config.
type ConfigParams struct {
	Authority          PublicKey
	Merchant           address.Address
	Operator           address.Address
	Version            uint32
	OperatorFee        uint64
	FeeType            FeeType
	DaysToClose        uint16
	Policies           []PolicyData
	AcceptedCurrencies []CurrencyID
}

// InitializeConfig creates a merchant/operator config with a zeroed order
// counter. Only the merchant authority may bind its merchant to an operator.
func (e *Engine) InitializeConfig(feePayer PublicKey, params ConfigParams) (address.Address, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	txn, err := e.beginTxn()
	if err != nil {
		return address.Address{}, err
	}
	merchant, ok, err := txn.MerchantGet(params.Merchant)
	if err != nil {
		return address.Address{}, err
	}
	if !ok {
		return address.Address{}, fmt.Errorf("merchant %s: %w", params.Merchant, ErrNotFound)
	}
	if merchant.Owner != params.Authority {
		return address.Address{}, fmt.Errorf("config authority: %w", ErrUnauthorized)
	}
	if _, ok, err := txn.OperatorGet(params.Operator); err != nil {
		return address.Address{}, err
	} else if !ok {
		return address.Address{}, fmt.Errorf("operator %s: %w", params.Operator, ErrNotFound)
	}
	if !params.FeeType.Valid() {
		return address.Address{}, fmt.Errorf("commerce: invalid fee type %d", params.FeeType)
	}
	if params.FeeType == FeeTypeBps && params.OperatorFee > MaxBps {
		return address.Address{}, fmt.Errorf("commerce: fee bps out of range: %d", params.OperatorFee)
	}
	if err := ValidatePolicies(params.Policies); err != nil {
		return address.Address{}, err
	}
	if len(params.AcceptedCurrencies) == 0 {
		return address.Address{}, ErrAcceptedCurrenciesEmpty
	}
	addr, bump, err := ConfigAddress(params.Merchant, params.Operator, params.Version)
	if err != nil {
		return address.Address{}, err
	}
	if _, ok, err := txn.ConfigGet(addr); err != nil {
		return address.Address{}, err
	} else if ok {
		return address.Address{}, fmt.Errorf("config %s: %w", addr, ErrAlreadyExists)
	}
	cfg := &MerchantOperatorConfig{
		Merchant:           params.Merchant,
		Operator:           params.Operator,
		Version:            params.Version,
		Bump:               bump,
		OperatorFee:        params.OperatorFee,
		FeeType:            params.FeeType,
		CurrentOrderID:     0,
		DaysToClose:        params.DaysToClose,
		Policies:           append([]PolicyData(nil), params.Policies...),
		AcceptedCurrencies: append([]CurrencyID(nil), params.AcceptedCurrencies...),
	}
	if err := txn.ConfigPut(addr, cfg); err != nil {
		return address.Address{}, err
	}
	// Accepted currencies may extend past the registry snapshot the merchant
	// was provisioned with, so make sure the custodial pairs exist.
	for _, currency := range cfg.AcceptedCurrencies {
		if err := txn.TokenEnsure(params.Merchant, currency); err != nil {
			return address.Address{}, err
		}
		if err := txn.TokenEnsure(merchant.SettlementWallet, currency); err != nil {
			return address.Address{}, err
		}
	}
	if err := txn.DepositLock(addr, feePayer, e.recordDeposit); err != nil {
		return address.Address{}, err
	}
	if err := txn.Commit(); err != nil {
		return address.Address{}, err
	}
	e.emit(NewConfigInitializedEvent(addr, cfg))
	return addr, nil
}

// PaymentParams identifies one payment record through its seed tuple.
type PaymentParams struct {
	Config   address.Address
	Buyer    PublicKey
	Currency CurrencyID
	OrderID  uint32
}

// MakePaymentParams carries a payment submission. OrderIDHint is optional:
// the engine allocates the order id from the config counter inside the same
// commit, and a stale hint fails with ErrOrderIDMismatch so the caller
// re-reads and retries instead of trusting a locally computed id.
type MakePaymentParams struct {
	FeePayer          PublicKey
	Buyer             PublicKey
	OperatorAuthority PublicKey
	Config            address.Address
	Currency          CurrencyID
	Amount            uint64
	OrderIDHint       *uint32
}

// MakePayment moves the amount from the buyer's custodial account into the
// merchant escrow and creates the payment record in status Paid.
func (e *Engine) MakePayment(params MakePaymentParams) (address.Address, *Payment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	txn, err := e.beginTxn()
	if err != nil {
		return address.Address{}, nil, err
	}
	cfg, _, _, err := e.loadConfig(txn, params.Config, params.OperatorAuthority)
	if err != nil {
		return address.Address{}, nil, err
	}
	if params.Amount == 0 {
		return address.Address{}, nil, fmt.Errorf("commerce: payment amount must be positive")
	}
	if !cfg.AcceptsCurrency(params.Currency) {
		return address.Address{}, nil, fmt.Errorf("currency %s: %w", params.Currency.Hex(), ErrCurrencyNotAccepted)
	}
	orderID := cfg.CurrentOrderID
	if params.OrderIDHint != nil && *params.OrderIDHint != orderID {
		return address.Address{}, nil, fmt.Errorf("hint %d, next %d: %w", *params.OrderIDHint, orderID, ErrOrderIDMismatch)
	}
	addr, bump, err := PaymentAddress(params.Config, params.Buyer, params.Currency, orderID)
	if err != nil {
		return address.Address{}, nil, err
	}
	if _, ok, err := txn.PaymentGet(addr); err != nil {
		return address.Address{}, nil, err
	} else if ok {
		// Unreachable while the counter is the single id source; kept as a
		// guard against a corrupted counter reusing an initialised address.
		return address.Address{}, nil, fmt.Errorf("payment %s: %w", addr, ErrAlreadyExists)
	}
	if err := txn.TokenTransfer(params.Buyer, cfg.Merchant, params.Currency, params.Amount); err != nil {
		return address.Address{}, nil, fmt.Errorf("fund escrow: %w", err)
	}
	payment := &Payment{
		OrderID:   orderID,
		Amount:    params.Amount,
		CreatedAt: e.now(),
		Status:    StatusPaid,
		Bump:      bump,
	}
	if err := txn.PaymentPut(addr, payment); err != nil {
		return address.Address{}, nil, err
	}
	cfg.CurrentOrderID = orderID + 1
	if err := txn.ConfigPut(params.Config, cfg); err != nil {
		return address.Address{}, nil, err
	}
	if err := txn.DepositLock(addr, params.FeePayer, e.recordDeposit); err != nil {
		return address.Address{}, nil, err
	}
	if err := txn.Commit(); err != nil {
		return address.Address{}, nil, err
	}
	e.emit(NewPaymentCreatedEvent(addr, params.Config, params.Buyer, params.Currency, payment))
	return addr, payment, nil
}

// ClearPayment settles a Paid payment: the operator fee moves to the operator
// settlement account and the remainder to the merchant settlement account,
// resolved from the records at clearing time.
func (e *Engine) ClearPayment(operatorAuthority PublicKey, params PaymentParams) (*Payment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	txn, err := e.beginTxn()
	if err != nil {
		return nil, err
	}
	cfg, merchant, operator, err := e.loadConfig(txn, params.Config, operatorAuthority)
	if err != nil {
		return nil, err
	}
	addr, payment, err := loadPayment(txn, params)
	if err != nil {
		return nil, err
	}
	if payment.Status != StatusPaid {
		return nil, fmt.Errorf("clear from %s: %w", payment.Status, ErrInvalidStatus)
	}
	if err := e.checkSettlementPolicy(cfg, payment); err != nil {
		return nil, err
	}
	fee, merchantReceive, err := SplitFee(payment.Amount, cfg.OperatorFee, cfg.FeeType)
	if err != nil {
		return nil, err
	}
	if err := txn.TokenEnsure(merchant.SettlementWallet, params.Currency); err != nil {
		return nil, err
	}
	if err := txn.TokenTransfer(cfg.Merchant, merchant.SettlementWallet, params.Currency, merchantReceive); err != nil {
		return nil, fmt.Errorf("settle merchant: %w", err)
	}
	if fee > 0 {
		if err := txn.TokenEnsure(operator.Owner, params.Currency); err != nil {
			return nil, err
		}
		if err := txn.TokenTransfer(cfg.Merchant, operator.Owner, params.Currency, fee); err != nil {
			return nil, fmt.Errorf("settle operator: %w", err)
		}
	}
	payment.Status = StatusCleared
	if err := txn.PaymentPut(addr, payment); err != nil {
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		return nil, err
	}
	e.emit(NewPaymentClearedEvent(addr, params.Config, params.Buyer, params.Currency, payment, fee, merchantReceive))
	return payment, nil
}

// RefundPayment returns the full escrowed amount to the buyer. Refunded is
// terminal: the record is retained as refund evidence and its deposit stays
// locked, so no close path exists from it.
func (e *Engine) RefundPayment(operatorAuthority PublicKey, params PaymentParams) (*Payment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	txn, err := e.beginTxn()
	if err != nil {
		return nil, err
	}
	cfg, _, _, err := e.loadConfig(txn, params.Config, operatorAuthority)
	if err != nil {
		return nil, err
	}
	addr, payment, err := loadPayment(txn, params)
	if err != nil {
		return nil, err
	}
	if payment.Status != StatusPaid {
		return nil, fmt.Errorf("refund from %s: %w", payment.Status, ErrInvalidStatus)
	}
	if err := e.checkRefundPolicy(cfg, payment); err != nil {
		return nil, err
	}
	if err := txn.TokenEnsure(params.Buyer, params.Currency); err != nil {
		return nil, err
	}
	if err := txn.TokenTransfer(cfg.Merchant, params.Buyer, params.Currency, payment.Amount); err != nil {
		return nil, fmt.Errorf("refund buyer: %w", err)
	}
	payment.Status = StatusRefunded
	if err := txn.PaymentPut(addr, payment); err != nil {
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		return nil, err
	}
	e.emit(NewPaymentRefundedEvent(addr, params.Config, params.Buyer, params.Currency, payment))
	return payment, nil
}

// ClosePayment destroys a Cleared payment record once the config's close
// window has elapsed and returns the locked deposit to the party that funded
// the record's creation.
func (e *Engine) ClosePayment(payer PublicKey, operatorAuthority PublicKey, params PaymentParams) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	txn, err := e.beginTxn()
	if err != nil {
		return err
	}
	cfg, _, _, err := e.loadConfig(txn, params.Config, operatorAuthority)
	if err != nil {
		return err
	}
	addr, payment, err := loadPayment(txn, params)
	if err != nil {
		return err
	}
	if payment.Status != StatusCleared {
		return fmt.Errorf("close from %s: %w", payment.Status, ErrInvalidStatus)
	}
	if cfg.DaysToClose > 0 {
		elapsedDays := (e.now() - payment.CreatedAt) / secondsPerDay
		if elapsedDays < int64(cfg.DaysToClose) {
			return fmt.Errorf("%d of %d days: %w", elapsedDays, cfg.DaysToClose, ErrCloseWindowNotReached)
		}
	}
	funder, deposit, err := txn.DepositRelease(addr)
	if err != nil {
		return err
	}
	if err := txn.PaymentDelete(addr); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return err
	}
	if funder.IsZero() {
		funder = payer
	}
	e.emit(NewPaymentClosedEvent(addr, funder, deposit))
	return nil
}

// ChargebackPayment is a reserved transition for future dispute resolution.
// It always fails with ErrChargebackNotImplemented, a signal distinct from an
// unknown instruction, and never moves value or mutates state.
func (e *Engine) ChargebackPayment(PublicKey, PaymentParams) error {
	return ErrChargebackNotImplemented
}

// UpdateOperatorAuthority rotates the operator's owning key. The record keeps
// its address and bump; only the owner field changes.
func (e *Engine) UpdateOperatorAuthority(operator address.Address, current, next PublicKey) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	txn, err := e.beginTxn()
	if err != nil {
		return err
	}
	record, ok, err := txn.OperatorGet(operator)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("operator %s: %w", operator, ErrNotFound)
	}
	if record.Owner != current {
		return fmt.Errorf("operator authority: %w", ErrUnauthorized)
	}
	if next.IsZero() {
		return fmt.Errorf("commerce: new operator authority must be set")
	}
	previous := record.Owner
	record.Owner = next
	if err := txn.OperatorPut(operator, record); err != nil {
		return err
	}
	for _, currency := range e.recognized {
		if err := txn.TokenEnsure(next, currency); err != nil {
			return err
		}
	}
	if err := txn.Commit(); err != nil {
		return err
	}
	e.emit(NewAuthorityRotatedEvent(EventTypeOperatorAuthorityRotated, operator, previous, next))
	return nil
}

// UpdateMerchantAuthority rotates the merchant's owning key in place.
func (e *Engine) UpdateMerchantAuthority(merchant address.Address, current, next PublicKey) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	txn, err := e.beginTxn()
	if err != nil {
		return err
	}
	record, ok, err := txn.MerchantGet(merchant)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("merchant %s: %w", merchant, ErrNotFound)
	}
	if record.Owner != current {
		return fmt.Errorf("merchant authority: %w", ErrUnauthorized)
	}
	if next.IsZero() {
		return fmt.Errorf("commerce: new merchant authority must be set")
	}
	previous := record.Owner
	record.Owner = next
	if err := txn.MerchantPut(merchant, record); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return err
	}
	e.emit(NewAuthorityRotatedEvent(EventTypeMerchantAuthorityRotated, merchant, previous, next))
	return nil
}

// UpdateMerchantSettlementWallet rotates the settlement wallet, provisioning
// custodial accounts for the new wallet before the old one is released.
func (e *Engine) UpdateMerchantSettlementWallet(merchant address.Address, authority, next PublicKey) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	txn, err := e.beginTxn()
	if err != nil {
		return err
	}
	record, ok, err := txn.MerchantGet(merchant)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("merchant %s: %w", merchant, ErrNotFound)
	}
	if record.Owner != authority {
		return fmt.Errorf("merchant authority: %w", ErrUnauthorized)
	}
	if next.IsZero() {
		return fmt.Errorf("commerce: new settlement wallet must be set")
	}
	for _, currency := range e.recognized {
		if err := txn.TokenEnsure(next, currency); err != nil {
			return err
		}
	}
	previous := record.SettlementWallet
	record.SettlementWallet = next
	if err := txn.MerchantPut(merchant, record); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return err
	}
	e.emit(NewSettlementWalletRotatedEvent(merchant, previous, next))
	return nil
}

// --- read-only queries ---

// GetOperator loads an operator record.
func (e *Engine) GetOperator(addr address.Address) (*Operator, error) {
	txn, err := e.beginTxn()
	if err != nil {
		return nil, err
	}
	record, ok, err := txn.OperatorGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("operator %s: %w", addr, ErrNotFound)
	}
	return record, nil
}

// GetMerchant loads a merchant record.
func (e *Engine) GetMerchant(addr address.Address) (*Merchant, error) {
	txn, err := e.beginTxn()
	if err != nil {
		return nil, err
	}
	record, ok, err := txn.MerchantGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("merchant %s: %w", addr, ErrNotFound)
	}
	return record, nil
}

// GetConfig loads a merchant/operator config.
func (e *Engine) GetConfig(addr address.Address) (*MerchantOperatorConfig, error) {
	txn, err := e.beginTxn()
	if err != nil {
		return nil, err
	}
	record, ok, err := txn.ConfigGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("config %s: %w", addr, ErrNotFound)
	}
	return record, nil
}

// GetPayment resolves a payment record from its seed tuple.
func (e *Engine) GetPayment(params PaymentParams) (address.Address, *Payment, error) {
	txn, err := e.beginTxn()
	if err != nil {
		return address.Address{}, nil, err
	}
	addr, payment, err := loadPayment(txn, params)
	if err != nil {
		return address.Address{}, nil, err
	}
	return addr, payment, nil
}

// TokenBalance reads a custodial balance.
func (e *Engine) TokenBalance(holder [32]byte, currency CurrencyID) (uint64, error) {
	txn, err := e.beginTxn()
	if err != nil {
		return 0, err
	}
	return txn.TokenBalance(holder, currency)
}

// --- shared validation ---

// loadConfig resolves the config plus its merchant and operator records and
// verifies the countersigning operator authority.
func (e *Engine) loadConfig(txn State, config address.Address, operatorAuthority PublicKey) (*MerchantOperatorConfig, *Merchant, *Operator, error) {
	cfg, ok, err := txn.ConfigGet(config)
	if err != nil {
		return nil, nil, nil, err
	}
	if !ok {
		return nil, nil, nil, fmt.Errorf("config %s: %w", config, ErrNotFound)
	}
	merchant, ok, err := txn.MerchantGet(cfg.Merchant)
	if err != nil {
		return nil, nil, nil, err
	}
	if !ok {
		return nil, nil, nil, fmt.Errorf("merchant %s: %w", cfg.Merchant, ErrNotFound)
	}
	operator, ok, err := txn.OperatorGet(cfg.Operator)
	if err != nil {
		return nil, nil, nil, err
	}
	if !ok {
		return nil, nil, nil, fmt.Errorf("operator %s: %w", cfg.Operator, ErrNotFound)
	}
	if operator.Owner != operatorAuthority {
		return nil, nil, nil, fmt.Errorf("operator authority: %w", ErrUnauthorized)
	}
	return cfg, merchant, operator, nil
}

func loadPayment(txn State, params PaymentParams) (address.Address, *Payment, error) {
	addr, bump, err := PaymentAddress(params.Config, params.Buyer, params.Currency, params.OrderID)
	if err != nil {
		return address.Address{}, nil, err
	}
	payment, ok, err := txn.PaymentGet(addr)
	if err != nil {
		return address.Address{}, nil, err
	}
	if !ok {
		return address.Address{}, nil, fmt.Errorf("payment %s: %w", addr, ErrNotFound)
	}
	if payment.Bump != bump {
		return address.Address{}, nil, fmt.Errorf("payment %s: %w", addr, address.ErrBumpMismatch)
	}
	return addr, payment, nil
}

// checkSettlementPolicy gates ClearPayment. Policies are evaluated against
// the transition, not at payment creation, so config edits retroactively
// govern not-yet-cleared payments.
func (e *Engine) checkSettlementPolicy(cfg *MerchantOperatorConfig, payment *Payment) error {
	policy, ok := cfg.SettlementPolicyOf()
	if !ok {
		return nil
	}
	if policy.MinSettlementAmount > 0 && payment.Amount < policy.MinSettlementAmount {
		return fmt.Errorf("amount %d below %d: %w", payment.Amount, policy.MinSettlementAmount, ErrInsufficientSettlementAmount)
	}
	if policy.SettlementFrequencyHours > 0 {
		elapsed := e.now() - payment.CreatedAt
		if elapsed < int64(policy.SettlementFrequencyHours)*secondsPerHour {
			return fmt.Errorf("after %ds: %w", elapsed, ErrSettlementTooEarly)
		}
	}
	// AutoSettle is advisory metadata for external schedulers and is never
	// enforced here.
	return nil
}

// checkRefundPolicy gates RefundPayment. The ceiling compares the payment's
// own amount, so a config can structurally forbid refunding large payments.
func (e *Engine) checkRefundPolicy(cfg *MerchantOperatorConfig, payment *Payment) error {
	policy, ok := cfg.RefundPolicyOf()
	if !ok {
		return nil
	}
	if policy.MaxAmount < payment.Amount {
		return fmt.Errorf("amount %d over %d: %w", payment.Amount, policy.MaxAmount, ErrRefundExceedsPolicyLimit)
	}
	if policy.MaxTimeAfterPurchase > 0 {
		elapsed := e.now() - payment.CreatedAt
		if elapsed > int64(policy.MaxTimeAfterPurchase) {
			return fmt.Errorf("after %ds: %w", elapsed, ErrRefundWindowExpired)
		}
	}
	return nil
}
