package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"commercepay/core/address"
	"commercepay/core/events"
	"commercepay/native/commerce"
	"commercepay/observability/metrics"
)

// Settler drives advisory auto-settlement. It subscribes to engine events to
// learn which payments sit in Paid, and on every tick clears the ones whose
// config opted into AutoSettle once the settlement policy allows it. The
// state machine itself never self-schedules; clearing always goes through the
// regular ClearPayment instruction and its policy gates.
//
// The pending set lives in memory only: a payment record stores neither buyer
// nor config, so its seed tuple cannot be recovered from the store and
// payments created before the process started are not swept. They remain
// clearable through the regular instruction; a durable index of seed tuples
// would be needed to resume sweeping across restarts.
type Settler struct {
	engine  *commerce.Engine
	logger  *slog.Logger
	metrics *metrics.CommerceMetrics
	tick    time.Duration

	mu      sync.Mutex
	pending map[address.Address]commerce.PaymentParams
}

func New(engine *commerce.Engine, tick time.Duration, logger *slog.Logger) *Settler {
	if engine == nil {
		panic("engine required")
	}
	if tick <= 0 {
		tick = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Settler{
		engine:  engine,
		logger:  logger,
		metrics: metrics.Commerce(),
		tick:    tick,
		pending: make(map[address.Address]commerce.PaymentParams),
	}
}

var _ events.Emitter = (*Settler)(nil)

// Emit tracks the payment lifecycle. Created payments enter the pending set;
// any terminal or cleared transition removes them.
func (s *Settler) Emit(event *events.Event) {
	if event == nil {
		return
	}
	switch event.Type {
	case commerce.EventTypePaymentCreated:
		params, addr, ok := paymentFromAttributes(event.Attributes)
		if !ok {
			s.logger.Warn("malformed payment event", "reason", "missing seed attributes")
			return
		}
		s.mu.Lock()
		s.pending[addr] = params
		s.mu.Unlock()
	case commerce.EventTypePaymentCleared, commerce.EventTypePaymentRefunded, commerce.EventTypePaymentClosed:
		raw, ok := event.Attributes["payment"]
		if !ok {
			return
		}
		addr, err := address.Parse(raw)
		if err != nil {
			return
		}
		s.mu.Lock()
		delete(s.pending, addr)
		s.mu.Unlock()
	}
}

// Run blocks, sweeping pending payments every tick until the context ends.
func (s *Settler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep attempts to clear every tracked payment whose config allows it. It is
// exported so tests and operators can trigger a pass without the ticker.
func (s *Settler) Sweep() {
	s.mu.Lock()
	snapshot := make(map[address.Address]commerce.PaymentParams, len(s.pending))
	for addr, params := range s.pending {
		snapshot[addr] = params
	}
	s.mu.Unlock()

	for addr, params := range snapshot {
		s.settle(addr, params)
	}
}

func (s *Settler) settle(addr address.Address, params commerce.PaymentParams) {
	cfg, err := s.engine.GetConfig(params.Config)
	if err != nil {
		s.drop(addr)
		s.metrics.ObserveSettlement("config_missing")
		return
	}
	policy, ok := cfg.SettlementPolicyOf()
	if !ok || !policy.AutoSettle {
		// Manual-settlement config; nothing for the scheduler to do.
		s.drop(addr)
		return
	}
	operator, err := s.engine.GetOperator(cfg.Operator)
	if err != nil {
		s.drop(addr)
		s.metrics.ObserveSettlement("operator_missing")
		return
	}
	_, err = s.engine.ClearPayment(operator.Owner, params)
	switch {
	case err == nil:
		s.drop(addr)
		s.metrics.ObserveSettlement("cleared")
		s.logger.Info("auto-settled payment",
			"payment", addr.Hex(),
			"config", params.Config.Hex(),
			"orderid", strconv.FormatUint(uint64(params.OrderID), 10))
	case errors.Is(err, commerce.ErrSettlementTooEarly),
		errors.Is(err, commerce.ErrInsufficientSettlementAmount):
		// Not eligible yet; retry on a later sweep.
		s.metrics.ObserveSettlement("deferred")
	case errors.Is(err, commerce.ErrInvalidStatus), errors.Is(err, commerce.ErrNotFound):
		// Someone else moved the payment since we tracked it.
		s.drop(addr)
		s.metrics.ObserveSettlement("stale")
	default:
		s.metrics.ObserveSettlement("error")
		s.logger.Error("auto-settlement failed", "payment", addr.Hex(), "error", err.Error())
	}
}

func (s *Settler) drop(addr address.Address) {
	s.mu.Lock()
	delete(s.pending, addr)
	s.mu.Unlock()
}

// PendingCount reports how many payments the settler is currently tracking.
func (s *Settler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func paymentFromAttributes(attrs map[string]string) (commerce.PaymentParams, address.Address, bool) {
	addr, err := address.Parse(attrs["payment"])
	if err != nil {
		return commerce.PaymentParams{}, address.Address{}, false
	}
	cfg, err := address.Parse(attrs["config"])
	if err != nil {
		return commerce.PaymentParams{}, address.Address{}, false
	}
	buyer, err := commerce.ParsePublicKey(attrs["buyer"])
	if err != nil {
		return commerce.PaymentParams{}, address.Address{}, false
	}
	currency, err := commerce.ParseCurrencyID(attrs["currency"])
	if err != nil {
		return commerce.PaymentParams{}, address.Address{}, false
	}
	orderID, err := strconv.ParseUint(attrs["orderId"], 10, 32)
	if err != nil {
		return commerce.PaymentParams{}, address.Address{}, false
	}
	return commerce.PaymentParams{
		Config:   cfg,
		Buyer:    buyer,
		Currency: currency,
		OrderID:  uint32(orderID),
	}, addr, true
}
