package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"commercepay/native/commerce"
	"commercepay/observability/logging"
	"commercepay/observability/metrics"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerRequestID      = "X-Request-Id"
	maxRequestBody       = 1 << 20 // 1 MiB
)

// RateLimit caps sustained requests per second for one API key.
type RateLimit struct {
	PerSecond float64
	Burst     int
}

// Server is the HTTP instruction surface over the commerce engine.
type Server struct {
	engine  *commerce.Engine
	auth    *Authenticator
	idem    *IdempotencyStore
	logger  *slog.Logger
	metrics *metrics.CommerceMetrics

	limitMu  sync.Mutex
	limits   map[string]RateLimit
	limiters map[string]*rate.Limiter
}

func NewServer(engine *commerce.Engine, auth *Authenticator, idem *IdempotencyStore, limits map[string]RateLimit, logger *slog.Logger) *Server {
	if engine == nil {
		panic("engine required")
	}
	if auth == nil {
		panic("authenticator required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if limits == nil {
		limits = map[string]RateLimit{}
	}
	return &Server{
		engine:   engine,
		auth:     auth,
		idem:     idem,
		logger:   logger,
		metrics:  metrics.Commerce(),
		limits:   limits,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Router assembles the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/operators", s.instruction("create_operator", s.handleCreateOperator))
		r.Post("/operators/authority", s.instruction("update_operator_authority", s.handleOperatorAuthority))
		r.Get("/operators/{address}", s.handleGetOperator)

		r.Post("/merchants", s.instruction("initialize_merchant", s.handleInitializeMerchant))
		r.Post("/merchants/authority", s.instruction("update_merchant_authority", s.handleMerchantAuthority))
		r.Post("/merchants/settlement-wallet", s.instruction("update_settlement_wallet", s.handleSettlementWallet))
		r.Get("/merchants/{address}", s.handleGetMerchant)

		r.Post("/configs", s.instruction("initialize_config", s.handleInitializeConfig))
		r.Get("/configs/{address}", s.handleGetConfig)

		r.Post("/payments", s.instruction("make_payment", s.handleMakePayment))
		r.Post("/payments/clear", s.instruction("clear_payment", s.handleClearPayment))
		r.Post("/payments/refund", s.instruction("refund_payment", s.handleRefundPayment))
		r.Post("/payments/close", s.instruction("close_payment", s.handleClosePayment))
		r.Post("/payments/chargeback", s.instruction("chargeback_payment", s.handleChargeback))
		r.Get("/payments", s.handleGetPayment)

		r.Get("/balances/{holder}", s.handleGetBalance)
		r.Post("/derive", s.handleDerive)
	})
	return r
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r)
	})
}

type instructionHandler func(principal *Principal, body []byte) (int, any, error)

// instruction wraps a mutating handler with authentication, rate limiting,
// idempotency replay and metrics.
func (s *Server) instruction(name string, handle instructionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		outcome := "ok"
		defer func() {
			s.metrics.ObserveInstruction(name, outcome, time.Since(started))
		}()

		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
		if err != nil {
			outcome = "error"
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
		if len(body) > maxRequestBody {
			outcome = "error"
			s.writeError(w, r, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
			return
		}
		principal, err := s.auth.Authenticate(r, body)
		if err != nil {
			outcome = "unauthorized"
			s.logger.Warn("authentication failed",
				"error", err.Error(),
				"instruction", name,
				logging.MaskField("api_key", r.Header.Get(HeaderAPIKey)))
			s.writeError(w, r, http.StatusUnauthorized, err)
			return
		}
		if !s.allow(principal.APIKey) {
			outcome = "throttled"
			s.metrics.ObserveThrottled(principal.APIKey)
			s.writeError(w, r, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}

		idemKey := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
		requestHash := hashRequest(r.Method, canonicalRequestPath(r), body)
		if s.idem != nil && idemKey != "" {
			cached, cacheErr := s.idem.Lookup(principal.APIKey, idemKey, requestHash)
			if cacheErr != nil {
				outcome = "error"
				status := http.StatusInternalServerError
				if errors.Is(cacheErr, ErrIdempotencyMismatch) {
					status = http.StatusConflict
				}
				s.writeError(w, r, status, cacheErr)
				return
			}
			if cached != nil {
				outcome = "replay"
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(cached.Status)
				_, _ = w.Write(cached.Body)
				return
			}
		}

		status, payload, err := handle(principal, body)
		if err != nil {
			outcome = "error"
			s.writeError(w, r, statusFor(err), err)
			return
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			outcome = "error"
			s.writeError(w, r, http.StatusInternalServerError, err)
			return
		}
		if s.idem != nil && idemKey != "" {
			if err := s.idem.Remember(principal.APIKey, idemKey, requestHash, status, raw); err != nil {
				s.logger.Error("persist idempotency record failed", "error", err.Error(), "instruction", name)
			}
		}
		s.logger.Info("instruction handled",
			"instruction", name,
			"status", strconv.Itoa(status),
			logging.MaskField("api_key", principal.APIKey))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(raw)
	}
}

func (s *Server) allow(apiKey string) bool {
	limit, ok := s.limits[apiKey]
	if !ok || limit.PerSecond <= 0 {
		return true
	}
	s.limitMu.Lock()
	limiter, ok := s.limiters[apiKey]
	if !ok {
		burst := limit.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(limit.PerSecond), burst)
		s.limiters[apiKey] = limiter
	}
	s.limitMu.Unlock()
	return limiter.Allow()
}

type errorResponse struct {
	Error     string `json:"error"`
	Class     string `json:"class,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	resp := errorResponse{
		Error:     err.Error(),
		Class:     classify(err),
		Retryable: errors.Is(err, commerce.ErrOrderIDMismatch),
	}
	s.logger.Warn("request failed",
		"error", err.Error(),
		"status", strconv.Itoa(status),
		logging.MaskField("path", r.URL.Path))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// statusFor maps the engine's error taxonomy onto HTTP statuses. The
// chargeback sentinel maps to 501, distinct from the router's unknown-route
// 404, so callers can tell a reserved instruction from a missing one.
func statusFor(err error) int {
	switch {
	case errors.Is(err, commerce.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, commerce.ErrAlreadyExists),
		errors.Is(err, commerce.ErrInvalidStatus),
		errors.Is(err, commerce.ErrOrderIDMismatch):
		return http.StatusConflict
	case errors.Is(err, commerce.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, commerce.ErrChargebackNotImplemented):
		return http.StatusNotImplemented
	case errors.Is(err, commerce.ErrInsufficientBalance),
		errors.Is(err, commerce.ErrCurrencyNotAccepted),
		errors.Is(err, commerce.ErrInsufficientSettlementAmount),
		errors.Is(err, commerce.ErrSettlementTooEarly),
		errors.Is(err, commerce.ErrRefundExceedsPolicyLimit),
		errors.Is(err, commerce.ErrRefundWindowExpired),
		errors.Is(err, commerce.ErrCloseWindowNotReached),
		errors.Is(err, commerce.ErrFeeExceedsAmount),
		errors.Is(err, commerce.ErrAcceptedCurrenciesEmpty):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func classify(err error) string {
	for _, sentinel := range []struct {
		err   error
		class string
	}{
		{commerce.ErrNotFound, "not_found"},
		{commerce.ErrAlreadyExists, "already_exists"},
		{commerce.ErrUnauthorized, "unauthorized"},
		{commerce.ErrInvalidStatus, "invalid_status"},
		{commerce.ErrOrderIDMismatch, "order_id_mismatch"},
		{commerce.ErrCurrencyNotAccepted, "currency_not_accepted"},
		{commerce.ErrInsufficientBalance, "insufficient_balance"},
		{commerce.ErrInsufficientSettlementAmount, "insufficient_settlement_amount"},
		{commerce.ErrSettlementTooEarly, "settlement_too_early"},
		{commerce.ErrRefundExceedsPolicyLimit, "refund_exceeds_policy_limit"},
		{commerce.ErrRefundWindowExpired, "refund_window_expired"},
		{commerce.ErrCloseWindowNotReached, "close_window_not_reached"},
		{commerce.ErrFeeExceedsAmount, "fee_exceeds_amount"},
		{commerce.ErrAcceptedCurrenciesEmpty, "accepted_currencies_empty"},
		{commerce.ErrChargebackNotImplemented, "chargeback_not_implemented"},
	} {
		if errors.Is(err, sentinel.err) {
			return sentinel.class
		}
	}
	return ""
}

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), errBadRequest)
}
