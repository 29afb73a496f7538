package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"commercepay/core/address"
	"commercepay/native/commerce"
)

type policyPayload struct {
	Refund *struct {
		MaxAmount            uint64 `json:"maxAmount"`
		MaxTimeAfterPurchase uint64 `json:"maxTimeAfterPurchase"`
	} `json:"refund,omitempty"`
	Chargeback *struct {
		MaxAmount            uint64 `json:"maxAmount"`
		MaxTimeAfterPurchase uint64 `json:"maxTimeAfterPurchase"`
	} `json:"chargeback,omitempty"`
	Settlement *struct {
		MinSettlementAmount      uint64 `json:"minSettlementAmount"`
		SettlementFrequencyHours uint32 `json:"settlementFrequencyHours"`
		AutoSettle               bool   `json:"autoSettle"`
	} `json:"settlement,omitempty"`
}

func (p policyPayload) toPolicies() []commerce.PolicyData {
	var out []commerce.PolicyData
	if p.Refund != nil {
		out = append(out, commerce.NewRefundPolicy(commerce.RefundPolicy{
			MaxAmount:            p.Refund.MaxAmount,
			MaxTimeAfterPurchase: p.Refund.MaxTimeAfterPurchase,
		}))
	}
	if p.Chargeback != nil {
		out = append(out, commerce.NewChargebackPolicy(commerce.ChargebackPolicy{
			MaxAmount:            p.Chargeback.MaxAmount,
			MaxTimeAfterPurchase: p.Chargeback.MaxTimeAfterPurchase,
		}))
	}
	if p.Settlement != nil {
		out = append(out, commerce.NewSettlementPolicy(commerce.SettlementPolicy{
			MinSettlementAmount:      p.Settlement.MinSettlementAmount,
			SettlementFrequencyHours: p.Settlement.SettlementFrequencyHours,
			AutoSettle:               p.Settlement.AutoSettle,
		}))
	}
	return out
}

type addressResponse struct {
	Address string `json:"address"`
}

type paymentResponse struct {
	Address   string `json:"address"`
	OrderID   uint32 `json:"orderId"`
	Amount    uint64 `json:"amount"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"createdAt"`
}

func paymentBody(addr address.Address, p *commerce.Payment) paymentResponse {
	return paymentResponse{
		Address:   addr.Hex(),
		OrderID:   p.OrderID,
		Amount:    p.Amount,
		Status:    p.Status.String(),
		CreatedAt: p.CreatedAt,
	}
}

func decodeJSON(body []byte, out any) error {
	decoder := json.NewDecoder(strings.NewReader(string(body)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return badRequest("invalid JSON payload: %v", err)
	}
	return nil
}

func parseKey(field, raw string) (commerce.PublicKey, error) {
	key, err := commerce.ParsePublicKey(raw)
	if err != nil {
		return commerce.PublicKey{}, badRequest("%s: %v", field, err)
	}
	return key, nil
}

func parseAddr(field, raw string) (address.Address, error) {
	addr, err := address.Parse(raw)
	if err != nil {
		return address.Address{}, badRequest("%s: %v", field, err)
	}
	return addr, nil
}

func parseCurrency(field, raw string) (commerce.CurrencyID, error) {
	currency, err := commerce.ParseCurrencyID(raw)
	if err != nil {
		return commerce.CurrencyID{}, badRequest("%s: %v", field, err)
	}
	return currency, nil
}

func parseFeeType(raw string) (commerce.FeeType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "bps":
		return commerce.FeeTypeBps, nil
	case "fixed":
		return commerce.FeeTypeFixed, nil
	default:
		return 0, badRequest("feeType must be \"bps\" or \"fixed\", got %q", raw)
	}
}

func (s *Server) handleCreateOperator(_ *Principal, body []byte) (int, any, error) {
	var req struct {
		FeePayer string `json:"feePayer"`
		Owner    string `json:"owner"`
	}
	if err := decodeJSON(body, &req); err != nil {
		return 0, nil, err
	}
	feePayer, err := parseKey("feePayer", req.FeePayer)
	if err != nil {
		return 0, nil, err
	}
	owner, err := parseKey("owner", req.Owner)
	if err != nil {
		return 0, nil, err
	}
	addr, err := s.engine.CreateOperator(feePayer, owner)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, addressResponse{Address: addr.Hex()}, nil
}

func (s *Server) handleInitializeMerchant(_ *Principal, body []byte) (int, any, error) {
	var req struct {
		FeePayer         string `json:"feePayer"`
		Owner            string `json:"owner"`
		SettlementWallet string `json:"settlementWallet"`
	}
	if err := decodeJSON(body, &req); err != nil {
		return 0, nil, err
	}
	feePayer, err := parseKey("feePayer", req.FeePayer)
	if err != nil {
		return 0, nil, err
	}
	owner, err := parseKey("owner", req.Owner)
	if err != nil {
		return 0, nil, err
	}
	wallet, err := parseKey("settlementWallet", req.SettlementWallet)
	if err != nil {
		return 0, nil, err
	}
	addr, err := s.engine.InitializeMerchant(feePayer, owner, wallet)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, addressResponse{Address: addr.Hex()}, nil
}

func (s *Server) handleInitializeConfig(_ *Principal, body []byte) (int, any, error) {
	var req struct {
		FeePayer           string        `json:"feePayer"`
		Authority          string        `json:"authority"`
		Merchant           string        `json:"merchant"`
		Operator           string        `json:"operator"`
		Version            uint32        `json:"version"`
		OperatorFee        uint64        `json:"operatorFee"`
		FeeType            string        `json:"feeType"`
		DaysToClose        uint16        `json:"daysToClose"`
		Policies           policyPayload `json:"policies"`
		AcceptedCurrencies []string      `json:"acceptedCurrencies"`
	}
	if err := decodeJSON(body, &req); err != nil {
		return 0, nil, err
	}
	feePayer, err := parseKey("feePayer", req.FeePayer)
	if err != nil {
		return 0, nil, err
	}
	authority, err := parseKey("authority", req.Authority)
	if err != nil {
		return 0, nil, err
	}
	merchant, err := parseAddr("merchant", req.Merchant)
	if err != nil {
		return 0, nil, err
	}
	operator, err := parseAddr("operator", req.Operator)
	if err != nil {
		return 0, nil, err
	}
	feeType, err := parseFeeType(req.FeeType)
	if err != nil {
		return 0, nil, err
	}
	currencies := make([]commerce.CurrencyID, 0, len(req.AcceptedCurrencies))
	for _, raw := range req.AcceptedCurrencies {
		currency, err := parseCurrency("acceptedCurrencies", raw)
		if err != nil {
			return 0, nil, err
		}
		currencies = append(currencies, currency)
	}
	addr, err := s.engine.InitializeConfig(feePayer, commerce.ConfigParams{
		Authority:          authority,
		Merchant:           merchant,
		Operator:           operator,
		Version:            req.Version,
		OperatorFee:        req.OperatorFee,
		FeeType:            feeType,
		DaysToClose:        req.DaysToClose,
		Policies:           req.Policies.toPolicies(),
		AcceptedCurrencies: currencies,
	})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, addressResponse{Address: addr.Hex()}, nil
}

func (s *Server) handleMakePayment(_ *Principal, body []byte) (int, any, error) {
	var req struct {
		FeePayer          string  `json:"feePayer"`
		Buyer             string  `json:"buyer"`
		OperatorAuthority string  `json:"operatorAuthority"`
		Config            string  `json:"config"`
		Currency          string  `json:"currency"`
		Amount            uint64  `json:"amount"`
		OrderID           *uint32 `json:"orderId,omitempty"`
	}
	if err := decodeJSON(body, &req); err != nil {
		return 0, nil, err
	}
	feePayer, err := parseKey("feePayer", req.FeePayer)
	if err != nil {
		return 0, nil, err
	}
	buyer, err := parseKey("buyer", req.Buyer)
	if err != nil {
		return 0, nil, err
	}
	authority, err := parseKey("operatorAuthority", req.OperatorAuthority)
	if err != nil {
		return 0, nil, err
	}
	cfg, err := parseAddr("config", req.Config)
	if err != nil {
		return 0, nil, err
	}
	currency, err := parseCurrency("currency", req.Currency)
	if err != nil {
		return 0, nil, err
	}
	addr, payment, err := s.engine.MakePayment(commerce.MakePaymentParams{
		FeePayer:          feePayer,
		Buyer:             buyer,
		OperatorAuthority: authority,
		Config:            cfg,
		Currency:          currency,
		Amount:            req.Amount,
		OrderIDHint:       req.OrderID,
	})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, paymentBody(addr, payment), nil
}

type paymentActionRequest struct {
	Payer             string `json:"payer,omitempty"`
	OperatorAuthority string `json:"operatorAuthority"`
	Config            string `json:"config"`
	Buyer             string `json:"buyer"`
	Currency          string `json:"currency"`
	OrderID           uint32 `json:"orderId"`
}

func (r paymentActionRequest) params() (commerce.PublicKey, commerce.PaymentParams, error) {
	authority, err := parseKey("operatorAuthority", r.OperatorAuthority)
	if err != nil {
		return commerce.PublicKey{}, commerce.PaymentParams{}, err
	}
	cfg, err := parseAddr("config", r.Config)
	if err != nil {
		return commerce.PublicKey{}, commerce.PaymentParams{}, err
	}
	buyer, err := parseKey("buyer", r.Buyer)
	if err != nil {
		return commerce.PublicKey{}, commerce.PaymentParams{}, err
	}
	currency, err := parseCurrency("currency", r.Currency)
	if err != nil {
		return commerce.PublicKey{}, commerce.PaymentParams{}, err
	}
	return authority, commerce.PaymentParams{
		Config:   cfg,
		Buyer:    buyer,
		Currency: currency,
		OrderID:  r.OrderID,
	}, nil
}

func (s *Server) handleClearPayment(_ *Principal, body []byte) (int, any, error) {
	var req paymentActionRequest
	if err := decodeJSON(body, &req); err != nil {
		return 0, nil, err
	}
	authority, params, err := req.params()
	if err != nil {
		return 0, nil, err
	}
	payment, err := s.engine.ClearPayment(authority, params)
	if err != nil {
		return 0, nil, err
	}
	addr, _, _ := commerce.PaymentAddress(params.Config, params.Buyer, params.Currency, params.OrderID)
	return http.StatusOK, paymentBody(addr, payment), nil
}

func (s *Server) handleRefundPayment(_ *Principal, body []byte) (int, any, error) {
	var req paymentActionRequest
	if err := decodeJSON(body, &req); err != nil {
		return 0, nil, err
	}
	authority, params, err := req.params()
	if err != nil {
		return 0, nil, err
	}
	payment, err := s.engine.RefundPayment(authority, params)
	if err != nil {
		return 0, nil, err
	}
	addr, _, _ := commerce.PaymentAddress(params.Config, params.Buyer, params.Currency, params.OrderID)
	return http.StatusOK, paymentBody(addr, payment), nil
}

func (s *Server) handleClosePayment(_ *Principal, body []byte) (int, any, error) {
	var req paymentActionRequest
	if err := decodeJSON(body, &req); err != nil {
		return 0, nil, err
	}
	if strings.TrimSpace(req.Payer) == "" {
		return 0, nil, badRequest("payer required")
	}
	payer, err := parseKey("payer", req.Payer)
	if err != nil {
		return 0, nil, err
	}
	authority, params, err := req.params()
	if err != nil {
		return 0, nil, err
	}
	if err := s.engine.ClosePayment(payer, authority, params); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, map[string]string{"status": "closed"}, nil
}

func (s *Server) handleChargeback(_ *Principal, body []byte) (int, any, error) {
	var req paymentActionRequest
	if err := decodeJSON(body, &req); err != nil {
		return 0, nil, err
	}
	authority, params, err := req.params()
	if err != nil {
		return 0, nil, err
	}
	return 0, nil, s.engine.ChargebackPayment(authority, params)
}

func (s *Server) handleOperatorAuthority(_ *Principal, body []byte) (int, any, error) {
	var req struct {
		Operator string `json:"operator"`
		Current  string `json:"current"`
		Next     string `json:"next"`
	}
	if err := decodeJSON(body, &req); err != nil {
		return 0, nil, err
	}
	operator, err := parseAddr("operator", req.Operator)
	if err != nil {
		return 0, nil, err
	}
	current, err := parseKey("current", req.Current)
	if err != nil {
		return 0, nil, err
	}
	next, err := parseKey("next", req.Next)
	if err != nil {
		return 0, nil, err
	}
	if err := s.engine.UpdateOperatorAuthority(operator, current, next); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, map[string]string{"status": "rotated"}, nil
}

func (s *Server) handleMerchantAuthority(_ *Principal, body []byte) (int, any, error) {
	var req struct {
		Merchant string `json:"merchant"`
		Current  string `json:"current"`
		Next     string `json:"next"`
	}
	if err := decodeJSON(body, &req); err != nil {
		return 0, nil, err
	}
	merchant, err := parseAddr("merchant", req.Merchant)
	if err != nil {
		return 0, nil, err
	}
	current, err := parseKey("current", req.Current)
	if err != nil {
		return 0, nil, err
	}
	next, err := parseKey("next", req.Next)
	if err != nil {
		return 0, nil, err
	}
	if err := s.engine.UpdateMerchantAuthority(merchant, current, next); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, map[string]string{"status": "rotated"}, nil
}

func (s *Server) handleSettlementWallet(_ *Principal, body []byte) (int, any, error) {
	var req struct {
		Merchant  string `json:"merchant"`
		Authority string `json:"authority"`
		Next      string `json:"next"`
	}
	if err := decodeJSON(body, &req); err != nil {
		return 0, nil, err
	}
	merchant, err := parseAddr("merchant", req.Merchant)
	if err != nil {
		return 0, nil, err
	}
	authority, err := parseKey("authority", req.Authority)
	if err != nil {
		return 0, nil, err
	}
	next, err := parseKey("next", req.Next)
	if err != nil {
		return 0, nil, err
	}
	if err := s.engine.UpdateMerchantSettlementWallet(merchant, authority, next); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, map[string]string{"status": "rotated"}, nil
}

// --- read-only decoders ---

func (s *Server) handleGetOperator(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddr("address", chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	record, err := s.engine.GetOperator(addr)
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"address": addr.Hex(),
		"owner":   record.Owner.Hex(),
		"bump":    record.Bump,
	})
}

func (s *Server) handleGetMerchant(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddr("address", chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	record, err := s.engine.GetMerchant(addr)
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"address":          addr.Hex(),
		"owner":            record.Owner.Hex(),
		"settlementWallet": record.SettlementWallet.Hex(),
		"bump":             record.Bump,
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddr("address", chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	record, err := s.engine.GetConfig(addr)
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	currencies := make([]string, 0, len(record.AcceptedCurrencies))
	for _, currency := range record.AcceptedCurrencies {
		currencies = append(currencies, currency.Hex())
	}
	payload := map[string]any{
		"address":            addr.Hex(),
		"merchant":           record.Merchant.Hex(),
		"operator":           record.Operator.Hex(),
		"version":            record.Version,
		"operatorFee":        record.OperatorFee,
		"feeType":            record.FeeType.String(),
		"currentOrderId":     record.CurrentOrderID,
		"daysToClose":        record.DaysToClose,
		"acceptedCurrencies": currencies,
	}
	if refund, ok := record.RefundPolicyOf(); ok {
		payload["refundPolicy"] = refund
	}
	if settlement, ok := record.SettlementPolicyOf(); ok {
		payload["settlementPolicy"] = settlement
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	cfg, err := parseAddr("config", query.Get("config"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	buyer, err := parseKey("buyer", query.Get("buyer"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	currency, err := parseCurrency("currency", query.Get("currency"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	orderID, err := strconv.ParseUint(query.Get("orderId"), 10, 32)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, badRequest("orderId: %v", err))
		return
	}
	addr, payment, err := s.engine.GetPayment(commerce.PaymentParams{
		Config:   cfg,
		Buyer:    buyer,
		Currency: currency,
		OrderID:  uint32(orderID),
	})
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, paymentBody(addr, payment))
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	holder, err := parseAddr("holder", chi.URLParam(r, "holder"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	currency, err := parseCurrency("currency", r.URL.Query().Get("currency"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	balance, err := s.engine.TokenBalance(holder, currency)
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"holder":   holder.Hex(),
		"currency": currency.Hex(),
		"balance":  balance,
	})
}

// handleDerive computes record addresses offline, so clients can predict
// where a record will live before submitting the instruction.
func (s *Server) handleDerive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind     string `json:"kind"`
		Owner    string `json:"owner,omitempty"`
		Merchant string `json:"merchant,omitempty"`
		Operator string `json:"operator,omitempty"`
		Version  uint32 `json:"version,omitempty"`
		Config   string `json:"config,omitempty"`
		Buyer    string `json:"buyer,omitempty"`
		Currency string `json:"currency,omitempty"`
		OrderID  uint32 `json:"orderId,omitempty"`
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := decodeJSON(body, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	var (
		addr address.Address
		bump uint8
	)
	switch strings.ToLower(strings.TrimSpace(req.Kind)) {
	case "operator":
		owner, parseErr := parseKey("owner", req.Owner)
		if parseErr != nil {
			s.writeError(w, r, http.StatusBadRequest, parseErr)
			return
		}
		addr, bump, err = commerce.OperatorAddress(owner)
	case "merchant":
		owner, parseErr := parseKey("owner", req.Owner)
		if parseErr != nil {
			s.writeError(w, r, http.StatusBadRequest, parseErr)
			return
		}
		addr, bump, err = commerce.MerchantAddress(owner)
	case "config":
		merchant, parseErr := parseAddr("merchant", req.Merchant)
		if parseErr != nil {
			s.writeError(w, r, http.StatusBadRequest, parseErr)
			return
		}
		operator, parseErr := parseAddr("operator", req.Operator)
		if parseErr != nil {
			s.writeError(w, r, http.StatusBadRequest, parseErr)
			return
		}
		addr, bump, err = commerce.ConfigAddress(merchant, operator, req.Version)
	case "payment":
		cfg, parseErr := parseAddr("config", req.Config)
		if parseErr != nil {
			s.writeError(w, r, http.StatusBadRequest, parseErr)
			return
		}
		buyer, parseErr := parseKey("buyer", req.Buyer)
		if parseErr != nil {
			s.writeError(w, r, http.StatusBadRequest, parseErr)
			return
		}
		currency, parseErr := parseCurrency("currency", req.Currency)
		if parseErr != nil {
			s.writeError(w, r, http.StatusBadRequest, parseErr)
			return
		}
		addr, bump, err = commerce.PaymentAddress(cfg, buyer, currency, req.OrderID)
	default:
		s.writeError(w, r, http.StatusBadRequest, badRequest("kind must be operator, merchant, config or payment"))
		return
	}
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"address": addr.Hex(),
		"bump":    bump,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
