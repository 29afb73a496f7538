package gateway

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"commercepay/core/genesis"
	"commercepay/core/state"
	"commercepay/native/commerce"
	"commercepay/storage"
)

const (
	testAPIKey = "ops"
	testSecret = "s3cret"
)

func hexKey(fill byte) string {
	var k commerce.PublicKey
	for i := range k {
		k[i] = fill
	}
	return k.Hex()
}

type testGateway struct {
	t       *testing.T
	server  *httptest.Server
	logBuf  *bytes.Buffer
	nowUnix int64
}

func newTestGateway(t *testing.T, limits map[string]RateLimit) *testGateway {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	engine := commerce.NewEngine()
	engine.SetState(func() commerce.State { return manager.Begin() })

	var usd commerce.CurrencyID
	for i := range usd {
		usd[i] = 0x55
	}
	engine.SetRecognizedCurrencies([]commerce.CurrencyID{usd})

	// Fund fee payer and buyer the way a deployment does.
	applied, err := genesis.Apply(manager, []genesis.Allocation{
		{Account: hexKey(0x01), Native: 100_000_000},
		{Account: hexKey(0x05), Tokens: map[string]uint64{usd.Hex(): 10_000_000}},
	})
	require.NoError(t, err)
	require.True(t, applied)

	auth := NewAuthenticator(map[string]string{testAPIKey: testSecret}, time.Minute, nil)
	idem, err := NewIdempotencyStore(filepath.Join(t.TempDir(), "idempotency.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idem.Close() })

	logBuf := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(logBuf, &slog.HandlerOptions{}))
	srv := NewServer(engine, auth, idem, limits, logger)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testGateway{t: t, server: ts, logBuf: logBuf, nowUnix: time.Now().Unix()}
}

func (g *testGateway) signedRequest(method, path string, payload any, headers map[string]string) *http.Response {
	g.t.Helper()
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		require.NoError(g.t, err)
	}
	req, err := http.NewRequest(method, g.server.URL+path, bytes.NewReader(body))
	require.NoError(g.t, err)
	timestamp := strconv.FormatInt(g.nowUnix, 10)
	nonce := uuid.NewString()
	req.Header.Set(HeaderAPIKey, testAPIKey)
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderNonce, nonce)
	req.Header.Set(HeaderSignature, hex.EncodeToString(
		ComputeSignature(testSecret, timestamp, nonce, method, path, body)))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(g.t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

// bootstrap creates operator, merchant and config over HTTP and returns their
// addresses.
func (g *testGateway) bootstrap() (operator, merchant, config string) {
	g.t.Helper()
	var created addressResponse

	resp := g.signedRequest(http.MethodPost, "/v1/operators", map[string]any{
		"feePayer": hexKey(0x01),
		"owner":    hexKey(0x02),
	}, nil)
	require.Equal(g.t, http.StatusCreated, resp.StatusCode)
	decodeBody(g.t, resp, &created)
	operator = created.Address

	resp = g.signedRequest(http.MethodPost, "/v1/merchants", map[string]any{
		"feePayer":         hexKey(0x01),
		"owner":            hexKey(0x03),
		"settlementWallet": hexKey(0x04),
	}, nil)
	require.Equal(g.t, http.StatusCreated, resp.StatusCode)
	decodeBody(g.t, resp, &created)
	merchant = created.Address

	resp = g.signedRequest(http.MethodPost, "/v1/configs", map[string]any{
		"feePayer":           hexKey(0x01),
		"authority":          hexKey(0x03),
		"merchant":           merchant,
		"operator":           operator,
		"version":            1,
		"operatorFee":        100000,
		"feeType":            "fixed",
		"acceptedCurrencies": []string{currencyHex()},
	}, nil)
	require.Equal(g.t, http.StatusCreated, resp.StatusCode)
	decodeBody(g.t, resp, &created)
	config = created.Address
	return operator, merchant, config
}

func currencyHex() string {
	var usd commerce.CurrencyID
	for i := range usd {
		usd[i] = 0x55
	}
	return usd.Hex()
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	g := newTestGateway(t, nil)
	body, _ := json.Marshal(map[string]any{"feePayer": hexKey(0x01), "owner": hexKey(0x02)})
	resp, err := http.Post(g.server.URL+"/v1/operators", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestBadSignatureRejected(t *testing.T) {
	g := newTestGateway(t, nil)
	resp := g.signedRequest(http.MethodPost, "/v1/operators", map[string]any{
		"feePayer": hexKey(0x01),
		"owner":    hexKey(0x02),
	}, map[string]string{HeaderSignature: "deadbeef"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPaymentLifecycleOverHTTP(t *testing.T) {
	g := newTestGateway(t, nil)
	_, _, config := g.bootstrap()

	var payment paymentResponse
	resp := g.signedRequest(http.MethodPost, "/v1/payments", map[string]any{
		"feePayer":          hexKey(0x01),
		"buyer":             hexKey(0x05),
		"operatorAuthority": hexKey(0x02),
		"config":            config,
		"currency":          currencyHex(),
		"amount":            1000000,
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	decodeBody(t, resp, &payment)
	require.Equal(t, uint32(0), payment.OrderID)
	require.Equal(t, "paid", payment.Status)

	action := map[string]any{
		"operatorAuthority": hexKey(0x02),
		"config":            config,
		"buyer":             hexKey(0x05),
		"currency":          currencyHex(),
		"orderId":           0,
	}
	resp = g.signedRequest(http.MethodPost, "/v1/payments/clear", action, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &payment)
	require.Equal(t, "cleared", payment.Status)

	var balance struct {
		Balance uint64 `json:"balance"`
	}
	resp = g.signedRequest(http.MethodGet, "/v1/balances/"+hexKey(0x04)+"?currency="+currencyHex(), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &balance)
	require.Equal(t, uint64(900000), balance.Balance)

	action["payer"] = hexKey(0x01)
	resp = g.signedRequest(http.MethodPost, "/v1/payments/close", action, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = g.signedRequest(http.MethodGet,
		fmt.Sprintf("/v1/payments?buyer=%s&config=%s&currency=%s&orderId=0", hexKey(0x05), config, currencyHex()), nil, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChargebackReturnsNotImplemented(t *testing.T) {
	g := newTestGateway(t, nil)
	_, _, config := g.bootstrap()

	resp := g.signedRequest(http.MethodPost, "/v1/payments/chargeback", map[string]any{
		"operatorAuthority": hexKey(0x02),
		"config":            config,
		"buyer":             hexKey(0x05),
		"currency":          currencyHex(),
		"orderId":           0,
	}, nil)
	require.Equal(t, http.StatusNotImplemented, resp.StatusCode)
	var body errorResponse
	decodeBody(t, resp, &body)
	require.Contains(t, body.Error, "not implemented")
	require.Equal(t, "chargeback_not_implemented", body.Class)
}

func TestIdempotencyReplayAndMismatch(t *testing.T) {
	g := newTestGateway(t, nil)
	payload := map[string]any{"feePayer": hexKey(0x01), "owner": hexKey(0x0A)}
	headers := map[string]string{headerIdempotencyKey: "op-create-1"}

	var first addressResponse
	resp := g.signedRequest(http.MethodPost, "/v1/operators", payload, headers)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	decodeBody(t, resp, &first)

	// Replaying the exact request returns the cached response instead of an
	// already-exists conflict.
	var replay addressResponse
	resp = g.signedRequest(http.MethodPost, "/v1/operators", payload, headers)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	decodeBody(t, resp, &replay)
	require.Equal(t, first.Address, replay.Address)

	// Reusing the key with a different body is a conflict.
	resp = g.signedRequest(http.MethodPost, "/v1/operators",
		map[string]any{"feePayer": hexKey(0x01), "owner": hexKey(0x0B)}, headers)
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestStatusConflictOnDuplicateOperator(t *testing.T) {
	g := newTestGateway(t, nil)
	payload := map[string]any{"feePayer": hexKey(0x01), "owner": hexKey(0x02)}

	resp := g.signedRequest(http.MethodPost, "/v1/operators", payload, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = g.signedRequest(http.MethodPost, "/v1/operators", payload, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	var body errorResponse
	decodeBody(t, resp, &body)
	require.Equal(t, "already_exists", body.Class)
}

func TestDeriveEndpointMatchesCreation(t *testing.T) {
	g := newTestGateway(t, nil)
	operator, _, _ := g.bootstrap()

	var derived struct {
		Address string `json:"address"`
		Bump    uint8  `json:"bump"`
	}
	body, _ := json.Marshal(map[string]any{"kind": "operator", "owner": hexKey(0x02)})
	resp, err := http.Post(g.server.URL+"/v1/derive", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &derived)
	require.Equal(t, operator, derived.Address)
}

func TestRateLimitThrottles(t *testing.T) {
	g := newTestGateway(t, map[string]RateLimit{testAPIKey: {PerSecond: 0.0001, Burst: 1}})

	resp := g.signedRequest(http.MethodPost, "/v1/operators", map[string]any{
		"feePayer": hexKey(0x01),
		"owner":    hexKey(0x02),
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = g.signedRequest(http.MethodPost, "/v1/operators", map[string]any{
		"feePayer": hexKey(0x01),
		"owner":    hexKey(0x03),
	}, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}
