package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptoc/txguard/internal/config"
	"github.com/cryptoc/txguard/internal/ledger"
	"github.com/cryptoc/txguard/internal/logging"
	"github.com/cryptoc/txguard/internal/phishing"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	holder = "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0"
	usdc   = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
)

// unlimited USDC approval for spender
const approveMax = "0x095ea7b3" +
	"0000000000000000000000001111111254eeb25477b68fb85ed929f73a960582" +
	"ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"

type fixedClassifier struct{}

func (fixedClassifier) Name() string { return "fixed" }

func (fixedClassifier) Classify(_ context.Context, url string) (*phishing.Verdict, error) {
	if strings.Contains(url, "paypa1") {
		return &phishing.Verdict{Label: phishing.LabelMalicious, Confidence: 0.93, RiskScore: 93}, nil
	}
	return &phishing.Verdict{Label: phishing.LabelBenign, Confidence: 0.99, RiskScore: 1}, nil
}

// testConfig returns a minimal config for testing
func testConfig(storage string) *config.Config {
	return &config.Config{
		Port:         "0",
		Env:          "development",
		LogLevel:     "error",
		LogFormat:    "text",
		Storage:      storage,
		SQLitePath:   ":memory:",
		SeedBalances: map[string]decimal.Decimal{"ETH": decimal.RequireFromString("5.42"), "USDC": decimal.NewFromInt(2480)},
		RateLimitRPM: 6000,
		CORSOrigins:  []string{"chrome-extension://*"},
	}
}

func newTestServer(t *testing.T, storage string, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Discard()), WithClassifiers(fixedClassifier{})}, opts...)
	s, err := New(testConfig(storage), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.close(context.Background()) })
	return s
}

func call(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	var resp map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w, resp
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t, config.StorageMemory)

	w, resp := call(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", resp["status"])
	checks := resp["checks"].(map[string]any)
	assert.Equal(t, "healthy", checks["ledger"])
	assert.Equal(t, "disabled", checks["oracle"])
	assert.Equal(t, "1 configured", checks["classifiers"])

	w, _ = call(t, s, http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, w.Code)

	// not ready until Run
	w, resp = call(t, s, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "not_ready", resp["status"])

	s.ready.Store(true)
	w, resp = call(t, s, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", resp["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, config.StorageMemory)
	call(t, s, http.MethodGet, "/health", "")

	w, _ := call(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "txguard_http_requests_total")
}

func TestMiddleware_RequestIDAndHeaders(t *testing.T) {
	s := newTestServer(t, config.StorageMemory)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-abc")
	req.Header.Set("Origin", "chrome-extension://abcdef")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, "req-abc", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "chrome-extension://abcdef", w.Header().Get("Access-Control-Allow-Origin"))

	w, _ = call(t, s, http.MethodGet, "/health/live", "")
	assert.Len(t, w.Header().Get("X-Request-ID"), 36)
}

func TestInfo(t *testing.T) {
	s := newTestServer(t, config.StorageMemory)
	w, resp := call(t, s, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "txguard", resp["name"])
	assert.Equal(t, false, resp["oracle"])
	assert.Equal(t, []any{"fixed"}, resp["classifiers"])
	assert.Contains(t, resp["tokens"], "ETH")
	assert.Contains(t, resp["tokens"], "USDC")
}

func TestSimulateThenExecute(t *testing.T) {
	for _, storage := range []string{config.StorageMemory, config.StorageSQLite} {
		t.Run(storage, func(t *testing.T) {
			s := newTestServer(t, storage)
			body := `{"from":"` + holder + `","to":"` + usdc + `","data":"` + approveMax + `"}`

			w, resp := call(t, s, http.MethodPost, "/simulate", body)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Equal(t, "danger", resp["risk_level"])
			assert.Equal(t, float64(70), resp["score"])
			assert.Equal(t, "approve", resp["functionName"])

			w, resp = call(t, s, http.MethodPost, "/wallet/execute", body)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, false, resp["success"])
			assert.Equal(t, "risk_not_acknowledged", resp["error"])

			ackBody := strings.TrimSuffix(body, "}") + `,"acknowledgeRisk":true}`
			w, resp = call(t, s, http.MethodPost, "/wallet/execute", ackBody)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Equal(t, true, resp["success"])

			w, resp = call(t, s, http.MethodGet, "/wallet/approvals?address="+holder, "")
			require.Equal(t, http.StatusOK, w.Code)
			approvals := resp["approvals"].([]any)
			require.Len(t, approvals, 1)

			w, resp = call(t, s, http.MethodGet, "/wallet/stats?address="+holder, "")
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, float64(1), resp["totalTransactions"])
			assert.Equal(t, float64(1), resp["threatsBlocked"])
		})
	}
}

func TestSwapOverdraftLeavesBalances(t *testing.T) {
	s := newTestServer(t, config.StorageSQLite)

	w, resp := call(t, s, http.MethodPost, "/wallet/swap",
		`{"address":"`+holder+`","fromToken":"USDC","toToken":"ETH","amount":"5000","amountTo":"1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "insufficient_balance", resp["error"])

	bals, err := s.Ledger().Balances(context.Background(), common.HexToAddress(holder))
	require.NoError(t, err)
	assert.True(t, bals["USDC"].Equal(decimal.NewFromInt(2480)))
}

func TestPredict(t *testing.T) {
	s := newTestServer(t, config.StorageMemory)

	w, resp := call(t, s, http.MethodPost, "/predict", `{"url":"http://paypa1-login.example"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "malicious", resp["prediction"])
	assert.Equal(t, false, resp["is_safe"])
	assert.Equal(t, "fixed", resp["model_used"])
}

func TestPredict_NoClassifiers(t *testing.T) {
	s, err := New(testConfig(config.StorageMemory), WithLogger(logging.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { s.close(context.Background()) })

	w, resp := call(t, s, http.MethodPost, "/predict", `{"url":"https://a.example"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "classifier_unavailable", resp["error"])
}

func TestNew_InvalidClassifierURL(t *testing.T) {
	cfg := testConfig(config.StorageMemory)
	cfg.ClassifierURLs = []string{"ftp://model"}
	_, err := New(cfg, WithLogger(logging.Discard()))
	assert.Error(t, err)
}

func TestNew_UnreachableOracleDegrades(t *testing.T) {
	cfg := testConfig(config.StorageMemory)
	cfg.RPCURL = "not-a-url://"
	cfg.OracleTimeout = 100 * time.Millisecond
	s, err := New(cfg, WithLogger(logging.Discard()), WithClassifiers(fixedClassifier{}))
	require.NoError(t, err)
	assert.Nil(t, s.oracle)
}

func TestWithStore(t *testing.T) {
	store := ledger.NewMemoryStore()
	s := newTestServer(t, "ignored", WithStore(store))
	assert.Same(t, store, s.Ledger().Store())
}

func TestMaskURL(t *testing.T) {
	masked := maskURL("postgres://user:secret@db:5432/txguard?sslmode=disable")
	assert.NotContains(t, masked, "secret")
	assert.NotContains(t, masked, "sslmode")
	assert.Contains(t, masked, "user:")
	assert.Contains(t, masked, "@db:5432/txguard")
	assert.Equal(t, ":memory:", maskURL(":memory:"))
	assert.Equal(t, "wallet.db", maskURL("wallet.db"))
}

func TestMaskRPCURL(t *testing.T) {
	masked := maskRPCURL("https://eth-mainnet.example/v2/SECRETAPIKEY?key=OTHERSECRET")
	assert.NotContains(t, masked, "SECRETAPIKEY")
	assert.NotContains(t, masked, "OTHERSECRET")
	assert.Contains(t, masked, "eth-mainnet.example")
	assert.Equal(t, "http://127.0.0.1:8545", maskRPCURL("http://127.0.0.1:8545"))
	assert.Equal(t, "not-a-url", maskRPCURL("not-a-url"))
}

func TestReadiness_OracleFailureHidesRPCURL(t *testing.T) {
	var logs bytes.Buffer
	cfg := testConfig(config.StorageMemory)
	cfg.RPCURL = "http://127.0.0.1:1/v2/SECRETAPIKEY"
	cfg.OracleTimeout = 200 * time.Millisecond
	s, err := New(cfg,
		WithLogger(logging.NewWithWriter(&logs, "debug", "json")),
		WithClassifiers(fixedClassifier{}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { s.close(context.Background()) })
	require.NotNil(t, s.oracle)
	s.ready.Store(true)

	w, resp := call(t, s, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, w.Code, "oracle is optional")
	assert.NotContains(t, w.Body.String(), "SECRETAPIKEY")
	assert.NotContains(t, w.Body.String(), "127.0.0.1:1")

	var oracleCheck map[string]any
	for _, c := range resp["checks"].([]any) {
		check := c.(map[string]any)
		if check["name"] == "oracle" {
			oracleCheck = check
		}
	}
	require.NotNil(t, oracleCheck)
	assert.Equal(t, false, oracleCheck["healthy"])
	assert.Contains(t, []any{"unavailable", "timeout"}, oracleCheck["detail"])

	assert.Contains(t, logs.String(), "health check failed")
	assert.NotContains(t, logs.String(), "SECRETAPIKEY")
}

func TestShutdown(t *testing.T) {
	s := newTestServer(t, config.StorageSQLite)
	s.drainTimeout = 0
	s.ready.Store(true)

	require.NoError(t, s.Shutdown())
	assert.False(t, s.ready.Load())
	assert.Error(t, s.db.PingContext(context.Background()))
}
