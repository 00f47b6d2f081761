package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/wallet-investigator/internal/chains"
	"github.com/rawblock/wallet-investigator/internal/config"
	"github.com/rawblock/wallet-investigator/internal/db"
	"github.com/rawblock/wallet-investigator/internal/detect"
	"github.com/rawblock/wallet-investigator/internal/investigation"
	"github.com/rawblock/wallet-investigator/internal/session"
	"github.com/rawblock/wallet-investigator/pkg/models"
)

const testAddress = "0x742d35Cc6634C0532925a3b844Bc454e4438f44e"

// ─── Fixtures ───

type stubChain struct {
	balanceErr error
}

func (s *stubChain) GetChainInfo() models.ChainInfo {
	return models.ChainInfo{Name: models.ChainEthereum, DisplayName: "Ethereum", Symbol: "ETH", Family: models.FamilyAccount, Decimals: 18}
}

func (s *stubChain) ValidateAddress(address string) bool {
	return len(address) == 42 && strings.HasPrefix(address, "0x")
}

func (s *stubChain) GetBalance(ctx context.Context, address string) (models.Balance, error) {
	if s.balanceErr != nil {
		return models.Balance{}, s.balanceErr
	}
	return models.Balance{Amount: "2", USDValue: 4000}, nil
}

func (s *stubChain) GetTransactionHistory(ctx context.Context, address string, limit int) ([]models.Transaction, error) {
	return []models.Transaction{
		{Hash: "0xa", From: "0x1111111111111111111111111111111111111111", To: address, Value: "2", Status: models.TxSuccess, Timestamp: time.Now().Add(-time.Hour)},
	}, nil
}

type testServer struct {
	router      *gin.Engine
	store       *db.MemoryStore
	coordinator *session.Coordinator
}

func newTestServer(t *testing.T, chain *stubChain, mutate func(*config.Config)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.Server.GinMode = gin.TestMode
	cfg.Server.RateLimitPerMin = 0
	if mutate != nil {
		mutate(cfg)
	}

	store := db.NewMemoryStore()
	registry := chains.NewRegistry(chain)
	engine := investigation.NewEngine(investigation.Options{
		Registry:   registry,
		Classifier: detect.NewClassifier(models.ChainEthereum),
		Sink:       store,
		Logger:     zerolog.Nop(),
	})
	coordinator := session.NewCoordinator(session.Options{Engine: engine, Logger: zerolog.Nop()})
	t.Cleanup(coordinator.Shutdown)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	return &testServer{
		router: SetupRouter(ctx, Deps{
			Config:      cfg,
			Engine:      engine,
			Registry:    registry,
			Coordinator: coordinator,
			Logger:      zerolog.Nop(),
		}),
		store:       store,
		coordinator: coordinator,
	}
}

func (ts *testServer) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// ─── Tests ───

func TestHealthAndChains(t *testing.T) {
	ts := newTestServer(t, &stubChain{}, nil)

	w := ts.do(http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, 1.0, body["chains"])

	w = ts.do(http.MethodGet, "/api/v1/chains", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"ethereum"`)

	w = ts.do(http.MethodGet, "/api/v1/chains/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"ethereum": true}, decode(t, w)["chains"])
}

func TestDetect(t *testing.T) {
	ts := newTestServer(t, &stubChain{}, nil)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"evm address", `{"address":"` + testAddress + `"}`, http.StatusOK},
		{"garbage", `{"address":"not-a-wallet"}`, http.StatusBadRequest},
		{"missing field", `{}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(http.MethodPost, "/api/v1/detect", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.status == http.StatusOK {
				assert.Equal(t, "ethereum", decode(t, w)["chain"])
			}
		})
	}
}

func TestInvestigationLifecycle(t *testing.T) {
	ts := newTestServer(t, &stubChain{}, nil)

	w := ts.do(http.MethodPost, "/api/v1/investigations", `{"address":"`+testAddress+`"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var rec models.InvestigationRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, models.ChainEthereum, rec.Chain)
	assert.Equal(t, 1, rec.Analysis.TransactionCount)
	assert.Equal(t, 1, ts.store.Len())

	// List omits records
	w = ts.do(http.MethodGet, "/api/v1/investigations", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Investigations []investigation.Case `json:"investigations"`
		Count          int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Nil(t, list.Investigations[0].Record)
	assert.Equal(t, investigation.CaseCompleted, list.Investigations[0].Status)

	w = ts.do(http.MethodGet, "/api/v1/investigations/"+rec.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var cs investigation.Case
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cs))
	require.NotNil(t, cs.Record)
	assert.Equal(t, rec.ID, cs.Record.ID)
	assert.Len(t, cs.Timeline, 7)

	w = ts.do(http.MethodGet, "/api/v1/investigations/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Records are keyed case-insensitively for hex addresses
	w = ts.do(http.MethodGet, "/api/v1/wallets/"+strings.ToLower(testAddress)+"/records?chain=Ethereum", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, decode(t, w)["count"])

	w = ts.do(http.MethodGet, "/api/v1/wallets/"+testAddress+"/records?chain=dogecoin", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = ts.do(http.MethodGet, "/api/v1/investigations?status=failed", "")
	assert.Equal(t, 0.0, decode(t, w)["count"])

	w = ts.do(http.MethodGet, "/api/v1/investigations?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInvestigationFailures(t *testing.T) {
	tests := []struct {
		name       string
		balanceErr error
		body       string
		status     int
		step       string
	}{
		{"unrecognized", nil, `{"address":"hello"}`, http.StatusBadRequest, "detecting"},
		{"unsupported chain", nil, `{"address":"` + testAddress + `","chain":"dogecoin"}`, http.StatusUnprocessableEntity, "detecting"},
		{"rate limited", fmt.Errorf("etherscan: %w", models.ErrRateLimited), `{"address":"` + testAddress + `"}`, http.StatusTooManyRequests, "fetching_data"},
		{"providers down", fmt.Errorf("rpc: %w", models.ErrProviderUnavailable), `{"address":"` + testAddress + `"}`, http.StatusBadGateway, "fetching_data"},
		{"bad body", nil, `{"chain":"ethereum"}`, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &stubChain{balanceErr: tt.balanceErr}, nil)
			w := ts.do(http.MethodPost, "/api/v1/investigations", tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())

			body := decode(t, w)
			assert.NotEmpty(t, body["error"])
			if tt.step != "" {
				assert.Equal(t, tt.step, body["step"])
				assert.NotEmpty(t, body["investigationId"])
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	timedOut := &investigation.StepError{
		Step: investigation.StepFetchingData,
		Err:  fmt.Errorf("%w after 2m0s: %w", models.ErrInvestigationTimedOut, fmt.Errorf("rpc: %w", models.ErrRateLimited)),
	}

	tests := []struct {
		err  error
		want int
	}{
		{models.ErrUnrecognizedAddressFormat, http.StatusBadRequest},
		{fmt.Errorf("x: %w", models.ErrInvalidAddressForChain), http.StatusBadRequest},
		{models.ErrUnsupportedChain, http.StatusUnprocessableEntity},
		{models.ErrRateLimited, http.StatusTooManyRequests},
		{errors.Join(errors.New("a"), models.ErrProviderUnavailable), http.StatusBadGateway},
		{timedOut, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) Expected: %d Got: %d", tt.err, tt.want, got)
		}
	}
}

func TestAuthMiddleware(t *testing.T) {
	ts := newTestServer(t, &stubChain{}, func(c *config.Config) { c.Server.AuthToken = "s3cret" })

	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/v1/health", "").Code, "health is public")
	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodGet, "/api/v1/investigations", "").Code)
	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodGet, "/api/v1/investigations", "", "Authorization", "Basic s3cret").Code)
	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodGet, "/api/v1/investigations", "", "Authorization", "Bearer wrong").Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/v1/investigations", "", "Authorization", "Bearer s3cret").Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/v1/sessions?token=s3cret", "").Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	ts := newTestServer(t, &stubChain{}, func(c *config.Config) {
		c.Server.RateLimitPerMin = 1
		c.Server.RateLimitBurst = 2
	})

	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/v1/sessions", "").Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/v1/sessions", "").Code)

	w := ts.do(http.MethodGet, "/api/v1/sessions", "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "1 requests/minute per IP", decode(t, w)["limit"])

	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/v1/health", "").Code, "health is not limited")
}

func TestRateLimiter_Refill(t *testing.T) {
	rl := NewRateLimiter(context.Background(), 60, 2)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return clock }

	ok, _ := rl.allow("1.2.3.4")
	assert.True(t, ok)
	ok, _ = rl.allow("1.2.3.4")
	assert.True(t, ok)
	ok, wait := rl.allow("1.2.3.4")
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)

	ok, _ = rl.allow("5.6.7.8")
	assert.True(t, ok, "buckets are per IP")

	clock = clock.Add(time.Second)
	ok, _ = rl.allow("1.2.3.4")
	assert.True(t, ok)

	clock = clock.Add(cleanupIdleDuration + time.Second)
	assert.Equal(t, 2, rl.sweep())
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, &stubChain{}, func(c *config.Config) {
		c.Server.AllowedOrigins = []string{"https://app.example"}
	})

	w := ts.do(http.MethodOptions, "/api/v1/investigations", "", "Origin", "https://app.example")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))

	w = ts.do(http.MethodGet, "/api/v1/health", "", "Origin", "https://evil.example")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
