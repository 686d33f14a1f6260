package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ksred/deltatrade/internal/config"
	"github.com/ksred/deltatrade/internal/database"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Market.Provider = "simulated"
	cfg.Auth.Credentials = nil
	cfg.Server.Env = "development"

	db, err := database.NewInMemory()
	require.NoError(t, err)

	a, err := newApp(cfg, db)
	require.NoError(t, err)
	t.Cleanup(a.bus.Close)
	return a
}

func call(t *testing.T, a *app, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.10:5000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func TestTradingFlowOverHTTP(t *testing.T) {
	a := newTestApp(t)
	a.market.Cache().SetQuote("AAPL", decimal.NewFromInt(100), decimal.NewFromInt(150))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.notification.Consume(ctx, a.bus.Subscribe("notifications", 16))

	code, env := call(t, a, http.MethodPost, "/api/v1/auth/token", "", map[string]string{
		"api_key":    "test-api-key",
		"api_secret": "test-api-secret",
	})
	require.Equal(t, http.StatusCreated, code)
	var token struct {
		Token string `json:"jwt_token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &token))
	require.NotEmpty(t, token.Token)

	code, _ = call(t, a, http.MethodGet, "/api/v1/portfolio", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env = call(t, a, http.MethodPost, "/api/v1/trade/buy", token.Token, map[string]any{
		"symbol":   "AAPL",
		"quantity": 10,
	})
	require.Equal(t, http.StatusCreated, code)
	assert.True(t, env.Success)

	code, env = call(t, a, http.MethodGet, "/api/v1/portfolio", token.Token, nil)
	require.Equal(t, http.StatusOK, code)
	var portfolio struct {
		CashBalance decimal.Decimal `json:"cash_balance"`
		NetWorth    decimal.Decimal `json:"net_worth"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &portfolio))
	assert.True(t, portfolio.CashBalance.Equal(decimal.NewFromInt(8500)), portfolio.CashBalance.String())
	assert.True(t, portfolio.NetWorth.Equal(decimal.NewFromInt(10000)), portfolio.NetWorth.String())

	code, _ = call(t, a, http.MethodPost, "/api/v1/wallet/deposit", token.Token, map[string]string{"amount": "500"})
	assert.Equal(t, http.StatusCreated, code)

	code, env = call(t, a, http.MethodGet, "/api/v1/market/tickers", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"AAPL"`)

	code, env = call(t, a, http.MethodGet, "/api/v1/leaderboard", token.Token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"net_worth":"10500"`)

	code, _ = call(t, a, http.MethodGet, "/api/v1/leaderboard/weekly", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	require.Eventually(t, func() bool {
		_, env := call(t, a, http.MethodGet, "/api/v1/notifications", token.Token, nil)
		return bytes.Contains(env.Data, []byte("sold")) || bytes.Contains(env.Data, []byte("bought"))
	}, 2*time.Second, 20*time.Millisecond)
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestApp(t)

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "deltatrade_")
}

func TestQuoteSourceSelection(t *testing.T) {
	_, err := quoteSource(config.Market{Provider: "simulated"})
	assert.NoError(t, err)
	_, err = quoteSource(config.Market{Provider: "finnhub"})
	assert.Error(t, err, "finnhub needs an API key")
	_, err = quoteSource(config.Market{Provider: "other"})
	assert.Error(t, err)
}
