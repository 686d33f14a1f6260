package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ksred/deltatrade/internal/auth"
	"github.com/ksred/deltatrade/internal/trading"
	"github.com/ksred/deltatrade/internal/types"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// simulationClient handles HTTP communication with the trading API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	pace      *rate.Limiter

	auth      *routeStats
	buy       *routeStats
	sell      *routeStats
	portfolio *routeStats
}

// newSimulationClient authenticates against the API at baseURL. Requests are
// paced so the server's per-account trade limit is not exceeded.
func newSimulationClient(ctx context.Context, baseURL string, pace time.Duration) (*simulationClient, error) {
	sc := &simulationClient{
		baseURL:   baseURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		pace:      rate.NewLimiter(rate.Every(pace), 1),
		auth:      &routeStats{name: "Authentication"},
		buy:       &routeStats{name: "Buy"},
		sell:      &routeStats{name: "Sell"},
		portfolio: &routeStats{name: "Portfolio"},
	}

	var token auth.TokenResponse
	err := sc.do(ctx, sc.auth, http.MethodPost, "/api/v1/auth/token", auth.Credentials{
		APIKey:    auth.TestAPIKey,
		APISecret: auth.TestAPISecret,
	}, &token)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token.Token
	log.Info().Str("account_id", token.AccountID).Msg("Authenticated")
	return sc, nil
}

func (sc *simulationClient) stats() []*routeStats {
	return []*routeStats{sc.auth, sc.buy, sc.sell, sc.portfolio}
}

func (sc *simulationClient) buyOrder(ctx context.Context, req trading.TradeRequest) (*types.TradeResponse, error) {
	var resp types.TradeResponse
	if err := sc.do(ctx, sc.buy, http.MethodPost, "/api/v1/trade/buy", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (sc *simulationClient) sellOrder(ctx context.Context, req trading.TradeRequest) (*types.TradeResponse, error) {
	var resp types.TradeResponse
	if err := sc.do(ctx, sc.sell, http.MethodPost, "/api/v1/trade/sell", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (sc *simulationClient) getPortfolio(ctx context.Context) (*types.PortfolioResponse, error) {
	var resp types.PortfolioResponse
	if err := sc.do(ctx, sc.portfolio, http.MethodGet, "/api/v1/portfolio", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do sends one request and decodes the data field of the response envelope
// into out. The call is timed into stats.
func (sc *simulationClient) do(ctx context.Context, stats *routeStats, method, path string, body, out interface{}) (err error) {
	if err := sc.pace.Wait(ctx); err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		stats.record(time.Since(start), err)
	}()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, sc.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if sc.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+sc.authToken)
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	result := struct {
		Success bool        `json:"success"`
		Data    interface{} `json:"data"`
	}{Data: out}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return nil
}
