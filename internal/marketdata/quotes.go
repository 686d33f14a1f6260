package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ksred/deltatrade/internal/config"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Quote is a point-in-time price and day open for a symbol.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	OpenPrice decimal.Decimal `json:"open_price"`
	Timestamp time.Time       `json:"timestamp"`
}

// QuoteSource fetches the current trade price and today's open for a symbol.
type QuoteSource interface {
	FetchQuote(ctx context.Context, symbol string) (Quote, error)
}

// Quote error kinds.
const (
	ErrKindNetwork   = "network"
	ErrKindRateLimit = "rate_limit"
	ErrKindProvider  = "provider_error"
	ErrKindBadSymbol = "bad_symbol"
)

// QuoteError describes why a quote fetch failed.
type QuoteError struct {
	Kind    string
	Symbol  string
	Message string
	Cause   error
}

func (e *QuoteError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error for %s: %s (%v)", e.Kind, e.Symbol, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error for %s: %s", e.Kind, e.Symbol, e.Message)
}

func (e *QuoteError) Unwrap() error {
	return e.Cause
}

func NewNetworkError(symbol, message string, cause error) *QuoteError {
	return &QuoteError{Kind: ErrKindNetwork, Symbol: symbol, Message: message, Cause: cause}
}

func NewRateLimitError(symbol, message string) *QuoteError {
	return &QuoteError{Kind: ErrKindRateLimit, Symbol: symbol, Message: message}
}

func NewProviderError(symbol, message string, cause error) *QuoteError {
	return &QuoteError{Kind: ErrKindProvider, Symbol: symbol, Message: message, Cause: cause}
}

func NewBadSymbolError(symbol, message string) *QuoteError {
	return &QuoteError{Kind: ErrKindBadSymbol, Symbol: symbol, Message: message}
}

// ErrorKind classifies err for logs and metrics.
func ErrorKind(err error) string {
	var qe *QuoteError
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return ErrKindNetwork
}

// finnhubBurst lets one synchronizer batch go out without queueing.
const finnhubBurst = 4

// FinnhubClient fetches quotes from the Finnhub REST API.
type FinnhubClient struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

func NewFinnhubClient(cfg config.Finnhub) (*FinnhubClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("finnhub API key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	perMinute := cfg.RateLimitPerMinute
	if perMinute <= 0 {
		perMinute = 60
	}
	return &FinnhubClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		httpClient:  &http.Client{Timeout: timeout},
		rateLimiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60), finnhubBurst),
	}, nil
}

type finnhubQuote struct {
	Current decimal.Decimal `json:"c"`
	Open    decimal.Decimal `json:"o"`
	Time    int64           `json:"t"`
}

// FetchQuote implements QuoteSource.
func (f *FinnhubClient) FetchQuote(ctx context.Context, symbol string) (Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return Quote{}, NewBadSymbolError(symbol, "empty symbol")
	}

	if err := f.rateLimiter.Wait(ctx); err != nil {
		return Quote{}, NewRateLimitError(symbol, "rate limit wait cancelled: "+err.Error())
	}

	params := url.Values{
		"symbol": {symbol},
		"token":  {f.apiKey},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/quote?"+params.Encode(), nil)
	if err != nil {
		return Quote{}, NewNetworkError(symbol, "failed to create request", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Quote{}, NewNetworkError(symbol, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Quote{}, NewRateLimitError(symbol, "API rate limit exceeded")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, NewProviderError(symbol, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)), nil)
	}

	var payload finnhubQuote
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Quote{}, NewProviderError(symbol, "failed to parse response", err)
	}
	// Finnhub answers unknown symbols with an all-zero quote.
	if !payload.Current.IsPositive() {
		return Quote{}, NewBadSymbolError(symbol, "no quote data returned")
	}

	ts := time.Now()
	if payload.Time > 0 {
		ts = time.Unix(payload.Time, 0)
	}
	return Quote{
		Symbol:    symbol,
		Price:     payload.Current,
		OpenPrice: payload.Open,
		Timestamp: ts,
	}, nil
}
