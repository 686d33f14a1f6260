package marketdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ksred/deltatrade/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFinnhub(t *testing.T, handler http.HandlerFunc) *FinnhubClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewFinnhubClient(config.Finnhub{
		BaseURL:            srv.URL + "/",
		APIKey:             "test-key",
		Timeout:            2 * time.Second,
		RateLimitPerMinute: 6000,
	})
	require.NoError(t, err)
	return client
}

func TestNewFinnhubClientRequiresKey(t *testing.T) {
	_, err := NewFinnhubClient(config.Finnhub{BaseURL: "http://localhost"})
	assert.Error(t, err)
}

func TestFinnhubFetchQuote(t *testing.T) {
	client := newTestFinnhub(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "BINANCE:BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "test-key", r.URL.Query().Get("token"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"c":64250.12,"d":120.5,"dp":0.19,"h":64500,"l":63800,"o":64129.62,"pc":64000,"t":1718000000}`))
	})

	q, err := client.FetchQuote(context.Background(), "binance:btcusdt")
	require.NoError(t, err)
	assert.Equal(t, "BINANCE:BTCUSDT", q.Symbol)
	assert.True(t, q.Price.Equal(d("64250.12")))
	assert.True(t, q.OpenPrice.Equal(d("64129.62")))
	assert.Equal(t, int64(1718000000), q.Timestamp.Unix())
}

func TestFinnhubFetchQuoteErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		errKind string
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":"API limit reached"}`, ErrKindRateLimit},
		{"server error", http.StatusInternalServerError, `oops`, ErrKindProvider},
		{"unknown symbol", http.StatusOK, `{"c":0,"d":null,"dp":null,"h":0,"l":0,"o":0,"pc":0,"t":0}`, ErrKindBadSymbol},
		{"malformed body", http.StatusOK, `{"c":`, ErrKindProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestFinnhub(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := client.FetchQuote(context.Background(), "AAPL")
			require.Error(t, err)

			var qe *QuoteError
			require.True(t, errors.As(err, &qe))
			assert.Equal(t, tt.errKind, qe.Kind)
			assert.Equal(t, "AAPL", qe.Symbol)
			assert.Equal(t, tt.errKind, ErrorKind(err))
		})
	}
}

func TestFinnhubFetchQuoteTimeout(t *testing.T) {
	client := newTestFinnhub(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.FetchQuote(ctx, "AAPL")
	require.Error(t, err)
	assert.Equal(t, ErrKindNetwork, ErrorKind(err))
}

func TestFinnhubEmptySymbol(t *testing.T) {
	client := newTestFinnhub(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	_, err := client.FetchQuote(context.Background(), "  ")
	assert.Equal(t, ErrKindBadSymbol, ErrorKind(err))
}
