// Package exchange simulates upstream venues so the market can run without
// a quote provider.
package exchange

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/ksred/deltatrade/internal/marketdata"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Exchange represents a mock venue quotes can be fetched from
type Exchange struct {
	ID          string
	Name        string
	MinLatency  time.Duration
	MaxLatency  time.Duration
	SuccessRate float64 // 0-1, probability a fetch succeeds
}

// MaxVariance is the largest relative deviation of a quote from its
// reference price.
const MaxVariance = 0.02

var mockExchanges = []*Exchange{
	{
		ID:          "EXCH1",
		Name:        "Primary Exchange",
		MinLatency:  5 * time.Millisecond,
		MaxLatency:  30 * time.Millisecond,
		SuccessRate: 0.95,
	},
	{
		ID:          "EXCH2",
		Name:        "Secondary Exchange",
		MinLatency:  10 * time.Millisecond,
		MaxLatency:  50 * time.Millisecond,
		SuccessRate: 0.90,
	},
	{
		ID:          "EXCH3",
		Name:        "Regional Exchange",
		MinLatency:  15 * time.Millisecond,
		MaxLatency:  70 * time.Millisecond,
		SuccessRate: 0.85,
	},
}

// ReferencePrices seeds the simulated market for the default tickers.
var ReferencePrices = map[string]string{
	"SPX":             "5200.00",
	"QQQ":             "440.00",
	"DIA":             "390.00",
	"AAPL":            "190.00",
	"GOOGL":           "160.00",
	"MSFT":            "420.00",
	"AMZN":            "180.00",
	"TSLA":            "175.00",
	"NVDA":            "880.00",
	"META":            "490.00",
	"NFLX":            "610.00",
	"BINANCE:BTCUSDT": "65000.00",
	"BINANCE:ETHUSDT": "3200.00",
	"BINANCE:SOLUSDT": "150.00",
	"JPM":             "195.00",
	"DIS":             "112.00",
}

// Simulated is a marketdata.QuoteSource backed by the mock exchanges. Each
// quote reports the reference price as the session open and a price within
// MaxVariance of it.
type Simulated struct {
	exchanges []*Exchange
	reference map[string]decimal.Decimal

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSimulated builds a source from reference prices. Symbols are matched
// case-insensitively; entries that do not parse as a positive decimal are
// skipped.
func NewSimulated(reference map[string]string, rnd *rand.Rand) *Simulated {
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	s := &Simulated{
		exchanges: mockExchanges,
		reference: make(map[string]decimal.Decimal, len(reference)),
		rnd:       rnd,
	}
	for symbol, raw := range reference {
		price, err := decimal.NewFromString(raw)
		if err != nil || !price.IsPositive() {
			log.Warn().Str("symbol", symbol).Str("price", raw).Msg("skipping invalid reference price")
			continue
		}
		s.reference[strings.ToUpper(symbol)] = price
	}
	return s
}

// WithExchanges replaces the venues quotes are drawn from. An empty list
// keeps the current venues.
func (s *Simulated) WithExchanges(exchanges ...*Exchange) *Simulated {
	if len(exchanges) > 0 {
		s.exchanges = exchanges
	}
	return s
}

// FetchQuote simulates a round trip to the best available exchange.
func (s *Simulated) FetchQuote(ctx context.Context, symbol string) (marketdata.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	reference, ok := s.reference[symbol]
	if !ok {
		return marketdata.Quote{}, marketdata.NewBadSymbolError(symbol, "no reference price")
	}

	exchange := s.bestExchange()
	logger := log.With().
		Str("component", "exchange").
		Str("exchange_id", exchange.ID).
		Str("symbol", symbol).
		Logger()

	latency, fail, variance := s.draw(exchange)
	logger.Debug().Dur("latency", latency).Msg("simulated network latency")

	timer := time.NewTimer(latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return marketdata.Quote{}, marketdata.NewNetworkError(symbol, "request cancelled", ctx.Err())
	case <-timer.C:
	}

	if fail {
		logger.Warn().
			Float64("success_rate", exchange.SuccessRate).
			Msg("quote failed due to success rate threshold")
		return marketdata.Quote{}, marketdata.NewProviderError(symbol, fmt.Sprintf("fetch failed on exchange %s", exchange.ID), nil)
	}

	price := reference.Mul(decimal.NewFromFloat(1 + variance)).Round(2)
	if !price.IsPositive() {
		price = marketdata.PriceFloor
	}

	return marketdata.Quote{
		Symbol:    symbol,
		Price:     price,
		OpenPrice: reference,
		Timestamp: time.Now(),
	}, nil
}

// draw takes every random value a fetch needs under one lock.
func (s *Simulated) draw(e *Exchange) (latency time.Duration, fail bool, variance float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latency = e.MinLatency
	if span := e.MaxLatency - e.MinLatency; span > 0 {
		latency += time.Duration(s.rnd.Int64N(int64(span) + 1))
	}
	fail = s.rnd.Float64() > e.SuccessRate
	variance = (s.rnd.Float64()*2 - 1) * MaxVariance
	return latency, fail, variance
}

// bestExchange selects an exchange weighted by success rate
func (s *Simulated) bestExchange() *Exchange {
	totalWeight := 0.0
	for _, ex := range s.exchanges {
		totalWeight += ex.SuccessRate
	}

	s.mu.Lock()
	choice := s.rnd.Float64() * totalWeight
	s.mu.Unlock()

	currentWeight := 0.0
	for _, ex := range s.exchanges {
		currentWeight += ex.SuccessRate
		if currentWeight >= choice {
			return ex
		}
	}
	return s.exchanges[0]
}
