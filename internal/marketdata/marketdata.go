package marketdata

import (
	"github.com/gin-gonic/gin"
	"github.com/ksred/deltatrade/pkg/response"
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)

	// placeholderVolume is reported until the quote source carries volume.
	placeholderVolume = decimal.NewFromInt(1_000_000)
)

// MarketTicker is the per-symbol summary shown on the market overview.
type MarketTicker struct {
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Volume        decimal.Decimal `json:"volume"`
}

// PriceResponse answers a single price lookup.
type PriceResponse struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// Service is the read side of market data used by handlers and the stream.
type Service struct {
	registry *Registry
	cache    *PriceCache
}

func NewService(registry *Registry, cache *PriceCache) *Service {
	return &Service{registry: registry, cache: cache}
}

func (s *Service) Registry() *Registry {
	return s.registry
}

func (s *Service) Cache() *PriceCache {
	return s.cache
}

// Price resolves symbol and returns its internal form with the latest price.
// The price is zero when the symbol is unknown or not yet fetched.
func (s *Service) Price(symbol string) (string, decimal.Decimal) {
	internal, _ := s.registry.Resolve(symbol)
	return internal, s.cache.Price(internal)
}

// History returns the collected price points for symbol, oldest first.
func (s *Service) History(symbol string) []PricePoint {
	internal, _ := s.registry.Resolve(symbol)
	return s.cache.History(internal)
}

// Tickers summarizes every priced symbol in registry order. Symbols that
// have never been fetched are omitted.
func (s *Service) Tickers() []MarketTicker {
	tickers := make([]MarketTicker, 0, len(s.registry.tickers))
	for _, t := range s.registry.Tickers() {
		q, ok := s.cache.Quote(t.Symbol)
		if !ok || q.Price.IsZero() {
			continue
		}
		tickers = append(tickers, MarketTicker{
			Symbol:        t.Display,
			Name:          t.Name,
			Price:         q.Price,
			ChangePercent: ChangePercent(q.Price, q.OpenPrice),
			Volume:        placeholderVolume,
		})
	}
	return tickers
}

// ChangePercent returns (price-open)/open rounded half-up to four places and
// scaled to a percentage. A zero open is treated as no change.
func ChangePercent(price, open decimal.Decimal) decimal.Decimal {
	if open.IsZero() {
		open = price
	}
	if open.IsZero() {
		return decimal.Zero
	}
	return price.Sub(open).DivRound(open, 4).Mul(hundred)
}

// GinHandlers contains HTTP handlers for market data endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// GetPriceHandler handles GET /market/price/:symbol
func (h *GinHandlers) GetPriceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		symbol := c.Param("symbol")
		if symbol == "" {
			response.BadRequest(c, "Symbol is required")
			return
		}
		internal, price := h.service.Price(symbol)
		response.Success(c, PriceResponse{Symbol: internal, Price: price})
	}
}

// GetHistoryHandler handles GET /market/history/:symbol
func (h *GinHandlers) GetHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		symbol := c.Param("symbol")
		if symbol == "" {
			response.BadRequest(c, "Symbol is required")
			return
		}
		response.Success(c, h.service.History(symbol))
	}
}

// GetTickersHandler handles GET /market/tickers
func (h *GinHandlers) GetTickersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.service.Tickers())
	}
}
