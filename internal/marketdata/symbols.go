package marketdata

import (
	"strings"

	"github.com/ksred/deltatrade/internal/config"
)

const cryptoPrefix = "BINANCE:"

// Ticker is one entry of the tradable universe.
type Ticker struct {
	Symbol  string `json:"symbol"`  // internal form, e.g. BINANCE:BTCUSDT
	Display string `json:"display"` // display form, e.g. BTC
	Name    string `json:"name"`
}

// Registry is the static symbol universe built at startup. It is read-only
// after construction and safe for concurrent use.
type Registry struct {
	tickers    []Ticker
	byInternal map[string]Ticker
	byDisplay  map[string]string
}

// DisplaySymbol maps an exchange-qualified crypto pair to its short form.
// Other symbols are returned unchanged.
func DisplaySymbol(symbol string) string {
	if !strings.HasPrefix(symbol, cryptoPrefix) {
		return symbol
	}
	return strings.ReplaceAll(strings.TrimPrefix(symbol, cryptoPrefix), "USDT", "")
}

func NewRegistry(tickers []config.Ticker) *Registry {
	r := &Registry{
		byInternal: make(map[string]Ticker, len(tickers)),
		byDisplay:  make(map[string]string, len(tickers)),
	}
	for _, t := range tickers {
		symbol := strings.ToUpper(strings.TrimSpace(t.Symbol))
		if symbol == "" {
			continue
		}
		if _, dup := r.byInternal[symbol]; dup {
			continue
		}
		name := t.Name
		if name == "" {
			name = symbol
		}
		ticker := Ticker{Symbol: symbol, Display: DisplaySymbol(symbol), Name: name}
		r.tickers = append(r.tickers, ticker)
		r.byInternal[symbol] = ticker
		r.byDisplay[ticker.Display] = symbol
	}
	return r
}

// Resolve turns a user supplied symbol (display or internal, any case) into
// the internal symbol. Unknown symbols are upper-cased and returned with
// ok=false so callers still see a zero price for them.
func (r *Registry) Resolve(symbol string) (string, bool) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if internal, ok := r.byDisplay[s]; ok {
		return internal, true
	}
	_, ok := r.byInternal[s]
	return s, ok
}

// Symbols returns the internal symbols in configured order.
func (r *Registry) Symbols() []string {
	out := make([]string, len(r.tickers))
	for i, t := range r.tickers {
		out[i] = t.Symbol
	}
	return out
}

func (r *Registry) Tickers() []Ticker {
	out := make([]Ticker, len(r.tickers))
	copy(out, r.tickers)
	return out
}

// Lookup returns the registry entry for an internal symbol.
func (r *Registry) Lookup(symbol string) (Ticker, bool) {
	t, ok := r.byInternal[symbol]
	return t, ok
}
