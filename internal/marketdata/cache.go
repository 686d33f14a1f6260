package marketdata

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultHistorySize is the number of price points kept per symbol.
const DefaultHistorySize = 100

// PricePoint is one observation in a symbol's history.
type PricePoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
}

// book holds everything known about one symbol. Its own mutex guards all
// fields so writers to different symbols never contend.
type book struct {
	mu        sync.Mutex
	price     decimal.Decimal
	open      decimal.Decimal
	updatedAt time.Time

	// ring buffer, oldest at head
	points []PricePoint
	head   int
	size   int
}

func (b *book) append(p PricePoint) {
	capacity := len(b.points)
	if b.size < capacity {
		b.points[(b.head+b.size)%capacity] = p
		b.size++
		return
	}
	b.points[b.head] = p
	b.head = (b.head + 1) % capacity
}

func (b *book) history() []PricePoint {
	out := make([]PricePoint, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.points[(b.head+i)%len(b.points)]
	}
	return out
}

// PriceCache is the process-wide store of latest prices, day opens and
// bounded history. It is shared by the synchronizer, the drift generator,
// the ledger and the monitor.
type PriceCache struct {
	mu       sync.RWMutex
	books    map[string]*book
	capacity int
	now      func() time.Time
}

func NewPriceCache(historySize int) *PriceCache {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &PriceCache{
		books:    make(map[string]*book),
		capacity: historySize,
		now:      time.Now,
	}
}

func (c *PriceCache) lookup(symbol string) *book {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.books[symbol]
}

func (c *PriceCache) getOrCreate(symbol string) *book {
	if b := c.lookup(symbol); b != nil {
		return b
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.books[symbol]
	if !ok {
		b = &book{points: make([]PricePoint, c.capacity)}
		c.books[symbol] = b
	}
	return b
}

// Price returns the latest price, or zero if the symbol was never priced.
func (c *PriceCache) Price(symbol string) decimal.Decimal {
	b := c.lookup(symbol)
	if b == nil {
		return decimal.Zero
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.price
}

// History returns a copy of the symbol's price points, oldest first.
func (c *PriceCache) History(symbol string) []PricePoint {
	b := c.lookup(symbol)
	if b == nil {
		return []PricePoint{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.history()
}

// SetPrice replaces the latest price and appends it to history, evicting
// the oldest point once the ring is full.
func (c *PriceCache) SetPrice(symbol string, price decimal.Decimal) {
	if price.IsNegative() {
		return
	}
	b := c.getOrCreate(symbol)
	now := c.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.price = price
	b.updatedAt = now
	b.append(PricePoint{Timestamp: now, Price: price})
}

// SetOpenPrice records the day open for a symbol.
func (c *PriceCache) SetOpenPrice(symbol string, price decimal.Decimal) {
	if price.IsNegative() {
		return
	}
	b := c.getOrCreate(symbol)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = price
}

// SetQuote writes open then price under a single lock so readers never see
// a new open paired with a stale price.
func (c *PriceCache) SetQuote(symbol string, open, price decimal.Decimal) {
	if price.IsNegative() || open.IsNegative() {
		return
	}
	b := c.getOrCreate(symbol)
	now := c.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = open
	b.price = price
	b.updatedAt = now
	b.append(PricePoint{Timestamp: now, Price: price})
}

// Adjust applies fn to the current nonzero price of symbol and stores the
// result through the same path as SetPrice. The read and the write happen
// under the symbol lock, so a concurrent SetQuote is never overwritten with
// a value derived from the price it replaced.
func (c *PriceCache) Adjust(symbol string, fn func(decimal.Decimal) decimal.Decimal) (decimal.Decimal, bool) {
	b := c.lookup(symbol)
	if b == nil {
		return decimal.Zero, false
	}
	now := c.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.price.IsZero() {
		return decimal.Zero, false
	}
	next := fn(b.price)
	if next.IsNegative() {
		return b.price, false
	}
	b.price = next
	b.updatedAt = now
	b.append(PricePoint{Timestamp: now, Price: next})
	return next, true
}

// Quote returns a consistent snapshot of price and open.
func (c *PriceCache) Quote(symbol string) (Quote, bool) {
	b := c.lookup(symbol)
	if b == nil {
		return Quote{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return Quote{
		Symbol:    symbol,
		Price:     b.price,
		OpenPrice: b.open,
		Timestamp: b.updatedAt,
	}, true
}

// Symbols returns every symbol the cache has seen, sorted.
func (c *PriceCache) Symbols() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.books))
	for s := range c.books {
		out = append(out, s)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Priced counts symbols with a nonzero price.
func (c *PriceCache) Priced() int {
	n := 0
	for _, s := range c.Symbols() {
		if c.Price(s).IsPositive() {
			n++
		}
	}
	return n
}
