// Package events carries domain events from the ledger to side-effect
// consumers such as notifications.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// TradeExecuted is published after every committed buy or sell.
type TradeExecuted struct {
	AccountID      string          `json:"account_id"`
	Symbol         string          `json:"symbol"`
	Side           string          `json:"side"`
	Quantity       int64           `json:"quantity"`
	ExecutionPrice decimal.Decimal `json:"execution_price"`
	Reason         string          `json:"reason"`
	OrderID        string          `json:"order_id"`
	At             time.Time       `json:"at"`
}

// Publisher is what the ledger needs from the bus.
type Publisher interface {
	Publish(TradeExecuted)
}

type subscriber struct {
	name string
	ch   chan TradeExecuted
}

// Bus fans events out to buffered subscriber channels. Publish never
// blocks: a subscriber whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscriber
	closed bool
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a named consumer and returns its channel. The channel
// is closed by Close.
func (b *Bus) Subscribe(name string, buffer int) <-chan TradeExecuted {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan TradeExecuted, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, subscriber{name: name, ch: ch})
	return ch
}

func (b *Bus) Publish(e TradeExecuted) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
			log.Warn().
				Str("component", "event_bus").
				Str("subscriber", s.name).
				Str("order_id", e.OrderID).
				Msg("subscriber buffer full, dropping event")
		}
	}
}

// Close stops delivery and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.ch)
	}
}
