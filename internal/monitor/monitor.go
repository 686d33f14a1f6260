// Package monitor watches open buy orders that carry a take-profit or
// stop-loss and liquidates them when the cached price crosses a level.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/ksred/deltatrade/internal/observability"
	"github.com/ksred/deltatrade/internal/types"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// OrderSource lists orders by status and side.
type OrderSource interface {
	FindOrdersByStatusAndSide(ctx context.Context, status, side string) ([]types.Order, error)
}

// PriceSource supplies the latest cached price.
type PriceSource interface {
	Price(symbol string) decimal.Decimal
}

// Liquidator sells an instruction order's full quantity and closes it.
type Liquidator interface {
	Liquidate(ctx context.Context, parentOrderID, reason string) (*types.TradeResponse, error)
}

type Processor struct {
	orders     OrderSource
	prices     PriceSource
	liquidator Liquidator
	interval   time.Duration // Time between scans
	metrics    *observability.Metrics

	running sync.Mutex
}

func NewProcessor(orders OrderSource, prices PriceSource, liquidator Liquidator, interval time.Duration, metrics *observability.Metrics) *Processor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Processor{
		orders:     orders,
		prices:     prices,
		liquidator: liquidator,
		interval:   interval,
		metrics:    metrics,
	}
}

// Start begins the order monitoring loop
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "order_monitor").Logger()
	logger.Info().Dur("interval", p.interval).Msg("starting order monitor")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down order monitor")
			return
		case <-ticker.C:
			if _, err := p.Scan(ctx); err != nil {
				logger.Error().Err(err).Msg("failed to scan open orders")
			}
		}
	}
}

// Evaluate decides whether price triggers order's exit. Take-profit wins
// when both levels are crossed, which can only happen if target <= stop.
func Evaluate(order *types.Order, price decimal.Decimal) (string, bool) {
	if !price.IsPositive() {
		return "", false
	}
	if order.TargetPrice != nil && order.TargetPrice.IsPositive() && price.GreaterThanOrEqual(*order.TargetPrice) {
		return types.ReasonTakeProfit, true
	}
	if order.StopLoss != nil && order.StopLoss.IsPositive() && price.LessThanOrEqual(*order.StopLoss) {
		return types.ReasonStopLoss, true
	}
	return "", false
}

// Scan evaluates every open buy order once and returns how many were
// liquidated. A failed liquidation is logged and left OPEN for the next
// scan; it never stops the rest of the scan. If a scan is already running
// Scan returns immediately.
func (p *Processor) Scan(ctx context.Context) (int, error) {
	if !p.running.TryLock() {
		p.metrics.SkippedRuns.WithLabelValues("monitor").Inc()
		return 0, nil
	}
	defer p.running.Unlock()

	logger := log.With().Str("component", "order_monitor").Logger()

	orders, err := p.orders.FindOrdersByStatusAndSide(ctx, types.StatusOpen, types.SideBuy)
	if err != nil {
		return 0, err
	}
	p.metrics.OpenInstructions.Set(float64(len(orders)))
	logger.Debug().Int("open_count", len(orders)).Msg("scanning open orders")

	triggered := 0
	for i := range orders {
		if ctx.Err() != nil {
			break
		}
		order := &orders[i]
		// Orders without an exit level are plain buys and are never touched.
		if !order.HasInstruction() {
			continue
		}

		price := p.prices.Price(order.Symbol)
		reason, ok := Evaluate(order, price)
		if !ok {
			continue
		}

		orderLogger := logger.With().
			Str("order_id", order.OrderID).
			Str("account_id", order.AccountID).
			Str("symbol", order.Symbol).
			Str("reason", reason).
			Str("price", price.String()).
			Logger()

		if _, err := p.liquidator.Liquidate(ctx, order.OrderID, reason); err != nil {
			p.metrics.LiquidationFailures.Inc()
			orderLogger.Error().Err(err).Msg("liquidation failed, will retry on next scan")
			continue
		}

		triggered++
		p.metrics.MonitorTriggers.WithLabelValues(reason).Inc()
		orderLogger.Info().Msg("exit instruction triggered")
	}

	p.metrics.MonitorScans.Inc()
	return triggered, nil
}
