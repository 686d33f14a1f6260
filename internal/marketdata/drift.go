package marketdata

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ksred/deltatrade/internal/observability"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// PriceFloor is the smallest price drift will ever write.
var PriceFloor = decimal.RequireFromString("0.01")

// driftPrecision bounds the digits a drifted price carries so repeated
// multiplication does not grow the mantissa without limit.
const driftPrecision = 6

// Drift nudges every priced symbol by a small uniform random move between
// real quote fetches.
type Drift struct {
	cache    *PriceCache
	band     float64
	interval time.Duration
	random   func() float64
	metrics  *observability.Metrics

	running sync.Mutex
}

func NewDrift(cache *PriceCache, band float64, interval time.Duration, metrics *observability.Metrics) *Drift {
	if band <= 0 {
		band = 0.0005
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Drift{
		cache:    cache,
		band:     band,
		interval: interval,
		random:   rand.Float64,
		metrics:  metrics,
	}
}

// WithRandom replaces the uniform [0,1) source. Used by tests.
func (d *Drift) WithRandom(fn func() float64) *Drift {
	d.random = fn
	return d
}

// Start runs the drift loop until ctx is cancelled.
func (d *Drift) Start(ctx context.Context) {
	logger := log.With().Str("component", "drift_generator").Logger()
	logger.Info().Float64("band", d.band).Dur("interval", d.interval).Msg("starting drift generator")

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down drift generator")
			return
		case <-ticker.C:
			d.Tick()
		}
	}
}

// Tick perturbs every nonzero cached price once. Symbols still at zero are
// left alone. The day open is never touched.
func (d *Drift) Tick() bool {
	if !d.running.TryLock() {
		d.metrics.SkippedRuns.WithLabelValues("drift").Inc()
		return false
	}
	defer d.running.Unlock()

	for _, symbol := range d.cache.Symbols() {
		d.cache.Adjust(symbol, d.next)
	}
	d.metrics.DriftCycles.Inc()
	return true
}

func (d *Drift) next(price decimal.Decimal) decimal.Decimal {
	u := (d.random() - 0.5) * 2 * d.band
	moved := price.Mul(decimal.NewFromFloat(1 + u)).Round(driftPrecision)
	if !moved.IsPositive() {
		return PriceFloor
	}
	return moved
}
