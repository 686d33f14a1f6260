package marketdata

import (
	"context"
	"sync"
	"time"

	"github.com/ksred/deltatrade/internal/observability"
	"github.com/rs/zerolog/log"
)

// Synchronizer pulls real quotes for a rotating batch of symbols on a fixed
// interval and writes them into the cache.
type Synchronizer struct {
	source   QuoteSource
	cache    *PriceCache
	symbols  []string
	batch    int
	interval time.Duration
	timeout  time.Duration
	metrics  *observability.Metrics

	// running guards cursor and keeps two cycles from overlapping.
	running sync.Mutex
	cursor  int
}

func NewSynchronizer(source QuoteSource, cache *PriceCache, symbols []string, batch int, interval, timeout time.Duration, metrics *observability.Metrics) *Synchronizer {
	if batch <= 0 {
		batch = 4
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Synchronizer{
		source:   source,
		cache:    cache,
		symbols:  append([]string(nil), symbols...),
		batch:    batch,
		interval: interval,
		timeout:  timeout,
		metrics:  metrics,
	}
}

// Start runs the synchronizer until ctx is cancelled.
func (s *Synchronizer) Start(ctx context.Context) {
	logger := log.With().Str("component", "quote_synchronizer").Logger()
	logger.Info().
		Int("symbols", len(s.symbols)).
		Int("batch_size", s.batch).
		Dur("interval", s.interval).
		Msg("starting quote synchronizer")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Prime the cache instead of waiting a full interval.
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down quote synchronizer")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick fetches the next batch. It returns false without doing anything if
// a previous cycle is still running.
func (s *Synchronizer) Tick(ctx context.Context) bool {
	if !s.running.TryLock() {
		s.metrics.SkippedRuns.WithLabelValues("sync").Inc()
		log.Warn().Str("component", "quote_synchronizer").Msg("previous sync still running, skipping")
		return false
	}
	defer s.running.Unlock()

	for _, symbol := range s.nextBatch() {
		if ctx.Err() != nil {
			return true
		}
		s.sync(ctx, symbol)
	}
	s.metrics.SyncCycles.Inc()
	s.metrics.CachedSymbols.Set(float64(s.cache.Priced()))
	return true
}

// nextBatch returns min(batch, n) symbols starting at the cursor and
// advances the cursor past them whether or not their fetches succeed.
func (s *Synchronizer) nextBatch() []string {
	n := len(s.symbols)
	if n == 0 {
		return nil
	}
	size := s.batch
	if size > n {
		size = n
	}
	out := make([]string, size)
	for i := range out {
		out[i] = s.symbols[s.cursor]
		s.cursor = (s.cursor + 1) % n
	}
	return out
}

func (s *Synchronizer) sync(ctx context.Context, symbol string) {
	logger := log.With().
		Str("component", "quote_synchronizer").
		Str("symbol", symbol).
		Logger()

	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	quote, err := s.source.FetchQuote(fetchCtx, symbol)
	s.metrics.QuoteFetchLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.QuoteFetches.WithLabelValues(ErrorKind(err)).Inc()
		logger.Warn().Err(err).Str("kind", ErrorKind(err)).Msg("quote fetch failed")
		return
	}
	if !quote.Price.IsPositive() {
		s.metrics.QuoteFetches.WithLabelValues(ErrKindBadSymbol).Inc()
		logger.Warn().Msg("quote source returned a non-positive price")
		return
	}

	s.metrics.QuoteFetches.WithLabelValues("success").Inc()
	s.cache.SetQuote(symbol, quote.OpenPrice, quote.Price)
	logger.Debug().
		Str("price", quote.Price.String()).
		Str("open", quote.OpenPrice.String()).
		Msg("quote updated")
}
