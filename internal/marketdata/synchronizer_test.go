package marketdata

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ksred/deltatrade/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu      sync.Mutex
	calls   []string
	prices  map[string]Quote
	failFor map[string]error
}

func newFakeSource() *fakeSource {
	return &fakeSource{prices: map[string]Quote{}, failFor: map[string]error{}}
}

func (f *fakeSource) FetchQuote(ctx context.Context, symbol string) (Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, symbol)
	if err, ok := f.failFor[symbol]; ok {
		return Quote{}, err
	}
	if q, ok := f.prices[symbol]; ok {
		return q, nil
	}
	return Quote{Symbol: symbol, Price: d("10"), OpenPrice: d("9"), Timestamp: time.Now()}, nil
}

func (f *fakeSource) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func symbolsN(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = string(rune('A' + i))
	}
	return out
}

func TestSynchronizerRoundRobinFairness(t *testing.T) {
	src := newFakeSource()
	cache := NewPriceCache(0)
	symbols := symbolsN(16)
	s := NewSynchronizer(src, cache, symbols, 4, time.Second, time.Second, observability.NewMetrics())

	for i := 0; i < 4; i++ {
		require.True(t, s.Tick(context.Background()))
	}

	assert.Equal(t, symbols, src.Calls(), "each symbol fetched exactly once per rotation")

	s.Tick(context.Background())
	assert.Equal(t, symbols[:4], src.Calls()[16:], "cursor wraps")
}

func TestSynchronizerBatchLargerThanUniverse(t *testing.T) {
	src := newFakeSource()
	s := NewSynchronizer(src, NewPriceCache(0), []string{"A", "B"}, 4, time.Second, time.Second, observability.NewMetrics())

	s.Tick(context.Background())
	assert.Equal(t, []string{"A", "B"}, src.Calls())
}

func TestSynchronizerWritesOpenAndPrice(t *testing.T) {
	src := newFakeSource()
	src.prices["AAPL"] = Quote{Symbol: "AAPL", Price: d("175.50"), OpenPrice: d("170.00")}
	cache := NewPriceCache(0)
	s := NewSynchronizer(src, cache, []string{"AAPL"}, 4, time.Second, time.Second, observability.NewMetrics())

	s.Tick(context.Background())

	q, ok := cache.Quote("AAPL")
	require.True(t, ok)
	assert.True(t, q.Price.Equal(d("175.50")))
	assert.True(t, q.OpenPrice.Equal(d("170.00")))
	assert.Len(t, cache.History("AAPL"), 1)
}

func TestSynchronizerFailureSkipsAndAdvances(t *testing.T) {
	src := newFakeSource()
	src.failFor["B"] = NewRateLimitError("B", "API rate limit exceeded")
	src.prices["C"] = Quote{Symbol: "C", Price: decimal.Zero}
	cache := NewPriceCache(0)
	cache.SetPrice("B", d("42"))
	metrics := observability.NewMetrics()
	s := NewSynchronizer(src, cache, []string{"A", "B", "C", "D"}, 2, time.Second, time.Second, metrics)

	s.Tick(context.Background())
	s.Tick(context.Background())

	assert.Equal(t, []string{"A", "B", "C", "D"}, src.Calls())
	assert.True(t, cache.Price("A").Equal(d("10")))
	assert.True(t, cache.Price("B").Equal(d("42")), "failed fetch keeps the previous price")
	assert.True(t, cache.Price("C").IsZero(), "zero price is not written")
	assert.True(t, cache.Price("D").Equal(d("10")))

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.QuoteFetches.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.QuoteFetches.WithLabelValues(ErrKindRateLimit)))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.SyncCycles))
}

func TestSynchronizerSkipsOverlappingRun(t *testing.T) {
	src := newFakeSource()
	metrics := observability.NewMetrics()
	s := NewSynchronizer(src, NewPriceCache(0), []string{"A"}, 1, time.Second, time.Second, metrics)

	s.running.Lock()
	assert.False(t, s.Tick(context.Background()))
	s.running.Unlock()

	assert.Empty(t, src.Calls())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SkippedRuns.WithLabelValues("sync")))
}

func TestSynchronizerStartStopsOnCancel(t *testing.T) {
	src := newFakeSource()
	s := NewSynchronizer(src, NewPriceCache(0), []string{"A", "B"}, 1, 10*time.Millisecond, time.Second, observability.NewMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(src.Calls()) >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("synchronizer did not stop")
	}
}
