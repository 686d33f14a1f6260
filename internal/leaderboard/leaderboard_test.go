package leaderboard

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/deltatrade/internal/database"
	"github.com/ksred/deltatrade/internal/marketdata"
	"github.com/ksred/deltatrade/internal/observability"
	"github.com/ksred/deltatrade/internal/trading"
	"github.com/ksred/deltatrade/internal/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Wednesday
var testNow = time.Date(2026, 10, 21, 15, 30, 0, 0, time.UTC)

type boardFixture struct {
	svc     *Service
	ledger  *trading.Database
	cache   *marketdata.PriceCache
	metrics *observability.Metrics
}

func newBoard(t *testing.T) *boardFixture {
	t.Helper()
	gdb, err := database.NewInMemory()
	require.NoError(t, err)

	cache := marketdata.NewPriceCache(0)
	metrics := observability.NewMetrics()
	svc := NewService(NewDatabase(gdb), cache, time.Hour, metrics)
	svc.now = func() time.Time { return testNow }

	return &boardFixture{
		svc:     svc,
		ledger:  trading.NewDatabase(gdb),
		cache:   cache,
		metrics: metrics,
	}
}

func (f *boardFixture) account(t *testing.T, id, name, cash string, holdings map[string]int64) {
	t.Helper()
	ctx := context.Background()
	_, _, err := f.ledger.EnsureAccount(ctx, id, name, d(cash))
	require.NoError(t, err)
	for symbol, qty := range holdings {
		require.NoError(t, f.ledger.UpsertPosition(ctx, &types.Position{
			AccountID:   id,
			Symbol:      symbol,
			Quantity:    qty,
			AverageCost: d("100"),
		}))
	}
}

func TestWeekStart(t *testing.T) {
	monday := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		at   time.Time
	}{
		{"monday midnight", monday},
		{"wednesday", testNow},
		{"sunday night", time.Date(2026, 10, 25, 23, 59, 59, 0, time.UTC)},
		{"other zone", time.Date(2026, 10, 26, 1, 0, 0, 0, time.FixedZone("CEST", 2*3600))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, WeekStart(tt.at).Equal(monday), WeekStart(tt.at).String())
		})
	}
}

func TestGlobalRanksByNetWorth(t *testing.T) {
	f := newBoard(t)
	f.cache.SetPrice("AAPL", d("150"))

	f.account(t, "a", "alice", "1000", map[string]int64{"AAPL": 10}) // 2500
	f.account(t, "b", "bob", "3000", nil)                            // 3000
	f.account(t, "c", "carol", "500", map[string]int64{"MSFT": 5})   // unpriced: 500 + 5*100
	f.account(t, "z", "zed", "3000", nil)                            // ties bob

	entries, err := f.svc.Global(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, []string{"bob", "zed", "alice", "carol"}, usernames(entries))
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, 4, entries[3].Rank)
	assert.True(t, entries[2].NetWorth.Equal(d("2500")), entries[2].NetWorth.String())
	assert.True(t, entries[3].NetWorth.Equal(d("1000")), entries[3].NetWorth.String())
	assert.Nil(t, entries[0].Gain)
}

func TestGlobalKeepsTopFifty(t *testing.T) {
	f := newBoard(t)
	for i := 0; i < DefaultLimit+5; i++ {
		f.account(t, fmt.Sprintf("acct-%02d", i), fmt.Sprintf("user-%02d", i), fmt.Sprintf("%d", 1000+i), nil)
	}

	entries, err := f.svc.Global(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, DefaultLimit)
	assert.Equal(t, "user-54", entries[0].Username)
	assert.Equal(t, DefaultLimit, entries[DefaultLimit-1].Rank)
}

func TestSnapshotOncePerWeek(t *testing.T) {
	f := newBoard(t)
	ctx := context.Background()
	f.account(t, "a", "alice", "1000", nil)
	f.account(t, "b", "bob", "2000", nil)

	n, err := f.svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = f.svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "baselines are taken once per week")

	f.account(t, "c", "carol", "10", nil)
	n, err = f.svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "late joiners get their own baseline")

	f.svc.now = func() time.Time { return testNow.AddDate(0, 0, 7) }
	n, err = f.svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "a new week starts new baselines")

	assert.Equal(t, 6.0, testutil.ToFloat64(f.metrics.SnapshotsTaken))
}

func TestWeeklyRanksByGain(t *testing.T) {
	f := newBoard(t)
	ctx := context.Background()
	f.cache.SetPrice("AAPL", d("100"))

	f.account(t, "a", "alice", "1000", map[string]int64{"AAPL": 10}) // 2000
	f.account(t, "b", "bob", "5000", nil)                            // 5000
	_, err := f.svc.Snapshot(ctx)
	require.NoError(t, err)

	// Alice's shares rally, Bob withdraws, Carol joins after the baseline.
	f.cache.SetPrice("AAPL", d("130"))
	require.NoError(t, f.ledger.UpdateBalance(ctx, "b", d("4900")))
	f.account(t, "c", "carol", "9000", nil)

	entries, err := f.svc.Weekly(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, []string{"alice", "carol", "bob"}, usernames(entries))
	require.NotNil(t, entries[0].Gain)
	assert.True(t, entries[0].Gain.Equal(d("300")), entries[0].Gain.String())
	assert.True(t, entries[0].NetWorth.Equal(d("2300")))
	assert.True(t, entries[1].Gain.IsZero(), "no baseline means no gain")
	assert.True(t, entries[2].Gain.Equal(d("-100")), entries[2].Gain.String())
}

func TestSnapshotSkipsWhileRunning(t *testing.T) {
	f := newBoard(t)
	f.svc.running.Lock()
	defer f.svc.running.Unlock()

	n, err := f.svc.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SkippedRuns.WithLabelValues("leaderboard")))
}

func TestStartRecordsImmediately(t *testing.T) {
	f := newBoard(t)
	f.account(t, "a", "alice", "1000", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.svc.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.SnapshotsTaken) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newBoard(t)
	f.account(t, "a", "alice", "1000", nil)

	h := NewGinHandlers(f.svc)
	router := gin.New()
	router.GET("/leaderboard", h.GlobalHandler())
	router.GET("/leaderboard/weekly", h.WeeklyHandler())

	for _, path := range []string{"/leaderboard", "/leaderboard/weekly"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Contains(t, w.Body.String(), `"username":"alice"`, path)
		assert.Contains(t, w.Body.String(), `"rank":1`, path)
	}
}

func usernames(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Username
	}
	return out
}
