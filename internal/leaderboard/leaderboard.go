// Package leaderboard ranks accounts by net worth, overall and by gain
// since the start of the week.
package leaderboard

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/deltatrade/internal/observability"
	"github.com/ksred/deltatrade/internal/trading"
	"github.com/ksred/deltatrade/internal/types"
	"github.com/ksred/deltatrade/pkg/response"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// DefaultLimit is the number of entries a leaderboard returns.
const DefaultLimit = 50

// Entry is one ranked account. Gain is set on the weekly board only.
type Entry struct {
	Rank      int              `json:"rank"`
	AccountID string           `json:"account_id"`
	Username  string           `json:"username"`
	NetWorth  decimal.Decimal  `json:"net_worth"`
	Gain      *decimal.Decimal `json:"gain,omitempty"`
}

type Service struct {
	db       *Database
	prices   trading.PriceSource
	metrics  *observability.Metrics
	interval time.Duration // Time between snapshot passes
	now      func() time.Time

	running sync.Mutex
}

func NewService(db *Database, prices trading.PriceSource, interval time.Duration, metrics *observability.Metrics) *Service {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Service{
		db:       db,
		prices:   prices,
		metrics:  metrics,
		interval: interval,
		now:      time.Now,
	}
}

// WeekStart returns Monday 00:00 UTC of the week containing t.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -offset)
}

// Start records the week's baselines immediately and then every interval
// until ctx is cancelled. A new week gets its baselines on the first pass
// after Monday 00:00 UTC.
func (s *Service) Start(ctx context.Context) {
	logger := log.With().Str("component", "leaderboard").Logger()
	logger.Info().Dur("interval", s.interval).Msg("starting weekly snapshots")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Snapshot(ctx); err != nil {
			logger.Error().Err(err).Msg("failed to record weekly snapshots")
		}
		select {
		case <-ctx.Done():
			logger.Info().Msg("stopping weekly snapshots")
			return
		case <-ticker.C:
		}
	}
}

type standing struct {
	account  types.Account
	netWorth decimal.Decimal
}

// standings values every account as cash plus its holdings at mark price.
func (s *Service) standings(ctx context.Context) ([]standing, error) {
	accounts, err := s.db.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	holdings, err := s.db.ListHoldings(ctx)
	if err != nil {
		return nil, err
	}

	value := make(map[string]decimal.Decimal, len(accounts))
	for _, p := range holdings {
		v := trading.MarkPrice(s.prices, p).Mul(decimal.NewFromInt(p.Quantity)).Round(2)
		value[p.AccountID] = value[p.AccountID].Add(v)
	}

	out := make([]standing, len(accounts))
	for i, a := range accounts {
		out[i] = standing{account: a, netWorth: a.CashBalance.Add(value[a.AccountID])}
	}
	return out, nil
}

// Snapshot records this week's baseline for every account that has none
// and returns how many were written.
func (s *Service) Snapshot(ctx context.Context) (int64, error) {
	if !s.running.TryLock() {
		s.metrics.SkippedRuns.WithLabelValues("leaderboard").Inc()
		return 0, nil
	}
	defer s.running.Unlock()

	week := WeekStart(s.now())
	existing, err := s.db.GetSnapshots(ctx, week)
	if err != nil {
		return 0, err
	}
	have := make(map[string]bool, len(existing))
	for _, snap := range existing {
		have[snap.AccountID] = true
	}

	standings, err := s.standings(ctx)
	if err != nil {
		return 0, err
	}
	var missing []types.WeeklySnapshot
	for _, st := range standings {
		if have[st.account.AccountID] {
			continue
		}
		missing = append(missing, types.WeeklySnapshot{
			AccountID:     st.account.AccountID,
			WeekStart:     week,
			StartNetWorth: st.netWorth,
			CreatedAt:     s.now(),
		})
	}

	n, err := s.db.CreateSnapshots(ctx, missing)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.metrics.SnapshotsTaken.Add(float64(n))
		log.Info().
			Str("component", "leaderboard").
			Time("week_start", week).
			Int64("snapshots", n).
			Msg("weekly snapshots recorded")
	}
	return n, nil
}

// Global ranks accounts by net worth, highest first.
func (s *Service) Global(ctx context.Context) ([]Entry, error) {
	standings, err := s.standings(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, len(standings))
	for i, st := range standings {
		entries[i] = Entry{
			AccountID: st.account.AccountID,
			Username:  st.account.Username,
			NetWorth:  st.netWorth,
		}
	}
	return rank(entries, func(e Entry) decimal.Decimal { return e.NetWorth }), nil
}

// Weekly ranks accounts by net worth gained since this week's baseline. An
// account without a baseline has gained nothing.
func (s *Service) Weekly(ctx context.Context) ([]Entry, error) {
	standings, err := s.standings(ctx)
	if err != nil {
		return nil, err
	}
	snapshots, err := s.db.GetSnapshots(ctx, WeekStart(s.now()))
	if err != nil {
		return nil, err
	}
	baseline := make(map[string]decimal.Decimal, len(snapshots))
	for _, snap := range snapshots {
		baseline[snap.AccountID] = snap.StartNetWorth
	}

	entries := make([]Entry, len(standings))
	for i, st := range standings {
		start, ok := baseline[st.account.AccountID]
		if !ok {
			start = st.netWorth
		}
		gain := st.netWorth.Sub(start)
		entries[i] = Entry{
			AccountID: st.account.AccountID,
			Username:  st.account.Username,
			NetWorth:  st.netWorth,
			Gain:      &gain,
		}
	}
	return rank(entries, func(e Entry) decimal.Decimal { return *e.Gain }), nil
}

// rank sorts by score descending, ties by username then account id, keeps
// the top DefaultLimit and numbers them from 1.
func rank(entries []Entry, score func(Entry) decimal.Decimal) []Entry {
	sort.SliceStable(entries, func(i, j int) bool {
		if c := score(entries[i]).Cmp(score(entries[j])); c != 0 {
			return c > 0
		}
		if entries[i].Username != entries[j].Username {
			return entries[i].Username < entries[j].Username
		}
		return entries[i].AccountID < entries[j].AccountID
	})
	if len(entries) > DefaultLimit {
		entries = entries[:DefaultLimit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// GinHandlers contains HTTP handlers for leaderboard endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// GlobalHandler handles GET /leaderboard
func (h *GinHandlers) GlobalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := h.service.Global(c.Request.Context())
		response.Handle(c, entries, err)
	}
}

// WeeklyHandler handles GET /leaderboard/weekly
func (h *GinHandlers) WeeklyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := h.service.Weekly(c.Request.Context())
		response.Handle(c, entries, err)
	}
}
