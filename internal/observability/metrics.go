// Package observability provides Prometheus metrics for the venue.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deltatrade"

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	registry *prometheus.Registry

	// Market data metrics
	QuoteFetches      *prometheus.CounterVec
	QuoteFetchLatency prometheus.Histogram
	SyncCycles        prometheus.Counter
	DriftCycles       prometheus.Counter
	SkippedRuns       *prometheus.CounterVec
	CachedSymbols     prometheus.Gauge

	// Trading metrics
	TradesExecuted  *prometheus.CounterVec
	TradesRejected  *prometheus.CounterVec
	WalletMovements *prometheus.CounterVec

	// Monitor metrics
	MonitorScans        prometheus.Counter
	OpenInstructions    prometheus.Gauge
	MonitorTriggers     *prometheus.CounterVec
	LiquidationFailures prometheus.Counter

	// Leaderboard metrics
	SnapshotsTaken prometheus.Counter
}

// NewMetrics creates a Metrics instance backed by its own registry, so
// independent instances never collide on registration.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		QuoteFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "quote_fetches_total",
			Help:      "Quote fetches from the external source by result",
		}, []string{"result"}),
		QuoteFetchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "quote_fetch_seconds",
			Help:      "Latency of external quote fetches",
			Buckets:   prometheus.DefBuckets,
		}),
		SyncCycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "sync_cycles_total",
			Help:      "Completed quote synchronizer cycles",
		}),
		DriftCycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "drift_cycles_total",
			Help:      "Completed synthetic drift cycles",
		}),
		SkippedRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_runs_total",
			Help:      "Periodic task runs skipped because the previous run was still active",
		}, []string{"task"}),
		CachedSymbols: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "priced_symbols",
			Help:      "Symbols with a known nonzero price",
		}),

		TradesExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "trades_executed_total",
			Help:      "Executed trades by side and reason",
		}, []string{"side", "reason"}),
		TradesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "trades_rejected_total",
			Help:      "Rejected trade requests by cause",
		}, []string{"cause"}),
		WalletMovements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "movements_total",
			Help:      "Wallet deposits and withdrawals",
		}, []string{"type"}),

		MonitorScans: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "scans_total",
			Help:      "Completed conditional order scans",
		}),
		OpenInstructions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "open_orders",
			Help:      "Open buy orders seen by the last scan",
		}),
		MonitorTriggers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "triggers_total",
			Help:      "Successful take-profit and stop-loss liquidations",
		}, []string{"reason"}),
		LiquidationFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "liquidation_failures_total",
			Help:      "Triggered liquidations whose sell failed",
		}),

		SnapshotsTaken: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "leaderboard",
			Name:      "snapshots_total",
			Help:      "Weekly net worth baselines recorded",
		}),
	}
}

// Handler returns the HTTP handler exposing this instance's metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
