// Package observability exposes Prometheus metrics for the watcher and the
// earnings loop.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Watcher sweep
	SweepsTotal        prometheus.Counter
	SweepDuration      prometheus.Histogram
	ChecksTotal        prometheus.Counter
	DepositsDetected   prometheus.Counter
	DepositsFinalized  prometheus.Counter
	PositionsCancelled prometheus.Counter
	SweepErrors        prometheus.Counter
	SweepSkipped       prometheus.Counter
	PendingPositions   prometheus.Gauge

	// Withdrawal polling
	WithdrawalsCompleted prometheus.Counter

	// Archival
	PositionsArchived prometheus.Counter
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates and registers all metrics on the given registerer.
// Tests use it with a fresh registry per test.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	sweepBuckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
	factory := promauto.With(reg)

	return &Metrics{
		SweepsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "yb_watcher_sweeps_total",
			Help: "Watcher sweeps completed",
		}),

		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "yb_watcher_sweep_duration_seconds",
			Help:    "Duration of one watcher sweep",
			Buckets: sweepBuckets,
		}),

		ChecksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "yb_watcher_checks_total",
			Help: "Deposit detector checks performed",
		}),

		DepositsDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "yb_watcher_deposits_detected_total",
			Help: "Deposits detected on the source ledger",
		}),

		DepositsFinalized: factory.NewCounter(prometheus.CounterOpts{
			Name: "yb_watcher_deposits_finalized_total",
			Help: "Deposits finalized through the bridge and activated",
		}),

		PositionsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "yb_watcher_positions_cancelled_total",
			Help: "Positions cancelled by the age-based timeout",
		}),

		SweepErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "yb_watcher_errors_total",
			Help: "Per-position errors during sweeps",
		}),

		SweepSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "yb_watcher_sweeps_skipped_total",
			Help: "Sweeps skipped because another instance held the lock",
		}),

		PendingPositions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "yb_watcher_pending_positions",
			Help: "Positions currently awaiting an external event",
		}),

		WithdrawalsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "yb_watcher_withdrawals_completed_total",
			Help: "Withdrawals finalized back to the source ledger",
		}),

		PositionsArchived: factory.NewCounter(prometheus.CounterOpts{
			Name: "yb_archive_positions_total",
			Help: "Terminal positions archived to object storage",
		}),
	}
}
