package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txsync",
			Subsystem: "sync_scheduler",
			Name:      "runs_total",
			Help:      "Scheduler passes by result",
		},
		[]string{"result"},
	)

	AccountsScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "txsync",
			Subsystem: "sync_scheduler",
			Name:      "accounts_scheduled_total",
			Help:      "Stale accounts enqueued for sync",
		},
	)

	AccountsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "txsync",
			Subsystem: "sync_scheduler",
			Name:      "accounts_skipped_total",
			Help:      "Stale accounts skipped (no provider account id)",
		},
	)

	EnqueueErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "txsync",
			Subsystem: "sync_scheduler",
			Name:      "enqueue_errors_total",
			Help:      "Per-account enqueue failures during a pass",
		},
	)

	StaleAccounts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "txsync",
			Subsystem: "sync_scheduler",
			Name:      "stale_accounts",
			Help:      "Stale accounts found by the most recent pass",
		},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "txsync",
			Subsystem: "sync_scheduler",
			Name:      "run_duration_seconds",
			Help:      "Duration of one scheduler pass",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
