package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "txsync",
			Subsystem: "sync_worker",
			Name:      "jobs_received_total",
			Help:      "Sync jobs popped off the main queue",
		},
	)

	SyncsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "txsync",
			Subsystem: "sync_worker",
			Name:      "syncs_completed_total",
			Help:      "Account syncs that finished successfully",
		},
	)

	SyncsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txsync",
			Subsystem: "sync_worker",
			Name:      "syncs_failed_total",
			Help:      "Failed sync attempts by outcome",
		},
		[]string{"outcome"},
	)

	RetriesScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "txsync",
			Subsystem: "sync_worker",
			Name:      "retries_scheduled_total",
			Help:      "Jobs parked on the delayed-retry queue",
		},
	)

	DeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txsync",
			Subsystem: "sync_worker",
			Name:      "dead_lettered_total",
			Help:      "Jobs moved to the dead-letter queue by reason",
		},
		[]string{"reason"},
	)

	LeaseContended = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "txsync",
			Subsystem: "sync_worker",
			Name:      "lease_contended_total",
			Help:      "Jobs deferred because another worker held the account lease",
		},
	)

	TransactionsInserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "txsync",
			Subsystem: "sync_worker",
			Name:      "transactions_inserted_total",
			Help:      "New transactions written across all syncs",
		},
	)

	TransactionsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "txsync",
			Subsystem: "sync_worker",
			Name:      "transactions_skipped_total",
			Help:      "Duplicate transactions dropped across all syncs",
		},
	)

	RecordErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "txsync",
			Subsystem: "sync_worker",
			Name:      "record_errors_total",
			Help:      "Individual records that failed to parse or store",
		},
	)

	SyncLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "txsync",
			Subsystem: "sync_worker",
			Name:      "sync_duration_seconds",
			Help:      "End-to-end latency per sync attempt",
			Buckets:   prometheus.DefBuckets,
		},
	)

	InflightSyncs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "txsync",
			Subsystem: "sync_worker",
			Name:      "inflight_syncs",
			Help:      "Number of syncs currently running (semaphore depth)",
		},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "txsync",
			Subsystem: "sync_worker",
			Name:      "queue_depth",
			Help:      "Current length of each pipeline list",
		},
		[]string{"queue"},
	)
)
