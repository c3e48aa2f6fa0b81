package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Sync run metrics
	SyncRuns     *prometheus.CounterVec
	SyncDuration prometheus.Histogram

	// Account metrics
	AccountsProcessed prometheus.Counter
	AccountsSkipped   prometheus.Counter
	AccountsFailed    *prometheus.CounterVec
	AccountDuration   prometheus.Histogram

	// Invoice metrics
	InvoicesBuilt    prometheus.Counter
	LineItemsBuilt   prometheus.Counter
	TransactionsSeen *prometheus.CounterVec

	// Export metrics
	ExportRequests *prometheus.CounterVec
	ExportDuration *prometheus.HistogramVec
	ExportRetries  prometheus.Counter

	// Database metrics
	DBQueries     *prometheus.CounterVec
	DBDuration    *prometheus.HistogramVec
	DBConnections prometheus.Gauge
	DBErrors      *prometheus.CounterVec

	// Redis metrics
	RedisOperations *prometheus.CounterVec
	RedisErrors     *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics
func New() *Metrics {
	return &Metrics{
		// Sync run metrics
		SyncRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billsync_runs_total",
				Help: "Total sync runs by outcome",
			},
			[]string{"status"},
		),
		SyncDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "billsync_run_duration_seconds",
			Help:    "Duration of full sync runs",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		}),

		// Account metrics
		AccountsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "billsync_accounts_processed_total",
			Help: "Total accounts reconciled successfully",
		}),
		AccountsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "billsync_accounts_skipped_total",
			Help: "Total accounts skipped by an unchanged checkpoint",
		}),
		AccountsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billsync_accounts_failed_total",
				Help: "Total account reconciliation failures by reason",
			},
			[]string{"reason"},
		),
		AccountDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "billsync_account_duration_seconds",
			Help:    "Duration of per-account reconciliation",
			Buckets: prometheus.DefBuckets,
		}),

		// Invoice metrics
		InvoicesBuilt: promauto.NewCounter(prometheus.CounterOpts{
			Name: "billsync_invoices_built_total",
			Help: "Total normalized invoices built",
		}),
		LineItemsBuilt: promauto.NewCounter(prometheus.CounterOpts{
			Name: "billsync_line_items_built_total",
			Help: "Total normalized line items built",
		}),
		TransactionsSeen: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billsync_transactions_total",
				Help: "Total normalized transactions by kind and result",
			},
			[]string{"kind", "result"},
		),

		// Export metrics
		ExportRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billsync_export_requests_total",
				Help: "Total billing export requests by entity and status",
			},
			[]string{"entity", "status"},
		),
		ExportDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billsync_export_duration_seconds",
				Help:    "Billing export request duration",
				Buckets: []float64{.5, 1, 5, 15, 60, 300},
			},
			[]string{"entity"},
		),
		ExportRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "billsync_export_retries_total",
			Help: "Total retried billing export requests",
		}),

		// Database metrics
		DBQueries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billsync_db_queries_total",
				Help: "Total database queries",
			},
			[]string{"operation", "table"},
		),
		DBDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billsync_db_query_duration_seconds",
				Help:    "Database query duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),
		DBConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "billsync_db_connections",
			Help: "Current number of database connections",
		}),
		DBErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billsync_db_errors_total",
				Help: "Total database errors",
			},
			[]string{"operation"},
		),

		// Redis metrics
		RedisOperations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billsync_redis_operations_total",
				Help: "Total Redis operations",
			},
			[]string{"operation"},
		),
		RedisErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billsync_redis_errors_total",
				Help: "Total Redis errors",
			},
			[]string{"operation"},
		),
	}
}
