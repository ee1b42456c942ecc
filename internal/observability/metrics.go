package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for StableVault.
type Metrics struct {
	// --- Engine ---
	OperationsTotal    *prometheus.CounterVec
	OperationsRejected *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
	LiquidationsTotal  prometheus.Counter
	DebtOutstanding    prometheus.Gauge
	CollateralDeposits *prometheus.GaugeVec
	StableSupply       prometheus.Gauge

	// --- Oracle ---
	PriceUpdates     *prometheus.CounterVec
	PriceRejections  *prometheus.CounterVec
	StalePriceErrors prometheus.Counter
	LastPrice        *prometheus.GaugeVec

	// --- Persistence ---
	OpLogWrites    prometheus.Counter
	OpLogBatchDur  prometheus.Histogram
	OpLogQueueSize prometheus.Gauge
	SnapshotsTaken prometheus.Counter
	SnapshotDur    prometheus.Histogram

	// --- HTTP ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics registers all metrics with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics on reg. Tests pass a fresh registry
// so repeated construction never collides.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	latencyBuckets := []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1}

	return &Metrics{
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_operations_total",
			Help: "Mutating operations that committed",
		}, []string{"op"}),

		OperationsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_operations_rejected_total",
			Help: "Mutating operations that failed and rolled back",
		}, []string{"op", "reason"}),

		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_operation_duration_seconds",
			Help:    "End-to-end duration of one engine operation",
			Buckets: latencyBuckets,
		}, []string{"op"}),

		LiquidationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_liquidations_total",
			Help: "Successful liquidations",
		}),

		DebtOutstanding: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vault_debt_outstanding_wad",
			Help: "Total stable debt across all users (wad, float approximation)",
		}),

		CollateralDeposits: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_collateral_deposited_wad",
			Help: "Total deposited collateral per asset (wad, float approximation)",
		}, []string{"asset"}),

		StableSupply: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vault_stable_supply_wad",
			Help: "Stable token total supply (wad, float approximation)",
		}),

		// Oracle
		PriceUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_price_updates_total",
			Help: "Price observations accepted into the feed store",
		}, []string{"asset"}),

		PriceRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_price_rejections_total",
			Help: "Price observations rejected (parse, sequence, validation)",
		}, []string{"reason"}),

		StalePriceErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_stale_price_errors_total",
			Help: "Operations refused because a feed was stale",
		}),

		LastPrice: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_last_price",
			Help: "Most recent accepted feed price (feed decimals)",
		}, []string{"asset"}),

		// Persistence
		OpLogWrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_oplog_rows_written_total",
			Help: "Operation log rows written to Postgres",
		}),

		OpLogBatchDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_oplog_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		OpLogQueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vault_oplog_queue_size",
			Help: "Operation records buffered for the next batch",
		}),

		SnapshotsTaken: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_snapshots_total",
			Help: "State snapshots written",
		}),

		SnapshotDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_snapshot_duration_seconds",
			Help:    "State snapshot write duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),

		// HTTP
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"route", "status"}),

		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_http_request_duration_seconds",
			Help:    "HTTP request duration by route",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"route"}),
	}
}
