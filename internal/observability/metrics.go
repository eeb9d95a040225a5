package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for StakeVault.
type Metrics struct {
	// --- Ledger operations ---
	OpsApplied  *prometheus.CounterVec
	OpsRejected *prometheus.CounterVec
	OpDuration  *prometheus.HistogramVec
	OpSequence  prometheus.Gauge

	// --- Ledger state ---
	TotalStaked  prometheus.Gauge
	VaultBalance *prometheus.GaugeVec
	StakeRecords prometheus.Gauge

	// --- Approvals ---
	ApprovalsAccepted prometheus.Counter
	ApprovalsRejected *prometheus.CounterVec
	ReplayCacheSize   prometheus.Gauge

	// --- Persistence ---
	PersistOpsWritten   prometheus.Counter
	PersistBatchDur     prometheus.Histogram
	PersistBatchSize    prometheus.Histogram
	PersistErrors       *prometheus.CounterVec
	PersistRetry        prometheus.Counter
	PersistLastSequence prometheus.Gauge

	// --- Projection ---
	ProjectionUpdateDur prometheus.Histogram
	ProjectionDrops     prometheus.Counter

	// --- Publishing ---
	PublishDrops prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	opBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_ops_applied_total",
			Help: "Ledger operations committed",
		}, []string{"op"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_ops_rejected_total",
			Help: "Ledger operations rejected (validation, custody, authz)",
		}, []string{"op", "reason"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_op_duration_seconds",
			Help:    "Time to run a single ledger operation",
			Buckets: opBuckets,
		}, []string{"op"}),

		OpSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_op_sequence",
			Help: "Current global operation sequence number",
		}),

		TotalStaked: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_total_staked",
			Help: "Global recognized principal (GlobalState.total_staked)",
		}),

		VaultBalance: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_custody_balance",
			Help: "Vault custody account balance per asset",
		}, []string{"asset"}),

		StakeRecords: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_stake_records",
			Help: "Number of StakeInfo records (dormant included)",
		}),

		ApprovalsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_approvals_accepted_total",
			Help: "Backend approvals accepted on the authorized path",
		}),

		ApprovalsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_approvals_rejected_total",
			Help: "Backend approvals rejected (untrusted, signature, stale, replay, mismatch)",
		}, []string{"reason"}),

		ReplayCacheSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_replay_cache_size",
			Help: "Consumed-approval cache occupancy",
		}),

		PersistOpsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_ops_written_total",
			Help: "Operations written to Postgres",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_size",
			Help:    "Operations per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		ProjectionUpdateDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),

		ProjectionDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_projection_drops_total",
			Help: "Events dropped due to full projection channel",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}
