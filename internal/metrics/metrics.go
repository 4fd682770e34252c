package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Validator stage counters and histograms, partitioned by network + netuid.

var (
	// Evaluation rounds
	RoundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "validator",
		Subsystem: "evaluator",
		Name:      "rounds_total",
		Help:      "Total evaluation rounds by terminal status",
	}, []string{"network", "netuid", "status"})

	RoundLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "validator",
		Subsystem: "evaluator",
		Name:      "round_duration_seconds",
		Help:      "Evaluation round duration including metadata, batching and loss computation",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 900, 1200},
	}, []string{"network", "netuid"})

	RoundEffectiveUIDs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "validator",
		Subsystem: "evaluator",
		Name:      "effective_uids",
		Help:      "Number of uids with a loss record in the last successful round",
	}, []string{"network", "netuid"})

	EvaluatorMissingMetadata = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "validator",
		Subsystem: "evaluator",
		Name:      "missing_metadata_total",
		Help:      "Total uids excluded from a round because metadata was unavailable",
	}, []string{"network", "netuid"})

	EvaluatorMissingModels = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "validator",
		Subsystem: "evaluator",
		Name:      "missing_models_total",
		Help:      "Total uids scored with infinite loss because the model was not available",
	}, []string{"network", "netuid"})

	LossComputeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "validator",
		Subsystem: "evaluator",
		Name:      "loss_compute_duration_seconds",
		Help:      "Per-candidate loss computation duration",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"network", "netuid"})

	// Sync scheduler
	SyncAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "validator",
		Subsystem: "syncer",
		Name:      "attempts_total",
		Help:      "Total registry sync attempts by outcome",
	}, []string{"network", "netuid", "outcome"})

	SyncDuplicateSlotSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "validator",
		Subsystem: "syncer",
		Name:      "duplicate_slot_skips_total",
		Help:      "Total scheduler ticks skipped because the slot did not advance",
	}, []string{"network", "netuid"})

	SyncCurrentSlot = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "validator",
		Subsystem: "syncer",
		Name:      "current_slot",
		Help:      "Slot most recently handed to the registry",
	}, []string{"network", "netuid"})

	// Block monitor
	BlockFetchMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "validator",
		Subsystem: "blockmonitor",
		Name:      "misses_total",
		Help:      "Total block height fetches that yielded no value",
	}, []string{"network", "reason"})

	BlockHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "validator",
		Subsystem: "blockmonitor",
		Name:      "block_height",
		Help:      "Latest observed chain height",
	}, []string{"network"})

	// Pool
	PoolActiveSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "validator",
		Subsystem: "pool",
		Name:      "active_size",
		Help:      "Number of uids in the active evaluation set",
	}, []string{"network", "netuid"})

	PoolPendingSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "validator",
		Subsystem: "pool",
		Name:      "pending_size",
		Help:      "Number of synced uids awaiting guaranteed inclusion",
	}, []string{"network", "netuid"})

	// Weights
	WeightValue = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "validator",
		Subsystem: "weights",
		Name:      "value",
		Help:      "Persisted weight per uid",
	}, []string{"network", "netuid", "uid"})

	WeightCommitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "validator",
		Subsystem: "weights",
		Name:      "commits_total",
		Help:      "Total weight commit attempts by outcome",
	}, []string{"network", "netuid", "outcome"})

	WeightCommitLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "validator",
		Subsystem: "weights",
		Name:      "commit_duration_seconds",
		Help:      "Weight commit duration",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"network", "netuid"})

	// DB pool
	DBPoolOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "validator",
		Subsystem: "db",
		Name:      "db_pool_open",
		Help:      "Open DB connections",
	}, []string{"network", "netuid"})

	DBPoolInUse = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "validator",
		Subsystem: "db",
		Name:      "db_pool_in_use",
		Help:      "DB connections currently in use",
	}, []string{"network", "netuid"})

	DBPoolIdle = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "validator",
		Subsystem: "db",
		Name:      "db_pool_idle",
		Help:      "Idle DB connections",
	}, []string{"network", "netuid"})

	DBPoolWaitCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "validator",
		Subsystem: "db",
		Name:      "db_pool_wait_count",
		Help:      "Total number of connections waited for",
	}, []string{"network", "netuid"})

	DBPoolWaitDurationSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "validator",
		Subsystem: "db",
		Name:      "db_pool_wait_duration_seconds",
		Help:      "Total time blocked waiting for a new connection",
	}, []string{"network", "netuid"})

	// RPC
	RPCRateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "validator",
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "Total RPC calls delayed by the client-side rate limiter",
	}, []string{"network"})

	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "validator",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Total chain RPC calls by method and status",
	}, []string{"network", "method", "status"})

	RPCCircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "validator",
		Subsystem: "rpc",
		Name:      "circuit_state",
		Help:      "Chain RPC circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"network"})

	// Health
	PipelineHealthStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "validator",
		Subsystem: "pipeline",
		Name:      "health_status",
		Help:      "Pipeline health (1=healthy, 0.5=degraded, 0=unhealthy)",
	}, []string{"network", "netuid"})

	PipelineConsecutiveFailures = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "validator",
		Subsystem: "pipeline",
		Name:      "consecutive_failures",
		Help:      "Consecutive failed rounds",
	}, []string{"network", "netuid"})

	PipelineLoopPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "validator",
		Subsystem: "pipeline",
		Name:      "loop_panics_total",
		Help:      "Total panics recovered in the main loop or scheduler",
	}, []string{"network", "netuid", "component"})

	// Alerts
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "validator",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Total alerts sent",
	}, []string{"channel", "type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "validator",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts suppressed by cooldown",
	}, []string{"channel", "type"})

	// Telemetry
	TelemetryEmitErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "validator",
		Subsystem: "telemetry",
		Name:      "emit_errors_total",
		Help:      "Total round summaries a sink failed to record",
	}, []string{"sink"})
)
