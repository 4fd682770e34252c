package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetrics_AllVariablesNonNil(t *testing.T) {
	t.Parallel()

	vars := []struct {
		name string
		val  any
	}{
		{"RoundsTotal", RoundsTotal},
		{"RoundLatency", RoundLatency},
		{"RoundEffectiveUIDs", RoundEffectiveUIDs},
		{"EvaluatorMissingMetadata", EvaluatorMissingMetadata},
		{"EvaluatorMissingModels", EvaluatorMissingModels},
		{"LossComputeLatency", LossComputeLatency},
		{"SyncAttemptsTotal", SyncAttemptsTotal},
		{"SyncDuplicateSlotSkips", SyncDuplicateSlotSkips},
		{"SyncCurrentSlot", SyncCurrentSlot},
		{"BlockFetchMisses", BlockFetchMisses},
		{"BlockHeight", BlockHeight},
		{"PoolActiveSize", PoolActiveSize},
		{"PoolPendingSize", PoolPendingSize},
		{"WeightValue", WeightValue},
		{"WeightCommitsTotal", WeightCommitsTotal},
		{"WeightCommitLatency", WeightCommitLatency},
		{"DBPoolOpen", DBPoolOpen},
		{"DBPoolInUse", DBPoolInUse},
		{"DBPoolIdle", DBPoolIdle},
		{"DBPoolWaitCount", DBPoolWaitCount},
		{"DBPoolWaitDurationSeconds", DBPoolWaitDurationSeconds},
		{"RPCRateLimitWaits", RPCRateLimitWaits},
		{"RPCCallsTotal", RPCCallsTotal},
		{"RPCCircuitState", RPCCircuitState},
		{"PipelineHealthStatus", PipelineHealthStatus},
		{"PipelineConsecutiveFailures", PipelineConsecutiveFailures},
		{"PipelineLoopPanics", PipelineLoopPanics},
		{"AlertsSentTotal", AlertsSentTotal},
		{"AlertsCooldownSkipped", AlertsCooldownSkipped},
		{"TelemetryEmitErrors", TelemetryEmitErrors},
	}

	for _, v := range vars {
		assert.NotNilf(t, v.val, "%s should not be nil", v.name)
	}
}

func TestMetrics_CounterIncrementNoPanic(t *testing.T) {
	t.Parallel()

	labels := []string{"test-network", "9"}

	assert.NotPanics(t, func() { RoundsTotal.WithLabelValues("test-network", "9", "SUCCEEDED").Inc() })
	assert.NotPanics(t, func() { EvaluatorMissingMetadata.WithLabelValues(labels...).Inc() })
	assert.NotPanics(t, func() { EvaluatorMissingModels.WithLabelValues(labels...).Inc() })
	assert.NotPanics(t, func() { SyncAttemptsTotal.WithLabelValues("test-network", "9", "updated").Inc() })
	assert.NotPanics(t, func() { SyncDuplicateSlotSkips.WithLabelValues(labels...).Inc() })
	assert.NotPanics(t, func() { BlockFetchMisses.WithLabelValues("test-network", "timeout").Inc() })
	assert.NotPanics(t, func() { WeightCommitsTotal.WithLabelValues("test-network", "9", "ok").Inc() })
	assert.NotPanics(t, func() { RPCCallsTotal.WithLabelValues("test-network", "chain_getHeader", "ok").Inc() })
	assert.NotPanics(t, func() { PipelineLoopPanics.WithLabelValues("test-network", "9", "syncer").Inc() })
	assert.NotPanics(t, func() { TelemetryEmitErrors.WithLabelValues("postgres").Inc() })
}

func TestMetrics_HistogramObserveNoPanic(t *testing.T) {
	t.Parallel()

	labels := []string{"test-network", "9"}

	assert.NotPanics(t, func() { RoundLatency.WithLabelValues(labels...).Observe(1.5) })
	assert.NotPanics(t, func() { LossComputeLatency.WithLabelValues(labels...).Observe(1.5) })
	assert.NotPanics(t, func() { WeightCommitLatency.WithLabelValues(labels...).Observe(1.5) })
}

func TestMetrics_GaugeSetNoPanic(t *testing.T) {
	t.Parallel()

	labels := []string{"test-network", "9"}

	assert.NotPanics(t, func() { RoundEffectiveUIDs.WithLabelValues(labels...).Set(3) })
	assert.NotPanics(t, func() { SyncCurrentSlot.WithLabelValues(labels...).Set(42) })
	assert.NotPanics(t, func() { BlockHeight.WithLabelValues("test-network").Set(1000) })
	assert.NotPanics(t, func() { PoolActiveSize.WithLabelValues(labels...).Set(30) })
	assert.NotPanics(t, func() { PoolPendingSize.WithLabelValues(labels...).Set(2) })
	assert.NotPanics(t, func() { WeightValue.WithLabelValues("test-network", "9", "17").Set(0.25) })
	assert.NotPanics(t, func() { DBPoolOpen.WithLabelValues(labels...).Set(42.0) })
	assert.NotPanics(t, func() { DBPoolInUse.WithLabelValues(labels...).Set(42.0) })
	assert.NotPanics(t, func() { DBPoolIdle.WithLabelValues(labels...).Set(42.0) })
	assert.NotPanics(t, func() { DBPoolWaitCount.WithLabelValues(labels...).Set(42.0) })
	assert.NotPanics(t, func() { DBPoolWaitDurationSeconds.WithLabelValues(labels...).Set(42.0) })
	assert.NotPanics(t, func() { RPCCircuitState.WithLabelValues("test-network").Set(1) })
	assert.NotPanics(t, func() { PipelineHealthStatus.WithLabelValues(labels...).Set(1) })
	assert.NotPanics(t, func() { PipelineConsecutiveFailures.WithLabelValues(labels...).Set(0) })
}
