package pipeline

import (
	"sort"
	"sync"
	"time"

	"github.com/agoncharov-reef/pretrain-subnet/internal/domain/model"
	"github.com/agoncharov-reef/pretrain-subnet/internal/metrics"
)

// HealthStatus represents the health state of the validator loop.
type HealthStatus string

const (
	HealthStatusUnknown   HealthStatus = "UNKNOWN"
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusDegraded  HealthStatus = "DEGRADED"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"

	// DefaultUnhealthyThreshold is the number of consecutive failed rounds
	// before the loop is considered unhealthy.
	DefaultUnhealthyThreshold = 3

	// DefaultDegradedLatencyThreshold is the P95 round duration above which
	// the loop is reported as degraded.
	DefaultDegradedLatencyThreshold = 15 * time.Minute

	// syncStallFactor times the sync ttl is how old the scheduler heartbeat
	// may get before the scheduler counts as stalled.
	syncStallFactor = 3

	latencyWindowSize = 10
)

// PipelineHealth tracks round outcomes and scheduler liveness.
type PipelineHealth struct {
	mu                       sync.RWMutex
	network                  string
	netuid                   model.NetUID
	status                   HealthStatus
	consecutiveFailures      int
	lastSuccessAt            *time.Time
	lastFailureAt            *time.Time
	unhealthyThreshold       int
	recentLatencies          []time.Duration
	degradedLatencyThreshold time.Duration

	syncHeartbeat func() time.Time
	syncStallAge  time.Duration
}

func NewPipelineHealth(network string, netuid model.NetUID) *PipelineHealth {
	return &PipelineHealth{
		network:                  network,
		netuid:                   netuid,
		status:                   HealthStatusUnknown,
		unhealthyThreshold:       DefaultUnhealthyThreshold,
		recentLatencies:          make([]time.Duration, 0, latencyWindowSize),
		degradedLatencyThreshold: DefaultDegradedLatencyThreshold,
	}
}

// WatchSyncHeartbeat makes Snapshot report the scheduler as stalled once
// heartbeat is older than syncStallFactor * syncTTL.
func (h *PipelineHealth) WatchSyncHeartbeat(heartbeat func() time.Time, syncTTL time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.syncHeartbeat = heartbeat
	h.syncStallAge = syncStallFactor * syncTTL
}

func (h *PipelineHealth) SetStatus(status HealthStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = status
	h.publishLocked()
}

// RecordSuccess records a completed round and reports whether it ended an
// unhealthy streak.
func (h *PipelineHealth) RecordSuccess() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	wasUnhealthy := h.status == HealthStatusUnhealthy
	h.consecutiveFailures = 0
	h.lastSuccessAt = &now
	if h.isLatencyDegraded() {
		h.status = HealthStatusDegraded
	} else {
		h.status = HealthStatusHealthy
	}
	h.publishLocked()
	return wasUnhealthy
}

// RecordLatency records a round duration and updates degraded state.
func (h *PipelineHealth) RecordLatency(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.recentLatencies) >= latencyWindowSize {
		h.recentLatencies = h.recentLatencies[1:]
	}
	h.recentLatencies = append(h.recentLatencies, d)

	if h.status == HealthStatusHealthy || h.status == HealthStatusDegraded {
		if h.isLatencyDegraded() {
			h.status = HealthStatusDegraded
		} else if h.status == HealthStatusDegraded && h.consecutiveFailures == 0 {
			h.status = HealthStatusHealthy
		}
	}
	h.publishLocked()
}

// Must be called with mu held.
func (h *PipelineHealth) isLatencyDegraded() bool {
	if len(h.recentLatencies) < 2 {
		return false
	}
	return h.percentileLatency(95) > h.degradedLatencyThreshold
}

// Must be called with mu held.
func (h *PipelineHealth) percentileLatency(pct int) time.Duration {
	n := len(h.recentLatencies)
	if n == 0 {
		return 0
	}
	sorted := make([]time.Duration, n)
	copy(sorted, h.recentLatencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := (pct*n - 1) / 100
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// RecordFailure records a failed or abandoned round. Returns true if the
// loop transitioned to unhealthy on this call.
func (h *PipelineHealth) RecordFailure() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	h.consecutiveFailures++
	h.lastFailureAt = &now
	transitioned := false
	if h.consecutiveFailures >= h.unhealthyThreshold && h.status != HealthStatusUnhealthy {
		h.status = HealthStatusUnhealthy
		transitioned = true
	}
	h.publishLocked()
	return transitioned
}

// Must be called with mu held.
func (h *PipelineHealth) publishLocked() {
	netuid := h.netuid.String()
	metrics.PipelineConsecutiveFailures.WithLabelValues(h.network, netuid).Set(float64(h.consecutiveFailures))
	metrics.PipelineHealthStatus.WithLabelValues(h.network, netuid).Set(healthGaugeValue(h.status))
}

func healthGaugeValue(s HealthStatus) float64 {
	switch s {
	case HealthStatusHealthy:
		return 1
	case HealthStatusDegraded:
		return 0.5
	default:
		return 0
	}
}

// SyncStalled reports whether the scheduler heartbeat is older than the
// allowed age at now. Before the first heartbeat it is never stalled.
func (h *PipelineHealth) SyncStalled(now time.Time) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.syncStalledLocked(now)
}

// Must be called with mu held.
func (h *PipelineHealth) syncStalledLocked(now time.Time) bool {
	if h.syncHeartbeat == nil || h.syncStallAge <= 0 {
		return false
	}
	last := h.syncHeartbeat()
	if last.IsZero() {
		return false
	}
	return now.Sub(last) > h.syncStallAge
}

// Snapshot returns the current health state. A stalled scheduler turns a
// healthy loop into a degraded one.
func (h *PipelineHealth) Snapshot() HealthSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	now := time.Now()
	stalled := h.syncStalledLocked(now)
	status := h.status
	if stalled && status == HealthStatusHealthy {
		status = HealthStatusDegraded
	}
	snap := HealthSnapshot{
		Network:             h.network,
		NetUID:              int(h.netuid),
		Status:              string(status),
		ConsecutiveFailures: h.consecutiveFailures,
		LastSuccessAt:       h.lastSuccessAt,
		LastFailureAt:       h.lastFailureAt,
		SyncStalled:         stalled,
	}
	if h.syncHeartbeat != nil {
		if last := h.syncHeartbeat(); !last.IsZero() {
			snap.LastSyncHeartbeat = &last
		}
	}
	return snap
}

// HealthSnapshot is a point-in-time view of validator health (JSON-safe).
type HealthSnapshot struct {
	Network             string     `json:"network"`
	NetUID              int        `json:"netuid"`
	Status              string     `json:"status"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	SyncStalled         bool       `json:"sync_stalled"`
	LastSyncHeartbeat   *time.Time `json:"last_sync_heartbeat,omitempty"`
}

// Healthy reports whether the snapshot should pass a liveness probe.
func (s HealthSnapshot) Healthy() bool {
	return s.Status != string(HealthStatusUnhealthy) && !s.SyncStalled
}
