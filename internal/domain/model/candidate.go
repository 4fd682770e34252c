package model

import (
	"math"
	"time"
)

// Metadata is what the registry knows about a candidate's latest submission.
type Metadata struct {
	UID       UID       `json:"uid"`
	Timestamp time.Time `json:"timestamp"`
	Hash      string    `json:"hash,omitempty"`
}

// SyncStatus is the outcome of the most recent registry sync for a uid.
type SyncStatus string

const (
	SyncStatusUnknown   SyncStatus = "UNKNOWN"
	SyncStatusUpdated   SyncStatus = "UPDATED"
	SyncStatusUnchanged SyncStatus = "UNCHANGED"
	SyncStatusFailed    SyncStatus = "FAILED"
)

// Candidate is the local view of one population slot.
type Candidate struct {
	UID          UID        `json:"uid"`
	SyncStatus   SyncStatus `json:"sync_status"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	LastBlock    int64      `json:"last_block"`
}

// ModelHandle refers to a model the registry has made locally available.
type ModelHandle struct {
	UID UID    `json:"uid"`
	Ref string `json:"ref"`
}

// Batch is one evaluation unit drawn from the dataset page space.
// Batches are shared read-only by every candidate of a round.
type Batch struct {
	Page    int64  `json:"page"`
	Index   int    `json:"index"`
	Payload []byte `json:"payload"`
}

// LossRecord maps each effective uid of a round to its per-batch losses,
// aligned with the round's batch list.
type LossRecord map[UID][]float64

// InfiniteLosses is the sentinel sequence for a candidate whose model is
// unavailable: it loses every match and never wins one.
func InfiniteLosses(n int) []float64 {
	losses := make([]float64, n)
	for i := range losses {
		losses[i] = math.Inf(1)
	}
	return losses
}

// AverageLoss returns the mean of losses, or +Inf for an empty slice.
func AverageLoss(losses []float64) float64 {
	if len(losses) == 0 {
		return math.Inf(1)
	}
	sum := 0.0
	for _, l := range losses {
		sum += l
	}
	return sum / float64(len(losses))
}
