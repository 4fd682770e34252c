package model

import (
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
)

// RoundStatus is the terminal state of one evaluation round.
type RoundStatus string

const (
	RoundStatusSucceeded RoundStatus = "SUCCEEDED"
	RoundStatusTimedOut  RoundStatus = "TIMED_OUT"
	RoundStatusFailed    RoundStatus = "FAILED"
)

// UIDStats is the per-candidate part of a round summary.
type UIDStats struct {
	UID         UID       `json:"uid"`
	Timestamp   time.Time `json:"timestamp"`
	AverageLoss float64   `json:"average_loss"`
	WinRate     float64   `json:"win_rate"`
	WinTotal    int       `json:"win_total"`
	Weight      float64   `json:"weight"`
}

// MarshalJSON writes a non-finite average loss as null, which is how a
// candidate with no model shows up.
func (s UIDStats) MarshalJSON() ([]byte, error) {
	type plain UIDStats
	out := struct {
		plain
		AverageLoss *float64 `json:"average_loss"`
	}{plain: plain(s)}
	if !math.IsInf(s.AverageLoss, 0) && !math.IsNaN(s.AverageLoss) {
		loss := s.AverageLoss
		out.AverageLoss = &loss
	}
	return json.Marshal(out)
}

// RoundSummary is what the step reporter receives after every round,
// successful or not.
type RoundSummary struct {
	ID         uuid.UUID   `json:"id"`
	Step       int64       `json:"step"`
	Status     RoundStatus `json:"status"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Pages      []int64     `json:"pages"`
	UIDs       []UID       `json:"uids"`
	Stats      []UIDStats  `json:"uid_data"`
	ActiveSize int         `json:"active_size"`
}

// Duration returns the wall time the round took.
func (s RoundSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}
