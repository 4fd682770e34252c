package tournament

import (
	"math"
	"time"
)

// Comparator decides a single match between two candidates on one batch.
// Implementations must be deterministic, and a strictly smaller loss with
// equal timestamps must always win.
type Comparator interface {
	IsWin(lossA, lossB float64, timeA, timeB time.Time) bool
}

// DefaultEpsilon is the loss discount granted to the earlier submission.
const DefaultEpsilon = 0.005

// TimestampComparator favours the earlier submission: its loss is scaled by
// (1 - Epsilon) before a strict less-than comparison. A later copy of a
// model therefore has to beat the original by more than Epsilon to win.
// Non-finite or NaN losses never win, and an exact tie is a loss for both.
type TimestampComparator struct {
	Epsilon float64
}

func NewTimestampComparator(epsilon float64) TimestampComparator {
	return TimestampComparator{Epsilon: epsilon}
}

func (c TimestampComparator) IsWin(lossA, lossB float64, timeA, timeB time.Time) bool {
	if math.IsNaN(lossA) || math.IsInf(lossA, 0) {
		return false
	}
	if math.IsNaN(lossB) || math.IsInf(lossB, 1) {
		return true
	}
	switch {
	case timeA.Before(timeB):
		lossA *= 1 - c.Epsilon
	case timeB.Before(timeA):
		lossB *= 1 - c.Epsilon
	}
	return lossA < lossB
}
