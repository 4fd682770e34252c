package aggregator

import (
	"math"
	"sort"

	"github.com/agoncharov-reef/pretrain-subnet/internal/domain/model"
	"gonum.org/v1/gonum/floats"
)

// WeightVector is the persisted score of every uid in the population,
// indexed by uid.
type WeightVector []float64

// NewWeightVector returns the all-zero vector used before the first round.
func NewWeightVector() WeightVector {
	return make(WeightVector, model.PoolSize)
}

func (w WeightVector) Clone() WeightVector {
	out := make(WeightVector, len(w))
	copy(out, w)
	return out
}

func (w WeightVector) Sum() float64 {
	return floats.Sum(w)
}

// Sanitize returns a full-length copy with NaN, infinite and negative
// entries replaced by zero. Entries beyond the population are dropped.
func (w WeightVector) Sanitize() WeightVector {
	out := NewWeightVector()
	for i := 0; i < len(out) && i < len(w); i++ {
		v := w[i]
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			continue
		}
		out[i] = v
	}
	return out
}

// UIDWeight pairs a uid with its weight for reporting.
type UIDWeight struct {
	UID    model.UID `json:"uid"`
	Weight float64   `json:"weight"`
}

// Top returns the n largest non-zero weights, heaviest first.
func (w WeightVector) Top(n int) []UIDWeight {
	out := make([]UIDWeight, 0, n)
	for i, v := range w {
		if v > 0 && i < model.PoolSize {
			out = append(out, UIDWeight{UID: model.UID(i), Weight: v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].UID < out[j].UID
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
