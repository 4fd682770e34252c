package aggregator

import (
	"math"

	"github.com/agoncharov-reef/pretrain-subnet/internal/domain/model"
	"github.com/agoncharov-reef/pretrain-subnet/internal/pipeline/tournament"
	"gonum.org/v1/gonum/floats"
)

// normTolerance is how far a sum may drift from 1 before the blended
// vector is renormalized.
const normTolerance = 1e-12

type Aggregator struct {
	alpha       float64
	temperature float64
}

// New builds an aggregator. alpha is the weight kept from the previous
// vector; temperature scales the softmax.
func New(alpha, temperature float64) *Aggregator {
	return &Aggregator{alpha: alpha, temperature: temperature}
}

// RoundScores is the softmax of win rate over the round's effective uids,
// scattered into a full-length vector that sums to 1. It returns nil when
// no uid took part.
func (a *Aggregator) RoundScores(res tournament.Result) WeightVector {
	if len(res.UIDs) == 0 {
		return nil
	}

	logits := make([]float64, 0, len(res.UIDs))
	uids := make([]model.UID, 0, len(res.UIDs))
	for _, uid := range res.UIDs {
		if !uid.Valid() {
			continue
		}
		uids = append(uids, uid)
		logits = append(logits, res.WinRate[uid])
	}
	if len(uids) == 0 {
		return nil
	}

	floats.Scale(1/a.temperature, logits)
	floats.AddConst(-floats.Max(logits), logits)
	for i, v := range logits {
		logits[i] = math.Exp(v)
	}
	if sum := floats.Sum(logits); sum > 0 {
		floats.Scale(1/sum, logits)
	}

	round := NewWeightVector()
	for i, uid := range uids {
		round[uid] = logits[i]
	}
	if sum := round.Sum(); sum > 0 {
		floats.Scale(1/sum, round)
	}
	return round
}

// Aggregate blends the round's scores into prev with an exponential moving
// average and returns the new vector. prev is never modified. With no
// effective uids the result equals prev.
func (a *Aggregator) Aggregate(prev WeightVector, res tournament.Result) WeightVector {
	base := prev.Sanitize()
	round := a.RoundScores(res)
	if round == nil {
		return base
	}

	out := NewWeightVector()
	floats.ScaleTo(out, a.alpha, base)
	floats.AddScaled(out, 1-a.alpha, round)

	for i, v := range out {
		if math.IsNaN(v) {
			out[i] = 0
		}
	}
	if sum := out.Sum(); sum > 0 && math.Abs(sum-1) > normTolerance {
		floats.Scale(1/sum, out)
	}
	return out
}
