package subtensor

import (
	"fmt"
	"math"

	"github.com/agoncharov-reef/pretrain-subnet/internal/domain/model"
)

// maxWeightValue is the u16 ceiling the chain normalizes submitted weights to.
const maxWeightValue = math.MaxUint16

// EncodeWeights converts float weights into the u16 form set_weights expects.
// Values are scaled so the largest weight maps to 65535. Zero weights are
// dropped along with their uid.
func EncodeWeights(uids []model.UID, weights []float64) ([]uint16, []uint16, error) {
	if len(uids) != len(weights) {
		return nil, nil, fmt.Errorf("uids and weights length mismatch: %d != %d", len(uids), len(weights))
	}

	maxWeight := 0.0
	for i, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return nil, nil, fmt.Errorf("invalid weight %v for uid %d", w, uids[i])
		}
		if w > maxWeight {
			maxWeight = w
		}
	}
	if maxWeight == 0 {
		return []uint16{}, []uint16{}, nil
	}

	outUIDs := make([]uint16, 0, len(uids))
	outValues := make([]uint16, 0, len(uids))
	for i, w := range weights {
		scaled := math.Round(w / maxWeight * maxWeightValue)
		if scaled == 0 {
			continue
		}
		outUIDs = append(outUIDs, uint16(uids[i]))
		outValues = append(outValues, uint16(scaled))
	}
	return outUIDs, outValues, nil
}
