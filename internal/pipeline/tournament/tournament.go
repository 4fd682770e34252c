package tournament

import (
	"math"
	"sort"
	"time"

	"github.com/agoncharov-reef/pretrain-subnet/internal/domain/model"
)

// Result holds one round's pairwise outcome per effective uid.
type Result struct {
	UIDs         []model.UID
	Wins         map[model.UID]int
	TotalMatches map[model.UID]int
	WinRate      map[model.UID]float64
}

// Score plays every ordered pair of effective uids against each other on
// every batch. Effective uids are the keys of records, visited in ascending
// order. A uid missing from timestamps is treated as the zero time.
func Score(records model.LossRecord, timestamps map[model.UID]time.Time, numBatches int, cmp Comparator) Result {
	uids := make([]model.UID, 0, len(records))
	for uid := range records {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	res := Result{
		UIDs:         uids,
		Wins:         make(map[model.UID]int, len(uids)),
		TotalMatches: make(map[model.UID]int, len(uids)),
		WinRate:      make(map[model.UID]float64, len(uids)),
	}

	k := len(uids)
	total := 0
	if k > 1 && numBatches > 0 {
		total = (k - 1) * numBatches
	}

	for _, a := range uids {
		wins := 0
		lossesA := records[a]
		for _, b := range uids {
			if a == b {
				continue
			}
			lossesB := records[b]
			for batch := 0; batch < numBatches; batch++ {
				if cmp.IsWin(lossAt(lossesA, batch), lossAt(lossesB, batch), timestamps[a], timestamps[b]) {
					wins++
				}
			}
		}
		res.Wins[a] = wins
		res.TotalMatches[a] = total
		if total > 0 {
			res.WinRate[a] = float64(wins) / float64(total)
		} else {
			res.WinRate[a] = 0
		}
	}
	return res
}

// lossAt guards against a record shorter than the batch list; the gap
// counts as a lost match.
func lossAt(losses []float64, i int) float64 {
	if i < len(losses) {
		return losses[i]
	}
	return math.Inf(1)
}
