package tournament

import (
	"math"
	"testing"
	"time"

	"github.com/agoncharov-reef/pretrain-subnet/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sameTimestamps(uids ...model.UID) map[model.UID]time.Time {
	ts := time.Unix(1700000000, 0)
	out := make(map[model.UID]time.Time, len(uids))
	for _, uid := range uids {
		out[uid] = ts
	}
	return out
}

func TestScore_ThreeUIDScenario(t *testing.T) {
	records := model.LossRecord{
		0: {1.0, 1.0},
		1: {2.0, 2.0},
		2: {0.5, 0.5},
	}
	res := Score(records, sameTimestamps(0, 1, 2), 2, NewTimestampComparator(DefaultEpsilon))

	assert.Equal(t, []model.UID{0, 1, 2}, res.UIDs)
	for _, uid := range res.UIDs {
		assert.Equal(t, 4, res.TotalMatches[uid])
	}
	assert.Equal(t, 4, res.Wins[2])
	assert.Equal(t, 1.0, res.WinRate[2])
	assert.Equal(t, 2, res.Wins[0])
	assert.Equal(t, 0.5, res.WinRate[0])
	assert.Equal(t, 0, res.Wins[1])
	assert.Equal(t, 0.0, res.WinRate[1])
}

func TestScore_AllInfiniteNeverWins(t *testing.T) {
	records := model.LossRecord{
		0: model.InfiniteLosses(3),
		1: {1, 2, 3},
		2: model.InfiniteLosses(3),
	}
	res := Score(records, sameTimestamps(0, 1, 2), 3, NewTimestampComparator(DefaultEpsilon))

	assert.Zero(t, res.Wins[0])
	assert.Zero(t, res.Wins[2])
	assert.Equal(t, 6, res.Wins[1])
	assert.Equal(t, 1.0, res.WinRate[1])
}

func TestScore_SingleUIDHasZeroRate(t *testing.T) {
	res := Score(model.LossRecord{7: {0.1}}, sameTimestamps(7), 1, NewTimestampComparator(0))

	assert.Zero(t, res.TotalMatches[7])
	assert.Zero(t, res.WinRate[7])
	assert.False(t, math.IsNaN(res.WinRate[7]))
}

func TestScore_EmptyRecords(t *testing.T) {
	res := Score(model.LossRecord{}, nil, 3, NewTimestampComparator(0))
	assert.Empty(t, res.UIDs)
	assert.Empty(t, res.WinRate)
}

func TestScore_WinRateBounded(t *testing.T) {
	records := model.LossRecord{}
	for uid := model.UID(0); uid < 12; uid++ {
		records[uid] = []float64{float64(uid % 4), float64(uid % 3), math.NaN(), float64(uid)}
	}
	records[12] = model.InfiniteLosses(4)
	timestamps := make(map[model.UID]time.Time)
	for uid := range records {
		timestamps[uid] = time.Unix(int64(uid%5), 0)
	}

	res := Score(records, timestamps, 4, NewTimestampComparator(DefaultEpsilon))
	for _, uid := range res.UIDs {
		rate := res.WinRate[uid]
		assert.GreaterOrEqual(t, rate, 0.0)
		assert.LessOrEqual(t, rate, 1.0)
		assert.LessOrEqual(t, res.Wins[uid], res.TotalMatches[uid])
	}
}

func TestScore_Deterministic(t *testing.T) {
	records := model.LossRecord{3: {1, 2}, 1: {2, 1}, 2: {1.5, 1.5}}
	timestamps := map[model.UID]time.Time{1: time.Unix(10, 0), 2: time.Unix(5, 0), 3: time.Unix(10, 0)}
	cmp := NewTimestampComparator(DefaultEpsilon)

	first := Score(records, timestamps, 2, cmp)
	for i := 0; i < 20; i++ {
		require.Equal(t, first, Score(records, timestamps, 2, cmp))
	}
}

func TestScore_ShortRecordCountsAsLoss(t *testing.T) {
	records := model.LossRecord{0: {1.0}, 1: {2.0, 2.0}}
	res := Score(records, sameTimestamps(0, 1), 2, NewTimestampComparator(0))

	assert.Equal(t, 1, res.Wins[0])
	assert.Equal(t, 1, res.Wins[1])
}

func TestTimestampComparator(t *testing.T) {
	early := time.Unix(100, 0)
	late := time.Unix(200, 0)
	cmp := NewTimestampComparator(0.01)
	inf := math.Inf(1)

	cases := []struct {
		name         string
		lossA, lossB float64
		timeA, timeB time.Time
		want         bool
	}{
		{"smaller loss equal time wins", 1.0, 2.0, early, early, true},
		{"larger loss equal time loses", 2.0, 1.0, early, early, false},
		{"exact tie loses", 1.0, 1.0, early, early, false},
		{"earlier wins tie", 1.0, 1.0, early, late, true},
		{"later loses tie", 1.0, 1.0, late, early, false},
		{"later needs more than epsilon", 0.995, 1.0, late, early, false},
		{"later beats by more than epsilon", 0.98, 1.0, late, early, true},
		{"earlier within epsilon still wins", 1.005, 1.0, early, late, true},
		{"inf never wins", inf, inf, early, late, false},
		{"finite beats inf", 100, inf, late, early, true},
		{"nan never wins", math.NaN(), 1.0, early, late, false},
		{"finite beats nan", 1.0, math.NaN(), late, early, true},
		{"negative inf never wins", math.Inf(-1), 1.0, early, late, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, cmp.IsWin(tc.lossA, tc.lossB, tc.timeA, tc.timeB))
		})
	}
}
