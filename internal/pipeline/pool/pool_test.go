package pool

import (
	"sync"
	"testing"

	"github.com/agoncharov-reef/pretrain-subnet/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeed_SortsAndDropsInvalid(t *testing.T) {
	m := New(3, "test", 9)
	m.Seed([]model.UID{7, 2, 2, 300, 5})

	assert.Equal(t, []model.UID{2, 5, 7}, m.Active())
}

func TestAddPending_Dedups(t *testing.T) {
	m := New(3, "test", 9)

	assert.True(t, m.AddPending(5))
	assert.False(t, m.AddPending(5))
	assert.False(t, m.AddPending(model.UID(model.PoolSize)))
	assert.Equal(t, []model.UID{5}, m.Snapshot().Pending)
}

func TestPromote_TopSampleMinPlusPending(t *testing.T) {
	m := New(2, "test", 9)
	m.Seed([]model.UID{1, 2, 3, 4})
	m.AddPending(200)
	m.AddPending(3)

	next := m.Promote(map[model.UID]float64{1: 0.1, 2: 0.9, 3: 0.0, 4: 0.5})

	// top 2 are {2, 4}; pending {3, 200} bypass ranking even though 3 ranked last.
	assert.Equal(t, []model.UID{2, 3, 4, 200}, next)
	assert.Equal(t, next, m.Active())
	assert.Empty(t, m.Snapshot().Pending)
}

func TestPromote_SizeBound(t *testing.T) {
	const sampleMin = 5
	m := New(sampleMin, "test", 9)

	winRates := make(map[model.UID]float64)
	for uid := model.UID(0); uid < 50; uid++ {
		winRates[uid] = float64(uid%7) / 7
	}
	pending := []model.UID{100, 101, 102, 3}
	for _, uid := range pending {
		m.AddPending(uid)
	}

	next := m.Promote(winRates)
	assert.LessOrEqual(t, len(next), sampleMin+len(pending))
	for _, uid := range pending {
		assert.Contains(t, next, uid)
	}
}

func TestPromote_TieBreakAscendingUID(t *testing.T) {
	m := New(2, "test", 9)
	next := m.Promote(map[model.UID]float64{9: 0.5, 3: 0.5, 7: 0.5})
	assert.Equal(t, []model.UID{3, 7}, next)
}

func TestPromote_DroppedUIDNeedsSyncToReturn(t *testing.T) {
	m := New(1, "test", 9)
	m.Seed([]model.UID{1, 2})

	require.Equal(t, []model.UID{2}, m.Promote(map[model.UID]float64{1: 0.2, 2: 0.8}))
	require.Equal(t, []model.UID{2}, m.Promote(map[model.UID]float64{2: 0.8}))

	m.AddPending(1)
	assert.Equal(t, []model.UID{1, 2}, m.Promote(map[model.UID]float64{2: 0.8}))
}

func TestRank(t *testing.T) {
	ranked := Rank(map[model.UID]float64{4: 0.25, 1: 1.0, 2: 0.25, 0: 0})
	assert.Equal(t, []model.UID{1, 2, 4, 0}, ranked)
	assert.Empty(t, Rank(nil))
}

func TestManager_ConcurrentPendingAndPromote(t *testing.T) {
	m := New(4, "test", 9)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for uid := model.UID(0); uid < model.PoolSize; uid++ {
			m.AddPending(uid)
		}
	}()
	seen := make(map[model.UID]bool)
	var mu sync.Mutex
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			next := m.Promote(map[model.UID]float64{})
			mu.Lock()
			for _, uid := range next {
				seen[uid] = true
			}
			mu.Unlock()
		}
	}()
	wg.Wait()

	for _, uid := range m.Promote(map[model.UID]float64{}) {
		seen[uid] = true
	}
	// Every synced uid reaches an active set exactly through one promotion.
	assert.Len(t, seen, model.PoolSize)
}
