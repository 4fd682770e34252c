package pool

import (
	"sort"
	"sync"

	"github.com/agoncharov-reef/pretrain-subnet/internal/domain/model"
	"github.com/agoncharov-reef/pretrain-subnet/internal/metrics"
	"github.com/emirpasic/gods/sets/treeset"
	"github.com/emirpasic/gods/utils"
)

// Manager owns the active evaluation set and the pending set of freshly
// synced uids. The syncer adds to pending from its goroutine; the main loop
// reads active and promotes once per successful round.
type Manager struct {
	mu        sync.Mutex
	sampleMin int
	active    *treeset.Set
	pending   *treeset.Set

	network string
	netuid  string
}

// Snapshot is a sorted, caller-owned copy of both sets.
type Snapshot struct {
	Active  []model.UID `json:"active"`
	Pending []model.UID `json:"pending"`
}

func New(sampleMin int, network string, netuid model.NetUID) *Manager {
	if sampleMin < 1 {
		sampleMin = 1
	}
	return &Manager{
		sampleMin: sampleMin,
		active:    treeset.NewWith(uidComparator),
		pending:   treeset.NewWith(uidComparator),
		network:   network,
		netuid:    netuid.String(),
	}
}

func uidComparator(a, b interface{}) int {
	return utils.UInt16Comparator(uint16(a.(model.UID)), uint16(b.(model.UID)))
}

// Seed replaces the active set. Used once at startup.
func (m *Manager) Seed(uids []model.UID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active.Clear()
	for _, uid := range uids {
		if uid.Valid() {
			m.active.Add(uid)
		}
	}
	m.observeLocked()
}

// AddPending stages uid for guaranteed inclusion in the next active set.
// It reports whether uid was not already pending.
func (m *Manager) AddPending(uid model.UID) bool {
	if !uid.Valid() {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending.Contains(uid) {
		return false
	}
	m.pending.Add(uid)
	m.observeLocked()
	return true
}

// Active returns the uids to evaluate next, ascending.
func (m *Manager) Active() []model.UID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return setToUIDs(m.active)
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Active:  setToUIDs(m.active),
		Pending: setToUIDs(m.pending),
	}
}

// Promote computes the next active set from a round's win rates: the top
// sampleMin uids by win rate (ties broken by ascending uid) unioned with
// every pending uid. Pending is cleared in the same critical section, so a
// uid synced concurrently is either merged now or kept for the next round.
func (m *Manager) Promote(winRates map[model.UID]float64) []model.UID {
	ranked := Rank(winRates)
	if len(ranked) > m.sampleMin {
		ranked = ranked[:m.sampleMin]
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := treeset.NewWith(uidComparator)
	for _, uid := range ranked {
		next.Add(uid)
	}
	for _, v := range m.pending.Values() {
		next.Add(v)
	}
	m.active = next
	m.pending.Clear()
	m.observeLocked()
	return setToUIDs(m.active)
}

// Rank orders uids by win rate descending, then uid ascending.
func Rank(winRates map[model.UID]float64) []model.UID {
	uids := make([]model.UID, 0, len(winRates))
	for uid := range winRates {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool {
		ri, rj := winRates[uids[i]], winRates[uids[j]]
		if ri != rj {
			return ri > rj
		}
		return uids[i] < uids[j]
	})
	return uids
}

func (m *Manager) observeLocked() {
	metrics.PoolActiveSize.WithLabelValues(m.network, m.netuid).Set(float64(m.active.Size()))
	metrics.PoolPendingSize.WithLabelValues(m.network, m.netuid).Set(float64(m.pending.Size()))
}

func setToUIDs(s *treeset.Set) []model.UID {
	values := s.Values()
	uids := make([]model.UID, len(values))
	for i, v := range values {
		uids[i] = v.(model.UID)
	}
	return uids
}
