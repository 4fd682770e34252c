package syncer

import (
	"sort"
	"sync"
	"time"

	"github.com/agoncharov-reef/pretrain-subnet/internal/domain/model"
)

// CandidateBook remembers the last sync outcome of every uid the scheduler
// has visited. Entries are never removed.
type CandidateBook struct {
	mu         sync.RWMutex
	candidates map[model.UID]model.Candidate
}

func NewCandidateBook() *CandidateBook {
	return &CandidateBook{candidates: make(map[model.UID]model.Candidate)}
}

func (b *CandidateBook) Record(uid model.UID, status model.SyncStatus, block int64, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.candidates[uid]
	c.UID = uid
	c.SyncStatus = status
	c.LastBlock = block
	if status != model.SyncStatusFailed {
		synced := at
		c.LastSyncedAt = &synced
	}
	b.candidates[uid] = c
}

func (b *CandidateBook) Get(uid model.UID) (model.Candidate, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.candidates[uid]
	return c, ok
}

// Snapshot returns every known candidate ordered by uid.
func (b *CandidateBook) Snapshot() []model.Candidate {
	b.mu.RLock()
	out := make([]model.Candidate, 0, len(b.candidates))
	for _, c := range b.candidates {
		out = append(out, c)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}
