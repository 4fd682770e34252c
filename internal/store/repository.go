package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/agoncharov-reef/pretrain-subnet/internal/domain/model"
)

// ErrSnapshotNotFound is returned by WeightStore.Load when nothing has been
// saved for the subnet yet.
var ErrSnapshotNotFound = errors.New("weight snapshot not found")

// WeightSnapshot is the persisted form of the validator's weight vector.
type WeightSnapshot struct {
	NetUID    model.NetUID `json:"netuid"`
	Step      int64        `json:"step"`
	Weights   []float64    `json:"weights"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// WeightStore keeps the latest weight vector across restarts.
type WeightStore interface {
	Load(ctx context.Context, netuid model.NetUID) (*WeightSnapshot, error)
	Save(ctx context.Context, snapshot WeightSnapshot) error
}

// RoundRepository records the outcome of every evaluation round.
type RoundRepository interface {
	InsertRound(ctx context.Context, netuid model.NetUID, summary model.RoundSummary) error
	RecentRounds(ctx context.Context, netuid model.NetUID, limit int) ([]model.RoundSummary, error)
}

// MemoryWeightStore is the WeightStore used when no Redis is configured.
// Snapshots do not survive a restart.
type MemoryWeightStore struct {
	mu        sync.RWMutex
	snapshots map[model.NetUID]WeightSnapshot
}

var _ WeightStore = (*MemoryWeightStore)(nil)

func NewMemoryWeightStore() *MemoryWeightStore {
	return &MemoryWeightStore{snapshots: make(map[model.NetUID]WeightSnapshot)}
}

func (s *MemoryWeightStore) Load(_ context.Context, netuid model.NetUID) (*WeightSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[netuid]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	snap.Weights = append([]float64(nil), snap.Weights...)
	return &snap, nil
}

func (s *MemoryWeightStore) Save(_ context.Context, snapshot WeightSnapshot) error {
	snapshot.Weights = append([]float64(nil), snapshot.Weights...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.NetUID] = snapshot
	return nil
}
