package syncer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/agoncharov-reef/pretrain-subnet/internal/domain/model"
	"github.com/agoncharov-reef/pretrain-subnet/internal/registry/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedBlocks replays a fixed sequence of heights (negative = miss) and
// cancels the run once the script is exhausted.
type scriptedBlocks struct {
	heights []int64
	cancel  context.CancelFunc
	calls   int
}

func (s *scriptedBlocks) CurrentBlock(_ context.Context, _ time.Duration) (int64, bool) {
	if s.calls >= len(s.heights) {
		s.cancel()
		return 0, false
	}
	h := s.heights[s.calls]
	s.calls++
	if h < 0 {
		return 0, false
	}
	return h, true
}

type recordingPool struct {
	mu    sync.Mutex
	added []model.UID
}

func (p *recordingPool) AddPending(uid model.UID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.added = append(p.added, uid)
	return true
}

type sleepLog struct {
	durations []time.Duration
}

func (l *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	l.durations = append(l.durations, d)
	return ctx.Err()
}

func runScript(t *testing.T, reg *mocks.MockModelRegistry, heights []int64, opts ...Option) (*Scheduler, *recordingPool, *sleepLog) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	blocks := &scriptedBlocks{heights: heights, cancel: cancel}
	pool := &recordingPool{}
	sleeps := &sleepLog{}
	opts = append([]Option{WithSleepFunc(sleeps.sleep)}, opts...)
	s := New(blocks, reg, pool, Config{Network: "test", NetUID: 9, SyncTTL: time.Second}, testLogger(), opts...)

	err := s.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	return s, pool, sleeps
}

func TestRun_DuplicateSlotIsSyncedOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	reg := mocks.NewMockModelRegistry(ctrl)
	reg.EXPECT().Sync(gomock.Any(), model.UID(5)).Return(true, nil).Times(1)
	reg.EXPECT().Sync(gomock.Any(), model.UID(6)).Return(false, nil).Times(1)

	s, pool, sleeps := runScript(t, reg, []int64{5, 5, 6}, WithDuplicateSlotBackoff(time.Second))

	assert.Equal(t, []model.UID{5, 6}, pool.added)
	assert.Contains(t, sleeps.durations, time.Second)

	c, ok := s.Book().Get(5)
	require.True(t, ok)
	assert.Equal(t, model.SyncStatusUpdated, c.SyncStatus)
	c, ok = s.Book().Get(6)
	require.True(t, ok)
	assert.Equal(t, model.SyncStatusUnchanged, c.SyncStatus)
	assert.Equal(t, int64(6), c.LastBlock)
}

func TestRun_SlotIsBlockModPoolSize(t *testing.T) {
	ctrl := gomock.NewController(t)
	reg := mocks.NewMockModelRegistry(ctrl)
	reg.EXPECT().Sync(gomock.Any(), model.UID(1)).Return(false, nil)
	reg.EXPECT().Sync(gomock.Any(), model.UID(255)).Return(false, nil)

	_, pool, _ := runScript(t, reg, []int64{257, 3_000_319})

	assert.Equal(t, []model.UID{1, 255}, pool.added)
}

func TestRun_SyncIsBoundedBySyncTTL(t *testing.T) {
	ctrl := gomock.NewController(t)
	reg := mocks.NewMockModelRegistry(ctrl)
	reg.EXPECT().Sync(gomock.Any(), model.UID(3)).
		DoAndReturn(func(ctx context.Context, _ model.UID) (bool, error) {
			deadline, ok := ctx.Deadline()
			require.True(t, ok, "sync call must carry a deadline")
			assert.LessOrEqual(t, time.Until(deadline), time.Second)
			<-ctx.Done()
			return false, ctx.Err()
		})
	reg.EXPECT().Sync(gomock.Any(), model.UID(4)).Return(false, nil)

	s, pool, _ := runScript(t, reg, []int64{3, 4})

	assert.Equal(t, []model.UID{4}, pool.added)
	c, ok := s.Book().Get(3)
	require.True(t, ok)
	assert.Equal(t, model.SyncStatusFailed, c.SyncStatus)
}

func TestRun_MissedBlockPausesAndContinues(t *testing.T) {
	ctrl := gomock.NewController(t)
	reg := mocks.NewMockModelRegistry(ctrl)
	reg.EXPECT().Sync(gomock.Any(), model.UID(10)).Return(false, nil)

	_, pool, sleeps := runScript(t, reg, []int64{-1, -1, 10}, WithIdlePause(250*time.Millisecond))

	assert.Equal(t, []model.UID{10}, pool.added)
	assert.Equal(t, 250*time.Millisecond, sleeps.durations[0])
}

func TestRun_SyncFailureDoesNotStopLoop(t *testing.T) {
	ctrl := gomock.NewController(t)
	reg := mocks.NewMockModelRegistry(ctrl)
	reg.EXPECT().Sync(gomock.Any(), model.UID(1)).Return(false, errors.New("hf hub 503"))
	reg.EXPECT().Sync(gomock.Any(), model.UID(2)).DoAndReturn(func(context.Context, model.UID) (bool, error) {
		panic("corrupt checkpoint")
	})
	reg.EXPECT().Sync(gomock.Any(), model.UID(3)).Return(true, nil)

	s, pool, _ := runScript(t, reg, []int64{1, 2, 3})

	assert.Equal(t, []model.UID{3}, pool.added, "only completed syncs are staged")
	c, ok := s.Book().Get(1)
	require.True(t, ok)
	assert.Equal(t, model.SyncStatusFailed, c.SyncStatus)
	assert.Nil(t, c.LastSyncedAt)
	c, _ = s.Book().Get(2)
	assert.Equal(t, model.SyncStatusFailed, c.SyncStatus)
	assert.Len(t, s.Book().Snapshot(), 3)
}

func TestLastHeartbeat(t *testing.T) {
	ctrl := gomock.NewController(t)
	reg := mocks.NewMockModelRegistry(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sleeps := &sleepLog{}
	s := New(&scriptedBlocks{cancel: cancel}, reg, &recordingPool{}, Config{}, testLogger(), WithSleepFunc(sleeps.sleep))
	assert.True(t, s.LastHeartbeat().IsZero())

	before := time.Now().Add(-time.Second)
	assert.ErrorIs(t, s.Run(ctx), context.Canceled)
	assert.True(t, s.LastHeartbeat().After(before))
}

func TestCandidateBook_SnapshotSorted(t *testing.T) {
	b := NewCandidateBook()
	now := time.Now()
	b.Record(9, model.SyncStatusUpdated, 100, now)
	b.Record(2, model.SyncStatusUnchanged, 101, now)
	b.Record(9, model.SyncStatusFailed, 102, now)

	snap := b.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, model.UID(2), snap[0].UID)
	assert.Equal(t, model.SyncStatusFailed, snap[1].SyncStatus)
	require.NotNil(t, snap[1].LastSyncedAt, "a failed sync keeps the previous success time")
	assert.Equal(t, int64(102), snap[1].LastBlock)
}
