package blockmonitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	chainmocks "github.com/agoncharov-reef/pretrain-subnet/internal/chain/mocks"
	"github.com/agoncharov-reef/pretrain-subnet/internal/circuitbreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// slowHead blocks until its context is done, like a hung RPC.
type slowHead struct {
	started chan struct{}
	exited  chan struct{}
}

func newSlowHead() *slowHead {
	return &slowHead{started: make(chan struct{}, 1), exited: make(chan struct{})}
}

func (s *slowHead) Network() string { return "test" }

func (s *slowHead) GetBlockNumber(ctx context.Context) (int64, error) {
	s.started <- struct{}{}
	<-ctx.Done()
	close(s.exited)
	return 999, ctx.Err()
}

func TestCurrentBlock_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := chainmocks.NewMockClient(ctrl)
	client.EXPECT().Network().Return("test").AnyTimes()
	client.EXPECT().GetBlockNumber(gomock.Any()).Return(int64(4242), nil)

	m := New(client, testLogger())
	block, ok := m.CurrentBlock(context.Background(), time.Second)
	require.True(t, ok)
	assert.Equal(t, int64(4242), block)
}

func TestCurrentBlock_ZeroTTLReturnsNone(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := chainmocks.NewMockClient(ctrl)
	client.EXPECT().Network().Return("test").AnyTimes()
	// A previous successful fetch must not be served back as a stale value.
	client.EXPECT().GetBlockNumber(gomock.Any()).Return(int64(100), nil).Times(1)

	m := New(client, testLogger())
	_, ok := m.CurrentBlock(context.Background(), time.Second)
	require.True(t, ok)

	block, ok := m.CurrentBlock(context.Background(), 0)
	assert.False(t, ok)
	assert.Zero(t, block)

	_, err := m.Fetch(context.Background(), 0)
	assert.ErrorIs(t, err, ErrNoBlock)
}

func TestCurrentBlock_SlowBackendTimesOut(t *testing.T) {
	head := newSlowHead()
	m := New(head, testLogger())

	start := time.Now()
	block, err := m.Fetch(context.Background(), 20*time.Millisecond)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrNoBlock)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, block)
	assert.Less(t, elapsed, time.Second)

	select {
	case <-head.exited:
	case <-time.After(time.Second):
		t.Fatal("worker was not cancelled after the deadline")
	}
}

func TestCurrentBlock_ErrorYieldsNone(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := chainmocks.NewMockClient(ctrl)
	client.EXPECT().Network().Return("test").AnyTimes()
	client.EXPECT().GetBlockNumber(gomock.Any()).Return(int64(0), errors.New("http status 502"))

	m := New(client, testLogger())
	_, ok := m.CurrentBlock(context.Background(), time.Second)
	assert.False(t, ok)
}

func TestFetch_OpenBreakerIsAMiss(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := chainmocks.NewMockClient(ctrl)
	client.EXPECT().Network().Return("test").AnyTimes()
	client.EXPECT().GetBlockNumber(gomock.Any()).Return(int64(0), circuitbreaker.ErrCircuitOpen)

	m := New(client, testLogger())
	_, err := m.Fetch(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrNoBlock)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
}

type panicHead struct{}

func (panicHead) Network() string { return "test" }
func (panicHead) GetBlockNumber(context.Context) (int64, error) {
	panic("decoder exploded")
}

func TestFetch_WorkerPanicIsAMiss(t *testing.T) {
	m := New(panicHead{}, testLogger())
	_, err := m.Fetch(context.Background(), time.Second)
	require.ErrorIs(t, err, ErrNoBlock)
	assert.Contains(t, err.Error(), "decoder exploded")
}

func TestMissReason(t *testing.T) {
	assert.Equal(t, "circuit_open", missReason(circuitbreaker.ErrCircuitOpen))
	assert.Equal(t, "timeout", missReason(context.DeadlineExceeded))
	assert.Equal(t, "canceled", missReason(context.Canceled))
	assert.Equal(t, "error", missReason(errors.New("x")))
}
