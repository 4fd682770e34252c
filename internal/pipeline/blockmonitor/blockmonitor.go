package blockmonitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agoncharov-reef/pretrain-subnet/internal/circuitbreaker"
	"github.com/agoncharov-reef/pretrain-subnet/internal/metrics"
)

// ErrNoBlock means no block height could be obtained within the deadline.
// Callers skip the tick; it never means block zero.
var ErrNoBlock = errors.New("no block height")

// HeadProvider is the part of the chain client the monitor needs.
type HeadProvider interface {
	Network() string
	GetBlockNumber(ctx context.Context) (int64, error)
}

type Monitor struct {
	head   HeadProvider
	logger *slog.Logger
}

func New(head HeadProvider, logger *slog.Logger) *Monitor {
	return &Monitor{
		head:   head,
		logger: logger.With("component", "blockmonitor"),
	}
}

type fetchResult struct {
	block int64
	err   error
}

// Fetch queries the chain height in its own goroutine under a hard ttl.
// When the deadline passes first the worker's context is cancelled and
// whatever it later produces is dropped. There are no retries.
func (m *Monitor) Fetch(ctx context.Context, ttl time.Duration) (int64, error) {
	network := m.head.Network()
	if ttl <= 0 {
		metrics.BlockFetchMisses.WithLabelValues(network, "ttl").Inc()
		return 0, fmt.Errorf("%w: non-positive ttl %s", ErrNoBlock, ttl)
	}

	workerCtx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()

	// Buffered so an abandoned worker can still send and exit.
	resultCh := make(chan fetchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- fetchResult{err: fmt.Errorf("panic in block fetch: %v", r)}
			}
		}()
		block, err := m.head.GetBlockNumber(workerCtx)
		resultCh <- fetchResult{block: block, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			metrics.BlockFetchMisses.WithLabelValues(network, missReason(res.err)).Inc()
			return 0, fmt.Errorf("%w: %w", ErrNoBlock, res.err)
		}
		metrics.BlockHeight.WithLabelValues(network).Set(float64(res.block))
		return res.block, nil
	case <-workerCtx.Done():
		metrics.BlockFetchMisses.WithLabelValues(network, "timeout").Inc()
		return 0, fmt.Errorf("%w: %w", ErrNoBlock, workerCtx.Err())
	}
}

// CurrentBlock is Fetch for callers that only branch on success.
func (m *Monitor) CurrentBlock(ctx context.Context, ttl time.Duration) (int64, bool) {
	block, err := m.Fetch(ctx, ttl)
	if err != nil {
		m.logger.Debug("block fetch missed", "ttl", ttl, "error", err)
		return 0, false
	}
	return block, true
}

func missReason(err error) string {
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
