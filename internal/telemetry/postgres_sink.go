package telemetry

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/agoncharov-reef/pretrain-subnet/internal/domain/model"
	"github.com/agoncharov-reef/pretrain-subnet/internal/metrics"
	"github.com/agoncharov-reef/pretrain-subnet/internal/pipeline/aggregator"
	"github.com/agoncharov-reef/pretrain-subnet/internal/store"
)

const (
	defaultSinkBuffer = 64
	sinkDrainTimeout  = 5 * time.Second
)

// RoundSink persists round summaries through a RoundRepository. Emit only
// enqueues; Run does the writes. A full queue drops the summary.
type RoundSink struct {
	repo    store.RoundRepository
	netuid  model.NetUID
	queue   chan model.RoundSummary
	dropped atomic.Int64
	logger  *slog.Logger
}

func NewRoundSink(repo store.RoundRepository, netuid model.NetUID, buffer int, logger *slog.Logger) *RoundSink {
	if buffer <= 0 {
		buffer = defaultSinkBuffer
	}
	return &RoundSink{
		repo:   repo,
		netuid: netuid,
		queue:  make(chan model.RoundSummary, buffer),
		logger: logger.With("component", "round_sink"),
	}
}

func (s *RoundSink) Emit(_ context.Context, summary model.RoundSummary) {
	select {
	case s.queue <- summary:
	default:
		s.dropped.Add(1)
		metrics.TelemetryEmitErrors.WithLabelValues("postgres").Inc()
		s.logger.Warn("round sink queue full, dropping summary", "round_id", summary.ID.String())
	}
}

func (s *RoundSink) ReportWeights(context.Context, []aggregator.UIDWeight) {}

// Dropped returns how many summaries were discarded on a full queue.
func (s *RoundSink) Dropped() int64 {
	return s.dropped.Load()
}

// Run writes queued summaries until ctx is cancelled, then drains whatever
// is still queued under a short deadline.
func (s *RoundSink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return nil
		case summary := <-s.queue:
			s.write(ctx, summary)
		}
	}
}

func (s *RoundSink) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), sinkDrainTimeout)
	defer cancel()
	for {
		select {
		case summary := <-s.queue:
			s.write(ctx, summary)
		default:
			return
		}
	}
}

func (s *RoundSink) write(ctx context.Context, summary model.RoundSummary) {
	if err := s.repo.InsertRound(ctx, s.netuid, summary); err != nil {
		metrics.TelemetryEmitErrors.WithLabelValues("postgres").Inc()
		s.logger.Warn("persist round summary failed", "round_id", summary.ID.String(), "error", err)
	}
}
