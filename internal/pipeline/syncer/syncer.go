package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/agoncharov-reef/pretrain-subnet/internal/domain/model"
	"github.com/agoncharov-reef/pretrain-subnet/internal/metrics"
	"github.com/agoncharov-reef/pretrain-subnet/internal/pipeline/retry"
	"github.com/agoncharov-reef/pretrain-subnet/internal/registry"
)

const (
	defaultSyncTTL              = 10 * time.Second
	defaultIdlePause            = time.Second
	defaultDuplicateSlotBackoff = time.Second
)

// BlockSource yields the chain height or reports a miss.
type BlockSource interface {
	CurrentBlock(ctx context.Context, ttl time.Duration) (int64, bool)
}

// PendingSink stages a freshly synced uid for the next round.
type PendingSink interface {
	AddPending(uid model.UID) bool
}

type Config struct {
	Network string
	NetUID  model.NetUID
	SyncTTL time.Duration
}

// Scheduler walks the uid space one slot per block height and asks the
// registry to refresh that candidate. Slots are visited by block height
// alone, so every uid is revisited regardless of how it scores.
type Scheduler struct {
	blocks   BlockSource
	registry registry.ModelRegistry
	pending  PendingSink
	book     *CandidateBook
	cfg      Config
	logger   *slog.Logger

	idlePause        time.Duration
	duplicateBackoff time.Duration
	sleepFn          func(ctx context.Context, d time.Duration) error
	nowFn            func() time.Time

	heartbeat atomic.Int64
}

type Option func(*Scheduler)

func WithSleepFunc(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) {
		s.sleepFn = fn
	}
}

func WithIdlePause(d time.Duration) Option {
	return func(s *Scheduler) {
		s.idlePause = d
	}
}

func WithDuplicateSlotBackoff(d time.Duration) Option {
	return func(s *Scheduler) {
		s.duplicateBackoff = d
	}
}

func WithCandidateBook(book *CandidateBook) Option {
	return func(s *Scheduler) {
		s.book = book
	}
}

func New(blocks BlockSource, reg registry.ModelRegistry, pending PendingSink, cfg Config, logger *slog.Logger, opts ...Option) *Scheduler {
	if cfg.SyncTTL <= 0 {
		cfg.SyncTTL = defaultSyncTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		blocks:           blocks,
		registry:         reg,
		pending:          pending,
		book:             NewCandidateBook(),
		cfg:              cfg,
		logger:           logger.With("component", "syncer"),
		idlePause:        defaultIdlePause,
		duplicateBackoff: defaultDuplicateSlotBackoff,
		sleepFn:          sleepContext,
		nowFn:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Book exposes the per-candidate sync history.
func (s *Scheduler) Book() *CandidateBook {
	return s.book
}

// LastHeartbeat is the start time of the most recent loop iteration, or the
// zero time before the first one.
func (s *Scheduler) LastHeartbeat() time.Time {
	ns := s.heartbeat.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Run loops until ctx is cancelled and then returns ctx.Err(). Failures of
// a single slot never end the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("sync scheduler started", "sync_ttl", s.cfg.SyncTTL)
	netuid := s.cfg.NetUID.String()
	lastSlot := -1

	for {
		if ctx.Err() != nil {
			s.logger.Info("sync scheduler stopping")
			return ctx.Err()
		}
		s.heartbeat.Store(s.nowFn().UnixNano())

		block, ok := s.blocks.CurrentBlock(ctx, s.cfg.SyncTTL)
		if !ok {
			metrics.SyncAttemptsTotal.WithLabelValues(s.cfg.Network, netuid, "no_block").Inc()
			_ = s.sleepFn(ctx, s.idlePause)
			continue
		}

		slot := int(block % model.PoolSize)
		if slot == lastSlot {
			metrics.SyncDuplicateSlotSkips.WithLabelValues(s.cfg.Network, netuid).Inc()
			_ = s.sleepFn(ctx, s.duplicateBackoff)
			continue
		}
		lastSlot = slot
		metrics.SyncCurrentSlot.WithLabelValues(s.cfg.Network, netuid).Set(float64(slot))

		uid := model.UID(slot)
		if s.syncSlot(ctx, uid, block) {
			if s.pending.AddPending(uid) {
				s.logger.Debug("uid staged for next round", "uid", slot)
			}
		}
	}
}

// syncSlot reports whether the registry sync completed, changed or not.
func (s *Scheduler) syncSlot(ctx context.Context, uid model.UID, block int64) (ok bool) {
	netuid := s.cfg.NetUID.String()
	logger := s.logger.With("uid", int(uid), "block", block)

	defer func() {
		if r := recover(); r != nil {
			metrics.SyncAttemptsTotal.WithLabelValues(s.cfg.Network, netuid, "panic").Inc()
			metrics.PipelineLoopPanics.WithLabelValues(s.cfg.Network, netuid, "syncer").Inc()
			logger.Error("panic during registry sync", "panic", fmt.Sprintf("%v", r))
			s.book.Record(uid, model.SyncStatusFailed, block, s.nowFn())
			ok = false
		}
	}()

	// Bounded by SyncTTL so one slow pull cannot outlive the heartbeat
	// stall window.
	syncCtx, cancel := context.WithTimeout(ctx, s.cfg.SyncTTL)
	defer cancel()

	updated, err := s.registry.Sync(syncCtx, uid)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		decision := retry.Classify(err)
		metrics.SyncAttemptsTotal.WithLabelValues(s.cfg.Network, netuid, "error").Inc()
		logger.Warn("registry sync failed",
			"error", err,
			"class", string(decision.Class),
			"reason", decision.Reason,
		)
		s.book.Record(uid, model.SyncStatusFailed, block, s.nowFn())
		return false
	}

	if updated {
		metrics.SyncAttemptsTotal.WithLabelValues(s.cfg.Network, netuid, "updated").Inc()
		logger.Info("pulled new model")
		s.book.Record(uid, model.SyncStatusUpdated, block, s.nowFn())
	} else {
		metrics.SyncAttemptsTotal.WithLabelValues(s.cfg.Network, netuid, "unchanged").Inc()
		logger.Debug("model up to date")
		s.book.Record(uid, model.SyncStatusUnchanged, block, s.nowFn())
	}
	return true
}
