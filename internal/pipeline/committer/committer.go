package committer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/agoncharov-reef/pretrain-subnet/internal/alert"
	"github.com/agoncharov-reef/pretrain-subnet/internal/chain"
	"github.com/agoncharov-reef/pretrain-subnet/internal/domain/model"
	"github.com/agoncharov-reef/pretrain-subnet/internal/metrics"
	"github.com/agoncharov-reef/pretrain-subnet/internal/pipeline/aggregator"
	"github.com/agoncharov-reef/pretrain-subnet/internal/pipeline/retry"
	"github.com/agoncharov-reef/pretrain-subnet/internal/telemetry"
	"github.com/agoncharov-reef/pretrain-subnet/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	otelTrace "go.opentelemetry.io/otel/trace"
)

const (
	defaultBlocksPerEpoch = 50
	defaultCommitTTL      = 60 * time.Second
)

// ErrEmptyWeights means there was nothing to commit yet.
var ErrEmptyWeights = errors.New("weight vector is all zero")

// WeightSource yields the current persisted weight vector.
type WeightSource interface {
	Weights() aggregator.WeightVector
}

type Config struct {
	Network        string
	NetUID         model.NetUID
	BlocksPerEpoch int64
	CommitTTL      time.Duration
	// Enabled is false when weight setting is switched off by operator flags.
	Enabled bool
}

// Committer publishes the weight vector once per epoch. A failed commit
// is logged and alerted but never retried before the next epoch.
type Committer struct {
	client    chain.Client
	weights   WeightSource
	reporter  telemetry.Reporter
	alerter   alert.Alerter
	cfg       Config
	lastEpoch atomic.Int64
	logger    *slog.Logger
}

type Option func(*Committer)

func WithReporter(r telemetry.Reporter) Option {
	return func(c *Committer) {
		c.reporter = r
	}
}

func WithAlerter(a alert.Alerter) Option {
	return func(c *Committer) {
		c.alerter = a
	}
}

// WithLastEpochBlock sets the block the first epoch is counted from.
func WithLastEpochBlock(block int64) Option {
	return func(c *Committer) {
		c.lastEpoch.Store(block)
	}
}

func New(client chain.Client, weights WeightSource, cfg Config, logger *slog.Logger, opts ...Option) *Committer {
	if cfg.BlocksPerEpoch <= 0 {
		cfg.BlocksPerEpoch = defaultBlocksPerEpoch
	}
	if cfg.CommitTTL <= 0 {
		cfg.CommitTTL = defaultCommitTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Committer{
		client:   client,
		weights:  weights,
		reporter: telemetry.Nop{},
		alerter:  &alert.NoopAlerter{},
		cfg:      cfg,
		logger:   logger.With("component", "committer"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LastEpochBlock is the block of the most recent epoch boundary handled.
func (c *Committer) LastEpochBlock() int64 {
	return c.lastEpoch.Load()
}

// ResetEpoch restarts epoch counting from block, as at startup.
func (c *Committer) ResetEpoch(block int64) {
	c.lastEpoch.Store(block)
}

// MaybeCommit commits when currentBlock is at least one epoch past the
// last boundary. The boundary advances whether or not the commit worked.
// It reports whether a boundary was reached and the commit error, if any.
func (c *Committer) MaybeCommit(ctx context.Context, currentBlock int64) (bool, error) {
	previous := c.lastEpoch.Load()
	if currentBlock-previous < c.cfg.BlocksPerEpoch {
		return false, nil
	}
	c.lastEpoch.Store(currentBlock)

	vector := c.weights.Weights().Sanitize()
	c.reporter.ReportWeights(ctx, vector.Top(model.PoolSize))

	netuid := c.cfg.NetUID.String()
	if !c.cfg.Enabled {
		metrics.WeightCommitsTotal.WithLabelValues(c.cfg.Network, netuid, "skipped").Inc()
		c.logger.Info("epoch reached, weight setting disabled", "block", currentBlock, "previous_epoch", previous)
		return true, nil
	}
	if vector.Sum() <= 0 {
		metrics.WeightCommitsTotal.WithLabelValues(c.cfg.Network, netuid, "empty").Inc()
		c.logger.Warn("epoch reached with empty weight vector, nothing to commit", "block", currentBlock)
		return true, ErrEmptyWeights
	}

	err := c.commit(ctx, currentBlock, vector)
	return true, err
}

func (c *Committer) commit(ctx context.Context, block int64, vector aggregator.WeightVector) error {
	netuid := c.cfg.NetUID.String()

	commitCtx, cancel := context.WithTimeout(ctx, c.cfg.CommitTTL)
	defer cancel()
	commitCtx, span := tracing.Tracer("committer").Start(commitCtx, "committer.submit",
		otelTrace.WithAttributes(
			attribute.String("network", c.cfg.Network),
			attribute.Int64("block", block),
		),
	)
	defer span.End()

	start := time.Now()
	err := c.client.SubmitWeights(commitCtx, c.cfg.NetUID, model.AllUIDs(), []float64(vector))
	metrics.WeightCommitLatency.WithLabelValues(c.cfg.Network, netuid).Observe(time.Since(start).Seconds())

	if err == nil {
		metrics.WeightCommitsTotal.WithLabelValues(c.cfg.Network, netuid, "success").Inc()
		for uid, w := range vector {
			metrics.WeightValue.WithLabelValues(c.cfg.Network, netuid, strconv.Itoa(uid)).Set(w)
		}
		c.logger.Info("weights committed", "block", block, "elapsed", time.Since(start).String())
		return nil
	}

	outcome := "error"
	if errors.Is(commitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		outcome = "timeout"
		err = fmt.Errorf("commit timed out after %s: %w", c.cfg.CommitTTL, err)
	}
	tracing.RecordError(span, err)
	metrics.WeightCommitsTotal.WithLabelValues(c.cfg.Network, netuid, outcome).Inc()

	decision := retry.Classify(err)
	c.logger.Warn("weight commit failed",
		"block", block,
		"outcome", outcome,
		"class", string(decision.Class),
		"reason", decision.Reason,
		"error", err,
	)

	alertErr := c.alerter.Send(ctx, alert.Alert{
		Type:    alert.AlertTypeCommitFailed,
		Network: c.cfg.Network,
		NetUID:  netuid,
		Title:   "Weight commit failed",
		Message: err.Error(),
		Fields: map[string]string{
			"block":   strconv.FormatInt(block, 10),
			"outcome": outcome,
		},
	})
	if alertErr != nil {
		c.logger.Warn("commit failure alert not delivered", "error", alertErr)
	}
	return err
}
