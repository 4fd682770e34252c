package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/agoncharov-reef/pretrain-subnet/internal/domain/model"
	"github.com/agoncharov-reef/pretrain-subnet/internal/metrics"
	"github.com/agoncharov-reef/pretrain-subnet/internal/registry"
	"github.com/agoncharov-reef/pretrain-subnet/internal/tracing"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	otelTrace "go.opentelemetry.io/otel/trace"
)

// ErrRoundTimeout means the round hit its deadline and was abandoned.
// Nothing from an abandoned round may be merged into validator state.
var ErrRoundTimeout = errors.New("evaluation round timed out")

const (
	defaultPagesPerEval = 3
	defaultRoundTTL     = 20 * time.Minute
)

// Round is everything one evaluation produced, ready for the tournament.
type Round struct {
	ID         uuid.UUID
	StartedAt  time.Time
	Pages      []int64
	NumBatches int
	// UIDs are the effective uids (metadata available), ascending.
	UIDs       []model.UID
	Timestamps map[model.UID]time.Time
	Losses     model.LossRecord
}

type Config struct {
	Network      string
	NetUID       model.NetUID
	PagesPerEval int
	RoundTTL     time.Duration
}

type Evaluator struct {
	registry registry.ModelRegistry
	dataset  registry.DatasetSource
	scorer   registry.LossScorer
	cfg      Config
	rng      *rand.Rand
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Evaluator)

// WithRand fixes the page sampler, for reproducible rounds in tests.
func WithRand(r *rand.Rand) Option {
	return func(e *Evaluator) {
		e.rng = r
	}
}

func New(
	reg registry.ModelRegistry,
	dataset registry.DatasetSource,
	scorer registry.LossScorer,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) *Evaluator {
	if cfg.PagesPerEval <= 0 {
		cfg.PagesPerEval = defaultPagesPerEval
	}
	if cfg.RoundTTL <= 0 {
		cfg.RoundTTL = defaultRoundTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Evaluator{
		registry: reg,
		dataset:  dataset,
		scorer:   scorer,
		cfg:      cfg,
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:      time.Now,
		logger:   logger.With("component", "evaluator"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs one round over active under a single deadline. Candidates
// without metadata are left out, but a registry error while fetching
// metadata abandons the round. Candidates whose model or losses are
// unavailable stay in the round with +Inf on every batch.
func (e *Evaluator) Evaluate(ctx context.Context, active []model.UID) (*Round, error) {
	netuid := e.cfg.NetUID.String()
	roundCtx, cancel := context.WithTimeout(ctx, e.cfg.RoundTTL)
	defer cancel()

	round := &Round{
		ID:         uuid.New(),
		StartedAt:  e.now(),
		Timestamps: make(map[model.UID]time.Time, len(active)),
		Losses:     make(model.LossRecord, len(active)),
	}
	logger := e.logger.With("round_id", round.ID.String())

	roundCtx, span := tracing.Tracer("evaluator").Start(roundCtx, "evaluator.round",
		otelTrace.WithAttributes(
			attribute.String("round_id", round.ID.String()),
			attribute.Int("active", len(active)),
		),
	)
	defer span.End()

	fail := func(err error) (*Round, error) {
		err = e.abandonReason(ctx, roundCtx, err)
		tracing.RecordError(span, err)
		return nil, err
	}

	for _, uid := range active {
		meta, err := e.registry.Metadata(roundCtx, uid)
		if roundCtx.Err() != nil {
			return fail(err)
		}
		if err != nil {
			return fail(fmt.Errorf("metadata uid %d: %w", uid, err))
		}
		if meta == nil {
			metrics.EvaluatorMissingMetadata.WithLabelValues(e.cfg.Network, netuid).Inc()
			logger.Debug("candidate has no metadata, skipping", "uid", int(uid))
			continue
		}
		round.UIDs = append(round.UIDs, uid)
		round.Timestamps[uid] = meta.Timestamp
	}
	sort.Slice(round.UIDs, func(i, j int) bool { return round.UIDs[i] < round.UIDs[j] })
	span.SetAttributes(attribute.Int("effective", len(round.UIDs)))

	if len(round.UIDs) == 0 {
		logger.Info("no candidate with metadata in active set", "active", len(active))
		return round, nil
	}

	pages, err := e.samplePages()
	if err != nil {
		return fail(err)
	}
	round.Pages = pages

	batches, err := e.dataset.SampleBatches(roundCtx, pages)
	if err != nil {
		return fail(fmt.Errorf("sample batches: %w", err))
	}
	if len(batches) == 0 {
		return fail(fmt.Errorf("sample batches: dataset returned no batches for pages %v", pages))
	}
	round.NumBatches = len(batches)

	for _, uid := range round.UIDs {
		losses, err := e.lossesFor(roundCtx, logger, uid, batches)
		if err != nil {
			return fail(err)
		}
		round.Losses[uid] = losses
	}

	if roundCtx.Err() != nil {
		return fail(roundCtx.Err())
	}

	logger.Info("evaluation round complete",
		"effective", len(round.UIDs),
		"batches", round.NumBatches,
		"pages", round.Pages,
		"elapsed", time.Since(round.StartedAt).String(),
	)
	return round, nil
}

// lossesFor returns an error only when the round itself must be abandoned.
func (e *Evaluator) lossesFor(ctx context.Context, logger *slog.Logger, uid model.UID, batches []model.Batch) ([]float64, error) {
	netuid := e.cfg.NetUID.String()

	handle, err := e.registry.LoadModel(ctx, uid)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil || handle == nil {
		metrics.EvaluatorMissingModels.WithLabelValues(e.cfg.Network, netuid).Inc()
		logger.Warn("model unavailable, scoring as +Inf", "uid", int(uid), "error", err)
		return model.InfiniteLosses(len(batches)), nil
	}

	start := time.Now()
	losses, err := e.scorer.ComputeLosses(ctx, *handle, batches)
	metrics.LossComputeLatency.WithLabelValues(e.cfg.Network, netuid).Observe(time.Since(start).Seconds())
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		logger.Warn("loss computation failed, scoring as +Inf", "uid", int(uid), "error", err)
		return model.InfiniteLosses(len(batches)), nil
	}
	if len(losses) != len(batches) {
		logger.Warn("loss count does not match batch count, scoring as +Inf",
			"uid", int(uid), "losses", len(losses), "batches", len(batches))
		return model.InfiniteLosses(len(batches)), nil
	}
	return losses, nil
}

// samplePages draws PagesPerEval page indices uniformly from [1, MaxPages].
// Duplicates are allowed.
func (e *Evaluator) samplePages() ([]int64, error) {
	maxPages := e.dataset.MaxPages()
	if maxPages < 1 {
		return nil, fmt.Errorf("dataset reports %d pages", maxPages)
	}
	pages := make([]int64, e.cfg.PagesPerEval)
	for i := range pages {
		pages[i] = 1 + e.rng.Int64N(maxPages)
	}
	return pages, nil
}

// abandonReason maps a deadline on the round context to ErrRoundTimeout.
// Cancellation of the parent passes through unchanged.
func (e *Evaluator) abandonReason(parent, roundCtx context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(roundCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrRoundTimeout, e.cfg.RoundTTL)
	}
	if err == nil {
		err = roundCtx.Err()
	}
	return err
}
