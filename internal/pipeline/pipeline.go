package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	"github.com/agoncharov-reef/pretrain-subnet/internal/alert"
	"github.com/agoncharov-reef/pretrain-subnet/internal/chain"
	"github.com/agoncharov-reef/pretrain-subnet/internal/domain/model"
	"github.com/agoncharov-reef/pretrain-subnet/internal/metrics"
	"github.com/agoncharov-reef/pretrain-subnet/internal/pipeline/aggregator"
	"github.com/agoncharov-reef/pretrain-subnet/internal/pipeline/blockmonitor"
	"github.com/agoncharov-reef/pretrain-subnet/internal/pipeline/committer"
	"github.com/agoncharov-reef/pretrain-subnet/internal/pipeline/evaluator"
	"github.com/agoncharov-reef/pretrain-subnet/internal/pipeline/pool"
	"github.com/agoncharov-reef/pretrain-subnet/internal/pipeline/syncer"
	"github.com/agoncharov-reef/pretrain-subnet/internal/pipeline/tournament"
	"github.com/agoncharov-reef/pretrain-subnet/internal/registry"
	"github.com/agoncharov-reef/pretrain-subnet/internal/store"
	"github.com/agoncharov-reef/pretrain-subnet/internal/telemetry"
	"github.com/agoncharov-reef/pretrain-subnet/internal/tracing"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	otelTrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	defaultIdlePause   = 5 * time.Second
	storeTimeout       = 5 * time.Second
	statusTopWeights   = 32
	seedLookupParallel = 8
)

type Config struct {
	Network        string
	NetUID         model.NetUID
	SampleMin      int
	PagesPerEval   int
	BlocksPerEpoch int64
	Alpha          float64
	Temperature    float64
	Epsilon        float64
	EvalRoundTTL   time.Duration
	CommitTTL      time.Duration
	SyncTTL        time.Duration
	SetWeights     bool
	TestMode       bool

	// IdlePause is slept after a round that failed or had nobody to score.
	IdlePause          time.Duration
	UnhealthyThreshold int
	Alerter            alert.Alerter
}

// Deps are the collaborators the validator loop drives.
type Deps struct {
	Chain    chain.Client
	Registry registry.ModelRegistry
	Dataset  registry.DatasetSource
	Scorer   registry.LossScorer
	Weights  store.WeightStore
	Reporter telemetry.Reporter
}

// Pipeline owns the validator state: the weight vector, the step counter
// and, through pool.Manager, the active and pending sets. Only the main
// loop writes the weight vector; readers take a copy.
type Pipeline struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	health *PipelineHealth

	monitor    *blockmonitor.Monitor
	pool       *pool.Manager
	syncer     *syncer.Scheduler
	evaluator  *evaluator.Evaluator
	aggregator *aggregator.Aggregator
	comparator tournament.Comparator
	committer  *committer.Committer

	mu        sync.RWMutex
	weights   aggregator.WeightVector
	step      int64
	lastRound *model.RoundSummary
	// lastScored is the most recent round that produced stats.
	lastScored *model.RoundSummary

	// syncStallAlerted is touched only by the main loop.
	syncStallAlerted bool

	sleepFn func(ctx context.Context, d time.Duration) error
}

type Option func(*Pipeline)

// WithEvaluatorOptions passes options through to the evaluator.
func WithEvaluatorOptions(opts ...evaluator.Option) Option {
	return func(p *Pipeline) {
		p.evaluator = evaluator.New(p.deps.Registry, p.deps.Dataset, p.deps.Scorer, p.evaluatorConfig(), p.logger, opts...)
	}
}

// WithSyncerOptions passes options through to the sync scheduler.
func WithSyncerOptions(opts ...syncer.Option) Option {
	return func(p *Pipeline) {
		p.syncer = syncer.New(p.monitor, p.deps.Registry, p.pool, p.syncerConfig(), p.logger, opts...)
		p.health.WatchSyncHeartbeat(p.syncer.LastHeartbeat, p.cfg.SyncTTL)
	}
}

func WithSleepFunc(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pipeline) {
		p.sleepFn = fn
	}
}

func New(cfg Config, deps Deps, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.IdlePause <= 0 {
		cfg.IdlePause = defaultIdlePause
	}
	if cfg.Alerter == nil {
		cfg.Alerter = &alert.NoopAlerter{}
	}
	if deps.Reporter == nil {
		deps.Reporter = telemetry.Nop{}
	}
	if deps.Weights == nil {
		deps.Weights = store.NewMemoryWeightStore()
	}

	health := NewPipelineHealth(cfg.Network, cfg.NetUID)
	if cfg.UnhealthyThreshold > 0 {
		health.unhealthyThreshold = cfg.UnhealthyThreshold
	}

	p := &Pipeline{
		cfg:        cfg,
		deps:       deps,
		logger:     logger.With("component", "pipeline"),
		health:     health,
		monitor:    blockmonitor.New(deps.Chain, logger),
		pool:       pool.New(cfg.SampleMin, cfg.Network, cfg.NetUID),
		aggregator: aggregator.New(cfg.Alpha, cfg.Temperature),
		comparator: tournament.NewTimestampComparator(cfg.Epsilon),
		weights:    aggregator.NewWeightVector(),
		sleepFn:    sleepContext,
	}
	p.evaluator = evaluator.New(deps.Registry, deps.Dataset, deps.Scorer, p.evaluatorConfig(), logger)
	p.syncer = syncer.New(p.monitor, deps.Registry, p.pool, p.syncerConfig(), logger)
	health.WatchSyncHeartbeat(p.syncer.LastHeartbeat, cfg.SyncTTL)
	p.committer = committer.New(deps.Chain, p, committer.Config{
		Network:        cfg.Network,
		NetUID:         cfg.NetUID,
		BlocksPerEpoch: cfg.BlocksPerEpoch,
		CommitTTL:      cfg.CommitTTL,
		Enabled:        cfg.SetWeights,
	}, logger, committer.WithReporter(deps.Reporter), committer.WithAlerter(cfg.Alerter))

	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) evaluatorConfig() evaluator.Config {
	return evaluator.Config{
		Network:      p.cfg.Network,
		NetUID:       p.cfg.NetUID,
		PagesPerEval: p.cfg.PagesPerEval,
		RoundTTL:     p.cfg.EvalRoundTTL,
	}
}

func (p *Pipeline) syncerConfig() syncer.Config {
	return syncer.Config{Network: p.cfg.Network, NetUID: p.cfg.NetUID, SyncTTL: p.cfg.SyncTTL}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Health returns the loop's health tracker.
func (p *Pipeline) Health() *PipelineHealth { return p.health }

// Pool returns the active/pending set owner.
func (p *Pipeline) Pool() *pool.Manager { return p.pool }

// Weights returns a copy of the current weight vector.
func (p *Pipeline) Weights() aggregator.WeightVector {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.weights.Clone()
}

// Step is the number of successful rounds merged so far.
func (p *Pipeline) Step() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.step
}

// Run bootstraps state, starts the sync scheduler and runs rounds until ctx
// is cancelled. It returns nil on a clean shutdown, after the scheduler
// has exited.
func (p *Pipeline) Run(ctx context.Context) error {
	p.bootstrap(ctx)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.syncer.Run(gCtx)
	})
	g.Go(func() error {
		return p.loop(gCtx)
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	p.logger.Info("validator loop stopped", "step", p.Step())
	return nil
}

func (p *Pipeline) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		productive := p.runStepSafe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.maybeCommit(ctx)
		p.checkSyncStall(ctx, time.Now())
		if !productive {
			_ = p.sleepFn(ctx, p.cfg.IdlePause)
		}
	}
}

// runStepSafe runs one round and converts a panic into a failed round.
func (p *Pipeline) runStepSafe(ctx context.Context) (productive bool) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PipelineLoopPanics.WithLabelValues(p.cfg.Network, p.cfg.NetUID.String(), "main_loop").Inc()
			p.logger.Error("panic in validator loop", "panic", fmt.Sprintf("%v", r), "stack", string(debug.Stack()))
			p.recordFailure(ctx)
			productive = false
		}
	}()
	return p.RunStep(ctx)
}

// RunStep runs a single evaluation round and merges it into the validator
// state. A failed or abandoned round changes nothing but health. It
// reports whether the round scored at least one candidate.
func (p *Pipeline) RunStep(ctx context.Context) bool {
	netuid := p.cfg.NetUID.String()
	active := p.pool.Active()

	ctx, span := tracing.Tracer("pipeline").Start(ctx, "pipeline.step",
		otelTrace.WithAttributes(
			attribute.String("network", p.cfg.Network),
			attribute.Int("active", len(active)),
		),
	)
	defer span.End()

	started := time.Now()
	round, err := p.evaluator.Evaluate(ctx, active)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		tracing.RecordError(span, err)
		p.failRound(ctx, started, active, err)
		return false
	}

	result := tournament.Score(round.Losses, round.Timestamps, round.NumBatches, p.comparator)

	p.mu.Lock()
	next := p.aggregator.Aggregate(p.weights, result)
	p.weights = next
	if len(result.UIDs) > 0 {
		p.step++
	}
	step := p.step
	p.mu.Unlock()

	nextActive := p.pool.Promote(result.WinRate)
	p.saveWeights(ctx, step, next)

	finished := time.Now()
	summary := buildSummary(round, result, next, step, finished, len(nextActive))
	p.setLastRound(summary)
	p.deps.Reporter.Emit(ctx, summary)

	metrics.RoundsTotal.WithLabelValues(p.cfg.Network, netuid, string(model.RoundStatusSucceeded)).Inc()
	metrics.RoundLatency.WithLabelValues(p.cfg.Network, netuid).Observe(finished.Sub(started).Seconds())
	metrics.RoundEffectiveUIDs.WithLabelValues(p.cfg.Network, netuid).Set(float64(len(result.UIDs)))

	p.health.RecordLatency(finished.Sub(started))
	if p.health.RecordSuccess() {
		p.sendAlert(ctx, alert.AlertTypeRecovery, "Validator loop recovered", "evaluation rounds are succeeding again", nil)
	}

	p.logger.Info("step complete",
		"round_id", round.ID.String(),
		"step", step,
		"effective", len(result.UIDs),
		"next_active", len(nextActive),
		"weight_sum", next.Sum(),
	)
	return len(result.UIDs) > 0
}

func buildSummary(
	round *evaluator.Round,
	result tournament.Result,
	weights aggregator.WeightVector,
	step int64,
	finished time.Time,
	activeSize int,
) model.RoundSummary {
	stats := make([]model.UIDStats, 0, len(result.UIDs))
	for _, uid := range result.UIDs {
		stats = append(stats, model.UIDStats{
			UID:         uid,
			Timestamp:   round.Timestamps[uid],
			AverageLoss: model.AverageLoss(round.Losses[uid]),
			WinRate:     result.WinRate[uid],
			WinTotal:    result.Wins[uid],
			Weight:      weights[uid],
		})
	}
	return model.RoundSummary{
		ID:         round.ID,
		Step:       step,
		Status:     model.RoundStatusSucceeded,
		StartedAt:  round.StartedAt,
		FinishedAt: finished,
		Pages:      round.Pages,
		UIDs:       result.UIDs,
		Stats:      stats,
		ActiveSize: activeSize,
	}
}

func (p *Pipeline) failRound(ctx context.Context, started time.Time, active []model.UID, err error) {
	status := model.RoundStatusFailed
	if errors.Is(err, evaluator.ErrRoundTimeout) {
		status = model.RoundStatusTimedOut
	}
	metrics.RoundsTotal.WithLabelValues(p.cfg.Network, p.cfg.NetUID.String(), string(status)).Inc()
	p.logger.Error("evaluation round abandoned", "status", string(status), "active", len(active), "error", err)

	summary := model.RoundSummary{
		ID:         uuid.New(),
		Step:       p.Step(),
		Status:     status,
		Error:      err.Error(),
		StartedAt:  started,
		FinishedAt: time.Now(),
		UIDs:       active,
		ActiveSize: len(active),
	}
	p.setLastRound(summary)
	p.deps.Reporter.Emit(ctx, summary)

	if status == model.RoundStatusTimedOut {
		p.sendAlert(ctx, alert.AlertTypeRoundFailed, "Evaluation round timed out", err.Error(), map[string]string{
			"active": fmt.Sprintf("%d", len(active)),
		})
	}
	p.recordFailure(ctx)
}

func (p *Pipeline) recordFailure(ctx context.Context) {
	if p.health.RecordFailure() {
		snap := p.health.Snapshot()
		p.sendAlert(ctx, alert.AlertTypeUnhealthy, "Validator loop unhealthy",
			fmt.Sprintf("%d consecutive rounds failed", snap.ConsecutiveFailures), nil)
	}
}

func (p *Pipeline) sendAlert(ctx context.Context, typ alert.AlertType, title, message string, fields map[string]string) {
	err := p.cfg.Alerter.Send(ctx, alert.Alert{
		Type:    typ,
		Network: p.cfg.Network,
		NetUID:  p.cfg.NetUID.String(),
		Title:   title,
		Message: message,
		Fields:  fields,
	})
	if err != nil {
		p.logger.Warn("alert not delivered", "type", string(typ), "error", err)
	}
}

func (p *Pipeline) saveWeights(ctx context.Context, step int64, w aggregator.WeightVector) {
	saveCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	err := p.deps.Weights.Save(saveCtx, store.WeightSnapshot{
		NetUID:    p.cfg.NetUID,
		Step:      step,
		Weights:   []float64(w),
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		p.logger.Warn("persist weight vector failed", "step", step, "error", err)
	}
}

func (p *Pipeline) maybeCommit(ctx context.Context) {
	block, ok := p.monitor.CurrentBlock(ctx, p.cfg.SyncTTL)
	if !ok {
		return
	}
	// Failures are logged, counted and alerted inside the committer.
	_, _ = p.committer.MaybeCommit(ctx, block)
}

// checkSyncStall alerts once when the sync scheduler stops heartbeating and
// re-arms after it resumes.
func (p *Pipeline) checkSyncStall(ctx context.Context, now time.Time) {
	stalled := p.health.SyncStalled(now)
	switch {
	case stalled && !p.syncStallAlerted:
		p.syncStallAlerted = true
		p.logger.Warn("sync scheduler stalled", "last_heartbeat", p.syncer.LastHeartbeat())
		p.sendAlert(ctx, alert.AlertTypeSyncStalled, "Model sync stalled",
			"sync scheduler has not completed an iteration recently", nil)
	case !stalled && p.syncStallAlerted:
		p.syncStallAlerted = false
		p.logger.Info("sync scheduler resumed")
	}
}

// bootstrap restores the persisted weight vector, seeds the active set and
// starts epoch counting from the current block. Every step is best effort.
func (p *Pipeline) bootstrap(ctx context.Context) {
	loadCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	snap, err := p.deps.Weights.Load(loadCtx, p.cfg.NetUID)
	cancel()
	switch {
	case err == nil && len(snap.Weights) == model.PoolSize:
		restored := aggregator.WeightVector(snap.Weights).Sanitize()
		p.mu.Lock()
		p.weights = restored
		p.step = snap.Step
		p.mu.Unlock()
		p.logger.Info("weight vector restored", "step", snap.Step, "updated_at", snap.UpdatedAt)
	case err == nil:
		p.logger.Warn("ignoring persisted weight vector of wrong length", "length", len(snap.Weights))
	case errors.Is(err, store.ErrSnapshotNotFound):
		p.logger.Info("no persisted weight vector, starting from zero")
	default:
		p.logger.Warn("load weight vector failed, starting from zero", "error", err)
	}

	p.pool.Seed(p.initialActive(ctx))

	if block, ok := p.monitor.CurrentBlock(ctx, p.cfg.SyncTTL); ok {
		p.committer.ResetEpoch(block)
		p.logger.Info("epoch counting started", "block", block)
	} else {
		p.logger.Warn("no block at startup, first epoch boundary is immediate")
	}
}

// initialActive is every uid with metadata, shuffled, capped to
// sampleMin+1 in test mode.
func (p *Pipeline) initialActive(ctx context.Context) []model.UID {
	seedCtx, cancel := context.WithTimeout(ctx, p.cfg.EvalRoundTTL)
	defer cancel()

	var (
		mu   sync.Mutex
		uids []model.UID
	)
	g, gCtx := errgroup.WithContext(seedCtx)
	g.SetLimit(seedLookupParallel)
	for _, uid := range model.AllUIDs() {
		g.Go(func() error {
			meta, err := p.deps.Registry.Metadata(gCtx, uid)
			if err != nil || meta == nil {
				return nil
			}
			mu.Lock()
			uids = append(uids, uid)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	rand.Shuffle(len(uids), func(i, j int) { uids[i], uids[j] = uids[j], uids[i] })
	if p.cfg.TestMode && len(uids) > p.cfg.SampleMin+1 {
		uids = uids[:p.cfg.SampleMin+1]
	}
	p.logger.Info("initial active set seeded", "size", len(uids), "test_mode", p.cfg.TestMode)
	return uids
}

func (p *Pipeline) setLastRound(s model.RoundSummary) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastRound = &s
	if s.Status == model.RoundStatusSucceeded && len(s.Stats) > 0 {
		p.lastScored = &s
	}
}

// Status is the JSON view served on /status.
type Status struct {
	Health         HealthSnapshot         `json:"health"`
	Step           int64                  `json:"step"`
	Pool           pool.Snapshot          `json:"pool"`
	TopWeights     []aggregator.UIDWeight `json:"top_weights"`
	LastEpochBlock int64                  `json:"last_epoch_block"`
	Candidates     []model.Candidate      `json:"candidates"`
	LastRound      *model.RoundSummary    `json:"last_round,omitempty"`
	LastScored     *model.RoundSummary    `json:"last_scored_round,omitempty"`
}

func (p *Pipeline) Status() Status {
	p.mu.RLock()
	step := p.step
	top := p.weights.Top(statusTopWeights)
	var last *model.RoundSummary
	if p.lastRound != nil {
		copied := *p.lastRound
		last = &copied
	}
	var scored *model.RoundSummary
	if p.lastScored != nil {
		copied := *p.lastScored
		scored = &copied
	}
	p.mu.RUnlock()

	return Status{
		Health:         p.health.Snapshot(),
		Step:           step,
		Pool:           p.pool.Snapshot(),
		TopWeights:     top,
		LastEpochBlock: p.committer.LastEpochBlock(),
		Candidates:     p.syncer.Book().Snapshot(),
		LastRound:      last,
		LastScored:     scored,
	}
}
