package telemetry

import (
	"context"
	"log/slog"
	"math"

	"github.com/agoncharov-reef/pretrain-subnet/internal/domain/model"
	"github.com/agoncharov-reef/pretrain-subnet/internal/pipeline/aggregator"
)

// minReportedWeight hides dust weights from the weights view.
const minReportedWeight = 0.001

// Reporter receives round summaries and committed weights. Implementations
// must not block the caller and must not return errors to it; a failing
// sink only logs and counts.
type Reporter interface {
	Emit(ctx context.Context, summary model.RoundSummary)
	ReportWeights(ctx context.Context, weights []aggregator.UIDWeight)
}

// LogReporter renders summaries as structured log lines, one per uid plus
// a round line.
type LogReporter struct {
	logger *slog.Logger
}

func NewLogReporter(logger *slog.Logger) *LogReporter {
	return &LogReporter{logger: logger.With("component", "step_reporter")}
}

func (r *LogReporter) Emit(ctx context.Context, s model.RoundSummary) {
	r.logger.InfoContext(ctx, "round finished",
		"round_id", s.ID.String(),
		"step", s.Step,
		"status", string(s.Status),
		"duration", s.Duration().String(),
		"pages", s.Pages,
		"uids", len(s.UIDs),
		"active_size", s.ActiveSize,
		"error", s.Error,
	)
	for _, st := range s.Stats {
		r.logger.InfoContext(ctx, "round uid",
			"round_id", s.ID.String(),
			"uid", int(st.UID),
			"average_loss", lossValue(st.AverageLoss),
			"win_rate", roundTo(st.WinRate, 4),
			"win_total", st.WinTotal,
			"weight", roundTo(st.Weight, 4),
			"timestamp", st.Timestamp,
		)
	}
}

func (r *LogReporter) ReportWeights(ctx context.Context, weights []aggregator.UIDWeight) {
	shown := 0
	for _, w := range weights {
		if w.Weight <= minReportedWeight {
			continue
		}
		shown++
		r.logger.InfoContext(ctx, "weight", "uid", int(w.UID), "weight", roundTo(w.Weight, 4))
	}
	r.logger.InfoContext(ctx, "weights reported", "shown", shown, "total", len(weights))
}

// lossValue renders a missing model's +Inf as a string; the JSON handler
// cannot encode non-finite floats.
func lossValue(v float64) any {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return "inf"
	}
	return roundTo(v, 4)
}

func roundTo(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

// Multi fans every call out to each reporter in order.
type Multi []Reporter

func (m Multi) Emit(ctx context.Context, s model.RoundSummary) {
	for _, r := range m {
		r.Emit(ctx, s)
	}
}

func (m Multi) ReportWeights(ctx context.Context, weights []aggregator.UIDWeight) {
	for _, r := range m {
		r.ReportWeights(ctx, weights)
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Emit(context.Context, model.RoundSummary) {}
func (Nop) ReportWeights(context.Context, []aggregator.UIDWeight) {}
