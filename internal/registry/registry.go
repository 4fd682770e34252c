package registry

import (
	"context"

	"github.com/agoncharov-reef/pretrain-subnet/internal/domain/model"
)

//go:generate mockgen -source=registry.go -destination=mocks/mock_registry.go -package=mocks

// ModelRegistry tracks the latest submission of every candidate and makes
// models locally available for evaluation.
type ModelRegistry interface {
	// Metadata returns nil without error when the uid has no known submission.
	Metadata(ctx context.Context, uid model.UID) (*model.Metadata, error)
	// Sync refreshes one candidate and reports whether its model changed.
	Sync(ctx context.Context, uid model.UID) (bool, error)
	// LoadModel returns nil without error when the model is not available locally.
	LoadModel(ctx context.Context, uid model.UID) (*model.ModelHandle, error)
}

// DatasetSource serves evaluation batches from the benchmark page space.
type DatasetSource interface {
	MaxPages() int64
	SampleBatches(ctx context.Context, pages []int64) ([]model.Batch, error)
}

// LossScorer computes one loss per batch, in batch order.
type LossScorer interface {
	ComputeLosses(ctx context.Context, handle model.ModelHandle, batches []model.Batch) ([]float64, error)
}
