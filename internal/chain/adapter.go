package chain

import (
	"context"

	"github.com/agoncharov-reef/pretrain-subnet/internal/domain/model"
)

//go:generate mockgen -source=adapter.go -destination=mocks/mock_client.go -package=mocks

// Client is the ledger surface the validator consumes. Implementations
// must honor ctx cancellation; callers bound every call with a deadline.
type Client interface {
	// Network returns the ledger network name (e.g., "finney").
	Network() string

	// GetBlockNumber returns the current chain height.
	GetBlockNumber(ctx context.Context) (int64, error)

	// SubmitWeights publishes one weight per uid for the subnet. uids and
	// weights have equal length.
	SubmitWeights(ctx context.Context, netuid model.NetUID, uids []model.UID, weights []float64) error
}
