package subtensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agoncharov-reef/pretrain-subnet/internal/chain"
	"github.com/agoncharov-reef/pretrain-subnet/internal/chain/ratelimit"
	"github.com/agoncharov-reef/pretrain-subnet/internal/chain/subtensor/rpc"
	"github.com/agoncharov-reef/pretrain-subnet/internal/circuitbreaker"
	"github.com/agoncharov-reef/pretrain-subnet/internal/domain/model"
	"github.com/agoncharov-reef/pretrain-subnet/internal/metrics"
)

// ErrNoSigner is returned by SubmitWeights when the adapter was built
// without an ExtrinsicSigner.
var ErrNoSigner = errors.New("subtensor: no extrinsic signer configured")

// ErrNotRegistered means the validator hotkey holds no uid on the subnet.
var ErrNotRegistered = errors.New("subtensor: hotkey is not registered")

type Adapter struct {
	network    string
	hotkey     string
	versionKey uint64
	client     rpc.RPCClient
	signer     ExtrinsicSigner
	limiter    *ratelimit.Limiter
	breaker    *circuitbreaker.Breaker
	logger     *slog.Logger
}

var _ chain.Client = (*Adapter)(nil)

type Option func(*Adapter)

func WithSigner(signer ExtrinsicSigner, hotkey string) Option {
	return func(a *Adapter) {
		a.signer = signer
		a.hotkey = hotkey
	}
}

func WithRateLimit(rps float64, burst int) Option {
	return func(a *Adapter) {
		a.limiter = ratelimit.NewLimiter(rps, burst, a.network)
	}
}

func WithBreakerThreshold(failures int, cooldown time.Duration) Option {
	return func(a *Adapter) {
		a.breaker = a.newBreaker(failures, cooldown)
	}
}

func WithVersionKey(versionKey uint64) Option {
	return func(a *Adapter) {
		a.versionKey = versionKey
	}
}

func NewAdapter(network string, client rpc.RPCClient, logger *slog.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		network: network,
		client:  client,
		logger:  logger.With("component", "subtensor", "network", network),
	}
	a.limiter = ratelimit.NewLimiter(0, 1, network)
	a.breaker = a.newBreaker(0, 0)
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) newBreaker(failures int, cooldown time.Duration) *circuitbreaker.Breaker {
	metrics.RPCCircuitState.WithLabelValues(a.network).Set(float64(circuitbreaker.StateClosed))
	return circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: failures,
		Cooldown:         cooldown,
		OnTransition: func(tr circuitbreaker.Transition) {
			metrics.RPCCircuitState.WithLabelValues(a.network).Set(float64(tr.To))
			if tr.To == circuitbreaker.StateClosed {
				a.logger.Info("chain endpoint recovered", "from", tr.From.String())
				return
			}
			a.logger.Warn("chain endpoint circuit changed",
				"from", tr.From.String(),
				"to", tr.To.String(),
				"consecutive_failures", tr.Failures,
			)
		},
	})
}

func (a *Adapter) Network() string {
	return a.network
}

func (a *Adapter) GetBlockNumber(ctx context.Context) (int64, error) {
	var block int64
	err := a.guarded(ctx, "chain_getHeader", func(ctx context.Context) error {
		var callErr error
		block, callErr = a.client.GetBlockNumber(ctx)
		return callErr
	})
	if err != nil {
		return 0, err
	}
	return block, nil
}

// SubmitWeights encodes, signs and broadcasts a set_weights extrinsic. It
// returns once the node has accepted the extrinsic into its pool.
func (a *Adapter) SubmitWeights(ctx context.Context, netuid model.NetUID, uids []model.UID, weights []float64) error {
	if a.signer == nil {
		return ErrNoSigner
	}
	encodedUIDs, values, err := EncodeWeights(uids, weights)
	if err != nil {
		return fmt.Errorf("encode weights: %w", err)
	}
	if len(encodedUIDs) == 0 {
		return fmt.Errorf("encode weights: all weights are zero")
	}

	extrinsic, err := a.signer.SignSetWeights(ctx, newSetWeightsCall(a.hotkey, netuid, encodedUIDs, values, a.versionKey))
	if err != nil {
		return fmt.Errorf("sign set_weights: %w", err)
	}

	var hash string
	err = a.guarded(ctx, "author_submitExtrinsic", func(ctx context.Context) error {
		var callErr error
		hash, callErr = a.client.SubmitExtrinsic(ctx, extrinsic)
		return callErr
	})
	if err != nil {
		return err
	}
	a.logger.Info("set_weights submitted", "netuid", netuid, "uids", len(encodedUIDs), "extrinsic_hash", hash)
	return nil
}

// CheckRegistration returns the uid the configured hotkey holds on netuid.
// It needs a signer that can answer registration lookups.
func (a *Adapter) CheckRegistration(ctx context.Context, netuid model.NetUID) (model.UID, error) {
	checker, ok := a.signer.(RegistrationChecker)
	if !ok || a.hotkey == "" {
		return 0, ErrNoSigner
	}
	uid, registered, err := checker.HotkeyUID(ctx, a.hotkey, netuid)
	if err != nil {
		return 0, fmt.Errorf("registration lookup: %w", err)
	}
	if !registered {
		return 0, fmt.Errorf("%w: hotkey %s on netuid %d", ErrNotRegistered, a.hotkey, netuid)
	}
	a.logger.Info("validator hotkey registered", "netuid", netuid, "uid", int(uid))
	return uid, nil
}

func (a *Adapter) guarded(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	err := a.breaker.Execute(func() error { return fn(ctx) }, isCallerAbort)
	ratelimit.RecordRPCCall(a.network, method, err)
	return err
}

// isCallerAbort keeps caller-side cancellation from counting against the
// endpoint.
func isCallerAbort(err error) bool {
	return errors.Is(err, context.Canceled)
}
