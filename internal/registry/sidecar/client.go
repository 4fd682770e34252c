package sidecar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/agoncharov-reef/pretrain-subnet/internal/cache"
	"github.com/agoncharov-reef/pretrain-subnet/internal/domain/model"
	"github.com/agoncharov-reef/pretrain-subnet/internal/pipeline/retry"
	"github.com/agoncharov-reef/pretrain-subnet/internal/registry"
)

const (
	defaultMetadataTTL = 5 * time.Minute
	readAttempts       = 3
	readBackoff        = 200 * time.Millisecond
)

// errNotFound marks a 404 from the sidecar. Callers map it to "absent".
var errNotFound = errors.New("sidecar: not found")

// Client talks to the model sidecar, the process that owns model storage,
// dataset pages and GPU inference. One client serves all three registry
// interfaces.
type Client struct {
	httpClient *http.Client
	baseURL    string
	maxPages   int64
	metadata   *cache.LRU[model.UID, model.Metadata]
	logger     *slog.Logger
}

var (
	_ registry.ModelRegistry = (*Client)(nil)
	_ registry.DatasetSource = (*Client)(nil)
	_ registry.LossScorer    = (*Client)(nil)
)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithMetadataTTL(ttl time.Duration) Option {
	return func(c *Client) { c.metadata = cache.NewLRU[model.UID, model.Metadata](model.PoolSize, ttl) }
}

func NewClient(baseURL string, timeout time.Duration, maxPages int64, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxPages:   maxPages,
		metadata:   cache.NewLRU[model.UID, model.Metadata](model.PoolSize, defaultMetadataTTL),
		logger:     logger.With("component", "sidecar"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type metadataResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Hash      string    `json:"hash"`
}

func (c *Client) Metadata(ctx context.Context, uid model.UID) (*model.Metadata, error) {
	if md, ok := c.metadata.Get(uid); ok {
		return &md, nil
	}

	var resp metadataResponse
	err := retry.Do(ctx, readAttempts, readBackoff, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/models/%d/metadata", uid), nil, &resp)
	})
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("metadata uid %d: %w", uid, err)
	}

	md := model.Metadata{UID: uid, Timestamp: resp.Timestamp.UTC(), Hash: resp.Hash}
	c.metadata.Put(uid, md)
	return &md, nil
}

type syncResponse struct {
	Updated bool `json:"updated"`
}

func (c *Client) Sync(ctx context.Context, uid model.UID) (bool, error) {
	var resp syncResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/models/%d/sync", uid), nil, &resp); err != nil {
		return false, fmt.Errorf("sync uid %d: %w", uid, err)
	}
	if resp.Updated {
		c.metadata.Delete(uid)
		c.logger.Debug("candidate model updated", "uid", uid)
	}
	return resp.Updated, nil
}

type loadResponse struct {
	Ref string `json:"ref"`
}

func (c *Client) LoadModel(ctx context.Context, uid model.UID) (*model.ModelHandle, error) {
	var resp loadResponse
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/models/%d/load", uid), nil, &resp)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load uid %d: %w", uid, err)
	}
	if resp.Ref == "" {
		return nil, nil
	}
	return &model.ModelHandle{UID: uid, Ref: resp.Ref}, nil
}

func (c *Client) MaxPages() int64 {
	return c.maxPages
}

type batchesRequest struct {
	Pages []int64 `json:"pages"`
}

type batchesResponse struct {
	Batches []model.Batch `json:"batches"`
}

func (c *Client) SampleBatches(ctx context.Context, pages []int64) ([]model.Batch, error) {
	var resp batchesResponse
	err := retry.Do(ctx, readAttempts, readBackoff, func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, "/v1/dataset/batches", batchesRequest{Pages: pages}, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("sample batches: %w", err)
	}
	for i := range resp.Batches {
		resp.Batches[i].Index = i
	}
	return resp.Batches, nil
}

type lossesRequest struct {
	UID     model.UID     `json:"uid"`
	Ref     string        `json:"ref"`
	Batches []model.Batch `json:"batches"`
}

// JSON has no infinity; the sidecar reports a diverged batch as null.
type lossesResponse struct {
	Losses []*float64 `json:"losses"`
}

func (c *Client) ComputeLosses(ctx context.Context, handle model.ModelHandle, batches []model.Batch) ([]float64, error) {
	var resp lossesResponse
	req := lossesRequest{UID: handle.UID, Ref: handle.Ref, Batches: batches}
	if err := c.do(ctx, http.MethodPost, "/v1/losses", req, &resp); err != nil {
		return nil, fmt.Errorf("compute losses uid %d: %w", handle.UID, err)
	}
	losses := make([]float64, len(resp.Losses))
	for i, l := range resp.Losses {
		if l == nil {
			losses[i] = math.Inf(1)
			continue
		}
		losses[i] = *l
	}
	return losses, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return retry.Terminal(fmt.Errorf("marshal request: %w", err))
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return retry.Terminal(fmt.Errorf("create request: %w", err))
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return retry.Transient(fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return retry.Terminal(errNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return retry.Transient(fmt.Errorf("http status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	case resp.StatusCode != http.StatusOK:
		return retry.Terminal(fmt.Errorf("http status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return retry.Terminal(fmt.Errorf("unmarshal response: %w", err))
	}
	return nil
}
