package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agoncharov-reef/pretrain-subnet/internal/domain/model"
	"github.com/agoncharov-reef/pretrain-subnet/internal/store"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "validator:weights"

// WeightStore keeps one JSON-encoded snapshot per subnet.
type WeightStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

var _ store.WeightStore = (*WeightStore)(nil)

// Open connects to url and verifies the connection.
func Open(ctx context.Context, url string) (*WeightStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWeightStore(client, defaultKeyPrefix), nil
}

func NewWeightStore(client redis.UniversalClient, keyPrefix string) *WeightStore {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &WeightStore{client: client, keyPrefix: keyPrefix}
}

func (s *WeightStore) key(netuid model.NetUID) string {
	return s.keyPrefix + ":" + netuid.String()
}

func (s *WeightStore) Load(ctx context.Context, netuid model.NetUID) (*store.WeightSnapshot, error) {
	raw, err := s.client.Get(ctx, s.key(netuid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get weight snapshot: %w", err)
	}
	var snap store.WeightSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode weight snapshot: %w", err)
	}
	return &snap, nil
}

func (s *WeightStore) Save(ctx context.Context, snapshot store.WeightSnapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode weight snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key(snapshot.NetUID), raw, 0).Err(); err != nil {
		return fmt.Errorf("set weight snapshot: %w", err)
	}
	return nil
}

func (s *WeightStore) Close() error {
	return s.client.Close()
}
