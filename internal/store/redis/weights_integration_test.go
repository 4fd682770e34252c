//go:build integration

package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/agoncharov-reef/pretrain-subnet/internal/store"
	redisstore "github.com/agoncharov-reef/pretrain-subnet/internal/store/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestWeightStore_RoundTripAgainstRedis(t *testing.T) {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	s, err := redisstore.Open(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.Load(ctx, 9)
	require.ErrorIs(t, err, store.ErrSnapshotNotFound)

	saved := store.WeightSnapshot{
		NetUID:    9,
		Step:      12,
		Weights:   []float64{0.1, 0.2, 0.7},
		UpdatedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.Save(ctx, saved))

	loaded, err := s.Load(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, saved.Step, loaded.Step)
	assert.Equal(t, saved.Weights, loaded.Weights)
	assert.True(t, saved.UpdatedAt.Equal(loaded.UpdatedAt))
}
