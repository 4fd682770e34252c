package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeightStore_KeyIsNamespacedByNetUID(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	s := NewWeightStore(client, "")
	assert.Equal(t, "validator:weights:9", s.key(9))

	custom := NewWeightStore(client, "staging:weights")
	assert.Equal(t, "staging:weights:21", custom.key(21))
}

func TestWeightStore_UnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	s := NewWeightStore(client, "")

	_, err := s.Load(context.Background(), 9)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get weight snapshot")
}

func TestOpen_InvalidURL(t *testing.T) {
	_, err := Open(context.Background(), "not-a-url")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse redis url")
}
