package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 20, cfg.PostgresMaxConns)
	assert.Equal(t, 2, cfg.PostgresMinConns)
	assert.Equal(t, 10*time.Second, cfg.PostgresTimeout)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, 3, cfg.RedisMaxRetries)
	assert.Equal(t, 10, cfg.RedisPoolSize)
	assert.Equal(t, "us-east-1", cfg.S3Region)
}

func TestOpenPostgresRequiresURL(t *testing.T) {
	cfg := DefaultConfig()

	_, err := OpenPostgres(cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres URL is required")
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.RedisURL = "redis://" + mr.Addr()

	client, err := NewRedisClient(cfg)
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())

	// The consumers of this client depend on SETNX and TTL semantics.
	ok, err := client.SetNX(ctx, "replay:response-1", "1", time.Minute).Result()
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.SetNX(ctx, "replay:response-1", "1", time.Minute).Result()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewRedisClientInvalidURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RedisURL = "not-a-redis-url"

	_, err := NewRedisClient(cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid redis URL")
}

func TestNewRedisClientUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := DefaultConfig()
	cfg.RedisURL = "redis://" + addr
	cfg.RedisMaxRetries = 1

	_, err := NewRedisClient(cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}
