package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclave/gatehouse/pkg/saml"
)

func setupReplayGuard(t *testing.T, window time.Duration) (*ReplayGuard, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewReplayGuard(client, window), mr
}

func TestReplayGuardConsume(t *testing.T) {
	guard, _ := setupReplayGuard(t, time.Minute)
	ctx := context.Background()
	digest := saml.ResponseDigest("PHNhbWxwOlJlc3BvbnNlPg==")

	require.NoError(t, guard.Consume(ctx, digest))

	err := guard.Consume(ctx, digest)
	var pve *saml.ProtocolValidationError
	require.ErrorAs(t, err, &pve)
	assert.Equal(t, saml.StageReplay, pve.Stage)

	// A different response is unaffected.
	assert.NoError(t, guard.Consume(ctx, saml.ResponseDigest("b3RoZXI=")))
}

func TestReplayGuardWindowExpiry(t *testing.T) {
	guard, mr := setupReplayGuard(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, guard.Consume(ctx, "digest-1"))

	mr.FastForward(2 * time.Minute)

	// Outside the window the digest is forgotten. The assertion itself is
	// long expired by then, so time validation takes over.
	assert.NoError(t, guard.Consume(ctx, "digest-1"))
}

func TestReplayGuardFailsClosed(t *testing.T) {
	guard, mr := setupReplayGuard(t, time.Minute)
	mr.Close()

	err := guard.Consume(context.Background(), "digest-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replay check failed")

	var pve *saml.ProtocolValidationError
	assert.False(t, errors.As(err, &pve))
}

func TestReplayGuardPending(t *testing.T) {
	guard, _ := setupReplayGuard(t, time.Minute)
	ctx := context.Background()

	for _, digest := range []string{"a", "b", "c"} {
		require.NoError(t, guard.Consume(ctx, digest))
	}
	// Session keys are not replay digests.
	require.NoError(t, guard.client.Set(ctx, "session:x", "1", time.Minute).Err())

	count, err := guard.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestReplayGuardDefaultWindow(t *testing.T) {
	guard, _ := setupReplayGuard(t, 0)
	assert.Equal(t, DefaultReplayWindow, guard.window)
}
