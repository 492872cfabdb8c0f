package broker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSessionStore(t *testing.T, ttl time.Duration) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewSessionStore(client, ttl), mr
}

func testSession(accountID string) *Session {
	return &Session{
		AccountID:    accountID,
		Provider:     "corp-okta",
		Backend:      "saml",
		ExternalID:   "corp-okta:user-42",
		NameID:       "user-42@corp.example.com",
		SessionIndex: "_idx-1",
	}
}

func TestSessionStoreCreateAndGet(t *testing.T) {
	store, mr := setupSessionStore(t, time.Hour)
	ctx := context.Background()

	sess := testSession("acct-1")
	require.NoError(t, store.Create(ctx, sess))

	assert.NotEmpty(t, sess.ID)
	assert.WithinDuration(t, time.Now(), sess.CreatedAt, 5*time.Second)
	assert.Equal(t, sess.CreatedAt.Add(time.Hour), sess.ExpiresAt)
	assert.Equal(t, time.Hour, mr.TTL(sessionKey(sess.ID)))

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "acct-1", got.AccountID)
	assert.Equal(t, "corp-okta", got.Provider)
	assert.Equal(t, "_idx-1", got.SessionIndex)
	assert.Equal(t, "user-42@corp.example.com", got.NameID)
}

func TestSessionStoreGetMissing(t *testing.T) {
	store, _ := setupSessionStore(t, time.Hour)

	_, err := store.Get(context.Background(), "no-such-session")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStoreExpiry(t *testing.T) {
	store, mr := setupSessionStore(t, time.Minute)
	ctx := context.Background()

	sess := testSession("acct-1")
	require.NoError(t, store.Create(ctx, sess))

	mr.FastForward(2 * time.Minute)

	_, err := store.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStoreRevoke(t *testing.T) {
	store, _ := setupSessionStore(t, time.Hour)
	ctx := context.Background()

	sess := testSession("acct-1")
	require.NoError(t, store.Create(ctx, sess))

	revoked, err := store.Revoke(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, revoked.ID)
	assert.Equal(t, "acct-1", revoked.AccountID)

	_, err = store.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// Revoking again reports the session gone.
	_, err = store.Revoke(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// The account index no longer references it.
	remaining, err := store.Sessions(ctx, "acct-1")
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestSessionStoreRevokeAll(t *testing.T) {
	store, _ := setupSessionStore(t, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Create(ctx, testSession("acct-1")))
	}
	other := testSession("acct-2")
	require.NoError(t, store.Create(ctx, other))

	revoked, err := store.RevokeAll(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 3, revoked)

	sessions, err := store.Sessions(ctx, "acct-1")
	require.NoError(t, err)
	assert.Empty(t, sessions)

	// The other account is untouched.
	_, err = store.Get(ctx, other.ID)
	assert.NoError(t, err)
}

func TestSessionStoreSessionsPrunesDeadIndexEntries(t *testing.T) {
	store, mr := setupSessionStore(t, time.Hour)
	ctx := context.Background()

	alive := testSession("acct-1")
	require.NoError(t, store.Create(ctx, alive))
	dead := testSession("acct-1")
	require.NoError(t, store.Create(ctx, dead))

	// Simulate the session key expiring out from under the index.
	mr.Del(sessionKey(dead.ID))

	sessions, err := store.Sessions(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, alive.ID, sessions[0].ID)

	members, err := store.client.SMembers(ctx, accountSessionsKey("acct-1")).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{alive.ID}, members)
}

func TestSessionStoreCount(t *testing.T) {
	store, _ := setupSessionStore(t, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Create(ctx, testSession("acct-1")))
	}
	// Unrelated keys must not count.
	require.NoError(t, store.client.Set(ctx, "replay:abc", "1", time.Minute).Err())

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestSessionStoreDefaultTTL(t *testing.T) {
	store, _ := setupSessionStore(t, 0)
	assert.Equal(t, DefaultSessionTTL, store.ttl)
}
