package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// DefaultSessionTTL is the lifetime of a login session. Sessions have an
// absolute lifetime rather than a sliding one; re-authentication goes back
// through the identity provider, which is usually silent for the user.
const DefaultSessionTTL = 24 * time.Hour

// Session is the server-side record behind a login cookie. It remembers
// which provider asserted the user and the IdP's own identifiers so single
// logout can reference them later.
type Session struct {
	ID           string    `json:"id"`
	AccountID    string    `json:"account_id"`
	Provider     string    `json:"provider"`
	Backend      string    `json:"backend"`
	ExternalID   string    `json:"external_id"`
	NameID       string    `json:"name_id,omitempty"`
	SessionIndex string    `json:"session_index,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// SessionStore keeps sessions in Redis. Each session lives under its own
// key with a TTL, and a per-account set indexes the session IDs so all of a
// user's sessions can be revoked at once.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionStore creates a session store. A non-positive TTL falls back to
// DefaultSessionTTL.
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{client: client, ttl: ttl}
}

func sessionKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}

func accountSessionsKey(accountID string) string {
	return fmt.Sprintf("account_sessions:%s", accountID)
}

// Create mints a new session for the account. The ID, creation time, and
// expiry are filled in here; everything else comes from the caller.
func (s *SessionStore) Create(ctx context.Context, sess *Session) error {
	now := time.Now().UTC()
	sess.ID = uuid.NewString()
	sess.CreatedAt = now
	sess.ExpiresAt = now.Add(s.ttl)

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(sess.ID), data, s.ttl)
		pipe.SAdd(ctx, accountSessionsKey(sess.AccountID), sess.ID)
		// The index must outlive its longest-lived member. Refreshing it on
		// every login keeps it alive exactly as long as any session can be.
		pipe.Expire(ctx, accountSessionsKey(sess.AccountID), s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// Get loads a session by ID. Expired and revoked sessions both come back as
// ErrSessionNotFound.
func (s *SessionStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}

// Revoke deletes one session and returns the record it held, so the caller
// can log who was signed out and through which provider.
func (s *SessionStore) Revoke(ctx context.Context, id string) (*Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(id))
		pipe.SRem(ctx, accountSessionsKey(sess.AccountID), id)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to revoke session: %w", err)
	}
	return sess, nil
}

// RevokeAll deletes every live session for the account and returns how many
// were removed. Used when an account is suspended or compromised.
func (s *SessionStore) RevokeAll(ctx context.Context, accountID string) (int, error) {
	ids, err := s.client.SMembers(ctx, accountSessionsKey(accountID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list account sessions: %w", err)
	}

	revoked := 0
	for _, id := range ids {
		n, err := s.client.Del(ctx, sessionKey(id)).Result()
		if err != nil {
			return revoked, fmt.Errorf("failed to delete session: %w", err)
		}
		revoked += int(n)
	}
	if err := s.client.Del(ctx, accountSessionsKey(accountID)).Err(); err != nil {
		return revoked, fmt.Errorf("failed to delete session index: %w", err)
	}
	return revoked, nil
}

// Sessions returns the account's live sessions. Index entries whose session
// key has already expired are pruned as a side effect.
func (s *SessionStore) Sessions(ctx context.Context, accountID string) ([]*Session, error) {
	ids, err := s.client.SMembers(ctx, accountSessionsKey(accountID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list account sessions: %w", err)
	}

	sessions := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if err == ErrSessionNotFound {
			s.client.SRem(ctx, accountSessionsKey(accountID), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// Count scans for live session keys. The sweeper uses it to reconcile the
// active-sessions gauge, so it trades accuracy under churn for not blocking
// Redis the way KEYS would.
func (s *SessionStore) Count(ctx context.Context) (int, error) {
	var cursor uint64
	count := 0
	for {
		keys, next, err := s.client.Scan(ctx, cursor, "session:*", 500).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to scan sessions: %w", err)
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}
