package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/openclave/gatehouse/pkg/saml"
)

// DefaultReplayWindow is how long a consumed assertion digest is remembered.
// It must cover the widest NotOnOrAfter window an IdP will issue plus clock
// skew; after that the assertion is expired anyway and fails time validation.
const DefaultReplayWindow = 10 * time.Minute

// ReplayGuard remembers the digest of every SAML response this deployment
// has consumed, across all instances, so a captured response cannot be
// submitted twice. The guard fails closed: if Redis is unreachable the login
// is rejected rather than risking a replayed assertion.
type ReplayGuard struct {
	client *redis.Client
	window time.Duration
}

// NewReplayGuard creates a replay guard. A non-positive window falls back to
// DefaultReplayWindow.
func NewReplayGuard(client *redis.Client, window time.Duration) *ReplayGuard {
	if window <= 0 {
		window = DefaultReplayWindow
	}
	return &ReplayGuard{client: client, window: window}
}

func replayKey(digest string) string {
	return fmt.Sprintf("replay:%s", digest)
}

// Consume claims the digest for this login. The first caller wins; any later
// call within the window gets a replay rejection.
func (g *ReplayGuard) Consume(ctx context.Context, digest string) error {
	ok, err := g.client.SetNX(ctx, replayKey(digest), "1", g.window).Result()
	if err != nil {
		return fmt.Errorf("replay check failed: %w", err)
	}
	if !ok {
		return &saml.ProtocolValidationError{
			Stage:  saml.StageReplay,
			Reason: "response has already been consumed",
		}
	}
	return nil
}

// Pending reports how many consumed digests are still inside their replay
// window. Exposed for operational visibility; the count is approximate under
// concurrent logins.
func (g *ReplayGuard) Pending(ctx context.Context) (int, error) {
	var cursor uint64
	count := 0
	for {
		keys, next, err := g.client.Scan(ctx, cursor, "replay:*", 500).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to scan replay keys: %w", err)
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}
