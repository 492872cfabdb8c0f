package performance

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/openclave/gatehouse/pkg/broker"
	"github.com/openclave/gatehouse/pkg/middleware"
	"github.com/openclave/gatehouse/pkg/observability"
)

func benchRedis(b *testing.B) *redis.Client {
	b.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		b.Fatalf("failed to start redis: %v", err)
	}
	b.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b.Cleanup(func() { client.Close() })
	return client
}

// BenchmarkSessionCreate measures session minting throughput, the hot write
// on every completed login.
func BenchmarkSessionCreate(b *testing.B) {
	store := broker.NewSessionStore(benchRedis(b), time.Hour)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sess := &broker.Session{
			AccountID:  fmt.Sprintf("acct-%d", i%100),
			Provider:   "corp-okta",
			Backend:    "saml",
			ExternalID: fmt.Sprintf("corp-okta:emp-%d", i),
		}
		if err := store.Create(ctx, sess); err != nil {
			b.Fatalf("create failed: %v", err)
		}
	}
}

// BenchmarkSessionGet measures session resolution, the hot read on every
// authenticated request.
func BenchmarkSessionGet(b *testing.B) {
	store := broker.NewSessionStore(benchRedis(b), time.Hour)
	ctx := context.Background()

	sess := &broker.Session{AccountID: "acct-1", Provider: "corp-okta", Backend: "saml"}
	if err := store.Create(ctx, sess); err != nil {
		b.Fatalf("create failed: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := store.Get(ctx, sess.ID); err != nil {
			b.Fatalf("get failed: %v", err)
		}
	}
}

// BenchmarkReplayGuardConsume measures the replay check on the assertion
// callback path.
func BenchmarkReplayGuardConsume(b *testing.B) {
	guard := broker.NewReplayGuard(benchRedis(b), 10*time.Minute)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := guard.Consume(ctx, fmt.Sprintf("_assertion-%d", i)); err != nil {
			b.Fatalf("consume failed: %v", err)
		}
	}
}

// BenchmarkRateLimiterAllow measures the per-request cost of the login rate
// limit check.
func BenchmarkRateLimiterAllow(b *testing.B) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	limiter := middleware.NewLoginRateLimiter(benchRedis(b), middleware.LoginLimitConfig{
		Window:      time.Minute,
		MaxAttempts: 1 << 30,
	}, metrics, logger)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		allowed, err := limiter.Allow(ctx, "198.51.100.7:corp-okta")
		if err != nil {
			b.Fatalf("allow failed: %v", err)
		}
		if !allowed {
			b.Fatal("limiter rejected under an unreachable threshold")
		}
	}
}

// BenchmarkSessionRevokeAll measures bulk revocation, the admin and
// suspension path, across varying session counts.
func BenchmarkSessionRevokeAll(b *testing.B) {
	for _, count := range []int{1, 10, 100} {
		b.Run(fmt.Sprintf("sessions-%d", count), func(b *testing.B) {
			store := broker.NewSessionStore(benchRedis(b), time.Hour)
			ctx := context.Background()

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				b.StopTimer()
				accountID := fmt.Sprintf("acct-%d", i)
				for j := 0; j < count; j++ {
					sess := &broker.Session{AccountID: accountID, Provider: "corp-okta", Backend: "saml"}
					if err := store.Create(ctx, sess); err != nil {
						b.Fatalf("create failed: %v", err)
					}
				}
				b.StartTimer()

				revoked, err := store.RevokeAll(ctx, accountID)
				if err != nil {
					b.Fatalf("revoke failed: %v", err)
				}
				if revoked != count {
					b.Fatalf("expected %d revoked, got %d", count, revoked)
				}
			}
		})
	}
}
