package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"

	"github.com/openclave/gatehouse/pkg/httputil"
	"github.com/openclave/gatehouse/pkg/observability"
)

// LoginLimitConfig bounds login attempts per client IP and provider over a
// fixed window. Shared across instances through Redis, so the limit holds
// for the deployment, not per replica.
type LoginLimitConfig struct {
	Window      time.Duration
	MaxAttempts int
}

// DefaultLoginLimitConfig allows 10 login starts per minute per IP and
// provider. Humans retyping passwords at the IdP never hit this; credential
// stuffing and assertion-fuzzing scripts do.
func DefaultLoginLimitConfig() LoginLimitConfig {
	return LoginLimitConfig{
		Window:      time.Minute,
		MaxAttempts: 10,
	}
}

// LoginRateLimiter implements Redis-backed fixed-window rate limiting for
// the login endpoints.
type LoginRateLimiter struct {
	redis   *redis.Client
	config  LoginLimitConfig
	metrics *observability.Metrics
	logger  *observability.Logger
	prefix  string
}

// NewLoginRateLimiter creates a Redis-backed login rate limiter.
func NewLoginRateLimiter(redisClient *redis.Client, config LoginLimitConfig, metrics *observability.Metrics, logger *observability.Logger) *LoginRateLimiter {
	if config.Window <= 0 || config.MaxAttempts <= 0 {
		config = DefaultLoginLimitConfig()
	}
	return &LoginRateLimiter{
		redis:   redisClient,
		config:  config,
		metrics: metrics,
		logger:  logger.WithComponent("ratelimit"),
		prefix:  "ratelimit:login",
	}
}

// Allow checks whether another attempt fits in the current window. On Redis
// errors it fails open: rate limiting protects against abuse, it must not
// become the outage that takes login down.
func (rl *LoginRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, rl.config.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}

	return incr.Val() <= int64(rl.config.MaxAttempts), nil
}

// RetryAfter returns how long until the window for key resets.
func (rl *LoginRateLimiter) RetryAfter(ctx context.Context, key string) time.Duration {
	ttl, err := rl.redis.TTL(ctx, fmt.Sprintf("%s:%s", rl.prefix, key)).Result()
	if err != nil || ttl < 0 {
		return rl.config.Window
	}
	return ttl
}

// Reset clears the window for a key. Used by tests and support tooling.
func (rl *LoginRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, fmt.Sprintf("%s:%s", rl.prefix, key)).Err()
}

// Handler wraps the login endpoints. The key is client IP plus provider, so
// one abused provider does not lock a NAT'd office out of the others.
func (rl *LoginRateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provider := mux.Vars(r)["provider"]
		if provider == "" {
			provider = r.URL.Query().Get("idp")
		}
		if provider == "" {
			provider = "default"
		}
		key := ClientIP(r) + ":" + provider

		allowed, err := rl.Allow(r.Context(), key)
		if err != nil {
			rl.logger.WithError(err).Warn("rate limiter unavailable, failing open")
		}
		if !allowed {
			if rl.metrics != nil {
				rl.metrics.RateLimitedRequestsTotal.WithLabelValues(provider).Inc()
			}
			retryAfter := rl.RetryAfter(r.Context(), key)
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			httputil.WriteTooManyRequests(w, "too many login attempts, retry later")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ClientIP extracts the client address, preferring the first hop recorded in
// X-Forwarded-For since the broker normally sits behind a TLS-terminating
// proxy.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.Index(fwd, ","); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
