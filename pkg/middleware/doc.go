// Package middleware provides HTTP middleware for the broker: request
// identification, session resolution, admin API protection, and login rate
// limiting.
//
// # Middleware Components
//
// RequestIDMiddleware: tags every request with an ID for log, audit, and
// trace correlation
//
//	router.Use(middleware.RequestIDMiddleware)
//
// SessionMiddleware: resolves the session cookie (or bearer token) to a
// live session and attaches it to the request context
//
//	sessions := middleware.NewSessionMiddleware(b.Sessions(), false)
//	protected.Use(sessions.Handler)
//
// AdminTokenMiddleware: static bearer token guard for the admin API; an
// empty token disables the admin surface
//
//	admin.Use(middleware.AdminTokenMiddleware(adminToken))
//
// LoginRateLimiter: Redis-backed fixed-window limiting of login starts,
// keyed by client IP and provider
//
//	limiter := middleware.NewLoginRateLimiter(redisClient, cfg, metrics, logger)
//	login.Use(limiter.Handler)
//
// # Rate Limiting
//
// The limiter shares its counters through Redis so the limit holds across
// replicas, and fails open when Redis is unreachable: it exists to blunt
// credential stuffing, not to add an availability dependency to login.
//
// # Related Packages
//
//   - pkg/broker: session store and login endpoints
//   - pkg/httputil: generic logging/recovery/CORS middleware
package middleware
