// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Overview
//
// This package centralizes observability infrastructure for the
// authentication service: JSON logging, login and session metrics, health
// checks against the backing stores, and distributed tracing integration.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithProvider("corp-okta").Info("login started")
//
// Context-aware logging:
//
//	observability.FromContext(ctx).WithError(err).Error("login callback failed")
//
// # Prometheus Metrics
//
// Initialize metrics:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.LoginsCompletedTotal.WithLabelValues("saml", "corp-okta", observability.LoginOutcomeSuccess).Inc()
//	metrics.SessionsActive.Inc()
//
// # Health Checks
//
// Configure health checker:
//
//	checker := observability.NewHealthChecker(db, redisClient).WithVersion(version)
//	observability.RegisterHealthRoutes(opsMux, checker)
//
// The database is required; Redis being down degrades the instance because
// the replay guard refuses new logins without it.
//
// # OpenTelemetry
//
// Initialize tracing:
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		ServiceName: "gatehouse",
//		Endpoint:    "otel-collector:4317",
//	}, logger)
//	defer providers.Shutdown(ctx, logger)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/middleware: Request logging middleware
package observability
