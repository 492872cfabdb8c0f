package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds OpenTelemetry metric instruments for the authentication
// pipeline. HTTP-level instruments come from otelhttp on the server handler;
// these cover the login flow itself.
type OTelMetrics struct {
	loginsStarted   metric.Int64Counter
	loginsCompleted metric.Int64Counter
	loginDuration   metric.Float64Histogram
	replaysBlocked  metric.Int64Counter

	sessionsActive metric.Int64UpDownCounter
	sessionsIssued metric.Int64Counter

	providerReloads metric.Int64Counter
}

// NewOTelMetrics creates a new OTel metrics instance
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("github.com/openclave/gatehouse")

	m := &OTelMetrics{}
	var err error

	m.loginsStarted, err = meter.Int64Counter(
		"auth.logins.started",
		metric.WithDescription("Logins forwarded to an identity provider"),
		metric.WithUnit("{login}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create logins_started counter: %w", err)
	}

	m.loginsCompleted, err = meter.Int64Counter(
		"auth.logins.completed",
		metric.WithDescription("Login callbacks processed, by outcome"),
		metric.WithUnit("{login}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create logins_completed counter: %w", err)
	}

	m.loginDuration, err = meter.Float64Histogram(
		"auth.login.duration",
		metric.WithDescription("Login callback processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create login_duration histogram: %w", err)
	}

	m.replaysBlocked, err = meter.Int64Counter(
		"auth.replays.blocked",
		metric.WithDescription("Assertion replays refused"),
		metric.WithUnit("{assertion}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create replays_blocked counter: %w", err)
	}

	m.sessionsActive, err = meter.Int64UpDownCounter(
		"auth.sessions.active",
		metric.WithDescription("Sessions currently live"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions_active gauge: %w", err)
	}

	m.sessionsIssued, err = meter.Int64Counter(
		"auth.sessions.issued",
		metric.WithDescription("Sessions issued after successful logins"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions_issued counter: %w", err)
	}

	m.providerReloads, err = meter.Int64Counter(
		"auth.provider.reloads",
		metric.WithDescription("Provider configuration reloads"),
		metric.WithUnit("{reload}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider_reloads counter: %w", err)
	}

	return m, nil
}

// RecordLoginStarted records a login being forwarded to an identity provider
func (m *OTelMetrics) RecordLoginStarted(ctx context.Context, backend, provider string) {
	m.loginsStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("auth.backend", backend),
		attribute.String("auth.provider", provider),
	))
}

// RecordLoginCompleted records a processed login callback and its outcome
func (m *OTelMetrics) RecordLoginCompleted(ctx context.Context, backend, provider, outcome string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("auth.backend", backend),
		attribute.String("auth.provider", provider),
		attribute.String("auth.outcome", outcome),
	}
	m.loginsCompleted.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.loginDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordReplayBlocked records a refused assertion replay
func (m *OTelMetrics) RecordReplayBlocked(ctx context.Context, provider string) {
	m.replaysBlocked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("auth.provider", provider),
	))
}

// SessionOpened records a session being issued
func (m *OTelMetrics) SessionOpened(ctx context.Context, provider string) {
	m.sessionsActive.Add(ctx, 1)
	m.sessionsIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("auth.provider", provider),
	))
}

// SessionClosed records a session ending, whatever the reason
func (m *OTelMetrics) SessionClosed(ctx context.Context) {
	m.sessionsActive.Add(ctx, -1)
}

// RecordProviderReload records a provider configuration reload attempt
func (m *OTelMetrics) RecordProviderReload(ctx context.Context, source string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.providerReloads.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reload.source", source),
		attribute.String("reload.status", status),
	))
}
