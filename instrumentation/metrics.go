package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metric instruments for the identity provider. All
// Record* methods are nil-safe so callers never guard on instrumentation
// being wired.
type Metrics struct {
	// Protocol flow
	RegistrationsTotal   metric.Int64Counter
	AuthorizationStarted metric.Int64Counter
	CodesIssued          metric.Int64Counter
	CodesExchanged       metric.Int64Counter
	TokensRefreshed      metric.Int64Counter

	// Security
	AuthFailuresTotal    metric.Int64Counter
	PKCEValidationFailed metric.Int64Counter
	RateLimitExceeded    metric.Int64Counter

	// Storage
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RegistrationsTotal, err = meter.Int64Counter(
		"idp.registrations.total",
		metric.WithDescription("Total user registrations"),
	)
	if err != nil {
		return nil, fmt.Errorf("registrations counter: %w", err)
	}

	m.AuthorizationStarted, err = meter.Int64Counter(
		"idp.authorization.started.total",
		metric.WithDescription("Total authorization requests created"),
	)
	if err != nil {
		return nil, fmt.Errorf("authorization counter: %w", err)
	}

	m.CodesIssued, err = meter.Int64Counter(
		"idp.codes.issued.total",
		metric.WithDescription("Total authorization codes issued"),
	)
	if err != nil {
		return nil, fmt.Errorf("codes issued counter: %w", err)
	}

	m.CodesExchanged, err = meter.Int64Counter(
		"idp.codes.exchanged.total",
		metric.WithDescription("Total authorization codes exchanged for tokens"),
	)
	if err != nil {
		return nil, fmt.Errorf("codes exchanged counter: %w", err)
	}

	m.TokensRefreshed, err = meter.Int64Counter(
		"idp.tokens.refreshed.total",
		metric.WithDescription("Total refresh grants served"),
	)
	if err != nil {
		return nil, fmt.Errorf("tokens refreshed counter: %w", err)
	}

	m.AuthFailuresTotal, err = meter.Int64Counter(
		"idp.auth.failures.total",
		metric.WithDescription("Total authentication and grant failures"),
	)
	if err != nil {
		return nil, fmt.Errorf("auth failures counter: %w", err)
	}

	m.PKCEValidationFailed, err = meter.Int64Counter(
		"idp.pkce.failures.total",
		metric.WithDescription("Total PKCE verification failures"),
	)
	if err != nil {
		return nil, fmt.Errorf("pkce failures counter: %w", err)
	}

	m.RateLimitExceeded, err = meter.Int64Counter(
		"idp.ratelimit.exceeded.total",
		metric.WithDescription("Total rate-limited operations"),
	)
	if err != nil {
		return nil, fmt.Errorf("rate limit counter: %w", err)
	}

	m.StorageOperationTotal, err = meter.Int64Counter(
		"idp.storage.operations.total",
		metric.WithDescription("Total storage operations"),
	)
	if err != nil {
		return nil, fmt.Errorf("storage operations counter: %w", err)
	}

	m.StorageOperationDuration, err = meter.Float64Histogram(
		"idp.storage.operation.duration",
		metric.WithDescription("Storage operation duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("storage duration histogram: %w", err)
	}

	return m, nil
}

// RecordRegistration counts a completed user registration.
func (m *Metrics) RecordRegistration(ctx context.Context) {
	if m == nil {
		return
	}
	m.RegistrationsTotal.Add(ctx, 1)
}

// RecordAuthorizationStarted counts a created authorization request.
func (m *Metrics) RecordAuthorizationStarted(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.AuthorizationStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordCodeIssued counts an issued authorization code.
func (m *Metrics) RecordCodeIssued(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.CodesIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordCodeExchanged counts a successful code exchange.
func (m *Metrics) RecordCodeExchanged(ctx context.Context, clientID, pkceMethod string) {
	if m == nil {
		return
	}
	m.CodesExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("pkce_method", pkceMethod),
	))
}

// RecordTokenRefreshed counts a refresh grant, noting whether the refresh
// token itself was rotated.
func (m *Metrics) RecordTokenRefreshed(ctx context.Context, clientID string, rotated bool) {
	if m == nil {
		return
	}
	m.TokensRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.Bool("rotated", rotated),
	))
}

// RecordAuthFailure counts a failed authentication or grant, labeled by
// failure reason.
func (m *Metrics) RecordAuthFailure(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.AuthFailuresTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordPKCEValidationFailed counts a PKCE mismatch by method.
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context, method string) {
	if m == nil {
		return
	}
	m.PKCEValidationFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
	))
}

// RecordRateLimitExceeded counts a rate-limited operation.
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordStorageOperation counts and times a storage call.
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	)
	m.StorageOperationTotal.Add(ctx, 1, attrs)
	m.StorageOperationDuration.Record(ctx, durationMs, attrs)
}
