package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys.
//
// Never put credential material (codes, tokens, verifiers, password hashes)
// into a span attribute; traces outlive requests and reach wider audiences
// than the process log. Record metadata: identifiers, methods, outcomes.
const (
	AttrClientID  = "oauth.client_id"
	AttrScope     = "oauth.scope"
	AttrGrantType = "oauth.grant_type"
)

// RecordError records an error on a span with an error status (nil-safe).
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe).
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}
