// Package instrumentation provides OpenTelemetry metrics and tracing for the
// identity provider: protocol-operation counters, storage operation timings,
// and tracers for the storage backends. When disabled it degrades to no-op
// providers with zero overhead, so the engine never branches on whether
// observability is wired.
package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// DefaultServiceName is used when no service name is configured.
const DefaultServiceName = "strand"

// Config holds instrumentation configuration.
type Config struct {
	// ServiceName identifies this deployment in telemetry.
	ServiceName string

	// ServiceVersion is the running version.
	ServiceVersion string

	// Enabled controls whether real providers are used. When false, no-op
	// providers are installed and every Record* call is free.
	Enabled bool

	// Resource overrides the default resource attributes.
	Resource *resource.Resource
}

// Instrumentation bundles the meter, tracer, and pre-built instruments.
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	meter          metric.Meter
	tracer         trace.Tracer
	metrics        *Metrics
}

// New creates an Instrumentation instance. With Enabled=true the globally
// registered OpenTelemetry providers are used, so the embedding application
// decides where telemetry goes (stdout, OTLP, Prometheus bridge).
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}

	inst := &Instrumentation{config: config}

	if config.Resource != nil {
		inst.resource = config.Resource
	} else {
		res, err := resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
		inst.resource = res
	}

	if config.Enabled {
		inst.meterProvider = otel.GetMeterProvider()
		inst.tracerProvider = otel.GetTracerProvider()
	} else {
		inst.meterProvider = noop.NewMeterProvider()
		inst.tracerProvider = tracenoop.NewTracerProvider()
	}

	inst.meter = inst.meterProvider.Meter(config.ServiceName)
	inst.tracer = inst.tracerProvider.Tracer(config.ServiceName)

	metrics, err := newMetrics(inst.meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	inst.metrics = metrics

	return inst, nil
}

// Meter returns the configured meter.
func (i *Instrumentation) Meter() metric.Meter {
	return i.meter
}

// Tracer returns the configured tracer.
func (i *Instrumentation) Tracer() trace.Tracer {
	return i.tracer
}

// Metrics returns the pre-built metric instruments.
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// Resource returns the telemetry resource attributes.
func (i *Instrumentation) Resource() *resource.Resource {
	return i.resource
}
