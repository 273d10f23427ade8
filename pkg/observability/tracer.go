// Package observability wires OpenTelemetry tracing and Prometheus metrics
// around the runtime. Everything is optional: disabled components resolve to
// noop implementations.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerConfig configures the otel tracer provider.
type TracerConfig struct {
	Enabled     bool
	Stdout      bool // export spans to stdout (debugging)
	ServiceName string
}

// Manager owns the tracer provider lifecycle.
type Manager struct {
	tracer   oteltrace.Tracer
	provider *sdktrace.TracerProvider
}

// NewManager builds the tracing stack. With tracing disabled the returned
// manager hands out noop tracers.
func NewManager(cfg TracerConfig) (*Manager, error) {
	if !cfg.Enabled {
		return &Manager{tracer: noop.NewTracerProvider().Tracer("ampere")}, nil
	}

	var opts []sdktrace.TracerProviderOption
	if cfg.Stdout {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)

	name := cfg.ServiceName
	if name == "" {
		name = "ampere"
	}

	return &Manager{
		tracer:   provider.Tracer(name),
		provider: provider,
	}, nil
}

// Tracer returns the configured tracer.
func (m *Manager) Tracer() oteltrace.Tracer {
	return m.tracer
}

// StartSpan opens an otel span.
func (m *Manager) StartSpan(ctx context.Context, name string) (context.Context, oteltrace.Span) {
	return m.tracer.Start(ctx, name)
}

// Shutdown flushes and stops the provider.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
