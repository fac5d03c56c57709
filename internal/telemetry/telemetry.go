// Package telemetry provides the logging, metrics, and tracing interfaces
// shared by every component of the streaming pipeline.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging used throughout the pipeline. Implementations
// typically delegate to Clue but the interface is intentionally small so tests can
// provide lightweight stubs.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter and histogram helpers for pipeline instrumentation.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so pipeline code can remain agnostic of the
// underlying OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Span represents an in-flight tracing span.
//
// Example usage:
//
//	ctx, span := tracer.Start(ctx, "operation", trace.WithSpanKind(trace.SpanKindInternal))
//	defer span.End()
//	span.SetStatus(codes.Ok, "completed")
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// Provider bundles the three observability surfaces so constructors across the
// pipeline can take a single dependency instead of three.
type Provider struct {
	Logger  Logger
	Metrics Metrics
	Tracer  Tracer
}

// NewNoopProvider returns a Provider backed entirely by no-op implementations,
// suitable as the default in tests and for components that opt out of telemetry.
func NewNoopProvider() Provider {
	return Provider{
		Logger:  NewNoopLogger(),
		Metrics: NewNoopMetrics(),
		Tracer:  NewNoopTracer(),
	}
}

// NewClueProvider returns a Provider backed by goa.design/clue/log and OpenTelemetry.
func NewClueProvider() Provider {
	return Provider{
		Logger:  NewClueLogger(),
		Metrics: NewClueMetrics(),
		Tracer:  NewClueTracer(),
	}
}
