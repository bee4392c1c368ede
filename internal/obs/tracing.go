package obs

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "tact-cas"

// InitTracerProvider wires a process-wide SDK tracer provider that writes
// spans to stdout, the same always-sample/batch-exporter shape as
// telemetry.InitTelemetry, trimmed to the one exporter tactcas needs.
// Callers (cmd/tactcas's main) should invoke the returned shutdown func
// before exiting so buffered spans flush.
func InitTracerProvider(ctx context.Context) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// StartSpan starts a span under the tact-cas tracer, mirroring
// telemetry.StartSpan's role as the one place that names the tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// RecordError records err on span and marks the span as failed, a no-op
// when err is nil.
func RecordError(span trace.Span, err error, message string) {
	if err == nil {
		return
	}
	span.RecordError(err, trace.WithAttributes(attribute.String("error.message", message)))
	span.SetStatus(codes.Error, message)
}

// MeasureExecutionTime runs fn inside span, attaching step name and elapsed
// time as attributes and recording any returned error.
func MeasureExecutionTime(ctx context.Context, span trace.Span, name string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	span.SetAttributes(
		attribute.String("execution.step", name),
		attribute.Int64("execution.time_ms", time.Since(start).Milliseconds()),
	)
	RecordError(span, err, name+" failed")
	return err
}
