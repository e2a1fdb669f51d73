package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/talkback"

// Span attribute keys shared by the pipeline and the HTTP layer.
const (
	AttrRequestID = attribute.Key("talkback.request_id")
	AttrStage     = attribute.Key("talkback.stage")
)

// Tracer returns the talkback tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// RequestSpan starts a span that belongs to one chat request. Every span of
// a run carries the request ID, so a trace can be joined to the workspace
// and log lines of the same request.
func RequestSpan(ctx context.Context, name, requestID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append([]attribute.KeyValue{AttrRequestID.String(requestID)}, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(attrs...))
}

// CorrelationID returns the trace ID of the span in ctx, or "" without one.
// The middleware echoes it to clients in the X-Correlation-ID header.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger, with trace_id and span_id attached when
// ctx carries a span.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
