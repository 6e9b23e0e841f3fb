package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/yalda00/nexhacks-aura2.0"

// Span names used by the dialogue pipeline. A turn span parents the three
// provider spans.
const (
	SpanTurn       = "turn.process"
	SpanTranscribe = "stt.transcribe"
	SpanGenerate   = "llm.generate"
	SpanSynthesize = "tts.synthesize"
)

// StartSpan starts a span on the global tracer provider. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// FailSpan records err on span and marks it failed. A nil err is a no-op.
func FailSpan(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// CorrelationID returns the trace ID of the span in ctx, or "". It is also
// sent back to HTTP callers as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger is [LoggerFrom] applied to the default logger.
func Logger(ctx context.Context) *slog.Logger {
	return LoggerFrom(ctx, slog.Default())
}

// LoggerFrom adds trace_id and span_id to l when ctx carries a span, so turn
// logs can be joined with their traces.
func LoggerFrom(ctx context.Context, l *slog.Logger) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return l
	}
	return l.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
