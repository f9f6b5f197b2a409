package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanManager handles trace span lifecycle.
// Use NewSpanManager for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartFlowSpan starts the span covering a whole flow run.
	StartFlowSpan(ctx context.Context, flowID, framework string) (context.Context, trace.Span)

	// StartPhaseSpan starts a child span for one local phase.
	StartPhaseSpan(ctx context.Context, phase string) (context.Context, trace.Span)

	// StartAttemptSpan starts a child span for one remote call.
	StartAttemptSpan(ctx context.Context, target string, attempt int) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct {
	tracer trace.Tracer
}

// NewSpanManager returns a SpanManager backed by tp. A nil provider
// selects the global one.
func NewSpanManager(tp trace.TracerProvider) SpanManager {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &otelSpanManager{tracer: tp.Tracer("compflow")}
}

func (m *otelSpanManager) StartFlowSpan(ctx context.Context, flowID, framework string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "compflow.flow",
		trace.WithAttributes(
			attribute.String("flow.id", flowID),
			attribute.String("flow.framework", framework),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartPhaseSpan(ctx context.Context, phase string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "compflow.phase."+phase,
		trace.WithAttributes(attribute.String("phase", phase)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartAttemptSpan(ctx context.Context, target string, attempt int) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "compflow.remote",
		trace.WithAttributes(
			attribute.String("remote.target", target),
			attribute.Int("remote.attempt", attempt),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	AddSpanEvent(ctx, name, attrs...)
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span in context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
