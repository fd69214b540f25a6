package telemetry

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// propagator encodes span contexts handed to event consumers.
var propagator = propagation.NewCompositeTextMapPropagator(
	propagation.TraceContext{},
	propagation.Baggage{},
)

// Span is one traced step of a job, usually a single fuzz iteration.
type Span interface {
	SetAttributes(attrs *SpanAttributes)
	Event(name string, attrs ...attribute.KeyValue)
	// Fail marks the span as failed; a nil error is ignored.
	Fail(err error)
	Child(name string) Span
	// Carrier returns the W3C trace context as a JSON object, empty when not traced.
	Carrier() string
	End()
}

type otelSpan struct {
	ctx    context.Context // carries span, children hang off it
	tracer trace.Tracer
	span   trace.Span
	attrs  *SpanAttributes
}

func startSpan(ctx context.Context, tracer trace.Tracer, name string, attrs *SpanAttributes) *otelSpan {
	own := EmptySpanAttributes()
	own.Merge(attrs)
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(own.Attributes()...))
	return &otelSpan{ctx: ctx, tracer: tracer, span: span, attrs: own}
}

func (s *otelSpan) SetAttributes(attrs *SpanAttributes) {
	s.attrs.Merge(attrs)
	s.span.SetAttributes(s.attrs.Attributes()...)
}

func (s *otelSpan) Event(name string, attrs ...attribute.KeyValue) {
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

func (s *otelSpan) Fail(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func (s *otelSpan) Child(name string) Span {
	return startSpan(s.ctx, s.tracer, name, s.attrs)
}

func (s *otelSpan) Carrier() string {
	carrier := propagation.MapCarrier{}
	propagator.Inject(s.ctx, carrier)
	payload, err := json.Marshal(carrier)
	if err != nil {
		return ""
	}
	return string(payload)
}

func (s *otelSpan) End() {
	s.span.End()
}

// noopSpan is handed out while telemetry is disabled.
type noopSpan struct{}

func (noopSpan) SetAttributes(*SpanAttributes)       {}
func (noopSpan) Event(string, ...attribute.KeyValue) {}
func (noopSpan) Fail(error)                          {}
func (n noopSpan) Child(string) Span                 { return n }
func (noopSpan) Carrier() string                     { return "" }
func (noopSpan) End()                                {}
