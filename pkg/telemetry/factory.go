package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

// TracerFactory starts spans on the exported tracer. A nil factory, or one
// built without telemetry, only hands out no-op spans.
type TracerFactory struct {
	tracer trace.Tracer
}

type TracerFactoryParams struct {
	fx.In
	Telemetry Telemetry `optional:"true"`
}

func NewTracerFactory(p TracerFactoryParams) *TracerFactory {
	if p.Telemetry == nil {
		return &TracerFactory{}
	}
	return &TracerFactory{tracer: p.Telemetry.GetTracer()}
}

func (f *TracerFactory) Start(ctx context.Context, name string, attrs *SpanAttributes) Span {
	if f == nil || f.tracer == nil {
		return noopSpan{}
	}
	return startSpan(ctx, f.tracer, name, attrs)
}

var Module = fx.Module("telemetry",
	fx.Provide(
		NewTelemetry,
		NewTracerFactory,
	),
)
