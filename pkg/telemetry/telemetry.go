package telemetry

import (
	"context"
	"errors"

	"github.com/Lol3rrr/cfuzz/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

// Telemetry exposes the exported tracer and, when the collector accepts
// logs, the OTel logger the zap bridge writes to.
type Telemetry interface {
	GetTracer() trace.Tracer
	GetLogger() log.Logger
}

type otlpTelemetry struct {
	tracer trace.Tracer
	logger log.Logger
}

func (t *otlpTelemetry) GetTracer() trace.Tracer { return t.tracer }
func (t *otlpTelemetry) GetLogger() log.Logger   { return t.logger }

type TelemetryParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.AppConfig
}

// NewTelemetry exports spans and logs to OTEL_EXPORTER_OTLP_ENDPOINT. Without
// an endpoint it returns nil, spans become no-ops and logs stay local.
func NewTelemetry(p TelemetryParams) (Telemetry, error) {
	if !p.Config.TelemetryEnabled() {
		return nil, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(p.Config.ServiceName),
	)

	traces, err := newTraceProvider(ctx, p.Config.OtlpEndpoint, res)
	if err != nil {
		cancel()
		return nil, err
	}
	otel.SetTracerProvider(traces)
	otel.SetTextMapPropagator(propagator)

	t := &otlpTelemetry{tracer: traces.Tracer(p.Config.ServiceName)}

	// spans are still exported when the collector has no log pipeline
	logs, err := newLogProvider(ctx, p.Config.OtlpEndpoint, res)
	if err == nil {
		t.logger = logs.Logger(p.Config.ServiceName)
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			defer cancel()
			errs := []error{traces.Shutdown(ctx)}
			if logs != nil {
				errs = append(errs, logs.Shutdown(ctx))
			}
			return errors.Join(errs...)
		},
	})
	return t, nil
}

func newTraceProvider(ctx context.Context, endpoint string, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpointURL(endpoint))
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

func newLogProvider(ctx context.Context, endpoint string, res *resource.Resource) (*sdklog.LoggerProvider, error) {
	exporter, err := otlploggrpc.New(ctx, otlploggrpc.WithEndpointURL(endpoint))
	if err != nil {
		return nil, err
	}
	return sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
		sdklog.WithResource(res),
	), nil
}
