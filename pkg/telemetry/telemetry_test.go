package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Lol3rrr/cfuzz/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/fx/fxtest"
)

func recordingFactory(t *testing.T) (*TracerFactory, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return &TracerFactory{tracer: provider.Tracer("test")}, recorder
}

func TestDisabledTelemetry(t *testing.T) {
	tel, err := NewTelemetry(TelemetryParams{Lifecycle: fxtest.NewLifecycle(t), Config: &config.AppConfig{}})
	require.NoError(t, err)
	assert.Nil(t, tel)

	var nilFactory *TracerFactory
	span := nilFactory.Start(context.Background(), "run", nil)
	assert.IsType(t, noopSpan{}, span)

	span = NewTracerFactory(TracerFactoryParams{}).Start(context.Background(), "run", JobAttributes("demo", "t1"))
	span.Fail(errors.New("ignored"))
	assert.IsType(t, noopSpan{}, span.Child("collect"))
	assert.Empty(t, span.Carrier())
	span.End()
}

func TestSpanRecordsJobAttributes(t *testing.T) {
	factory, recorder := recordingFactory(t)

	span := factory.Start(context.Background(), "fuzz iteration", JobAttributes("demo", "t1").WithIteration(2))
	child := span.Child("collect")
	child.End()
	span.SetAttributes(EmptySpanAttributes().WithArtifacts(3))
	span.Event("cancelled", attribute.Bool("by_timeout", true))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "collect", spans[0].Name())
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())

	root := spans[1]
	assert.Equal(t, "fuzz iteration", root.Name())
	assert.Contains(t, root.Attributes(), attribute.String("fuzz.project", "demo"))
	assert.Contains(t, root.Attributes(), attribute.Int("fuzz.iteration", 2))
	assert.Contains(t, root.Attributes(), attribute.Int("fuzz.artifacts", 3))
	require.Len(t, root.Events(), 1)
	assert.Equal(t, "cancelled", root.Events()[0].Name)
	// inherited by the child
	assert.Contains(t, spans[0].Attributes(), attribute.String("fuzz.job", "t1"))
	assert.NotContains(t, spans[0].Attributes(), attribute.Int("fuzz.artifacts", 3))
}

func TestFailMarksSpan(t *testing.T) {
	factory, recorder := recordingFactory(t)

	span := factory.Start(context.Background(), "fuzz iteration", nil)
	span.Fail(nil)
	span.Fail(errors.New("checkout failed"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "checkout failed", spans[0].Status().Description)
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
}

func TestCarrierHoldsTraceParent(t *testing.T) {
	factory, _ := recordingFactory(t)

	span := factory.Start(context.Background(), "fuzz iteration", nil)
	defer span.End()

	var carrier map[string]string
	require.NoError(t, json.Unmarshal([]byte(span.Carrier()), &carrier))
	assert.Contains(t, carrier["traceparent"], span.(*otelSpan).span.SpanContext().TraceID().String())
}

func TestMergeKeepsExistingValues(t *testing.T) {
	attrs := JobAttributes("demo", "t1").WithExtraAttribute("runner", "cargo-fuzz")
	attrs.Merge(JobAttributes("other", "t2").WithIteration(1).WithExtraAttribute("runner", "x"))

	got := attrs.Attributes()
	assert.Contains(t, got, attribute.String("fuzz.project", "demo"))
	assert.Contains(t, got, attribute.Int("fuzz.iteration", 1))
	assert.Contains(t, got, attribute.String("runner", "cargo-fuzz"))
}
