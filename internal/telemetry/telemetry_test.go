package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/patternd/internal/logging"
)

// restoreGlobals puts back the tracer provider and propagator New replaces.
func restoreGlobals(t *testing.T) {
	t.Helper()
	tp := otel.GetTracerProvider()
	prop := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(prop)
	})
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), DefaultConfig(), nil)
	require.NoError(t, err)
	assert.False(t, tel.Enabled())
	assert.NoError(t, tel.ForceFlush(context.Background()))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.SampleRate = 2

	_, err := New(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "invalid telemetry config")
}

func TestNilTelemetry(t *testing.T) {
	var tel *Telemetry
	assert.False(t, tel.Enabled())
	assert.NoError(t, tel.ForceFlush(context.Background()))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_ExportsGlobalSpans(t *testing.T) {
	restoreGlobals(t)
	exp := tracetest.NewInMemoryExporter()
	logs := logging.NewTestLogger()

	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.ServiceVersion = "test"
	tel, err := New(context.Background(), cfg, logs.Logger(), WithSpanExporter(exp))
	require.NoError(t, err)
	require.True(t, tel.Enabled())
	logs.AssertLogged(t, zapcore.InfoLevel, "tracing enabled")

	_, span := otel.Tracer("github.com/fyrsmithlabs/patternd/internal/decision").Start(context.Background(), "decision.decide")
	span.End()
	require.NoError(t, tel.ForceFlush(context.Background()))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "decision.decide", spans[0].Name)

	var service string
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	assert.Equal(t, "patternd", service)

	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_SampleRateZeroDropsRootSpans(t *testing.T) {
	restoreGlobals(t)
	exp := tracetest.NewInMemoryExporter()

	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.SampleRate = 0
	tel, err := New(context.Background(), cfg, nil, WithSpanExporter(exp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	_, span := otel.Tracer("test").Start(context.Background(), "dropped")
	span.End()
	require.NoError(t, tel.ForceFlush(context.Background()))
	assert.Empty(t, exp.GetSpans())
}
