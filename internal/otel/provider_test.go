package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/mrzor/xfertrace/internal/config"
)

func TestNewResource(t *testing.T) {
	cfg := &config.OTELConfig{ServiceName: "xfertrace-test", ResourceAttributes: "host.name=gpu-01"}

	res, err := NewResource(context.Background(), cfg)
	require.NoError(t, err)

	found := map[string]string{}
	for _, kv := range res.Attributes() {
		found[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "xfertrace-test", found["service.name"])
	assert.Equal(t, "gpu-01", found["host.name"])
}

func TestNewProvider_ExportsToRecorder(t *testing.T) {
	res, err := NewResource(context.Background(), &config.OTELConfig{ServiceName: "xfertrace-test"})
	require.NoError(t, err)

	exporter := tracetest.NewInMemoryExporter()
	tp := NewProvider(res, sdktrace.WithSyncer(exporter))

	_, span := tp.Tracer("test").Start(context.Background(), "xfertrace.query")
	span.End()

	// Shutdown resets the in-memory exporter, so read the spans first.
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "xfertrace.query", spans[0].Name)

	require.NoError(t, ShutdownProvider(context.Background(), tp))
	assert.Empty(t, exporter.GetSpans())
}

func TestInitProvider(t *testing.T) {
	tp, err := InitProvider(context.Background(), &config.OTELConfig{
		ServiceName:      "xfertrace-test",
		ExporterEndpoint: "127.0.0.1:1",
		Insecure:         true,
	})
	require.NoError(t, err, "the exporter connects lazily")
	assert.NotNil(t, tp)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = ShutdownProvider(ctx, tp)
}

func TestShutdownProvider_Nil(t *testing.T) {
	assert.NoError(t, ShutdownProvider(context.Background(), nil))
}
