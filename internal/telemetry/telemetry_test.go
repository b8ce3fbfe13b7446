package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/aescanero/dagrun/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTracerProvider_None(t *testing.T) {
	tp, err := newTracerProvider(context.Background(), config.TracingConfig{Exporter: config.ExporterNone}, "test", nil)
	require.NoError(t, err)
	assert.Nil(t, tp)

	shutdown, err := Setup(context.Background(), config.TracingConfig{Exporter: config.ExporterNone}, "test")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestNewTracerProvider_Stdout(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.TracingConfig{Exporter: config.ExporterStdout, ServiceName: "dagrun"}

	tp, err := newTracerProvider(context.Background(), cfg, "v1.2.3", &buf)
	require.NoError(t, err)
	require.NotNil(t, tp)

	_, span := tp.Tracer("test").Start(context.Background(), "ExecuteRun")
	span.End()

	require.NoError(t, tp.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), `"Name":"ExecuteRun"`)
	assert.Contains(t, buf.String(), "v1.2.3")
}

func TestNewTracerProvider_Unsupported(t *testing.T) {
	_, err := newTracerProvider(context.Background(), config.TracingConfig{Exporter: "zipkin"}, "test", nil)
	require.Error(t, err)
}
