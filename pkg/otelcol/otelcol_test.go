package otelcol

import (
	"context"
	"testing"

	"merchant-voucher/pkg/config"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestProvideTraceRecordsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := ProvideTrace(exporter)

	_, span := tp.Tracer("test").Start(context.Background(), "replay")
	span.End()
	require.NoError(t, tp.ForceFlush(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "replay", spans[0].Name)
	require.NoError(t, tp.Shutdown(context.Background()))
}

func TestNewResourceCarriesServiceName(t *testing.T) {
	cfg := &config.Config{AppName: "voucherd", AppEnv: "test"}
	res, err := NewResource(cfg)
	require.NoError(t, err)

	found := false
	for _, kv := range res.Attributes() {
		if string(kv.Key) == "service.name" {
			found = kv.Value.AsString() == "voucherd"
		}
	}
	require.True(t, found)
}

func TestNewTracerProviderWithoutExporter(t *testing.T) {
	res, err := NewResource(&config.Config{AppName: "voucherd"})
	require.NoError(t, err)

	tp := NewTracerProvider(res, nil)
	require.NotNil(t, tp)
	require.NoError(t, tp.Shutdown(context.Background()))
}
