package otelcol

import (
	"context"
	"errors"

	"merchant-voucher/pkg/config"
	"merchant-voucher/pkg/otelcol/exporters"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("otelcol",
	fx.Provide(
		exporters.Provide,
		NewResource,
		NewTracerProvider,
		NewMeterProvider,
		func(tp *sdktrace.TracerProvider) trace.TracerProvider { return tp },
		func(mp *sdkmetric.MeterProvider) metric.MeterProvider { return mp },
	),
	fx.Invoke(register),
)

func NewResource(cfg *config.Config) (*resource.Resource, error) {
	return resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.AppName),
		attribute.String("service.version", cfg.AppVersion),
		attribute.String("deployment.environment", cfg.AppEnv),
	))
}

func NewTracerProvider(res *resource.Resource, exporter *otlptrace.Exporter) *sdktrace.TracerProvider {
	if exporter == nil {
		return ProvideTrace(nil, sdktrace.WithResource(res))
	}
	return ProvideTrace(exporter, sdktrace.WithResource(res))
}

func NewMeterProvider(res *resource.Resource) *sdkmetric.MeterProvider {
	return ProvideMetric(nil, sdkmetric.WithResource(res))
}

func defaultTraceProviderOption() []sdktrace.TracerProviderOption {
	return []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.Default()),
	}
}

// ProvideTrace builds a tracer provider batching into exporter. A nil
// exporter records spans without shipping them.
func ProvideTrace(exporter sdktrace.SpanExporter, opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	if len(opts) == 0 {
		opts = defaultTraceProviderOption()
	}

	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	return sdktrace.NewTracerProvider(opts...)
}

func defaultMetricProviderOption() []sdkmetric.Option {
	return []sdkmetric.Option{
		sdkmetric.WithResource(resource.Default()),
	}
}

func ProvideMetric(reader sdkmetric.Reader, opts ...sdkmetric.Option) *sdkmetric.MeterProvider {
	if len(opts) == 0 {
		opts = defaultMetricProviderOption()
	}

	if reader != nil {
		opts = append(opts, sdkmetric.WithReader(reader))
	}

	return sdkmetric.NewMeterProvider(opts...)
}

func register(lc fx.Lifecycle, tp *sdktrace.TracerProvider, mp *sdkmetric.MeterProvider) {
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			zap.L().Info("flushing telemetry providers")
			return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
		},
	})
}
