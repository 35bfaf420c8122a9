// Package otel wires OpenTelemetry tracing for the server and viewer binaries.
package otel

import (
	"context"

	"example.com/mtg_board_viewer/internal/platform/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const envPrefix = "MTG_OTEL_"

// tracingConfig is read from MTG_OTEL_ENDPOINT, MTG_OTEL_ENABLED and
// MTG_OTEL_SAMPLE_RATIO.
type tracingConfig struct {
	Endpoint    string  `env:"ENDPOINT"`
	Enabled     bool    `env:"ENABLED" envDefault:"true"`
	SampleRatio float64 `env:"SAMPLE_RATIO" envDefault:"1"`
}

// Setup initialises tracing for the given service.
//
// Tracing is opt-in: when MTG_OTEL_ENDPOINT is empty or MTG_OTEL_ENABLED is
// false, Setup returns a no-op shutdown function and the global provider
// stays the default no-op one. MTG_OTEL_SAMPLE_RATIO samples that fraction
// of root traces; child spans follow their parent.
func Setup(ctx context.Context, serviceName string) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	var cfg tracingConfig
	if err := config.ParseEnvPrefix(&cfg, envPrefix); err != nil {
		return noop, err
	}
	if !cfg.Enabled || cfg.Endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(cfg.Endpoint),
	)
	if err != nil {
		return noop, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}
