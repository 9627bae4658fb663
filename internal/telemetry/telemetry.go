// Package telemetry configures OpenTelemetry tracing. With no OTLP endpoint
// configured the global tracer provider stays the no-op default.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the tracer name used by every bridge component.
const InstrumentationName = "github.com/flemzord/sbridge"

// Config holds tracing settings.
type Config struct {
	// OTLPEndpoint is the OTLP/HTTP collector, e.g. "localhost:4318".
	// Empty disables export.
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS towards the collector.
	Insecure bool `yaml:"insecure"`

	// ServiceName is reported as the service.name resource attribute.
	ServiceName string `yaml:"service_name"`

	// SampleRatio is the fraction of root spans sampled, in [0, 1].
	SampleRatio *float64 `yaml:"sample_ratio"`
}

// WithDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.ServiceName == "" {
		c.ServiceName = "sbridge"
	}
	if c.SampleRatio == nil {
		r := 1.0
		c.SampleRatio = &r
	}
	return c
}

// Validate checks the sample ratio range.
func (c Config) Validate() error {
	if c.SampleRatio != nil && (*c.SampleRatio < 0 || *c.SampleRatio > 1) {
		return fmt.Errorf("telemetry: sample_ratio must be within [0, 1], got %v", *c.SampleRatio)
	}
	return nil
}

// Enabled reports whether spans are exported.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.OTLPEndpoint) != ""
}

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// Setup installs a global tracer provider exporting to cfg.OTLPEndpoint.
// When export is disabled it returns a no-op shutdown.
func Setup(ctx context.Context, cfg Config, version string) (ShutdownFunc, error) {
	cfg = cfg.WithDefaults()
	if !cfg.Enabled() {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", version),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(*cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(tp.ForceFlush(ctx), tp.Shutdown(ctx))
	}, nil
}

// Tracer returns the bridge tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}
