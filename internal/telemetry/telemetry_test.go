package telemetry

import (
	"context"
	"testing"
)

func TestSetup_DisabledIsNoop(t *testing.T) {
	t.Parallel()

	shutdown, err := Setup(context.Background(), Config{}, "test")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}

	_, span := Tracer().Start(context.Background(), "noop")
	if span.SpanContext().IsSampled() {
		t.Error("no-op tracer should not sample")
	}
	span.End()
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	bad := 1.5
	if err := (Config{SampleRatio: &bad}).Validate(); err == nil {
		t.Error("expected error for ratio above 1")
	}
	if err := (Config{}.WithDefaults()).Validate(); err != nil {
		t.Errorf("defaults: %v", err)
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.WithDefaults()
	if cfg.ServiceName != "sbridge" {
		t.Errorf("got service name %q, want sbridge", cfg.ServiceName)
	}
	if cfg.SampleRatio == nil || *cfg.SampleRatio != 1 {
		t.Errorf("got sample ratio %v, want 1", cfg.SampleRatio)
	}
	if cfg.Enabled() {
		t.Error("empty endpoint should disable export")
	}
}
