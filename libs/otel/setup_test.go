package otelx

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func withEnv(t *testing.T, env map[string]string) {
	t.Helper()
	prev := lookupEnv
	lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	t.Cleanup(func() { lookupEnv = prev })
}

func TestConfigFromEnv_Defaults(t *testing.T) {
	withEnv(t, map[string]string{})
	cfg := ConfigFromEnv("booking-service")
	if !cfg.Enabled || cfg.OTLPEndpoint != "jaeger:4317" || cfg.SampleRatio != 1 || cfg.ServiceName != "booking-service" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestConfigFromEnv_Overrides(t *testing.T) {
	withEnv(t, map[string]string{
		"OTEL_ENABLED":                "false",
		"OTEL_EXPORTER_OTLP_ENDPOINT": "collector:4317",
		"OTEL_SAMPLING_RATIO":         "0.25",
	})
	cfg := ConfigFromEnv("booking-service")
	if cfg.Enabled || cfg.OTLPEndpoint != "collector:4317" || cfg.SampleRatio != 0.25 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestConfigFromEnv_BadRatioFallsBack(t *testing.T) {
	withEnv(t, map[string]string{"OTEL_SAMPLING_RATIO": "2"})
	if cfg := ConfigFromEnv("svc"); cfg.SampleRatio != 1 {
		t.Fatalf("expected ratio 1, got %v", cfg.SampleRatio)
	}
}

func TestConfigFromEnv_SecureExporter(t *testing.T) {
	withEnv(t, map[string]string{"OTEL_EXPORTER_OTLP_INSECURE": "false"})
	if cfg := ConfigFromEnv("svc"); cfg.Insecure {
		t.Fatalf("expected secure exporter: %+v", cfg)
	}
}

func TestTraceContextRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	const parent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

	ctx := ContextWithTraceContext(context.Background(), parent, "")
	if !trace.SpanContextFromContext(ctx).IsValid() {
		t.Fatal("expected a remote span context")
	}
	if got, _ := TraceContextStrings(ctx); got != parent {
		t.Fatalf("expected %s, got %s", parent, got)
	}
	if ctx := ContextWithTraceContext(context.Background(), "", ""); trace.SpanContextFromContext(ctx).IsValid() {
		t.Fatal("empty traceparent must not produce a span context")
	}
}
