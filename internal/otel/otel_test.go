package otel

import (
	"context"
	"testing"

	"github.com/basket/gotodo/internal/config"
)

func TestInit_Disabled(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init disabled: %v", err)
	}
	if p.Tracer == nil || p.Meter == nil {
		t.Fatal("expected noop tracer and meter")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestInit_NoneExporter(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: true, Exporter: "none", SampleRate: 0.5})
	if err != nil {
		t.Fatalf("Init with none exporter: %v", err)
	}
	defer p.Shutdown(context.Background())

	if p.TracerProvider == nil {
		t.Fatal("expected non-nil TracerProvider")
	}
	ctx, span := StartSpan(context.Background(), p.Tracer, "schedule.import", AttrBatchID.String("b-1"))
	if !span.SpanContext().IsValid() {
		t.Fatal("expected a recording span context")
	}
	span.End()
	_ = ctx
}

func TestInit_UnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), Config{Enabled: true, Exporter: "zipkin"})
	if err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestFromConfig(t *testing.T) {
	got := FromConfig(config.TelemetryConfig{
		Enabled:     true,
		Exporter:    "otlp-http",
		Endpoint:    "collector:4318",
		ServiceName: "gotodo-dev",
		SampleRate:  0.25,
	})
	if !got.Enabled || got.Exporter != "otlp-http" || got.Endpoint != "collector:4318" ||
		got.ServiceName != "gotodo-dev" || got.SampleRate != 0.25 {
		t.Fatalf("unexpected mapping %+v", got)
	}
}
