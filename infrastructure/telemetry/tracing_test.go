package telemetry

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestNewTracingProvider_Disabled(t *testing.T) {
	p, err := NewTracingProvider(context.Background(), TracingConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewTracingProvider() error = %v", err)
	}

	_, span := p.Tracer().Start(context.Background(), "trainer.run")
	if span.SpanContext().IsValid() {
		t.Error("disabled tracing produced a recording span")
	}
	span.End()

	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNewTracingProvider_Stdout(t *testing.T) {
	buf := &bytes.Buffer{}
	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	cfg.Writer = buf

	p, err := NewTracingProvider(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewTracingProvider() error = %v", err)
	}

	_, span := p.Tracer().Start(context.Background(), "trainer.worker")
	if !span.SpanContext().IsValid() {
		t.Error("expected a valid span context")
	}
	span.End()

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if !strings.Contains(buf.String(), "trainer.worker") {
		t.Errorf("exported spans missing trainer.worker: %s", buf.String())
	}
}

func TestNewTracingProvider_UnknownExporter(t *testing.T) {
	_, err := NewTracingProvider(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"})
	if !errors.Is(err, ErrUnknownExporter) {
		t.Errorf("NewTracingProvider() error = %v, want ErrUnknownExporter", err)
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1.0, "AlwaysOnSampler"},
		{2.0, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{0.5, "TraceIDRatioBased"},
	}

	for _, tt := range tests {
		got := sampler(tt.rate).Description()
		if !strings.HasPrefix(got, tt.want) {
			t.Errorf("sampler(%v).Description() = %s, want prefix %s", tt.rate, got, tt.want)
		}
	}
}
