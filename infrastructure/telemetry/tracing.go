package telemetry

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Exporter names a span exporter.
type Exporter string

// Supported exporters.
const (
	ExporterNoop   Exporter = "noop"
	ExporterStdout Exporter = "stdout"
	ExporterOTLP   Exporter = "otlp"
)

// ErrUnknownExporter is returned for an unsupported exporter name.
var ErrUnknownExporter = errors.New("unknown trace exporter type")

// TracerName is the instrumentation scope used by the trainer.
const TracerName = "github.com/felixgeelhaar/asynctrain"

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled        bool
	Exporter       Exporter
	Endpoint       string
	Insecure       bool
	SampleRate     float64
	ServiceName    string
	ServiceVersion string

	// Writer receives stdout exporter output. Defaults to os.Stdout.
	Writer io.Writer

	BatchTimeout time.Duration
}

// DefaultTracingConfig returns tracing disabled with stdout as the fallback exporter.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		Exporter:     ExporterStdout,
		SampleRate:   1.0,
		ServiceName:  "asynctrain",
		BatchTimeout: 5 * time.Second,
	}
}

// TracingProvider owns the tracer provider for a process.
type TracingProvider struct {
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
}

// NewTracingProvider builds a tracer from config and registers it globally
// when an exporter is active.
func NewTracingProvider(ctx context.Context, cfg TracingConfig) (*TracingProvider, error) {
	if !cfg.Enabled || cfg.Exporter == ExporterNoop {
		return NewNoopTracingProvider(), nil
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case ExporterOTLP:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Insecure {
			opts = append(opts,
				otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
				otlptracegrpc.WithInsecure(),
			)
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, err
		}
		exporter = exp

	case ExporterStdout, "":
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, err
		}
		exporter = exp

	default:
		return nil, ErrUnknownExporter
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	)

	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 5 * time.Second
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(batchTimeout)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracingProvider{
		tracerProvider: tp,
		tracer:         tp.Tracer(TracerName),
	}, nil
}

// NewNoopTracingProvider returns a provider whose spans are discarded.
func NewNoopTracingProvider() *TracingProvider {
	return &TracingProvider{tracer: noop.NewTracerProvider().Tracer(TracerName)}
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Tracer returns the tracer.
func (p *TracingProvider) Tracer() trace.Tracer {
	return p.tracer
}

// Shutdown flushes pending spans.
func (p *TracingProvider) Shutdown(ctx context.Context) error {
	if p.tracerProvider == nil {
		return nil
	}
	return p.tracerProvider.Shutdown(ctx)
}
