// Package telemetry provides OpenTelemetry metrics and tracing for training runs.
package telemetry

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsProvider provides access to metrics instruments.
type MetricsProvider struct {
	meter metric.Meter

	// Counters
	steps            metric.Int64Counter
	episodes         metric.Int64Counter
	hookInvocations  metric.Int64Counter
	workerFailures   metric.Int64Counter
	envCloseFailures metric.Int64Counter

	// Histograms
	episodeLength metric.Int64Histogram
	hookDuration  metric.Float64Histogram
	runDuration   metric.Float64Histogram

	// Gauges (using UpDownCounter for OpenTelemetry)
	activeWorkers metric.Int64UpDownCounter

	initOnce sync.Once
	initErr  error
}

// MetricsConfig configures the metrics provider.
type MetricsConfig struct {
	// MeterName is the name of the meter (default: "github.com/felixgeelhaar/asynctrain").
	MeterName string
	// MeterVersion is the version of the meter.
	MeterVersion string
}

// DefaultMetricsConfig returns a default metrics configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		MeterName:    "github.com/felixgeelhaar/asynctrain",
		MeterVersion: "1.0.0",
	}
}

// NewMetricsProvider creates a metrics provider on the global meter provider.
func NewMetricsProvider(config MetricsConfig) *MetricsProvider {
	if config.MeterName == "" {
		config = DefaultMetricsConfig()
	}

	meter := otel.GetMeterProvider().Meter(
		config.MeterName,
		metric.WithInstrumentationVersion(config.MeterVersion),
	)

	mp := &MetricsProvider{meter: meter}
	mp.initOnce.Do(func() {
		mp.initErr = mp.initInstruments()
	})

	return mp
}

func (mp *MetricsProvider) initInstruments() error {
	var err error

	mp.steps, err = mp.meter.Int64Counter(
		"trainer.steps",
		metric.WithDescription("Number of environment steps taken"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		return err
	}

	mp.episodes, err = mp.meter.Int64Counter(
		"trainer.episodes",
		metric.WithDescription("Number of completed episodes"),
		metric.WithUnit("{episode}"),
	)
	if err != nil {
		return err
	}

	mp.hookInvocations, err = mp.meter.Int64Counter(
		"trainer.hook.invocations",
		metric.WithDescription("Number of global step hook invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return err
	}

	mp.workerFailures, err = mp.meter.Int64Counter(
		"trainer.worker.failures",
		metric.WithDescription("Number of failed workers"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return err
	}

	mp.envCloseFailures, err = mp.meter.Int64Counter(
		"trainer.env.close_failures",
		metric.WithDescription("Number of environment close failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return err
	}

	mp.episodeLength, err = mp.meter.Int64Histogram(
		"trainer.episode.length",
		metric.WithDescription("Length of completed episodes"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		return err
	}

	mp.hookDuration, err = mp.meter.Float64Histogram(
		"trainer.hook.duration",
		metric.WithDescription("Duration of hook invocations"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	mp.runDuration, err = mp.meter.Float64Histogram(
		"trainer.run.duration",
		metric.WithDescription("Duration of training runs"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	mp.activeWorkers, err = mp.meter.Int64UpDownCounter(
		"trainer.workers.active",
		metric.WithDescription("Number of running workers"),
		metric.WithUnit("{worker}"),
	)
	return err
}

// Error returns any initialization error.
func (mp *MetricsProvider) Error() error {
	return mp.initErr
}

func workerAttr(worker int) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("worker", strconv.Itoa(worker)))
}

// RecordStep records one environment step by a worker.
func (mp *MetricsProvider) RecordStep(ctx context.Context, worker int) {
	mp.steps.Add(ctx, 1, workerAttr(worker))
}

// RecordEpisode records a completed episode and its length.
func (mp *MetricsProvider) RecordEpisode(ctx context.Context, worker int, length int) {
	mp.episodes.Add(ctx, 1, workerAttr(worker))
	mp.episodeLength.Record(ctx, int64(length), workerAttr(worker))
}

// RecordHookInvocation records one hook call.
func (mp *MetricsProvider) RecordHookInvocation(ctx context.Context, duration time.Duration, success bool) {
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	mp.hookInvocations.Add(ctx, 1, attrs)
	mp.hookDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordWorkerFailure records a worker that terminated with a failure.
func (mp *MetricsProvider) RecordWorkerFailure(ctx context.Context, worker int, op string) {
	mp.workerFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("worker", strconv.Itoa(worker)),
		attribute.String("operation", op),
	))
}

// RecordEnvCloseFailure records an environment that failed to close.
func (mp *MetricsProvider) RecordEnvCloseFailure(ctx context.Context, worker int) {
	mp.envCloseFailures.Add(ctx, 1, workerAttr(worker))
}

// RecordRunDuration records the wall time of a training run.
func (mp *MetricsProvider) RecordRunDuration(ctx context.Context, duration time.Duration, status string) {
	mp.runDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(
		attribute.String("status", status),
	))
}

// IncrementActiveWorkers increments the running workers gauge.
func (mp *MetricsProvider) IncrementActiveWorkers(ctx context.Context) {
	mp.activeWorkers.Add(ctx, 1)
}

// DecrementActiveWorkers decrements the running workers gauge.
func (mp *MetricsProvider) DecrementActiveWorkers(ctx context.Context) {
	mp.activeWorkers.Add(ctx, -1)
}

// NoopMetrics discards every measurement.
type NoopMetrics struct{}

// RecordStep is a no-op.
func (NoopMetrics) RecordStep(context.Context, int) {}

// RecordEpisode is a no-op.
func (NoopMetrics) RecordEpisode(context.Context, int, int) {}

// RecordHookInvocation is a no-op.
func (NoopMetrics) RecordHookInvocation(context.Context, time.Duration, bool) {}

// RecordWorkerFailure is a no-op.
func (NoopMetrics) RecordWorkerFailure(context.Context, int, string) {}

// RecordEnvCloseFailure is a no-op.
func (NoopMetrics) RecordEnvCloseFailure(context.Context, int) {}

// RecordRunDuration is a no-op.
func (NoopMetrics) RecordRunDuration(context.Context, time.Duration, string) {}

// IncrementActiveWorkers is a no-op.
func (NoopMetrics) IncrementActiveWorkers(context.Context) {}

// DecrementActiveWorkers is a no-op.
func (NoopMetrics) DecrementActiveWorkers(context.Context) {}

// Metrics defines the interface for metrics recording.
type Metrics interface {
	RecordStep(ctx context.Context, worker int)
	RecordEpisode(ctx context.Context, worker int, length int)
	RecordHookInvocation(ctx context.Context, duration time.Duration, success bool)
	RecordWorkerFailure(ctx context.Context, worker int, op string)
	RecordEnvCloseFailure(ctx context.Context, worker int)
	RecordRunDuration(ctx context.Context, duration time.Duration, status string)
	IncrementActiveWorkers(ctx context.Context)
	DecrementActiveWorkers(ctx context.Context)
}

// Ensure implementations satisfy the interface.
var (
	_ Metrics = (*MetricsProvider)(nil)
	_ Metrics = NoopMetrics{}
)
