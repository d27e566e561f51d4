package config

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/felixgeelhaar/asynctrain/domain/checkpoint"
	domainconfig "github.com/felixgeelhaar/asynctrain/domain/config"
	domainevent "github.com/felixgeelhaar/asynctrain/domain/event"
	"github.com/felixgeelhaar/asynctrain/domain/run"
	"github.com/felixgeelhaar/asynctrain/infrastructure/event"
	"github.com/felixgeelhaar/asynctrain/infrastructure/logging"
	"github.com/felixgeelhaar/asynctrain/infrastructure/resilience"
	"github.com/felixgeelhaar/asynctrain/infrastructure/storage/badger"
	"github.com/felixgeelhaar/asynctrain/infrastructure/storage/filesystem"
	"github.com/felixgeelhaar/asynctrain/infrastructure/storage/memory"
	"github.com/felixgeelhaar/asynctrain/infrastructure/storage/sqlite"
	"github.com/felixgeelhaar/asynctrain/infrastructure/telemetry"
)

// Builder builds runtime infrastructure from configuration.
type Builder struct {
	config *domainconfig.TrainingConfig
}

// NewBuilder creates a new configuration builder.
func NewBuilder(config *domainconfig.TrainingConfig) *Builder {
	return &Builder{config: config}
}

// Runtime holds the infrastructure a training run writes to.
type Runtime struct {
	// EventStore is nil when the events backend is "none".
	EventStore domainevent.Store
	// Events publishes into EventStore; nil when EventStore is nil.
	Events *event.Publisher
	// Runs is nil when the runs backend is "none".
	Runs run.Store
	// Tracing owns the tracer provider.
	Tracing *telemetry.TracingProvider
	// Metrics records trainer metrics.
	Metrics telemetry.Metrics
	// Checkpoints is the resilient checkpoint store used by agents.
	Checkpoints checkpoint.Store

	closers []func(context.Context) error
}

// Close flushes and releases everything in reverse build order.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

func (r *Runtime) onClose(fn func(context.Context) error) {
	r.closers = append(r.closers, fn)
}

// LoggingConfig maps the logging section onto the logging package.
func (b *Builder) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	if b.config.Logging.Level != "" {
		cfg.Level = b.config.Logging.Level
	}
	if b.config.Logging.Format != "" {
		cfg.Format = b.config.Logging.Format
	}
	return cfg
}

// TracingConfig maps the tracing section onto the telemetry package.
func (b *Builder) TracingConfig() telemetry.TracingConfig {
	src := b.config.Telemetry.Tracing
	cfg := telemetry.DefaultTracingConfig()
	cfg.Enabled = src.Enabled
	if src.Exporter != "" {
		cfg.Exporter = telemetry.Exporter(src.Exporter)
	}
	cfg.Endpoint = src.Endpoint
	cfg.Insecure = src.Insecure
	if src.SampleRate > 0 {
		cfg.SampleRate = src.SampleRate
	}
	if b.config.Name != "" {
		cfg.ServiceName = b.config.Name
	}
	return cfg
}

// ExecutorConfig maps the resilience section onto the resilience package.
func (b *Builder) ExecutorConfig() resilience.ExecutorConfig {
	src := b.config.Resilience
	cfg := resilience.DefaultExecutorConfig()
	if src.Timeout > 0 {
		cfg.DefaultTimeout = src.Timeout.Duration()
	}

	cfg.RetryEnabled = src.Retry.Enabled
	if src.Retry.Enabled {
		cfg.RetryMaxAttempts = src.Retry.MaxAttempts
		if src.Retry.InitialDelay > 0 {
			cfg.RetryInitialDelay = src.Retry.InitialDelay.Duration()
		}
		if src.Retry.Multiplier > 0 {
			cfg.RetryBackoffMultiplier = src.Retry.Multiplier
		}
	}

	if src.CircuitBreaker.Enabled {
		cfg.CircuitBreakerThreshold = src.CircuitBreaker.Threshold
		if src.CircuitBreaker.Timeout > 0 {
			cfg.CircuitBreakerTimeout = src.CircuitBreaker.Timeout.Duration()
		}
	} else {
		cfg.CircuitBreakerThreshold = math.MaxInt32
	}
	return cfg
}

// Build opens stores and providers. On error everything already opened is
// closed again.
func (b *Builder) Build(ctx context.Context) (*Runtime, error) {
	if errs := domainconfig.NewValidator().Validate(b.config); errs.HasErrors() {
		return nil, fmt.Errorf("%w: %v", domainconfig.ErrValidationFailed, errs)
	}

	rt := &Runtime{}
	fail := func(part string, err error) (*Runtime, error) {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("%w: %s: %v", domainconfig.ErrBuildFailed, part, err)
	}

	if err := b.buildEvents(rt); err != nil {
		return fail("events", err)
	}
	if err := b.buildRuns(rt); err != nil {
		return fail("runs", err)
	}
	if err := b.buildTelemetry(ctx, rt); err != nil {
		return fail("telemetry", err)
	}

	rt.Checkpoints = resilience.NewCheckpointStore(
		filesystem.NewCheckpointStore(),
		resilience.NewExecutor(b.ExecutorConfig()),
	)
	return rt, nil
}

func (b *Builder) buildEvents(rt *Runtime) error {
	cfg := b.config.Storage.Events

	switch cfg.Backend {
	case "none", "":
		return nil
	case "memory":
		store := memory.NewEventStore()
		rt.EventStore = store
		rt.onClose(func(context.Context) error { return store.Close() })
	case "badger":
		store, err := badger.NewEventStore(badger.DefaultConfig(), badger.WithDir(cfg.Dir))
		if err != nil {
			return err
		}
		rt.EventStore = store
		rt.onClose(func(context.Context) error { return store.Close() })
	case "sqlite":
		store, err := sqlite.NewEventStore(sqlite.DefaultConfig(), sqlite.WithDSN(cfg.DSN), sqlite.WithAutoMigrate())
		if err != nil {
			return err
		}
		rt.EventStore = store
		rt.onClose(func(context.Context) error { return store.Close() })
	default:
		return fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	rt.Events = event.NewPublisher(rt.EventStore, event.WithBufferSize(cfg.BufferSize))
	publisher := rt.Events
	rt.onClose(func(context.Context) error { return publisher.Close() })
	return nil
}

func (b *Builder) buildRuns(rt *Runtime) error {
	cfg := b.config.Storage.Runs

	switch cfg.Backend {
	case "none", "":
		return nil
	case "memory":
		store := memory.NewRunStore()
		rt.Runs = store
		rt.onClose(func(context.Context) error { return store.Close() })
	case "sqlite":
		store, err := sqlite.NewRunStore(sqlite.DefaultConfig(), sqlite.WithDSN(cfg.DSN), sqlite.WithAutoMigrate())
		if err != nil {
			return err
		}
		rt.Runs = store
		rt.onClose(func(context.Context) error { return store.Close() })
	default:
		return fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	return nil
}

func (b *Builder) buildTelemetry(ctx context.Context, rt *Runtime) error {
	tracing, err := telemetry.NewTracingProvider(ctx, b.TracingConfig())
	if err != nil {
		return err
	}
	rt.Tracing = tracing
	rt.onClose(tracing.Shutdown)

	if !b.config.Telemetry.Metrics.Enabled {
		rt.Metrics = telemetry.NoopMetrics{}
		return nil
	}
	mp := telemetry.NewMetricsProvider(telemetry.DefaultMetricsConfig())
	if err := mp.Error(); err != nil {
		return err
	}
	rt.Metrics = mp
	return nil
}
