package application

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/felixgeelhaar/asynctrain/domain/run"
	"github.com/felixgeelhaar/asynctrain/domain/training"
	infraevent "github.com/felixgeelhaar/asynctrain/infrastructure/event"
	"github.com/felixgeelhaar/asynctrain/infrastructure/spawn"
	"github.com/felixgeelhaar/asynctrain/infrastructure/telemetry"
)

// Option configures the trainer.
type Option func(*TrainerConfig)

// WithName sets a human readable run name.
func WithName(name string) Option {
	return func(c *TrainerConfig) {
		c.Name = name
	}
}

// WithStepOffset starts the global step counter at offset.
func WithStepOffset(offset int64) Option {
	return func(c *TrainerConfig) {
		c.StepOffset = offset
	}
}

// WithMaxEpisodeLen forces a reset after n steps of an episode.
func WithMaxEpisodeLen(n int) Option {
	return func(c *TrainerConfig) {
		c.MaxEpisodeLen = n
	}
}

// WithHooks appends global step hooks.
func WithHooks(hooks ...training.Hook) Option {
	return func(c *TrainerConfig) {
		c.Hooks = append(c.Hooks, hooks...)
	}
}

// WithEvaluator enables evaluation on worker 0.
func WithEvaluator(e training.Evaluator) Option {
	return func(c *TrainerConfig) {
		c.Evaluator = e
	}
}

// WithSuccessfulScore stops training once an evaluation reaches score.
func WithSuccessfulScore(score float64) Option {
	return func(c *TrainerConfig) {
		c.SuccessfulScore = &score
	}
}

// WithStopFile stops training when a file with this name appears in the outdir.
func WithStopFile(name string) Option {
	return func(c *TrainerConfig) {
		c.StopFile = name
	}
}

// WithSpawner sets how workers are started.
func WithSpawner(s spawn.Spawner) Option {
	return func(c *TrainerConfig) {
		c.Spawner = s
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(c *TrainerConfig) {
		c.Metrics = m
	}
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *TrainerConfig) {
		c.Tracer = t
	}
}

// WithEventPublisher sets the training event publisher.
func WithEventPublisher(p *infraevent.Publisher) Option {
	return func(c *TrainerConfig) {
		c.Events = p
	}
}

// WithRunStore sets where run summaries are persisted.
func WithRunStore(s run.Store) Option {
	return func(c *TrainerConfig) {
		c.Runs = s
	}
}

// NewTrainerWithOptions creates a trainer using functional options.
func NewTrainerWithOptions(opts ...Option) (*Trainer, error) {
	config := TrainerConfig{}
	for _, opt := range opts {
		opt(&config)
	}
	return NewTrainer(config)
}

// WithProcesses sets the number of workers.
func WithProcesses(n int) Option {
	return func(c *TrainerConfig) {
		c.Processes = n
	}
}

// WithSteps sets the global step budget.
func WithSteps(n int64) Option {
	return func(c *TrainerConfig) {
		c.Steps = n
	}
}

// WithOutdir sets the checkpoint directory.
func WithOutdir(dir string) Option {
	return func(c *TrainerConfig) {
		c.Outdir = dir
	}
}
