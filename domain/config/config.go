// Package config provides domain models for training configuration.
package config

import "time"

// TrainingConfig represents the complete configuration of a training run.
type TrainingConfig struct {
	// Name is a human-readable run name.
	Name string `json:"name" yaml:"name"`
	// Version is the configuration schema version.
	Version string `json:"version" yaml:"version"`

	// Processes is the number of concurrent workers.
	Processes int `json:"processes" yaml:"processes"`
	// Steps is the global step budget.
	Steps int64 `json:"steps" yaml:"steps"`
	// StepOffset is the initial global step, used when resuming.
	StepOffset int64 `json:"step_offset,omitempty" yaml:"step_offset,omitempty"`
	// Outdir receives checkpoints.
	Outdir string `json:"outdir" yaml:"outdir"`
	// MaxEpisodeLen forces a reset after that many steps (0 = unlimited).
	MaxEpisodeLen int `json:"max_episode_len,omitempty" yaml:"max_episode_len,omitempty"`
	// StopFile names a file in Outdir whose creation stops the run.
	StopFile string `json:"stop_file,omitempty" yaml:"stop_file,omitempty"`
	// LoadFrom restores the agent from a checkpoint before training.
	LoadFrom string `json:"load_from,omitempty" yaml:"load_from,omitempty"`

	Evaluation  EvaluationConfig  `json:"evaluation,omitempty" yaml:"evaluation,omitempty"`
	Environment EnvironmentConfig `json:"environment" yaml:"environment"`
	Agent       AgentConfig       `json:"agent" yaml:"agent"`
	Storage     StorageConfig     `json:"storage,omitempty" yaml:"storage,omitempty"`
	Logging     LoggingConfig     `json:"logging,omitempty" yaml:"logging,omitempty"`
	Telemetry   TelemetryConfig   `json:"telemetry,omitempty" yaml:"telemetry,omitempty"`
	Resilience  ResilienceConfig  `json:"resilience,omitempty" yaml:"resilience,omitempty"`
}

// EvaluationConfig configures periodic evaluation on worker 0.
type EvaluationConfig struct {
	// Enabled turns evaluation on.
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	// Interval is the number of global steps between evaluations.
	Interval int64 `json:"interval,omitempty" yaml:"interval,omitempty"`
	// Episodes is the number of episodes per evaluation.
	Episodes int `json:"episodes,omitempty" yaml:"episodes,omitempty"`
	// MaxEpisodeLen bounds evaluation episodes (0 = unlimited).
	MaxEpisodeLen int `json:"max_episode_len,omitempty" yaml:"max_episode_len,omitempty"`
	// SuccessfulScore stops training once reached.
	SuccessfulScore *float64 `json:"successful_score,omitempty" yaml:"successful_score,omitempty"`
}

// EnvironmentConfig selects and parameterizes the environment.
type EnvironmentConfig struct {
	// Kind is the environment type (chain).
	Kind string `json:"kind" yaml:"kind"`
	// Length is the number of states of a chain.
	Length int `json:"length,omitempty" yaml:"length,omitempty"`
	// TimeLimit asks for a reset after that many steps (0 = none).
	TimeLimit int `json:"time_limit,omitempty" yaml:"time_limit,omitempty"`
	// Slip is the probability that an action is replaced by its opposite.
	Slip float64 `json:"slip,omitempty" yaml:"slip,omitempty"`
	// Seed seeds the environment randomness. Worker i uses Seed+i.
	Seed int64 `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// AgentConfig parameterizes the reference agent.
type AgentConfig struct {
	// Kind is the agent type (qlearning).
	Kind string `json:"kind" yaml:"kind"`
	// LearningRate is the step size of updates.
	LearningRate float64 `json:"learning_rate,omitempty" yaml:"learning_rate,omitempty"`
	// Discount is the reward discount factor.
	Discount float64 `json:"discount,omitempty" yaml:"discount,omitempty"`
	// Epsilon is the exploration rate.
	Epsilon float64 `json:"epsilon,omitempty" yaml:"epsilon,omitempty"`
	// Seed seeds action selection.
	Seed int64 `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// StorageConfig selects where run records and events are kept.
type StorageConfig struct {
	Events EventStorageConfig `json:"events,omitempty" yaml:"events,omitempty"`
	Runs   RunStorageConfig   `json:"runs,omitempty" yaml:"runs,omitempty"`
}

// EventStorageConfig configures the event store.
type EventStorageConfig struct {
	// Backend is memory, badger, sqlite, or none.
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty"`
	// Dir is the badger directory.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
	// DSN is the sqlite data source name.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	// BufferSize batches events before they are written.
	BufferSize int `json:"buffer_size,omitempty" yaml:"buffer_size,omitempty"`
}

// RunStorageConfig configures the run store.
type RunStorageConfig struct {
	// Backend is memory, sqlite, or none.
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty"`
	// DSN is the sqlite data source name.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is trace, debug, info, warn, or error.
	Level string `json:"level,omitempty" yaml:"level,omitempty"`
	// Format is json or console.
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// TelemetryConfig configures telemetry.
type TelemetryConfig struct {
	Metrics MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures metrics.
type MetricsConfig struct {
	// Enabled records metrics through the global meter provider.
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// TracingConfig configures tracing.
type TracingConfig struct {
	// Enabled turns tracing on.
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	// Exporter is stdout, otlp, or noop.
	Exporter string `json:"exporter,omitempty" yaml:"exporter,omitempty"`
	// Endpoint is the OTLP collector address.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	// Insecure disables TLS to the collector.
	Insecure bool `json:"insecure,omitempty" yaml:"insecure,omitempty"`
	// SampleRate is the fraction of traces kept.
	SampleRate float64 `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty"`
}

// ResilienceConfig contains resilience settings for checkpoint storage.
type ResilienceConfig struct {
	// Timeout bounds a single storage call.
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// Retry configures retry behavior.
	Retry RetryConfig `json:"retry,omitempty" yaml:"retry,omitempty"`
	// CircuitBreaker configures circuit breaker behavior.
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker,omitempty" yaml:"circuit_breaker,omitempty"`
}

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// Enabled enables retry.
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	// MaxAttempts is the maximum retry attempts.
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	// InitialDelay is the first retry delay.
	InitialDelay Duration `json:"initial_delay,omitempty" yaml:"initial_delay,omitempty"`
	// Multiplier is the backoff multiplier.
	Multiplier float64 `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
}

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// Enabled enables circuit breaker.
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	// Threshold is failures before opening.
	Threshold int `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	// Timeout is how long the circuit stays open.
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// DefaultConfig returns a configuration that trains the reference agent on a
// short chain.
func DefaultConfig() *TrainingConfig {
	return &TrainingConfig{
		Name:      "chain",
		Version:   "1",
		Processes: 4,
		Steps:     10000,
		Outdir:    "results",
		Environment: EnvironmentConfig{
			Kind:   "chain",
			Length: 8,
		},
		Agent: AgentConfig{
			Kind:         "qlearning",
			LearningRate: 0.1,
			Discount:     0.95,
			Epsilon:      0.1,
		},
		Storage: StorageConfig{
			Events: EventStorageConfig{Backend: "memory", BufferSize: 64},
			Runs:   RunStorageConfig{Backend: "memory"},
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Resilience: ResilienceConfig{
			Timeout: Duration(10 * time.Second),
			Retry: RetryConfig{
				Enabled:      true,
				MaxAttempts:  3,
				InitialDelay: Duration(50 * time.Millisecond),
				Multiplier:   2,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:   true,
				Threshold: 5,
				Timeout:   Duration(30 * time.Second),
			},
		},
	}
}

// Duration is a time.Duration that supports JSON/YAML string representation.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	// Handle null
	if string(b) == "null" {
		return nil
	}

	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
