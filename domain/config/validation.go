package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	// Path is the JSON path to the invalid field.
	Path string
	// Message describes the validation error.
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%d validation errors:\n  - %s", len(e), strings.Join(msgs, "\n  - "))
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Known enumerations.
var (
	environmentKinds = map[string]bool{"chain": true}
	agentKinds       = map[string]bool{"qlearning": true}
	eventBackends    = map[string]bool{"": true, "none": true, "memory": true, "badger": true, "sqlite": true}
	runBackends      = map[string]bool{"": true, "none": true, "memory": true, "sqlite": true}
	logLevels        = map[string]bool{"": true, "trace": true, "debug": true, "info": true, "warn": true, "error": true}
	logFormats       = map[string]bool{"": true, "json": true, "console": true}
	exporters        = map[string]bool{"": true, "noop": true, "stdout": true, "otlp": true}
)

// Validator validates training configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates the configuration and returns any errors.
func (v *Validator) Validate(config *TrainingConfig) ValidationErrors {
	v.errors = nil

	v.validateRun(config)
	v.validateEvaluation(config)
	v.validateEnvironment(config)
	v.validateAgent(config)
	v.validateStorage(config)
	v.validateObservability(config)
	v.validateResilience(config)

	return v.errors
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}

func (v *Validator) validateRun(config *TrainingConfig) {
	if config.Name == "" {
		v.addError("name", "name is required")
	}
	if config.Processes < 1 {
		v.addError("processes", "processes must be at least 1")
	}
	if config.Steps <= 0 {
		v.addError("steps", "steps must be positive")
	}
	if config.StepOffset < 0 {
		v.addError("step_offset", "step_offset must be non-negative")
	} else if config.Steps > 0 && config.StepOffset >= config.Steps {
		v.addError("step_offset", "step_offset must be below steps")
	}
	if config.Outdir == "" {
		v.addError("outdir", "outdir is required")
	}
	if config.MaxEpisodeLen < 0 {
		v.addError("max_episode_len", "max_episode_len must be non-negative")
	}
	if strings.ContainsRune(config.StopFile, '/') {
		v.addError("stop_file", "stop_file must be a file name, not a path")
	}
}

func (v *Validator) validateEvaluation(config *TrainingConfig) {
	eval := config.Evaluation
	if !eval.Enabled {
		if eval.SuccessfulScore != nil {
			v.addError("evaluation.successful_score", "successful_score requires evaluation to be enabled")
		}
		return
	}
	if eval.Interval <= 0 {
		v.addError("evaluation.interval", "interval must be positive when enabled")
	}
	if eval.Episodes <= 0 {
		v.addError("evaluation.episodes", "episodes must be positive when enabled")
	}
	if eval.MaxEpisodeLen < 0 {
		v.addError("evaluation.max_episode_len", "max_episode_len must be non-negative")
	}
}

func (v *Validator) validateEnvironment(config *TrainingConfig) {
	env := config.Environment
	if env.Kind == "" {
		v.addError("environment.kind", "kind is required")
	} else if !environmentKinds[env.Kind] {
		v.addError("environment.kind", fmt.Sprintf("unknown environment: %s", env.Kind))
	}
	if env.Length < 2 {
		v.addError("environment.length", "length must be at least 2")
	}
	if env.TimeLimit < 0 {
		v.addError("environment.time_limit", "time_limit must be non-negative")
	}
	if env.Slip < 0 || env.Slip >= 1 {
		v.addError("environment.slip", "slip must be in [0, 1)")
	}
}

func (v *Validator) validateAgent(config *TrainingConfig) {
	a := config.Agent
	if a.Kind == "" {
		v.addError("agent.kind", "kind is required")
	} else if !agentKinds[a.Kind] {
		v.addError("agent.kind", fmt.Sprintf("unknown agent: %s", a.Kind))
	}
	if a.LearningRate <= 0 || a.LearningRate > 1 {
		v.addError("agent.learning_rate", "learning_rate must be in (0, 1]")
	}
	if a.Discount < 0 || a.Discount > 1 {
		v.addError("agent.discount", "discount must be in [0, 1]")
	}
	if a.Epsilon < 0 || a.Epsilon > 1 {
		v.addError("agent.epsilon", "epsilon must be in [0, 1]")
	}
}

func (v *Validator) validateStorage(config *TrainingConfig) {
	events := config.Storage.Events
	if !eventBackends[events.Backend] {
		v.addError("storage.events.backend", fmt.Sprintf("unknown backend: %s", events.Backend))
	}
	if events.Backend == "badger" && events.Dir == "" {
		v.addError("storage.events.dir", "dir is required for badger")
	}
	if events.Backend == "sqlite" && events.DSN == "" {
		v.addError("storage.events.dsn", "dsn is required for sqlite")
	}
	if events.BufferSize < 0 {
		v.addError("storage.events.buffer_size", "buffer_size must be non-negative")
	}

	runs := config.Storage.Runs
	if !runBackends[runs.Backend] {
		v.addError("storage.runs.backend", fmt.Sprintf("unknown backend: %s", runs.Backend))
	}
	if runs.Backend == "sqlite" && runs.DSN == "" {
		v.addError("storage.runs.dsn", "dsn is required for sqlite")
	}
}

func (v *Validator) validateObservability(config *TrainingConfig) {
	if !logLevels[strings.ToLower(config.Logging.Level)] {
		v.addError("logging.level", fmt.Sprintf("invalid level: %s", config.Logging.Level))
	}
	if !logFormats[config.Logging.Format] {
		v.addError("logging.format", fmt.Sprintf("invalid format: %s", config.Logging.Format))
	}

	tracing := config.Telemetry.Tracing
	if !tracing.Enabled {
		return
	}
	if !exporters[tracing.Exporter] {
		v.addError("telemetry.tracing.exporter", fmt.Sprintf("unknown exporter: %s", tracing.Exporter))
	}
	if tracing.Exporter == "otlp" && tracing.Endpoint == "" {
		v.addError("telemetry.tracing.endpoint", "endpoint is required for otlp")
	}
	if tracing.SampleRate < 0 || tracing.SampleRate > 1 {
		v.addError("telemetry.tracing.sample_rate", "sample_rate must be in [0, 1]")
	}
}

func (v *Validator) validateResilience(config *TrainingConfig) {
	if config.Resilience.Timeout < 0 {
		v.addError("resilience.timeout", "timeout must be non-negative")
	}

	if config.Resilience.Retry.Enabled {
		if config.Resilience.Retry.MaxAttempts <= 0 {
			v.addError("resilience.retry.max_attempts", "max_attempts must be positive when enabled")
		}
		if config.Resilience.Retry.Multiplier < 1 {
			v.addError("resilience.retry.multiplier", "multiplier must be >= 1")
		}
	}

	if config.Resilience.CircuitBreaker.Enabled {
		if config.Resilience.CircuitBreaker.Threshold <= 0 {
			v.addError("resilience.circuit_breaker.threshold", "threshold must be positive when enabled")
		}
	}
}
