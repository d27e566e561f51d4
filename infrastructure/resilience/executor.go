// Package resilience provides resilient checkpoint I/O using fortify.
package resilience

import (
	"context"
	"time"

	"github.com/felixgeelhaar/fortify/bulkhead"
	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/retry"

	"github.com/felixgeelhaar/asynctrain/domain/checkpoint"
)

// Executor runs storage operations behind a bulkhead, a timeout, a circuit
// breaker and a retry policy.
type Executor struct {
	bulkhead bulkhead.Bulkhead[[]byte]
	breaker  circuitbreaker.CircuitBreaker[[]byte]
	retry    retry.Retry[[]byte]
	timeout  time.Duration
	retries  bool
}

// ExecutorConfig configures the resilient executor.
type ExecutorConfig struct {
	// MaxConcurrent limits concurrent storage operations.
	MaxConcurrent int

	// CircuitBreakerThreshold is the number of consecutive failures before opening.
	CircuitBreakerThreshold int

	// CircuitBreakerTimeout is how long the circuit stays open.
	CircuitBreakerTimeout time.Duration

	// RetryEnabled turns the retry policy on.
	RetryEnabled bool

	// RetryMaxAttempts is the maximum number of attempts.
	RetryMaxAttempts int

	// RetryInitialDelay is the initial delay between attempts.
	RetryInitialDelay time.Duration

	// RetryBackoffMultiplier is the exponential backoff multiplier.
	RetryBackoffMultiplier float64

	// DefaultTimeout bounds a single operation including retries.
	DefaultTimeout time.Duration
}

// DefaultExecutorConfig returns a configuration with sensible defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrent:           4,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   30 * time.Second,
		RetryEnabled:            true,
		RetryMaxAttempts:        3,
		RetryInitialDelay:       50 * time.Millisecond,
		RetryBackoffMultiplier:  2.0,
		DefaultTimeout:          10 * time.Second,
	}
}

// NewExecutor creates a new resilient executor.
func NewExecutor(config ExecutorConfig) *Executor {
	maxConcurrent := config.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	threshold := config.CircuitBreakerThreshold
	if threshold <= 0 {
		threshold = 5
	}
	timeout := config.DefaultTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Executor{
		bulkhead: bulkhead.New[[]byte](bulkhead.Config{
			MaxConcurrent: maxConcurrent,
		}),
		breaker: circuitbreaker.New[[]byte](circuitbreaker.Config{
			MaxRequests: uint32(maxConcurrent), // #nosec G115 -- bounds checked above
			Interval:    config.CircuitBreakerTimeout,
			Timeout:     config.CircuitBreakerTimeout,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(threshold) // #nosec G115 -- bounds checked above
			},
		}),
		retry: retry.New[[]byte](retry.Config{
			MaxAttempts:        config.RetryMaxAttempts,
			InitialDelay:       config.RetryInitialDelay,
			BackoffPolicy:      retry.BackoffExponential,
			Multiplier:         config.RetryBackoffMultiplier,
			NonRetryableErrors: []error{checkpoint.ErrNotFound, checkpoint.ErrInvalidPath},
		}),
		timeout: timeout,
		retries: config.RetryEnabled && config.RetryMaxAttempts > 1,
	}
}

// NewDefaultExecutor creates an executor with default configuration.
func NewDefaultExecutor() *Executor {
	return NewExecutor(DefaultExecutorConfig())
}

// Execute runs op with resilience patterns applied.
// Composition order: Bulkhead → Timeout → Circuit Breaker → Retry
func (e *Executor) Execute(ctx context.Context, op func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	return e.bulkhead.Execute(ctx, func(ctx context.Context) ([]byte, error) {
		ctx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		return e.breaker.Execute(ctx, func(ctx context.Context) ([]byte, error) {
			if e.retries {
				return e.retry.Do(ctx, op)
			}
			return op(ctx)
		})
	})
}

// CircuitBreakerState returns the current state of the circuit breaker.
func (e *Executor) CircuitBreakerState() circuitbreaker.State {
	return e.breaker.State()
}
