package training

import (
	"errors"
	"fmt"
)

// Domain errors for training runs.
var (
	// ErrWorkerFailure marks a failure raised inside a worker loop. It is fatal
	// to the whole run.
	ErrWorkerFailure = errors.New("worker failure")

	// ErrEnvironmentClose indicates an environment failed to close. It is
	// logged and never replaces a worker failure.
	ErrEnvironmentClose = errors.New("environment close failed")

	// ErrInvalidConfig indicates the trainer was configured incorrectly.
	ErrInvalidConfig = errors.New("invalid training configuration")

	// ErrPanic indicates a collaborator panicked inside a worker.
	ErrPanic = errors.New("panic in worker")
)

// Operations named in worker errors.
const (
	OpEnvFactory = "make_env"
	OpReset      = "reset"
	OpAct        = "act"
	OpStep       = "step"
	OpObserve    = "observe"
	OpHook       = "hook"
	OpStatistics = "statistics"
	OpEvaluate   = "evaluate"
	OpSave       = "save"
)

// WorkerError wraps the original failure of a worker together with the
// operation that raised it.
type WorkerError struct {
	Worker int
	Op     string
	Err    error
}

// NewWorkerError creates a worker error.
func NewWorkerError(worker int, op string, err error) *WorkerError {
	return &WorkerError{Worker: worker, Op: op, Err: err}
}

// Error implements the error interface.
func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker %d: %s: %v", e.Worker, e.Op, e.Err)
}

// Unwrap exposes the original failure.
func (e *WorkerError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrWorkerFailure) hold for every WorkerError.
func (e *WorkerError) Is(target error) bool {
	return target == ErrWorkerFailure
}
