package training

import "time"

// Status describes how a training run ended.
type Status string

const (
	// StatusCompleted means the step budget was exhausted.
	StatusCompleted Status = "completed"
	// StatusStopped means an external stop request ended the run early.
	StatusStopped Status = "stopped"
	// StatusSucceeded means evaluation reached the successful score.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means a worker failed.
	StatusFailed Status = "failed"
)

// Result is returned by the trainer.
type Result struct {
	// Agent is the trained agent, the same instance that was passed in.
	Agent Agent

	// Statistics holds every record produced at an episode boundary. Records of
	// one worker keep their production order.
	Statistics []Record

	// GlobalSteps is the final value of the global step counter.
	GlobalSteps int64

	// Episodes is the final value of the episode counter.
	Episodes int64

	// Status tells how the run ended.
	Status Status

	// CheckpointPath is where the final agent was saved.
	CheckpointPath string

	// Duration is the wall time of the run.
	Duration time.Duration

	// Workers reports each worker's final state, indexed by process index.
	Workers []WorkerReport

	// CloseErr joins environment close failures. They never fail a run.
	CloseErr error
}

// WorkerState is a worker's lifecycle state.
type WorkerState string

// Worker lifecycle states.
const (
	WorkerPending WorkerState = "pending"
	WorkerRunning WorkerState = "running"
	WorkerClosing WorkerState = "closing"
	WorkerStopped WorkerState = "stopped"
	WorkerFailed  WorkerState = "failed"
)

// IsTerminal reports whether the worker has finished.
func (s WorkerState) IsTerminal() bool {
	return s == WorkerStopped || s == WorkerFailed
}

// WorkerReport summarizes one worker after it has been joined.
type WorkerReport struct {
	Worker   int
	State    WorkerState
	Steps    int64
	Episodes int64
	Err      error
}
