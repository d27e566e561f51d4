package run

import (
	"time"

	"github.com/google/uuid"
)

// Status describes where a training run is in its lifecycle.
type Status string

// Run statuses.
const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	return s != StatusRunning && s != ""
}

// Run is the persisted summary of one training invocation.
type Run struct {
	ID             string    `json:"id"`
	Name           string    `json:"name,omitempty"`
	Processes      int       `json:"processes"`
	Steps          int64     `json:"steps"`
	Outdir         string    `json:"outdir"`
	Status         Status    `json:"status"`
	GlobalSteps    int64     `json:"global_steps"`
	Episodes       int64     `json:"episodes"`
	CheckpointPath string    `json:"checkpoint_path,omitempty"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// New creates a running run with a fresh ID.
func New(name string, processes int, steps int64, outdir string) *Run {
	return &Run{
		ID:        uuid.New().String(),
		Name:      name,
		Processes: processes,
		Steps:     steps,
		Outdir:    outdir,
		Status:    StatusRunning,
		StartTime: time.Now(),
	}
}

// Finish records the terminal state of the run.
func (r *Run) Finish(status Status, globalSteps, episodes int64, checkpoint string, err error) {
	r.Status = status
	r.GlobalSteps = globalSteps
	r.Episodes = episodes
	r.CheckpointPath = checkpoint
	r.EndTime = time.Now()
	if err != nil {
		r.Error = err.Error()
	}
}

// Duration returns how long the run took, or has taken so far.
func (r *Run) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return time.Since(r.StartTime)
	}
	return r.EndTime.Sub(r.StartTime)
}
