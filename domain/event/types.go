package event

// Type classifies domain events.
type Type string

// Event types emitted during training.
const (
	TypeRunStarted   Type = "run.started"
	TypeRunCompleted Type = "run.completed"

	TypeWorkerStarted Type = "worker.started"
	TypeWorkerStopped Type = "worker.stopped"
	TypeWorkerFailed  Type = "worker.failed"

	TypeEpisodeCompleted Type = "episode.completed"
	TypeEvaluation       Type = "evaluation.completed"
	TypeCheckpointSaved  Type = "checkpoint.saved"
)

// RunStartedPayload contains data for run.started events.
type RunStartedPayload struct {
	Processes     int    `json:"processes"`
	Steps         int64  `json:"steps"`
	StepOffset    int64  `json:"step_offset,omitempty"`
	Outdir        string `json:"outdir"`
	MaxEpisodeLen int    `json:"max_episode_len,omitempty"`
}

// RunCompletedPayload contains data for run.completed events.
type RunCompletedPayload struct {
	Status      string `json:"status"`
	GlobalSteps int64  `json:"global_steps"`
	Episodes    int64  `json:"episodes"`
	DurationMs  int64  `json:"duration_ms"`
	Error       string `json:"error,omitempty"`
}

// WorkerStoppedPayload contains data for worker.stopped events.
type WorkerStoppedPayload struct {
	GlobalStep int64  `json:"global_step"`
	State      string `json:"state"`
}

// WorkerFailedPayload contains data for worker.failed events.
type WorkerFailedPayload struct {
	Operation string `json:"operation"`
	Error     string `json:"error"`
}

// EpisodeCompletedPayload contains data for episode.completed events.
type EpisodeCompletedPayload struct {
	Episode    int64              `json:"episode"`
	GlobalStep int64              `json:"global_step"`
	Length     int                `json:"length"`
	Return     float64            `json:"return"`
	Stats      map[string]float64 `json:"stats,omitempty"`
}

// EvaluationPayload contains data for evaluation.completed events.
type EvaluationPayload struct {
	GlobalStep int64   `json:"global_step"`
	Score      float64 `json:"score"`
}

// CheckpointSavedPayload contains data for checkpoint.saved events.
type CheckpointSavedPayload struct {
	Path       string `json:"path"`
	GlobalStep int64  `json:"global_step"`
	Reason     string `json:"reason"`
}
