package training

// InfoNeedsReset is the info key an environment sets to force an episode boundary.
const InfoNeedsReset = "needs_reset"

// Info carries auxiliary step data reported by an environment.
type Info map[string]any

// NeedsReset reports whether the environment asked for a reset without
// necessarily reaching a terminal state.
func (i Info) NeedsReset() bool {
	if i == nil {
		return false
	}
	v, ok := i[InfoNeedsReset].(bool)
	return ok && v
}

// StepResult is the outcome of a single environment step.
type StepResult struct {
	Observation Observation
	Reward      float64
	Done        bool
	Info        Info
}

// Environment is owned by exactly one worker for its lifetime.
type Environment interface {
	// Reset starts a new episode and returns its first observation.
	Reset() (Observation, error)

	// Step applies an action.
	Step(action Action) (StepResult, error)

	// Close releases the environment. The trainer calls it exactly once.
	Close() error
}

// EnvFactory creates the environment for a worker. test selects an
// evaluation environment instead of a training one.
type EnvFactory func(processIndex int, test bool) (Environment, error)
