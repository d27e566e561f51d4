// Package training provides the domain contracts for asynchronous agent training:
// the agent and environment capabilities consumed by the trainer, hooks, and the
// statistics records produced at episode boundaries.
package training

// Observation is whatever an environment emits after a reset or a step.
type Observation any

// Action is whatever an agent emits for an observation.
type Action any

// Agent is the shared learner driven by every worker.
//
// Implementations must be safe for concurrent use: the trainer calls Act,
// Observe and Statistics from all workers without additional locking.
type Agent interface {
	// Act selects an action for the observation.
	Act(obs Observation) (Action, error)

	// Observe reports the outcome of the last action. done is the environment's
	// terminal signal; reset is true when the episode is being cut short
	// (explicit needs_reset or the max episode length). Both may be true.
	Observe(obs Observation, reward float64, done, reset bool) error

	// Statistics returns the agent's current statistics in a stable order.
	Statistics() Statistics

	// Save persists the agent to path.
	Save(path string) error

	// Load restores the agent from path.
	Load(path string) error
}
