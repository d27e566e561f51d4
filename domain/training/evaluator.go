package training

import "context"

// Evaluator scores the agent on a separate evaluation environment while
// training runs. Implementations decide when an evaluation is due.
type Evaluator interface {
	// EvaluateIfNecessary runs an evaluation when one is due at global step t.
	// evaluated reports whether score is meaningful.
	EvaluateIfNecessary(ctx context.Context, t, episodes int64, env Environment, agent Agent) (score float64, evaluated bool, err error)
}

// EvalModeSetter is implemented by agents that act differently while being
// evaluated, for example greedily and without learning.
type EvalModeSetter interface {
	SetEvalMode(on bool)
}
