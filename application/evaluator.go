package application

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/asynctrain/domain/training"
)

// IntervalEvaluator scores the agent every Interval global steps by playing
// Episodes evaluation episodes and averaging their returns.
type IntervalEvaluator struct {
	Interval      int64
	Episodes      int
	MaxEpisodeLen int

	mu       sync.Mutex
	prevEval int64
	maxScore float64
	scored   bool
}

// NewIntervalEvaluator creates an evaluator.
func NewIntervalEvaluator(interval int64, episodes, maxEpisodeLen int) (*IntervalEvaluator, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: evaluation interval must be positive", training.ErrInvalidConfig)
	}
	if episodes <= 0 {
		return nil, fmt.Errorf("%w: evaluation episodes must be positive", training.ErrInvalidConfig)
	}
	if maxEpisodeLen < 0 {
		return nil, fmt.Errorf("%w: evaluation max episode length must not be negative", training.ErrInvalidConfig)
	}
	return &IntervalEvaluator{
		Interval:      interval,
		Episodes:      episodes,
		MaxEpisodeLen: maxEpisodeLen,
	}, nil
}

// EvaluateIfNecessary evaluates once t has moved at least Interval steps past
// the previous evaluation.
func (e *IntervalEvaluator) EvaluateIfNecessary(ctx context.Context, t, episodes int64, env training.Environment, agent training.Agent) (float64, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t < e.prevEval+e.Interval {
		return 0, false, nil
	}

	score, err := e.evaluate(ctx, env, agent)
	if err != nil {
		return 0, false, err
	}

	e.prevEval = t - t%e.Interval
	if !e.scored || score > e.maxScore {
		e.maxScore = score
		e.scored = true
	}
	return score, true, nil
}

// MaxScore returns the best score seen so far.
func (e *IntervalEvaluator) MaxScore() (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxScore, e.scored
}

func (e *IntervalEvaluator) evaluate(ctx context.Context, env training.Environment, agent training.Agent) (float64, error) {
	if setter, ok := agent.(training.EvalModeSetter); ok {
		setter.SetEvalMode(true)
		defer setter.SetEvalMode(false)
	}

	var total float64
	for i := 0; i < e.Episodes; i++ {
		ret, err := e.episode(ctx, env, agent)
		if err != nil {
			return 0, fmt.Errorf("evaluation episode %d: %w", i, err)
		}
		total += ret
	}
	return total / float64(e.Episodes), nil
}

func (e *IntervalEvaluator) episode(ctx context.Context, env training.Environment, agent training.Agent) (float64, error) {
	obs, err := env.Reset()
	if err != nil {
		return 0, err
	}

	var ret float64
	for length := 1; ; length++ {
		if err := ctx.Err(); err != nil {
			return 0, errors.Join(errors.New("evaluation interrupted"), err)
		}

		action, err := agent.Act(obs)
		if err != nil {
			return 0, err
		}
		sr, err := env.Step(action)
		if err != nil {
			return 0, err
		}
		ret += sr.Reward

		reset := sr.Info.NeedsReset() || (e.MaxEpisodeLen > 0 && length >= e.MaxEpisodeLen)
		if err := agent.Observe(sr.Observation, sr.Reward, sr.Done, reset); err != nil {
			return 0, err
		}
		if sr.Done || reset {
			return ret, nil
		}
		obs = sr.Observation
	}
}

var _ training.Evaluator = (*IntervalEvaluator)(nil)
