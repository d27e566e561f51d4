package application

import (
	"context"
	"errors"
	"sync"

	"github.com/felixgeelhaar/asynctrain/domain/training"
	"github.com/felixgeelhaar/asynctrain/infrastructure/queue"
	"github.com/felixgeelhaar/asynctrain/infrastructure/shared"
	"github.com/felixgeelhaar/asynctrain/infrastructure/statemachine"
)

// Test helpers

var errBoom = errors.New("boom")

var dummyStats = training.Statistics{
	{Name: "average_q", Value: 3.14},
	{Name: "average_loss", Value: 2.7},
	{Name: "cumulative_steps", Value: 42},
	{Name: "n_updates", Value: 8},
	{Name: "rlen", Value: 1},
}

// scriptedEnv replays step results by step number (1-based, counted over the
// env's lifetime).
type scriptedEnv struct {
	name string

	mu       sync.Mutex
	resets   int
	steps    int
	closes   int
	resetObs []training.Observation

	script   func(n int) training.StepResult
	stepErr  error
	failStep int
	panicAt  int
	closeErr error
}

func newEpisodicEnv(length int) *scriptedEnv {
	return &scriptedEnv{
		script: func(n int) training.StepResult {
			pos := (n-1)%length + 1
			return training.StepResult{Observation: pos, Done: pos == length, Reward: boolReward(pos == length)}
		},
	}
}

func newContinuingEnv() *scriptedEnv {
	return &scriptedEnv{
		script: func(n int) training.StepResult {
			return training.StepResult{Observation: 1}
		},
	}
}

func boolReward(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (e *scriptedEnv) Reset() (training.Observation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resets++
	if len(e.resetObs) >= e.resets {
		return e.resetObs[e.resets-1], nil
	}
	return 0, nil
}

func (e *scriptedEnv) Step(action training.Action) (training.StepResult, error) {
	e.mu.Lock()
	e.steps++
	n := e.steps
	e.mu.Unlock()

	if e.panicAt > 0 && n == e.panicAt {
		panic("env exploded")
	}
	if e.failStep > 0 && n == e.failStep {
		return training.StepResult{}, e.stepErr
	}
	return e.script(n), nil
}

func (e *scriptedEnv) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closes++
	return e.closeErr
}

func (e *scriptedEnv) counts() (resets, steps, closes int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resets, e.steps, e.closes
}

type observeCall struct {
	obs    training.Observation
	reward float64
	done   bool
	reset  bool
}

// recordingAgent counts every call and is safe for concurrent use.
type recordingAgent struct {
	mu         sync.Mutex
	acts       int
	observes   []observeCall
	statsCalls int
	saves      []string
	evalMode   []bool

	actErr  error
	saveErr error
}

func (a *recordingAgent) Act(obs training.Observation) (training.Action, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acts++
	if a.actErr != nil {
		return nil, a.actErr
	}
	return 0, nil
}

func (a *recordingAgent) Observe(obs training.Observation, reward float64, done, reset bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observes = append(a.observes, observeCall{obs: obs, reward: reward, done: done, reset: reset})
	return nil
}

func (a *recordingAgent) Statistics() training.Statistics {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.statsCalls++
	return dummyStats
}

func (a *recordingAgent) Save(path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saves = append(a.saves, path)
	return a.saveErr
}

func (a *recordingAgent) Load(path string) error {
	return nil
}

func (a *recordingAgent) SetEvalMode(on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.evalMode = append(a.evalMode, on)
}

func (a *recordingAgent) actCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acts
}

func (a *recordingAgent) observeCalls() []observeCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]observeCall(nil), a.observes...)
}

func (a *recordingAgent) savedPaths() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.saves...)
}

// stepRecorder is a hook that remembers every call.
type stepRecorder struct {
	mu    sync.Mutex
	steps []int64
	envs  []training.Environment
	err   error
	errAt int64
}

func (r *stepRecorder) hook(env training.Environment, agent training.Agent, step int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
	r.envs = append(r.envs, env)
	if r.err != nil && step == r.errAt {
		return r.err
	}
	return nil
}

func (r *stepRecorder) calls() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.steps...)
}

// fixedEvaluator always evaluates and returns score.
type fixedEvaluator struct {
	mu    sync.Mutex
	score float64
	calls int
	err   error
}

func (f *fixedEvaluator) EvaluateIfNecessary(ctx context.Context, t, episodes int64, env training.Environment, agent training.Agent) (float64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, false, f.err
	}
	return f.score, true, nil
}

// loopFixture is the shared state of a single worker test.
type loopFixture struct {
	counters *shared.Counters
	signals  *shared.Signals
	stats    *queue.StatisticsQueue
	lc       *statemachine.Lifecycle
}

func newLoopFixture(worker int) *loopFixture {
	machine, err := statemachine.NewWorkerMachine()
	if err != nil {
		panic(err)
	}
	return &loopFixture{
		counters: shared.NewCounters(0),
		signals:  shared.NewSignals(),
		stats:    queue.NewStatisticsQueue(),
		lc:       statemachine.NewLifecycle(machine, worker),
	}
}

func (f *loopFixture) config(worker int, env training.Environment, agent training.Agent, steps int64) LoopConfig {
	return LoopConfig{
		Worker:     worker,
		Env:        env,
		Agent:      agent,
		Steps:      steps,
		Counters:   f.counters,
		Signals:    f.signals,
		Statistics: f.stats,
		Lifecycle:  f.lc,
	}
}
