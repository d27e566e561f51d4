// Package qlearning provides a tabular epsilon-greedy Q-learning agent that
// many workers can train concurrently.
package qlearning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/felixgeelhaar/asynctrain/domain/checkpoint"
	"github.com/felixgeelhaar/asynctrain/domain/training"
	"github.com/felixgeelhaar/asynctrain/infrastructure/storage/filesystem"
)

// CheckpointFile is the file written inside a checkpoint directory.
const CheckpointFile = "qtable.json"

// averageQDecay weights the moving average of chosen action values.
const averageQDecay = 0.999

// Errors returned by the agent.
var (
	ErrInvalidConfig      = errors.New("qlearning: invalid config")
	ErrInvalidObservation = errors.New("qlearning: unsupported observation")
	ErrCorruptCheckpoint  = errors.New("qlearning: corrupt checkpoint")
)

// Observation is a tabular state tagged with the stream that produced it.
// Transitions are paired per stream, so concurrent episodes never mix.
type Observation interface {
	State() int
	Stream() int
}

// Config parameterizes the agent.
type Config struct {
	Actions      int
	LearningRate float64
	Discount     float64
	Epsilon      float64
	Seed         int64

	// Store persists checkpoints. Defaults to the local filesystem.
	Store checkpoint.Store
}

type pending struct {
	state  int
	action int
}

// Agent is a Q-learning agent guarded by a single mutex.
type Agent struct {
	cfg   Config
	store checkpoint.Store

	mu       sync.Mutex
	rng      *rand.Rand
	q        map[int][]float64
	pending  map[int]pending
	evalMode bool

	averageQ float64
	steps    int64
	updates  int64
	episodes int64
}

// New creates an agent.
func New(cfg Config) (*Agent, error) {
	if cfg.Actions < 1 {
		return nil, fmt.Errorf("%w: actions must be positive", ErrInvalidConfig)
	}
	if cfg.LearningRate <= 0 || cfg.LearningRate > 1 {
		return nil, fmt.Errorf("%w: learning rate %v", ErrInvalidConfig, cfg.LearningRate)
	}
	if cfg.Discount < 0 || cfg.Discount > 1 {
		return nil, fmt.Errorf("%w: discount %v", ErrInvalidConfig, cfg.Discount)
	}
	if cfg.Epsilon < 0 || cfg.Epsilon > 1 {
		return nil, fmt.Errorf("%w: epsilon %v", ErrInvalidConfig, cfg.Epsilon)
	}

	store := cfg.Store
	if store == nil {
		store = filesystem.NewCheckpointStore()
	}
	seed := uint64(cfg.Seed) // #nosec G115 -- seed bits only
	return &Agent{
		cfg:     cfg,
		store:   store,
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), // #nosec G404 -- exploration, not security
		q:       make(map[int][]float64),
		pending: make(map[int]pending),
	}, nil
}

func decode(obs training.Observation) (state, stream int, err error) {
	switch o := obs.(type) {
	case Observation:
		return o.State(), o.Stream(), nil
	case int:
		return o, 0, nil
	default:
		return 0, 0, fmt.Errorf("%w: %T", ErrInvalidObservation, obs)
	}
}

func (a *Agent) values(state int) []float64 {
	v, ok := a.q[state]
	if !ok {
		v = make([]float64, a.cfg.Actions)
		a.q[state] = v
	}
	return v
}

// greedy breaks ties randomly so an untrained table still explores.
func (a *Agent) greedy(v []float64) int {
	best, n := 0, 0
	for i, x := range v {
		switch {
		case i == 0 || x > v[best]:
			best, n = i, 1
		case x == v[best]:
			n++
			if a.rng.IntN(n) == 0 {
				best = i
			}
		}
	}
	return best
}

// Act picks an epsilon-greedy action, or the greedy one in eval mode.
func (a *Agent) Act(obs training.Observation) (training.Action, error) {
	state, stream, err := decode(obs)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	v := a.values(state)
	var action int
	if !a.evalMode && a.rng.Float64() < a.cfg.Epsilon {
		action = a.rng.IntN(a.cfg.Actions)
	} else {
		action = a.greedy(v)
	}

	if !a.evalMode {
		a.averageQ = averageQDecay*a.averageQ + (1-averageQDecay)*v[action]
		a.pending[stream] = pending{state: state, action: action}
	}
	return action, nil
}

// Observe applies the one-step Q-learning update for the stream's pending
// transition. A reset without done bootstraps from the next state.
func (a *Agent) Observe(obs training.Observation, reward float64, done, reset bool) error {
	next, stream, err := decode(obs)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.evalMode {
		return nil
	}

	p, ok := a.pending[stream]
	if ok {
		delete(a.pending, stream)
		target := reward
		if !done {
			target += a.cfg.Discount * maxOf(a.values(next))
		}
		v := a.values(p.state)
		v[p.action] += a.cfg.LearningRate * (target - v[p.action])
		a.updates++
	}

	a.steps++
	if done || reset {
		a.episodes++
	}
	return nil
}

func maxOf(v []float64) float64 {
	m := math.Inf(-1)
	for _, x := range v {
		m = math.Max(m, x)
	}
	return m
}

// Statistics reports average_q, cumulative_steps, n_updates and n_episodes.
func (a *Agent) Statistics() training.Statistics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return training.Statistics{
		{Name: "average_q", Value: a.averageQ},
		{Name: "cumulative_steps", Value: float64(a.steps)},
		{Name: "n_updates", Value: float64(a.updates)},
		{Name: "n_episodes", Value: float64(a.episodes)},
	}
}

// SetEvalMode switches to greedy acting without learning.
func (a *Agent) SetEvalMode(on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.evalMode = on
}

// Value returns Q(state, action).
func (a *Agent) Value(state, action int) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.q[state]
	if !ok || action < 0 || action >= len(v) {
		return 0
	}
	return v[action]
}

// Greedy returns the best known action for state without exploring.
func (a *Agent) Greedy(state int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	v := a.values(state)
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

type snapshot struct {
	Actions  int           `json:"actions"`
	Steps    int64         `json:"cumulative_steps"`
	Updates  int64         `json:"n_updates"`
	Episodes int64         `json:"n_episodes"`
	AverageQ float64       `json:"average_q"`
	Table    []snapshotRow `json:"table"`
}

type snapshotRow struct {
	State  int       `json:"state"`
	Values []float64 `json:"values"`
}

// Save writes the Q-table to path.
func (a *Agent) Save(path string) error {
	a.mu.Lock()
	snap := snapshot{
		Actions:  a.cfg.Actions,
		Steps:    a.steps,
		Updates:  a.updates,
		Episodes: a.episodes,
		AverageQ: a.averageQ,
		Table:    make([]snapshotRow, 0, len(a.q)),
	}
	for state, v := range a.q {
		snap.Table = append(snap.Table, snapshotRow{State: state, Values: append([]float64(nil), v...)})
	}
	a.mu.Unlock()

	sort.Slice(snap.Table, func(i, j int) bool { return snap.Table[i].State < snap.Table[j].State })

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode q-table: %w", err)
	}
	return a.store.Write(context.Background(), path, CheckpointFile, data)
}

// Load replaces the Q-table and counters with the checkpoint at path.
func (a *Agent) Load(path string) error {
	data, err := a.store.Read(context.Background(), path, CheckpointFile)
	if err != nil {
		return err
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptCheckpoint, err)
	}
	if snap.Actions != a.cfg.Actions {
		return fmt.Errorf("%w: %d actions, agent has %d", ErrCorruptCheckpoint, snap.Actions, a.cfg.Actions)
	}

	q := make(map[int][]float64, len(snap.Table))
	for _, row := range snap.Table {
		if len(row.Values) != a.cfg.Actions {
			return fmt.Errorf("%w: state %d has %d values", ErrCorruptCheckpoint, row.State, len(row.Values))
		}
		q[row.State] = row.Values
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.q = q
	a.pending = make(map[int]pending)
	a.steps = snap.Steps
	a.updates = snap.Updates
	a.episodes = snap.Episodes
	a.averageQ = snap.AverageQ
	return nil
}

var (
	_ training.Agent          = (*Agent)(nil)
	_ training.EvalModeSetter = (*Agent)(nil)
)
