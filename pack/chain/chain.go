// Package chain provides a chain walk environment: the agent starts at the
// left end of a row of states and is rewarded for reaching the right end.
package chain

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/felixgeelhaar/asynctrain/domain/training"
)

// Actions.
const (
	Left  = 0
	Right = 1

	NumActions = 2
)

// Errors returned by the environment.
var (
	ErrInvalidAction = errors.New("chain: invalid action")
	ErrNotReset      = errors.New("chain: step before reset")
	ErrClosed        = errors.New("chain: environment closed")
	ErrInvalidConfig = errors.New("chain: invalid config")
)

// State is the observation: the position on the chain plus the stream that
// produced it, so a shared agent can tell concurrent episodes apart.
type State struct {
	StreamID int `json:"stream"`
	Pos      int `json:"pos"`
}

// State returns the tabular state index.
func (s State) State() int { return s.Pos }

// Stream returns the identifier of the environment instance.
func (s State) Stream() int { return s.StreamID }

// Config parameterizes a chain.
type Config struct {
	// Length is the number of states, at least 2.
	Length int
	// TimeLimit sets needs_reset after that many steps of an episode (0 = none).
	TimeLimit int
	// Slip is the probability that an action is replaced by its opposite.
	Slip float64
	// Seed seeds slipping.
	Seed int64
}

// Env is a chain walk. It is not safe for concurrent use; every worker owns
// its own instance.
type Env struct {
	cfg    Config
	stream int
	rng    *rand.Rand

	mu      sync.Mutex
	pos     int
	elapsed int
	active  bool
	closed  bool
}

// New creates a chain environment emitting observations tagged with stream.
func New(cfg Config, stream int) (*Env, error) {
	if cfg.Length < 2 {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidConfig, cfg.Length)
	}
	if cfg.TimeLimit < 0 {
		return nil, fmt.Errorf("%w: time limit %d", ErrInvalidConfig, cfg.TimeLimit)
	}
	if cfg.Slip < 0 || cfg.Slip >= 1 {
		return nil, fmt.Errorf("%w: slip %v", ErrInvalidConfig, cfg.Slip)
	}
	seed := uint64(cfg.Seed) // #nosec G115 -- seed bits only
	return &Env{
		cfg:    cfg,
		stream: stream,
		rng:    rand.New(rand.NewPCG(seed, uint64(stream))), // #nosec G115,G404 -- reproducible simulation
	}, nil
}

// Reset moves back to the left end.
func (e *Env) Reset() (training.Observation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}
	e.pos = 0
	e.elapsed = 0
	e.active = true
	return e.observation(), nil
}

// Step moves one state left or right.
func (e *Env) Step(action training.Action) (training.StepResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return training.StepResult{}, ErrClosed
	}
	if !e.active {
		return training.StepResult{}, ErrNotReset
	}

	a, ok := action.(int)
	if !ok || a < 0 || a >= NumActions {
		return training.StepResult{}, fmt.Errorf("%w: %v", ErrInvalidAction, action)
	}
	if e.cfg.Slip > 0 && e.rng.Float64() < e.cfg.Slip {
		a = 1 - a
	}

	if a == Right {
		e.pos++
	} else if e.pos > 0 {
		e.pos--
	}
	e.elapsed++

	res := training.StepResult{Observation: e.observation()}
	if e.pos == e.cfg.Length-1 {
		res.Reward = 1
		res.Done = true
		e.active = false
		return res, nil
	}
	if e.cfg.TimeLimit > 0 && e.elapsed >= e.cfg.TimeLimit {
		res.Info = training.Info{training.InfoNeedsReset: true}
		e.active = false
	}
	return res, nil
}

// Close releases the environment. Further calls fail with ErrClosed.
func (e *Env) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *Env) observation() State {
	return State{StreamID: e.stream, Pos: e.pos}
}

// TestStreamOffset separates evaluation streams from training streams.
const TestStreamOffset = 1 << 16

// Factory returns an EnvFactory. Worker i trains on stream i with seed
// Seed+i; evaluation environments use stream TestStreamOffset+i.
func Factory(cfg Config) training.EnvFactory {
	return func(processIndex int, test bool) (training.Environment, error) {
		c := cfg
		c.Seed += int64(processIndex)
		stream := processIndex
		if test {
			stream += TestStreamOffset
		}
		return New(c, stream)
	}
}

var _ training.Environment = (*Env)(nil)
