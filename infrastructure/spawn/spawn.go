// Package spawn abstracts how training workers are started and joined, so the
// orchestrator is the same whether a worker is a goroutine or something heavier.
package spawn

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("process already started")
	ErrNotStarted     = errors.New("process not started")
	ErrProcessPanic   = errors.New("process panicked")
)

// Func is the body of a worker process.
type Func func(ctx context.Context) error

// Process is a handle on one spawned worker.
type Process interface {
	// Index returns the worker's process index.
	Index() int

	// Start begins execution. A process can be started once.
	Start(ctx context.Context) error

	// Wait blocks until the process exits and returns its error.
	Wait() error

	// IsAlive reports whether the process has started and not yet exited.
	IsAlive() bool

	// Err returns the exit error, or nil while running.
	Err() error
}

// Spawner creates worker processes.
type Spawner interface {
	Spawn(index int, fn Func) Process
}

// GoroutineSpawner runs each worker on its own goroutine.
type GoroutineSpawner struct{}

// NewGoroutineSpawner creates a spawner backed by goroutines.
func NewGoroutineSpawner() *GoroutineSpawner {
	return &GoroutineSpawner{}
}

// Spawn returns an unstarted process.
func (GoroutineSpawner) Spawn(index int, fn Func) Process {
	return &goroutineProcess{
		index: index,
		fn:    fn,
		done:  make(chan struct{}),
	}
}

type goroutineProcess struct {
	index int
	fn    Func

	mu      sync.Mutex
	started bool
	exited  bool
	err     error
	done    chan struct{}
}

func (p *goroutineProcess) Index() int {
	return p.index
}

func (p *goroutineProcess) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.started = true
	p.mu.Unlock()

	go p.run(ctx)
	return nil
}

func (p *goroutineProcess) run(ctx context.Context) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: worker %d: %v", ErrProcessPanic, p.index, r)
		}
		p.mu.Lock()
		p.exited = true
		p.err = err
		p.mu.Unlock()
		close(p.done)
	}()

	err = p.fn(ctx)
}

func (p *goroutineProcess) Wait() error {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	<-p.done
	return p.Err()
}

func (p *goroutineProcess) IsAlive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started && !p.exited
}

func (p *goroutineProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// StartAll spawns and starts n processes built by body. If a start fails the
// processes already running are returned along with the error.
func StartAll(ctx context.Context, s Spawner, n int, body func(index int) Func) ([]Process, error) {
	procs := make([]Process, 0, n)
	for i := 0; i < n; i++ {
		p := s.Spawn(i, body(i))
		if err := p.Start(ctx); err != nil {
			return procs, fmt.Errorf("start worker %d: %w", i, err)
		}
		procs = append(procs, p)
	}
	return procs, nil
}

// WaitAll joins every process and returns their exit errors by index.
func WaitAll(procs []Process) []error {
	errs := make([]error, len(procs))
	for i, p := range procs {
		errs[i] = p.Wait()
	}
	return errs
}
