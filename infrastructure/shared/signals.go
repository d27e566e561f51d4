package shared

import (
	"context"
	"sync"
	"sync/atomic"
)

// Signal is a one-shot flag. Once set it is never cleared.
type Signal struct {
	name string
	set  atomic.Bool
	once sync.Once
	ch   chan struct{}
}

// NewSignal creates an unset signal.
func NewSignal(name string) *Signal {
	return &Signal{
		name: name,
		ch:   make(chan struct{}),
	}
}

// Name returns the signal name.
func (s *Signal) Name() string {
	return s.name
}

// Set raises the signal. It reports whether this call was the one that set it.
func (s *Signal) Set() bool {
	first := false
	s.once.Do(func() {
		s.set.Store(true)
		close(s.ch)
		first = true
	})
	return first
}

// IsSet reports whether the signal has been raised. It never blocks.
func (s *Signal) IsSet() bool {
	return s.set.Load()
}

// Done returns a channel closed when the signal is raised.
func (s *Signal) Done() <-chan struct{} {
	return s.ch
}

// Wait blocks until the signal is raised or ctx is done.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Signals groups the signals shared by all workers of a run.
type Signals struct {
	// Stop asks every worker to finish after its current iteration.
	Stop *Signal

	// Exception is raised by a worker that failed.
	Exception *Signal

	// Process0Done is raised once worker 0 has closed its environment and
	// enqueued its last statistics record.
	Process0Done *Signal
}

// NewSignals creates an unset signal set.
func NewSignals() *Signals {
	return &Signals{
		Stop:         NewSignal("stop"),
		Exception:    NewSignal("exception"),
		Process0Done: NewSignal("process0_done"),
	}
}

// Halted reports whether workers should leave their loop.
func (s *Signals) Halted() bool {
	return s.Stop.IsSet() || s.Exception.IsSet()
}
