package statemachine

import (
	"fmt"
	"sync"

	"github.com/felixgeelhaar/statekit"

	"github.com/felixgeelhaar/asynctrain/domain/training"
)

// Lifecycle is the running state machine of one worker.
type Lifecycle struct {
	mu     sync.Mutex
	interp *statekit.Interpreter[*Context]
	ctx    *Context
}

// NewLifecycle creates and starts a lifecycle in the pending state.
func NewLifecycle(machine *statekit.MachineConfig[*Context], worker int) *Lifecycle {
	ctx := &Context{Worker: worker, State: training.WorkerPending}

	interp := statekit.NewInterpreter(machine)
	interp.UpdateContext(func(c **Context) {
		*c = ctx
	})
	interp.Start()

	return &Lifecycle{interp: interp, ctx: ctx}
}

// Start moves pending to running.
func (l *Lifecycle) Start() error {
	return l.send(statekit.Event{Type: EventStart})
}

// Close moves running to closing.
func (l *Lifecycle) Close() error {
	return l.send(statekit.Event{Type: EventClose})
}

// Finish ends the lifecycle from closing: stopped when no failure was
// recorded, failed otherwise.
func (l *Lifecycle) Finish() error {
	l.mu.Lock()
	failed := l.ctx.Err != nil
	l.mu.Unlock()

	if failed {
		return l.send(statekit.Event{Type: EventFail})
	}
	return l.send(statekit.Event{Type: EventStop})
}

// Fail records err and moves toward closing.
func (l *Lifecycle) Fail(err error) error {
	return l.send(statekit.Event{Type: EventFail, Payload: FailurePayload{Err: err}})
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() training.WorkerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return training.WorkerState(l.interp.State().Value)
}

// Err returns the recorded failure, if any.
func (l *Lifecycle) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ctx.Err
}

// History returns a copy of the recorded transitions.
func (l *Lifecycle) History() []Transition {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Transition(nil), l.ctx.History...)
}

// IsTerminal reports whether the lifecycle reached stopped or failed.
func (l *Lifecycle) IsTerminal() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interp.Done()
}

func (l *Lifecycle) send(event statekit.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	from := training.WorkerState(l.interp.State().Value)
	if _, ok := allowed[from][event.Type]; !ok {
		return fmt.Errorf("worker %d: event %s not allowed in state %s", l.ctx.Worker, event.Type, from)
	}

	l.interp.Send(event)
	return nil
}
