// Package statemachine drives training worker lifecycles with statekit.
package statemachine

import (
	"time"

	"github.com/felixgeelhaar/statekit"

	"github.com/felixgeelhaar/asynctrain/domain/training"
)

// Context carries a worker's lifecycle through the state machine.
type Context struct {
	Worker  int
	State   training.WorkerState
	History []Transition
	Err     error
}

// Transition is one recorded state change.
type Transition struct {
	From training.WorkerState
	To   training.WorkerState
	At   time.Time
}

// Events accepted by the lifecycle machine.
const (
	EventStart statekit.EventType = "START"
	EventClose statekit.EventType = "CLOSE"
	EventStop  statekit.EventType = "STOP"
	EventFail  statekit.EventType = "FAIL"
)

const (
	statePending statekit.StateID = statekit.StateID(training.WorkerPending)
	stateRunning statekit.StateID = statekit.StateID(training.WorkerRunning)
	stateClosing statekit.StateID = statekit.StateID(training.WorkerClosing)
	stateStopped statekit.StateID = statekit.StateID(training.WorkerStopped)
	stateFailed  statekit.StateID = statekit.StateID(training.WorkerFailed)
)

// allowed mirrors the machine definition below for pre-send validation.
var allowed = map[training.WorkerState]map[statekit.EventType]training.WorkerState{
	training.WorkerPending: {EventStart: training.WorkerRunning, EventFail: training.WorkerClosing},
	training.WorkerRunning: {EventClose: training.WorkerClosing, EventFail: training.WorkerClosing},
	training.WorkerClosing: {EventStop: training.WorkerStopped, EventFail: training.WorkerFailed},
}

// NewWorkerMachine creates the worker lifecycle statechart:
// pending -> running -> closing -> stopped | failed.
// A failure while running still passes through closing so the environment
// close is always part of the lifecycle.
func NewWorkerMachine() (*statekit.MachineConfig[*Context], error) {
	return statekit.NewMachine[*Context]("worker").
		WithInitial(statePending).
		WithContext(&Context{}).
		WithAction("recordTransition", recordTransition).
		WithAction("recordFailure", recordFailure).
		WithGuard("noFailure", guardNoFailure).
		State(statePending).
		On(EventStart).Target(stateRunning).Do("recordTransition").
		On(EventFail).Target(stateClosing).Do("recordFailure").
		Done().
		State(stateRunning).
		On(EventClose).Target(stateClosing).Do("recordTransition").
		On(EventFail).Target(stateClosing).Do("recordFailure").
		Done().
		State(stateClosing).
		On(EventStop).Target(stateStopped).Guard("noFailure").Do("recordTransition").
		On(EventFail).Target(stateFailed).Do("recordFailure").
		Done().
		State(stateStopped).
		Final().
		Done().
		State(stateFailed).
		Final().
		Done().
		Build()
}

// FailurePayload carries the error of a FAIL event.
type FailurePayload struct {
	Err error
}

func recordTransition(ctx **Context, event statekit.Event) {
	if ctx == nil || *ctx == nil {
		return
	}
	c := *ctx

	to, ok := allowed[c.State][event.Type]
	if !ok {
		return
	}
	c.History = append(c.History, Transition{From: c.State, To: to, At: time.Now()})
	c.State = to
}

// recordFailure keeps the first failure and records the transition.
func recordFailure(ctx **Context, event statekit.Event) {
	if ctx == nil || *ctx == nil {
		return
	}
	if p, ok := event.Payload.(FailurePayload); ok && p.Err != nil && (*ctx).Err == nil {
		(*ctx).Err = p.Err
	}
	recordTransition(ctx, event)
}

func guardNoFailure(ctx *Context, _ statekit.Event) bool {
	return ctx == nil || ctx.Err == nil
}
