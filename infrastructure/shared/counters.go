// Package shared provides the lock-free state shared by all training workers:
// the global step and episode counters and the one-shot stop signals.
package shared

import "sync/atomic"

// Counter is an atomic int64 counter.
type Counter struct {
	v atomic.Int64
}

// NewCounter creates a counter starting at initial.
func NewCounter(initial int64) *Counter {
	c := &Counter{}
	c.v.Store(initial)
	return c
}

// Increment adds one and returns the new value.
func (c *Counter) Increment() int64 {
	return c.v.Add(1)
}

// Load returns the current value.
func (c *Counter) Load() int64 {
	return c.v.Load()
}

// Counters holds the process-wide step and episode counters.
type Counters struct {
	// GlobalStep counts completed act/observe cycles across all workers.
	GlobalStep *Counter

	// Episodes counts completed episodes across all workers.
	Episodes *Counter
}

// NewCounters creates counters with the global step starting at stepOffset.
func NewCounters(stepOffset int64) *Counters {
	return &Counters{
		GlobalStep: NewCounter(stepOffset),
		Episodes:   NewCounter(0),
	}
}
