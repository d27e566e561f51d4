// Package queue provides the unbounded statistics queue workers publish to at
// episode boundaries.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/felixgeelhaar/asynctrain/domain/training"
)

// Common errors.
var (
	ErrQueueEmpty  = errors.New("queue is empty")
	ErrQueueClosed = errors.New("queue is closed")
)

// StatisticsQueue is an unbounded multi-producer FIFO of statistics records.
// Put never blocks on capacity, so producers cannot deadlock against a slow
// or absent consumer.
type StatisticsQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []training.Record
	closed bool
	total  int64
}

// NewStatisticsQueue creates an empty queue.
func NewStatisticsQueue() *StatisticsQueue {
	q := &StatisticsQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put appends a record.
func (q *StatisticsQueue) Put(rec training.Record) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.items = append(q.items, rec)
	q.total++
	q.cond.Signal()
	return nil
}

// Get removes the oldest record, blocking until one is available, the queue
// is closed and empty, or ctx is done.
func (q *StatisticsQueue) Get(ctx context.Context) (training.Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		// Wake the waiter when the context ends
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				q.mu.Lock()
				q.cond.Broadcast()
				q.mu.Unlock()
			case <-done:
			}
		}()
		q.cond.Wait()
		close(done)

		if ctx.Err() != nil {
			return training.Record{}, ctx.Err()
		}
	}

	if len(q.items) == 0 {
		return training.Record{}, ErrQueueClosed
	}

	return q.pop(), nil
}

// TryGet removes the oldest record without blocking.
func (q *StatisticsQueue) TryGet() (training.Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		if q.closed {
			return training.Record{}, ErrQueueClosed
		}
		return training.Record{}, ErrQueueEmpty
	}
	return q.pop(), nil
}

// Drain removes and returns every queued record in FIFO order.
func (q *StatisticsQueue) Drain() []training.Record {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = nil
	return out
}

// Len returns the number of queued records.
func (q *StatisticsQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Total returns how many records were ever accepted.
func (q *StatisticsQueue) Total() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.total
}

// Close stops accepting records and wakes blocked consumers. Records already
// queued can still be drained.
func (q *StatisticsQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
	return nil
}

// pop removes the head (must hold lock).
func (q *StatisticsQueue) pop() training.Record {
	rec := q.items[0]
	q.items[0] = training.Record{}
	q.items = q.items[1:]
	return rec
}
