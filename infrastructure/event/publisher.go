// Package event provides event publishing for training runs.
package event

import (
	"context"
	"sync"

	"github.com/felixgeelhaar/asynctrain/domain/event"
	"github.com/felixgeelhaar/asynctrain/infrastructure/logging"
)

// Publisher publishes events to an event store.
type Publisher struct {
	store   event.Store
	buffer  []event.Event
	bufSize int
	mu      sync.Mutex
	closed  bool
}

// PublisherOption configures the publisher.
type PublisherOption func(*Publisher)

// WithBufferSize sets the event buffer size.
func WithBufferSize(size int) PublisherOption {
	return func(p *Publisher) {
		p.bufSize = size
	}
}

// NewPublisher creates a new event publisher.
func NewPublisher(store event.Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.bufSize > 0 {
		p.buffer = make([]event.Event, 0, p.bufSize)
	}
	return p
}

// Publish sends events to the event store.
func (p *Publisher) Publish(ctx context.Context, events ...event.Event) error {
	if len(events) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return event.ErrStoreClosed
	}

	// If no buffering, publish immediately
	if p.bufSize == 0 {
		return p.store.Append(ctx, events...)
	}

	p.buffer = append(p.buffer, events...)
	if len(p.buffer) >= p.bufSize {
		return p.flush(ctx)
	}

	return nil
}

// Emit builds and publishes a single event. Failures are logged and
// swallowed: the event log is a side channel and never stops training.
func (p *Publisher) Emit(ctx context.Context, runID string, worker int, typ event.Type, payload any) {
	e, err := event.NewEvent(runID, worker, typ, payload)
	if err == nil {
		err = p.Publish(ctx, e)
	}
	if err != nil {
		logging.Warn().
			Add(logging.RunID(runID)).
			Add(logging.Component("events")).
			Add(logging.Str("event_type", string(typ))).
			Add(logging.ErrorField(err)).
			Msg("event publish failed")
	}
}

// Flush writes all buffered events to the store.
func (p *Publisher) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flush(ctx)
}

// flush writes buffered events to the store (must hold lock).
func (p *Publisher) flush(ctx context.Context) error {
	if len(p.buffer) == 0 {
		return nil
	}

	if err := p.store.Append(ctx, p.buffer...); err != nil {
		return err
	}

	p.buffer = p.buffer[:0]
	return nil
}

// Close flushes remaining events. Later publishes fail with ErrStoreClosed.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.flush(context.Background())
}

// Ensure Publisher implements event.Publisher
var _ event.Publisher = (*Publisher)(nil)
