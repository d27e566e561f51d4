// Package memory provides in-memory implementations of the storage interfaces.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/asynctrain/domain/event"
)

// EventStore is an in-memory implementation of event.Store.
type EventStore struct {
	events    map[string][]event.Event // runID -> events
	sequences map[string]uint64        // runID -> last sequence
	mu        sync.RWMutex
}

// NewEventStore creates a new in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{
		events:    make(map[string][]event.Event),
		sequences: make(map[string]uint64),
	}
}

// Append persists one or more events atomically.
func (s *EventStore) Append(ctx context.Context, events ...event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(events) == 0 {
		return nil
	}

	for _, e := range events {
		if e.Type == "" || e.RunID == "" {
			return event.ErrInvalidEvent
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		seq := s.sequences[e.RunID] + 1
		e.Sequence = seq
		s.sequences[e.RunID] = seq
		s.events[e.RunID] = append(s.events[e.RunID], e)
	}

	return nil
}

// LoadEvents retrieves all events for a run in sequence order.
func (s *EventStore) LoadEvents(ctx context.Context, runID string) ([]event.Event, error) {
	return s.LoadEventsFrom(ctx, runID, 0)
}

// LoadEventsFrom retrieves events with sequence >= fromSeq.
func (s *EventStore) LoadEventsFrom(ctx context.Context, runID string, fromSeq uint64) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []event.Event
	for _, e := range s.events[runID] {
		if e.Sequence >= fromSeq {
			out = append(out, e)
		}
	}
	return out, nil
}

// Query retrieves events matching the given options.
func (s *EventStore) Query(ctx context.Context, runID string, opts event.QueryOptions) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []event.Event
	for _, e := range s.events[runID] {
		if !opts.Matches(e) {
			continue
		}
		out = append(out, e)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

// CountEvents returns the number of events for a run.
func (s *EventStore) CountEvents(ctx context.Context, runID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.events[runID])), nil
}

// ListRuns returns all run IDs with events in the store.
func (s *EventStore) ListRuns(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.events))
	for id := range s.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close is a no-op.
func (s *EventStore) Close() error {
	return nil
}

// Ensure EventStore implements event.Store and event.Querier
var (
	_ event.Store   = (*EventStore)(nil)
	_ event.Querier = (*EventStore)(nil)
)
