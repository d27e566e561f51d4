package event

import "context"

// Store defines the interface for event persistence.
type Store interface {
	// Append persists one or more events atomically.
	// Events are assigned sequence numbers in order of appearance.
	Append(ctx context.Context, events ...Event) error

	// LoadEvents retrieves all events for a run in sequence order.
	LoadEvents(ctx context.Context, runID string) ([]Event, error)

	// LoadEventsFrom retrieves events with sequence >= fromSeq.
	LoadEventsFrom(ctx context.Context, runID string, fromSeq uint64) ([]Event, error)
}

// QueryOptions configures event queries.
type QueryOptions struct {
	// Types filters to specific event types (empty means all).
	Types []Type

	// Worker filters to one worker when non-nil.
	Worker *int

	// Limit is the maximum number of events to return (0 = no limit).
	Limit int
}

// Matches reports whether e passes the type and worker filters.
func (o QueryOptions) Matches(e Event) bool {
	if o.Worker != nil && e.Worker != *o.Worker {
		return false
	}
	if len(o.Types) == 0 {
		return true
	}
	for _, t := range o.Types {
		if e.Type == t {
			return true
		}
	}
	return false
}

// Querier is an optional interface for stores that support filtered reads.
type Querier interface {
	// Query retrieves events matching the given options.
	Query(ctx context.Context, runID string, opts QueryOptions) ([]Event, error)

	// CountEvents returns the number of events for a run.
	CountEvents(ctx context.Context, runID string) (int64, error)

	// ListRuns returns all run IDs with events in the store.
	ListRuns(ctx context.Context) ([]string, error)
}
