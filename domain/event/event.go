// Package event provides domain types and interfaces for the training event log.
package event

import (
	"encoding/json"
	"time"
)

// Event is one entry in a run's event stream.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// RunID is the ID of the training run this event belongs to.
	RunID string `json:"run_id"`

	// Type classifies the event.
	Type Type `json:"type"`

	// Worker is the process index that emitted the event, or -1 for the trainer.
	Worker int `json:"worker"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Payload contains the event-specific data.
	Payload json.RawMessage `json:"payload"`

	// Sequence is the ordering number within the run's event stream.
	// Assigned by the store on append.
	Sequence uint64 `json:"sequence"`
}

// TrainerWorker is the Worker value of events emitted by the orchestrator.
const TrainerWorker = -1

// NewEvent creates a new event with the given type and payload.
func NewEvent(runID string, worker int, eventType Type, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{
		RunID:     runID,
		Type:      eventType,
		Worker:    worker,
		Timestamp: time.Now(),
		Payload:   data,
	}, nil
}

// UnmarshalPayload decodes the event payload into the given value.
func (e *Event) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}
