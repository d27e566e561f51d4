package event

import "errors"

// Domain errors for event store operations.
var (
	// ErrInvalidEvent is returned when an event is malformed.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrConnectionFailed is returned when connection to the store backend fails.
	ErrConnectionFailed = errors.New("event store connection failed")

	// ErrStoreClosed is returned after the store has been closed.
	ErrStoreClosed = errors.New("event store closed")
)
