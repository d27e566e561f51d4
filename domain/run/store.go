// Package run provides the domain model and persistence interface for training runs.
package run

import (
	"context"
	"time"
)

// Store defines the interface for run persistence.
type Store interface {
	// Save persists a new run.
	Save(ctx context.Context, run *Run) error

	// Get retrieves a run by ID.
	Get(ctx context.Context, id string) (*Run, error)

	// Update updates an existing run.
	Update(ctx context.Context, run *Run) error

	// Delete removes a run by ID.
	Delete(ctx context.Context, id string) error

	// List returns runs matching the filter, newest first.
	List(ctx context.Context, filter ListFilter) ([]*Run, error)
}

// ListFilter specifies criteria for listing runs.
type ListFilter struct {
	// Status filters by run status (empty means all).
	Status []Status

	// FromTime filters runs started after this time.
	FromTime time.Time

	// Limit is the maximum number of runs to return (0 = no limit).
	Limit int
}

// Matches reports whether r passes the status and time filters.
func (f ListFilter) Matches(r *Run) bool {
	if !f.FromTime.IsZero() && r.StartTime.Before(f.FromTime) {
		return false
	}
	if len(f.Status) == 0 {
		return true
	}
	for _, s := range f.Status {
		if r.Status == s {
			return true
		}
	}
	return false
}
