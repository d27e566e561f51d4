package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/felixgeelhaar/asynctrain/domain/run"
)

// RunStore is an in-memory implementation of run.Store. Runs are stored as
// JSON so callers never share memory with the store.
type RunStore struct {
	runs map[string][]byte
	mu   sync.RWMutex
}

// NewRunStore creates a new in-memory run store.
func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string][]byte),
	}
}

// Save persists a new run.
func (s *RunStore) Save(ctx context.Context, r *run.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.ID == "" {
		return run.ErrInvalidRunID
	}

	data, err := json.Marshal(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[r.ID]; exists {
		return run.ErrRunExists
	}
	s.runs[r.ID] = data
	return nil
}

// Get retrieves a run by ID.
func (s *RunStore) Get(ctx context.Context, id string) (*run.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, run.ErrInvalidRunID
	}

	s.mu.RLock()
	data, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, run.ErrRunNotFound
	}

	var r run.Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Update updates an existing run.
func (s *RunStore) Update(ctx context.Context, r *run.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.ID == "" {
		return run.ErrInvalidRunID
	}

	data, err := json.Marshal(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[r.ID]; !exists {
		return run.ErrRunNotFound
	}
	s.runs[r.ID] = data
	return nil
}

// Delete removes a run by ID.
func (s *RunStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[id]; !exists {
		return run.ErrRunNotFound
	}
	delete(s.runs, id)
	return nil
}

// List returns runs matching the filter, newest first.
func (s *RunStore) List(ctx context.Context, filter run.ListFilter) ([]*run.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*run.Run
	for _, data := range s.runs {
		var r run.Run
		if err := json.Unmarshal(data, &r); err != nil {
			continue
		}
		if filter.Matches(&r) {
			out = append(out, &r)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Close is a no-op.
func (s *RunStore) Close() error {
	return nil
}

// Ensure RunStore implements run.Store
var _ run.Store = (*RunStore)(nil)
