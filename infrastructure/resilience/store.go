package resilience

import (
	"context"

	"github.com/felixgeelhaar/asynctrain/domain/checkpoint"
)

// CheckpointStore wraps a checkpoint.Store so every call goes through an
// Executor.
type CheckpointStore struct {
	inner    checkpoint.Store
	executor *Executor
}

// NewCheckpointStore decorates inner. A nil executor uses the defaults.
func NewCheckpointStore(inner checkpoint.Store, executor *Executor) *CheckpointStore {
	if executor == nil {
		executor = NewDefaultExecutor()
	}
	return &CheckpointStore{inner: inner, executor: executor}
}

// Write stores data.
func (s *CheckpointStore) Write(ctx context.Context, path, name string, data []byte) error {
	_, err := s.executor.Execute(ctx, func(ctx context.Context) ([]byte, error) {
		return nil, s.inner.Write(ctx, path, name, data)
	})
	return err
}

// Read loads data.
func (s *CheckpointStore) Read(ctx context.Context, path, name string) ([]byte, error) {
	return s.executor.Execute(ctx, func(ctx context.Context) ([]byte, error) {
		return s.inner.Read(ctx, path, name)
	})
}

// Exists bypasses the breaker; a stat is cheap and never retried.
func (s *CheckpointStore) Exists(ctx context.Context, path, name string) (bool, error) {
	return s.inner.Exists(ctx, path, name)
}

var _ checkpoint.Store = (*CheckpointStore)(nil)
