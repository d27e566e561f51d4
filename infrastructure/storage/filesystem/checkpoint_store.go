// Package filesystem provides a local-disk checkpoint store.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/asynctrain/domain/checkpoint"
)

// CheckpointStore keeps checkpoints as files under their checkpoint directory.
type CheckpointStore struct {
	dirPerm  os.FileMode
	filePerm os.FileMode
}

// Option configures the store.
type Option func(*CheckpointStore)

// WithFilePerm sets the permission of written files.
func WithFilePerm(perm os.FileMode) Option {
	return func(s *CheckpointStore) {
		s.filePerm = perm
	}
}

// NewCheckpointStore creates a filesystem checkpoint store.
func NewCheckpointStore(opts ...Option) *CheckpointStore {
	s := &CheckpointStore{dirPerm: 0o755, filePerm: 0o644}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write stores data through a temporary file and a rename.
func (s *CheckpointStore) Write(ctx context.Context, path, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := resolve(path, name)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(path, s.dirPerm); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	tmp, err := os.CreateTemp(path, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Chmod(tmpName, s.filePerm); err != nil {
		return fmt.Errorf("chmod checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("publish checkpoint: %w", err)
	}
	return nil
}

// Read returns the checkpoint content.
func (s *CheckpointStore) Read(ctx context.Context, path, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, err := resolve(path, name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", checkpoint.ErrNotFound, target)
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	return data, nil
}

// Exists reports whether the checkpoint file exists.
func (s *CheckpointStore) Exists(ctx context.Context, path, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	target, err := resolve(path, name)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(target)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func resolve(path, name string) (string, error) {
	if path == "" || name == "" {
		return "", checkpoint.ErrInvalidPath
	}
	if name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q is not a file name", checkpoint.ErrInvalidPath, name)
	}
	return filepath.Join(path, name), nil
}

var _ checkpoint.Store = (*CheckpointStore)(nil)
