// Package checkpoint defines where agents persist their learned state.
package checkpoint

import (
	"context"
	"errors"
)

// Domain errors for checkpoint storage.
var (
	// ErrNotFound indicates no checkpoint exists at the path.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrInvalidPath indicates an empty or malformed checkpoint path.
	ErrInvalidPath = errors.New("invalid checkpoint path")
)

// Store reads and writes named checkpoint blobs. A path names a checkpoint
// directory; name selects a file inside it.
type Store interface {
	// Write stores data atomically, replacing any previous content.
	Write(ctx context.Context, path, name string, data []byte) error

	// Read returns the stored data or ErrNotFound.
	Read(ctx context.Context, path, name string) ([]byte, error)

	// Exists reports whether the checkpoint file exists.
	Exists(ctx context.Context, path, name string) (bool, error)
}
