package blobstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when an object does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`.
var ErrNotFound = errors.New("blob not found")

// Store is an abstraction for accessing whole data objects. Chunks are
// written and read in their entirety, so the contract is blocking
// Get/Put rather than ranged reads.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Get reads the full object.
	Get(ctx context.Context, name string) ([]byte, error)
	// Put writes the full object, replacing any existing one. The
	// write is atomic with respect to concurrent Gets: readers see
	// either the old object or the new one, never a partial write.
	Put(ctx context.Context, name string, data []byte) error
	// Delete removes an object. Deleting a missing object is not an
	// error.
	Delete(ctx context.Context, name string) error
	// List returns the object names under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
