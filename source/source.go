// Package source defines the reader contract for point-cloud inputs
// and the pooled table that batches reader output into cells.
package source

import (
	"context"

	"github.com/hupe1980/pointgo/metadata"
)

// Reader streams points out of one source file. Readers write raw
// point bytes (in their declared schema's layout) into the buffers the
// table hands them.
type Reader interface {
	// Schema returns the file's normalized schema: XYZ as native
	// doubles first, attributes after.
	Schema() metadata.Schema
	// Bounds returns the file's header bounds when the format carries
	// them; ok is false otherwise.
	Bounds() (metadata.Bounds, bool)
	// NumPoints returns the file's header point count when known.
	NumPoints() (uint64, bool)
	// Read fills up to len(refs) point buffers and returns how many it
	// filled. It returns io.EOF (possibly alongside a final n > 0)
	// when the source is exhausted.
	Read(refs [][]byte) (int, error)
	// Close releases the source.
	Close() error
}

// Opener resolves a manifest path into a Reader. Implementations
// dispatch on extension or content.
type Opener interface {
	Open(ctx context.Context, path string) (Reader, error)
}
