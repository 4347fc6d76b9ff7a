package tree

import (
	"fmt"

	"github.com/hupe1980/pointgo/format"
	"github.com/hupe1980/pointgo/internal/pool"
	"github.com/hupe1980/pointgo/metadata"
)

// Chunk is the in-memory representation of one cold-tier node range.
// Implementations serialize their own inserts; all methods are safe
// for concurrent use.
type Chunk interface {
	// ID is the first index owned by this chunk.
	ID() metadata.ID
	// Depth is the tree depth the chunk lives at.
	Depth() uint64
	// Type tags the serialized representation.
	Type() format.ChunkType
	// Insert routes a cell to its tube and tick. InsertOccupied means
	// the caller should climb deeper and retry elsewhere.
	Insert(climber *Climber, cell *pool.Cell) InsertResult
	// NumPoints returns the stacked point count.
	NumPoints() uint64
	// Empty reports whether the chunk holds no cells.
	Empty() bool
	// Acquire drains all cells out, destructively, in tube order.
	Acquire() pool.CellStack
	// Collect serializes the chunk's points, draining them. The
	// caller writes the returned bytes and releases the pool nodes.
	// Collect never performs I/O.
	Collect() ([]byte, error)
}

// Env bundles what every chunk needs, handed in at construction as
// borrowed handles owned by the registry (chunks keep no back-pointer
// into it).
type Env struct {
	Structure metadata.Structure
	Cube      metadata.Bounds
	Format    *format.Format
	Pool      *pool.PointPool
}

// newChunk creates the empty chunk variant for the given placement:
// sparse at or past mappedIndexBegin, contiguous below.
func newChunk(d Env, info metadata.ChunkInfo) Chunk {
	if info.ChunkID.Cmp(d.Structure.MappedIndexBegin()) >= 0 {
		return newSparseChunk(d, info)
	}
	return newContiguousChunk(d, info)
}

// loadChunk reconstructs a chunk from its serialized bytes.
func loadChunk(d Env, info metadata.ChunkInfo, data []byte) (Chunk, error) {
	unpacker, err := d.Format.Unpack(data)
	if err != nil {
		return nil, err
	}

	chunk := newChunk(d, info)
	if typ, ok := unpacker.ChunkType(); ok && typ != chunk.Type() {
		return nil, fmt.Errorf("%w: chunk %s tagged %d, expected %d",
			format.ErrIntegrity, info.ChunkID, typ, chunk.Type())
	}

	cells, err := unpacker.AcquireCells(d.Pool)
	if err != nil {
		return nil, err
	}
	if err := populate(d, chunk, cells); err != nil {
		return nil, err
	}
	return chunk, nil
}

// populate re-inserts loaded cells by re-climbing each point to the
// chunk's depth. Shells emptied by stacking go back to the pool.
func populate(d Env, chunk Chunk, cells pool.CellStack) error {
	climber := NewClimber(d.Structure, d.Cube)
	var freed pool.CellStack
	for !cells.Empty() {
		cell := cells.Pop()
		climber.Reset()
		climber.MagnifyTo(cell.Point(), chunk.Depth())
		switch chunk.Insert(climber, cell) {
		case InsertOccupied:
			return fmt.Errorf("%w: loaded cell rejected at depth %d",
				format.ErrIntegrity, chunk.Depth())
		case InsertStacked:
			freed.Push(cell)
		}
	}
	d.Pool.CellPool().Release(&freed)
	return nil
}

// collectCells drains a cell stack into raw data nodes and packs them.
// Shells and data nodes return to the pools once the payload is built.
func collectCells(d Env, cells pool.CellStack, typ format.ChunkType) ([]byte, error) {
	var data pool.DataStack
	var shells pool.CellStack
	for !cells.Empty() {
		c := cells.Pop()
		s := c.AcquireData()
		data.PushStack(&s)
		shells.Push(c)
	}
	packed, err := d.Format.Pack(&data, typ)
	d.Pool.DataPool().Release(&data)
	d.Pool.CellPool().Release(&shells)
	return packed, err
}
