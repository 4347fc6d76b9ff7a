package tree

import (
	"sync"

	"github.com/hupe1980/pointgo/format"
	"github.com/hupe1980/pointgo/internal/pool"
	"github.com/hupe1980/pointgo/metadata"
)

// ContiguousChunk backs its tubes with a dense, pre-sized vector.
// Chosen for low chunk ids where occupancy is expected to be high:
// tube lookup is a direct index.
type ContiguousChunk struct {
	env   Env
	id    metadata.ID
	depth uint64
	max   uint64

	mu        sync.Mutex
	tubes     []Tube
	numPoints uint64
}

func newContiguousChunk(d Env, info metadata.ChunkInfo) *ContiguousChunk {
	return &ContiguousChunk{
		env:   d,
		id:    info.ChunkID,
		depth: info.Depth,
		max:   info.PointsPerChunk,
		tubes: make([]Tube, info.PointsPerChunk),
	}
}

// newBaseSlice creates a contiguous chunk spanning an explicit range,
// used for the base chunk's per-depth slices and subset spans.
func newBaseSlice(d Env, id metadata.ID, depth, span uint64) *ContiguousChunk {
	return &ContiguousChunk{
		env:   d,
		id:    id,
		depth: depth,
		max:   span,
		tubes: make([]Tube, span),
	}
}

// ID returns the first owned index.
func (c *ContiguousChunk) ID() metadata.ID { return c.id }

// EndID returns one past the last owned index.
func (c *ContiguousChunk) EndID() metadata.ID { return c.id.AddUint64(c.max) }

// Depth returns the chunk's depth.
func (c *ContiguousChunk) Depth() uint64 { return c.depth }

// Type returns the serialized representation tag.
func (c *ContiguousChunk) Type() format.ChunkType { return format.ChunkContiguous }

// Insert routes the cell to its tube by direct index.
func (c *ContiguousChunk) Insert(climber *Climber, cell *pool.Cell) InsertResult {
	offset := climber.Index().Sub(c.id).Simple()

	c.mu.Lock()
	defer c.mu.Unlock()

	res := c.tubes[offset].Insert(climber.Tick(), cell)
	if res != InsertOccupied {
		c.numPoints++
	}
	return res
}

// NumPoints returns the stacked point count.
func (c *ContiguousChunk) NumPoints() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.numPoints
}

// Empty reports whether the chunk holds no cells.
func (c *ContiguousChunk) Empty() bool {
	return c.NumPoints() == 0
}

// Acquire drains all cells in tube order.
func (c *ContiguousChunk) Acquire() pool.CellStack {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out pool.CellStack
	for i := len(c.tubes) - 1; i >= 0; i-- {
		c.tubes[i].Drain(&out)
	}
	c.numPoints = 0
	return out
}

// Collect serializes and drains the chunk.
func (c *ContiguousChunk) Collect() ([]byte, error) {
	return collectCells(c.env, c.Acquire(), format.ChunkContiguous)
}

// rangeTubes iterates (tubeIndex, tube) over occupied tubes in index
// order, without draining. Used by the base chunk's celled save.
func (c *ContiguousChunk) rangeTubes(fn func(idx uint64, t *Tube)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.tubes {
		if !c.tubes[i].Empty() {
			fn(uint64(i), &c.tubes[i])
		}
	}
}
