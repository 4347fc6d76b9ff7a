package tree

import (
	"sort"
	"sync"

	"github.com/hupe1980/pointgo/format"
	"github.com/hupe1980/pointgo/internal/pool"
	"github.com/hupe1980/pointgo/metadata"
)

// SparseChunk backs its tubes with a hash map. Chosen for deep chunk
// ids where a dense vector would be almost entirely empty.
type SparseChunk struct {
	env   Env
	id    metadata.ID
	depth uint64

	mu        sync.Mutex
	tubes     map[uint64]*Tube
	numPoints uint64
}

func newSparseChunk(d Env, info metadata.ChunkInfo) *SparseChunk {
	return &SparseChunk{
		env:   d,
		id:    info.ChunkID,
		depth: info.Depth,
		tubes: make(map[uint64]*Tube),
	}
}

// ID returns the first owned index.
func (c *SparseChunk) ID() metadata.ID { return c.id }

// Depth returns the chunk's depth.
func (c *SparseChunk) Depth() uint64 { return c.depth }

// Type returns the serialized representation tag.
func (c *SparseChunk) Type() format.ChunkType { return format.ChunkSparse }

// Insert routes the cell to its tube by chunk offset.
func (c *SparseChunk) Insert(climber *Climber, cell *pool.Cell) InsertResult {
	offset := climber.Index().Sub(c.id).Simple()

	c.mu.Lock()
	defer c.mu.Unlock()

	tube, ok := c.tubes[offset]
	if !ok {
		tube = &Tube{}
		c.tubes[offset] = tube
	}
	res := tube.Insert(climber.Tick(), cell)
	if res != InsertOccupied {
		c.numPoints++
	}
	return res
}

// NumPoints returns the stacked point count.
func (c *SparseChunk) NumPoints() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.numPoints
}

// Empty reports whether the chunk holds no cells.
func (c *SparseChunk) Empty() bool {
	return c.NumPoints() == 0
}

// Acquire drains all cells in ascending tube order.
func (c *SparseChunk) Acquire() pool.CellStack {
	c.mu.Lock()
	defer c.mu.Unlock()

	offsets := make([]uint64, 0, len(c.tubes))
	for off := range c.tubes {
		offsets = append(offsets, off)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] > offsets[j] })

	var out pool.CellStack
	for _, off := range offsets {
		c.tubes[off].Drain(&out)
	}
	c.tubes = make(map[uint64]*Tube)
	c.numPoints = 0
	return out
}

// Collect serializes and drains the chunk.
func (c *SparseChunk) Collect() ([]byte, error) {
	return collectCells(c.env, c.Acquire(), format.ChunkSparse)
}
