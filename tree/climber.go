// Package tree implements the spatial index: the per-point descent
// (Climber), in-memory chunk representations, the refcounted registry
// of live chunks, and the hierarchy of what exists on disk.
package tree

import (
	"math"

	"github.com/hupe1980/pointgo/internal/pool"
	"github.com/hupe1980/pointgo/metadata"
)

// tickDepthCap bounds tick resolution so tick arithmetic stays inside
// float64 integer precision.
const tickDepthCap = 30

// Climber walks a point down the tree one depth at a time, tracking
// the node index, the narrowing bounds, and the z tick.
//
// Octant ordering is fixed: bit 0 set means x >= mid, bit 1 y >= mid,
// bit 2 z >= mid. Changing it would break on-disk compatibility.
type Climber struct {
	structure metadata.Structure
	cube      metadata.Bounds

	index  metadata.ID
	depth  uint64
	bounds metadata.Bounds
	tick   uint64
}

// NewClimber creates a climber over the build's cube bounds.
func NewClimber(s metadata.Structure, cube metadata.Bounds) *Climber {
	c := &Climber{structure: s, cube: cube}
	c.Reset()
	return c
}

// Reset returns the climber to the root.
func (c *Climber) Reset() {
	c.index = metadata.NewID(0)
	c.depth = 0
	c.bounds = c.cube
	c.tick = 0
}

// Index returns the current node index.
func (c *Climber) Index() metadata.ID { return c.index }

// Depth returns the current depth.
func (c *Climber) Depth() uint64 { return c.depth }

// Bounds returns the node bounds at the current depth.
func (c *Climber) Bounds() metadata.Bounds { return c.bounds }

// Tick returns the z tick at the current depth's resolution.
func (c *Climber) Tick() uint64 { return c.tick }

// Magnify advances one depth toward p, which must lie within the
// current bounds.
func (c *Climber) Magnify(p pool.Point) {
	mid := c.bounds.Mid()

	var child uint64
	if p.X >= mid.X {
		child |= 1
	}
	if p.Y >= mid.Y {
		child |= 2
	}

	if c.structure.Tubular() {
		// Hybrid shape: z never branches; the tick carries it.
		c.bounds = c.bounds.QuadrantXY(int(child))
	} else {
		if p.Z >= mid.Z {
			child |= 4
		}
		c.bounds = c.bounds.Octant(int(child))
	}

	c.index = c.structure.ChildIndex(c.index, child)
	c.depth++
	c.tick = c.calcTick(p)
}

// MagnifyTo advances until the given depth.
func (c *Climber) MagnifyTo(p pool.Point, depth uint64) {
	for c.depth < depth {
		c.Magnify(p)
	}
}

// calcTick compresses p's z into the cube's z range at the current
// depth's resolution.
func (c *Climber) calcTick(p pool.Point) uint64 {
	zDepth := c.depth
	if zDepth > tickDepthCap {
		zDepth = tickDepthCap
	}
	extent := c.cube.Extent().Z
	if extent <= 0 {
		return 0
	}
	ticks := float64(uint64(1) << zDepth)
	t := math.Floor((p.Z - c.cube.Min.Z) / extent * ticks)
	if t < 0 {
		t = 0
	}
	if t >= ticks {
		t = ticks - 1
	}
	return uint64(t)
}

// ChunkInfo locates the current cold-tier index within its chunk.
func (c *Climber) ChunkInfo() (metadata.ChunkInfo, error) {
	return c.structure.Info(c.index)
}
