package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pointgo/internal/pool"
	"github.com/hupe1980/pointgo/metadata"
	"github.com/hupe1980/pointgo/testutil"
)

func testStructure() metadata.Structure {
	return metadata.Structure{
		NullDepth:      1,
		BaseDepth:      3,
		ColdDepth:      8,
		PointsPerChunk: 64,
		Type:           metadata.Octree,
		MappedDepth:    5,
		SparseDepth:    5,
	}
}

func testCube() metadata.Bounds {
	return metadata.NewBounds(0, 0, 0, 8, 8, 8)
}

func TestClimberOctantOrder(t *testing.T) {
	c := NewClimber(testStructure(), testCube())

	// Bit 0 = x >= mid, bit 1 = y >= mid, bit 2 = z >= mid, so the
	// all-low point goes to child 0 and the all-high point to child 7.
	c.Magnify(pool.Point{X: 1, Y: 1, Z: 1})
	assert.Equal(t, "1", c.Index().String())

	c.Reset()
	c.Magnify(pool.Point{X: 7, Y: 1, Z: 1})
	assert.Equal(t, "2", c.Index().String())

	c.Reset()
	c.Magnify(pool.Point{X: 1, Y: 7, Z: 1})
	assert.Equal(t, "3", c.Index().String())

	c.Reset()
	c.Magnify(pool.Point{X: 1, Y: 1, Z: 7})
	assert.Equal(t, "5", c.Index().String())

	c.Reset()
	c.Magnify(pool.Point{X: 7, Y: 7, Z: 7})
	assert.Equal(t, "8", c.Index().String())
}

func TestClimberDeterministicAndContained(t *testing.T) {
	s := testStructure()
	cube := testCube()
	rng := testutil.NewRNG(42)

	for _, mp := range rng.PointsIn(200, cube) {
		p := pool.Point{X: mp.X, Y: mp.Y, Z: mp.Z}

		a := NewClimber(s, cube)
		a.MagnifyTo(p, 6)
		b := NewClimber(s, cube)
		b.MagnifyTo(p, 6)

		// Deterministic.
		require.Equal(t, a.Index().String(), b.Index().String())
		require.Equal(t, a.Tick(), b.Tick())

		// The node bounds at every depth contain the point.
		c := NewClimber(s, cube)
		for depth := uint64(1); depth <= 6; depth++ {
			c.MagnifyTo(p, depth)
			require.True(t, c.Bounds().Contains(metadata.Point{X: p.X, Y: p.Y, Z: p.Z}),
				"depth %d bounds %+v point %+v", depth, c.Bounds(), p)
			require.Equal(t, depth, s.DepthOf(c.Index()))
		}
	}
}

func TestClimberResetReturnsToRoot(t *testing.T) {
	c := NewClimber(testStructure(), testCube())
	c.MagnifyTo(pool.Point{X: 1, Y: 2, Z: 3}, 4)
	require.NotEqual(t, "0", c.Index().String())

	c.Reset()
	assert.Equal(t, "0", c.Index().String())
	assert.Equal(t, uint64(0), c.Depth())
	assert.Equal(t, testCube(), c.Bounds())
}

func TestClimberTickResolutionGrows(t *testing.T) {
	c := NewClimber(testStructure(), testCube())
	p := pool.Point{X: 1, Y: 1, Z: 5}

	c.Magnify(p)
	// Depth 1: two z slots over [0, 8); z=5 is in the upper one.
	assert.Equal(t, uint64(1), c.Tick())

	c.Magnify(p)
	// Depth 2: four slots of height 2; z=5 lands in slot 2.
	assert.Equal(t, uint64(2), c.Tick())
}

func TestClimberChunkInfo(t *testing.T) {
	s := testStructure()
	c := NewClimber(s, testCube())
	p := pool.Point{X: 1, Y: 1, Z: 1}

	c.MagnifyTo(p, s.ColdDepthBegin())
	info, err := c.ChunkInfo()
	require.NoError(t, err)
	assert.Equal(t, s.ColdDepthBegin(), info.Depth)
	assert.Equal(t, s.PointsPerChunk, info.PointsPerChunk)

	// Below the cold tier there is no chunk placement.
	c.Reset()
	c.MagnifyTo(p, 1)
	_, err = c.ChunkInfo()
	assert.Error(t, err)
}

func TestClimberHybridNeverBranchesZ(t *testing.T) {
	s := testStructure()
	s.Type = metadata.Hybrid
	cube := testCube()

	low := NewClimber(s, cube)
	high := NewClimber(s, cube)
	low.MagnifyTo(pool.Point{X: 1, Y: 1, Z: 1}, 3)
	high.MagnifyTo(pool.Point{X: 1, Y: 1, Z: 7}, 3)

	// Same xy path yields the same index; z separates by tick.
	assert.Equal(t, low.Index().String(), high.Index().String())
	assert.NotEqual(t, low.Tick(), high.Tick())

	// Z bounds never narrow.
	assert.Equal(t, 0.0, low.Bounds().Min.Z)
	assert.Equal(t, 8.0, low.Bounds().Max.Z)
}
