package metadata

import "fmt"

// TreeType selects the subdivision shape.
type TreeType string

const (
	// Octree subdivides all three axes at every depth (factor 8).
	Octree TreeType = "octree"
	// Hybrid subdivides only x and y (factor 4) at every depth and
	// collapses z into tube ticks; z never contributes an index bit.
	Hybrid TreeType = "hybrid"
)

// Structure holds the immutable shape parameters of the tree.
//
// Depths [0, NullDepth) are routed but never stored. Depths
// [NullDepth, BaseDepth) live in the always-resident base chunk.
// Depths [BaseDepth, ColdDepth) are cold-tier chunks, one on-disk
// object each. ColdDepth == 0 means unbounded (lossless).
type Structure struct {
	NullDepth      uint64   `json:"nullDepth"`
	BaseDepth      uint64   `json:"baseDepth"`
	ColdDepth      uint64   `json:"coldDepth"`
	PointsPerChunk uint64   `json:"pointsPerChunk"`
	Type           TreeType `json:"type"`
	PrefixIDs      bool     `json:"prefixIds"`
	MappedDepth    uint64   `json:"mappedDepth"`
	StartDepth     uint64   `json:"startDepth"`
	SparseDepth    uint64   `json:"sparseDepth"`
	BumpDepth      uint64   `json:"bumpDepth,omitempty"`
}

// DefaultStructure returns the nominal build shape.
func DefaultStructure() Structure {
	return Structure{
		NullDepth:      6,
		BaseDepth:      10,
		ColdDepth:      0,
		PointsPerChunk: 262144,
		Type:           Octree,
		MappedDepth:    13,
		SparseDepth:    13,
	}
}

// Validate checks internal consistency.
func (s Structure) Validate() error {
	if s.BaseDepth < s.NullDepth {
		return fmt.Errorf("structure: baseDepth %d < nullDepth %d", s.BaseDepth, s.NullDepth)
	}
	if s.ColdDepth != 0 && s.ColdDepth < s.BaseDepth {
		return fmt.Errorf("structure: coldDepth %d < baseDepth %d", s.ColdDepth, s.BaseDepth)
	}
	if s.PointsPerChunk == 0 {
		return fmt.Errorf("structure: pointsPerChunk must be positive")
	}
	if s.Type != Octree && s.Type != Hybrid {
		return fmt.Errorf("structure: unknown type %q", s.Type)
	}
	if s.MappedDepth < s.BaseDepth {
		return fmt.Errorf("structure: mappedDepth %d < baseDepth %d", s.MappedDepth, s.BaseDepth)
	}
	return nil
}

// Equal reports whether two structures share every shape parameter.
func (s Structure) Equal(other Structure) bool { return s == other }

// Dimensions returns the log2 of the branching factor: 3 for octree,
// 2 for hybrid.
func (s Structure) Dimensions() uint64 {
	if s.Type == Hybrid {
		return 2
	}
	return 3
}

// Factor returns the branching factor.
func (s Structure) Factor() uint64 { return 1 << s.Dimensions() }

// Tubular reports whether z collapses into ticks (hybrid shape).
func (s Structure) Tubular() bool { return s.Type == Hybrid }

// Lossless reports whether the tree has no depth bound.
func (s Structure) Lossless() bool { return s.ColdDepth == 0 }

// CalcLevelIndex returns the first index at the given depth:
// (factor^depth - 1) / (factor - 1).
func CalcLevelIndex(dimensions, depth uint64) ID {
	num := binaryPow(dimensions, depth).Sub(NewID(1))
	q, _ := num.DivMod((uint64(1) << dimensions) - 1)
	return q
}

// PointsAtDepth returns factor^depth, the node count at a depth.
func PointsAtDepth(dimensions, depth uint64) ID {
	return binaryPow(dimensions, depth)
}

func binaryPow(baseLog2, exp uint64) ID {
	return NewID(1).Lsh(uint(exp * baseLog2))
}

// CalcDepth returns the largest depth whose level index is <= id.
func CalcDepth(dimensions uint64, id ID) uint64 {
	var depth uint64
	for {
		next := CalcLevelIndex(dimensions, depth+1)
		if id.Less(next) {
			return depth
		}
		depth++
	}
}

// ChildIndex returns the index of the given child of parent:
// parent*factor + 1 + child.
func (s Structure) ChildIndex(parent ID, child uint64) ID {
	return parent.Mul(s.Factor()).AddUint64(1 + child)
}

// LevelIndex returns the first index at depth for this structure.
func (s Structure) LevelIndex(depth uint64) ID {
	return CalcLevelIndex(s.Dimensions(), depth)
}

// DepthOf returns the depth owning the given index.
func (s Structure) DepthOf(id ID) uint64 {
	return CalcDepth(s.Dimensions(), id)
}

// NullDepthEnd is the first stored depth.
func (s Structure) NullDepthEnd() uint64 { return s.NullDepth }

// BaseDepthBegin is the first base-tier depth.
func (s Structure) BaseDepthBegin() uint64 { return s.NullDepth }

// BaseDepthEnd is one past the last base-tier depth.
func (s Structure) BaseDepthEnd() uint64 { return s.BaseDepth }

// ColdDepthBegin is the first cold-tier depth.
func (s Structure) ColdDepthBegin() uint64 { return s.BaseDepth }

// ColdDepthEnd is one past the last cold-tier depth, or 0 if unbounded.
func (s Structure) ColdDepthEnd() uint64 { return s.ColdDepth }

// BaseIndexBegin is the first base-tier index.
func (s Structure) BaseIndexBegin() ID { return s.LevelIndex(s.BaseDepthBegin()) }

// BaseIndexSpan is the number of base-tier indices.
func (s Structure) BaseIndexSpan() ID {
	return s.LevelIndex(s.BaseDepthEnd()).Sub(s.BaseIndexBegin())
}

// ColdIndexBegin is the first cold-tier index.
func (s Structure) ColdIndexBegin() ID { return s.LevelIndex(s.ColdDepthBegin()) }

// MappedIndexBegin is the first sparse-tier index; chunks at or above
// it are hash-mapped rather than dense.
func (s Structure) MappedIndexBegin() ID { return s.LevelIndex(s.MappedDepth) }

// SparseDepthBegin is the first depth expected to be sparsely
// populated.
func (s Structure) SparseDepthBegin() uint64 { return s.SparseDepth }

// ChunkInfo locates a cold-tier index within its owning chunk.
type ChunkInfo struct {
	ChunkID        ID
	ChunkNum       uint64
	ChunkOffset    uint64
	PointsPerChunk uint64
	Depth          uint64
}

// Info computes chunk placement for a cold-tier index. The index must
// be at or past ColdIndexBegin.
func (s Structure) Info(index ID) (ChunkInfo, error) {
	cold := s.ColdIndexBegin()
	if index.Less(cold) {
		return ChunkInfo{}, fmt.Errorf("structure: index %s below cold tier", index)
	}
	ppc := s.PointsPerChunk
	num, off := index.Sub(cold).DivMod(ppc)
	n := num.Simple()
	return ChunkInfo{
		ChunkID:        cold.Add(num.Mul(ppc)),
		ChunkNum:       n,
		ChunkOffset:    off,
		PointsPerChunk: ppc,
		Depth:          s.DepthOf(index),
	}, nil
}

// NumFastChunks returns how many chunk slots precede MappedIndexBegin,
// sized for the registry's dense tier.
func (s Structure) NumFastChunks() uint64 {
	span := s.MappedIndexBegin().Sub(s.ColdIndexBegin())
	n, _ := span.DivMod(s.PointsPerChunk)
	return n.Simple()
}

// MaybePrefix returns the object name for a chunk id, SHA-prefixed
// when PrefixIDs is set so that remote stores shard uniformly.
func (s Structure) MaybePrefix(id ID) string {
	name := id.String()
	if !s.PrefixIDs {
		return name
	}
	return shaPrefix(name) + "/" + name
}
