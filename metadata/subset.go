package metadata

import "fmt"

// Subset identifies one disjoint partition of a build. Subsets are
// built independently (possibly on separate machines) and merged once
// all of them complete. ID is 1-based.
type Subset struct {
	ID uint64 `json:"id"`
	Of uint64 `json:"of"`
}

// NewSubset validates and returns a subset selection. Of must be a
// perfect power of 4.
func NewSubset(id, of uint64) (*Subset, error) {
	if id == 0 || id > of {
		return nil, fmt.Errorf("subset: id %d out of range [1, %d]", id, of)
	}
	if !isPowerOfFour(of) {
		return nil, fmt.Errorf("subset: of %d is not a power of 4", of)
	}
	return &Subset{ID: id, Of: of}, nil
}

func isPowerOfFour(v uint64) bool {
	if v == 0 || v&(v-1) != 0 {
		return false
	}
	// Power of two with an even exponent.
	var exp uint
	for v > 1 {
		v >>= 1
		exp++
	}
	return exp%2 == 0
}

// SplitDepth returns the shallowest depth at which the node count is
// divisible by Of, i.e. where the partition becomes expressible as a
// contiguous index span.
func (su *Subset) SplitDepth(s Structure) uint64 {
	var d uint64
	for {
		nodes := PointsAtDepth(s.Dimensions(), d)
		if q, rem := nodes.DivMod(su.Of); rem == 0 && !q.Equal(NewID(0)) {
			return d
		}
		d++
	}
}

// MinimumNullDepth returns the null depth required for this subset:
// spans are only defined at or past the split depth.
func (su *Subset) MinimumNullDepth(s Structure) uint64 {
	return su.SplitDepth(s)
}

// Span is a [Begin, End) index range at one depth.
type Span struct {
	Begin ID
	End   ID
}

// SpanAt returns the index range owned by this subset at a depth at or
// past the split depth.
func (su *Subset) SpanAt(s Structure, depth uint64) Span {
	nodes := PointsAtDepth(s.Dimensions(), depth)
	share, _ := nodes.DivMod(su.Of)
	level := s.LevelIndex(depth)
	begin := level.Add(share.Mul(su.ID - 1))
	return Span{Begin: begin, End: begin.Add(share)}
}

// Spans returns per-depth base-tier spans, indexed by depth up to
// BaseDepthEnd. Depths below BaseDepthBegin get empty spans to keep
// depth equal to slice index.
func (su *Subset) Spans(s Structure) []Span {
	spans := make([]Span, s.BaseDepthEnd())
	for d := s.BaseDepthBegin(); d < s.BaseDepthEnd(); d++ {
		spans[d] = su.SpanAt(s, d)
	}
	return spans
}

// Bounds returns the spatial region owned by this subset: the union of
// the node boxes covering its index span at the split depth. The
// result may be several boxes when the share does not align to a
// single subtree.
func (su *Subset) Bounds(s Structure, cube Bounds) []Bounds {
	depth := su.SplitDepth(s)
	span := su.SpanAt(s, depth)
	level := s.LevelIndex(depth)

	var boxes []Bounds
	for id := span.Begin; id.Less(span.End); id = id.AddUint64(1) {
		boxes = append(boxes, nodeBounds(s, cube, id.Sub(level), depth))
	}
	return mergeBoxes(boxes)
}

// ContainsAny reports whether p falls inside any of the given boxes.
func ContainsAny(boxes []Bounds, p Point) bool {
	for _, b := range boxes {
		if b.Contains(p) {
			return true
		}
	}
	return false
}

// nodeBounds descends from cube following the node offset's digit path
// at the given depth.
func nodeBounds(s Structure, cube Bounds, offset ID, depth uint64) Bounds {
	factor := s.Factor()
	// Recover the per-depth child digits, most significant first.
	digits := make([]uint64, depth)
	for i := depth; i > 0; i-- {
		var rem uint64
		offset, rem = offset.DivMod(factor)
		digits[i-1] = rem
	}
	b := cube
	for _, digit := range digits {
		if s.Tubular() {
			b = b.QuadrantXY(int(digit))
		} else {
			b = b.Octant(int(digit))
		}
	}
	return b
}

// mergeBoxes coalesces boxes whose union is itself a box, keeping the
// filter list short for the common aligned cases.
func mergeBoxes(boxes []Bounds) []Bounds {
	merged := true
	for merged {
		merged = false
		for i := 0; i < len(boxes) && !merged; i++ {
			for j := i + 1; j < len(boxes) && !merged; j++ {
				u := boxes[i].Union(boxes[j])
				if volume(u) == volume(boxes[i])+volume(boxes[j]) {
					boxes[i] = u
					boxes = append(boxes[:j], boxes[j+1:]...)
					merged = true
				}
			}
		}
	}
	return boxes
}

func volume(b Bounds) float64 {
	e := b.Extent()
	return e.X * e.Y * e.Z
}
