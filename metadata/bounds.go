package metadata

import "math"

// Point is a position in 3D space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Scale applies a per-axis delta scale to p.
func (p Point) Scale(d *Delta) Point {
	if d == nil {
		return p
	}
	return Point{
		X: math.Round((p.X - d.Offset.X) / d.Scale.X),
		Y: math.Round((p.Y - d.Offset.Y) / d.Scale.Y),
		Z: math.Round((p.Z - d.Offset.Z) / d.Scale.Z),
	}
}

// Unscale reverses a delta application, quantized to the scale.
func (p Point) Unscale(d *Delta) Point {
	if d == nil {
		return p
	}
	return Point{
		X: p.X*d.Scale.X + d.Offset.X,
		Y: p.Y*d.Scale.Y + d.Offset.Y,
		Z: p.Z*d.Scale.Z + d.Offset.Z,
	}
}

// Bounds is an axis-aligned bounding box.
type Bounds struct {
	Min Point `json:"min"`
	Max Point `json:"max"`
}

// NewBounds builds a Bounds from component extrema.
func NewBounds(xmin, ymin, zmin, xmax, ymax, zmax float64) Bounds {
	return Bounds{
		Min: Point{X: xmin, Y: ymin, Z: zmin},
		Max: Point{X: xmax, Y: ymax, Z: zmax},
	}
}

// Contains reports whether p lies within b. Minimums are inclusive,
// maximums exclusive, so octant membership is unambiguous.
func (b Bounds) Contains(p Point) bool {
	return p.X >= b.Min.X && p.X < b.Max.X &&
		p.Y >= b.Min.Y && p.Y < b.Max.Y &&
		p.Z >= b.Min.Z && p.Z < b.Max.Z
}

// Mid returns the center of b.
func (b Bounds) Mid() Point {
	return Point{
		X: (b.Min.X + b.Max.X) / 2,
		Y: (b.Min.Y + b.Max.Y) / 2,
		Z: (b.Min.Z + b.Max.Z) / 2,
	}
}

// Extent returns the per-axis width of b.
func (b Bounds) Extent() Point {
	return Point{
		X: b.Max.X - b.Min.X,
		Y: b.Max.Y - b.Min.Y,
		Z: b.Max.Z - b.Min.Z,
	}
}

// Grow returns b expanded on every side by ratio of its extent.
func (b Bounds) Grow(ratio float64) Bounds {
	e := b.Extent()
	return Bounds{
		Min: Point{
			X: b.Min.X - e.X*ratio,
			Y: b.Min.Y - e.Y*ratio,
			Z: b.Min.Z - e.Z*ratio,
		},
		Max: Point{
			X: b.Max.X + e.X*ratio,
			Y: b.Max.Y + e.Y*ratio,
			Z: b.Max.Z + e.Z*ratio,
		},
	}
}

// Cubeify expands b symmetrically about its center into a cube whose
// side equals the largest extent. The tree subdivision requires equal
// extents on every axis.
func (b Bounds) Cubeify() Bounds {
	e := b.Extent()
	side := math.Max(e.X, math.Max(e.Y, e.Z))
	mid := b.Mid()
	half := side / 2
	return Bounds{
		Min: Point{X: mid.X - half, Y: mid.Y - half, Z: mid.Z - half},
		Max: Point{X: mid.X + half, Y: mid.Y + half, Z: mid.Z + half},
	}
}

// Deltify rescales b into delta-space integer coordinates.
func (b Bounds) Deltify(d *Delta) Bounds {
	if d == nil {
		return b
	}
	return Bounds{Min: b.Min.Scale(d), Max: b.Max.Scale(d)}
}

// Octant returns the sub-bounds for octant i, where bit 0 selects the
// upper x half, bit 1 the upper y half, and bit 2 the upper z half.
func (b Bounds) Octant(i int) Bounds {
	mid := b.Mid()
	out := b
	if i&1 != 0 {
		out.Min.X = mid.X
	} else {
		out.Max.X = mid.X
	}
	if i&2 != 0 {
		out.Min.Y = mid.Y
	} else {
		out.Max.Y = mid.Y
	}
	if i&4 != 0 {
		out.Min.Z = mid.Z
	} else {
		out.Max.Z = mid.Z
	}
	return out
}

// QuadrantXY is Octant restricted to the x and y axes, used by the
// hybrid (factor 4) tree shape where z collapses into ticks.
func (b Bounds) QuadrantXY(i int) Bounds {
	mid := b.Mid()
	out := b
	if i&1 != 0 {
		out.Min.X = mid.X
	} else {
		out.Max.X = mid.X
	}
	if i&2 != 0 {
		out.Min.Y = mid.Y
	} else {
		out.Max.Y = mid.Y
	}
	return out
}

// Union returns the smallest bounds containing both b and other.
func (b Bounds) Union(other Bounds) Bounds {
	return Bounds{
		Min: Point{
			X: math.Min(b.Min.X, other.Min.X),
			Y: math.Min(b.Min.Y, other.Min.Y),
			Z: math.Min(b.Min.Z, other.Min.Z),
		},
		Max: Point{
			X: math.Max(b.Max.X, other.Max.X),
			Y: math.Max(b.Max.Y, other.Max.Y),
			Z: math.Max(b.Max.Z, other.Max.Z),
		},
	}
}

// GrowToInclude expands b in place to contain p.
func (b *Bounds) GrowToInclude(p Point) {
	b.Min.X = math.Min(b.Min.X, p.X)
	b.Min.Y = math.Min(b.Min.Y, p.Y)
	b.Min.Z = math.Min(b.Min.Z, p.Z)
	b.Max.X = math.Max(b.Max.X, p.X)
	b.Max.Y = math.Max(b.Max.Y, p.Y)
	b.Max.Z = math.Max(b.Max.Z, p.Z)
}

// Empty reports whether b has no volume.
func (b Bounds) Empty() bool {
	return b.Min.X >= b.Max.X || b.Min.Y >= b.Max.Y || b.Min.Z >= b.Max.Z
}
