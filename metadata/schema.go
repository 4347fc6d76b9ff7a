package metadata

import "fmt"

// DimType categorizes a dimension's binary representation.
type DimType string

const (
	Signed   DimType = "signed"
	Unsigned DimType = "unsigned"
	Floating DimType = "floating"
)

// DimInfo describes one dimension of a point schema.
type DimInfo struct {
	Name string  `json:"name"`
	Type DimType `json:"type"`
	Size int     `json:"size"`
}

// Schema is an ordered list of dimensions. When normalized, X, Y and Z
// are always the first three entries.
type Schema struct {
	Dims []DimInfo `json:"dims"`
}

// NewSchema builds a schema from dims.
func NewSchema(dims ...DimInfo) Schema {
	return Schema{Dims: dims}
}

// XYZSchema returns a normalized schema holding XYZ as native doubles
// followed by the given attribute dimensions.
func XYZSchema(attrs ...DimInfo) Schema {
	dims := []DimInfo{
		{Name: "X", Type: Floating, Size: 8},
		{Name: "Y", Type: Floating, Size: 8},
		{Name: "Z", Type: Floating, Size: 8},
	}
	return Schema{Dims: append(dims, attrs...)}
}

// Deltify returns s with the XYZ dimensions rewritten as signed
// integers of the width required by delta over the conforming bounds.
func (s Schema) Deltify(d *Delta, conforming Bounds) Schema {
	if d == nil {
		return s
	}
	width := d.XYZWidth(conforming)
	out := Schema{Dims: make([]DimInfo, len(s.Dims))}
	copy(out.Dims, s.Dims)
	for i, dim := range out.Dims {
		switch dim.Name {
		case "X", "Y", "Z":
			out.Dims[i].Type = Signed
			out.Dims[i].Size = width
		}
	}
	return out
}

// PointSize returns the total byte size of one point.
func (s Schema) PointSize() int {
	var n int
	for _, d := range s.Dims {
		n += d.Size
	}
	return n
}

// XYZSize returns the combined byte size of the X, Y and Z dimensions.
func (s Schema) XYZSize() int {
	var n int
	for _, d := range s.Dims {
		switch d.Name {
		case "X", "Y", "Z":
			n += d.Size
		}
	}
	return n
}

// Find returns the dimension named name.
func (s Schema) Find(name string) (DimInfo, error) {
	for _, d := range s.Dims {
		if d.Name == name {
			return d, nil
		}
	}
	return DimInfo{}, fmt.Errorf("schema: no dimension %q", name)
}

// Has reports whether the schema contains the named dimension.
func (s Schema) Has(name string) bool {
	_, err := s.Find(name)
	return err == nil
}

// Normal reports whether XYZ are stored as native doubles.
func (s Schema) Normal() bool {
	for _, name := range []string{"X", "Y", "Z"} {
		d, err := s.Find(name)
		if err != nil || d.Type != Floating || d.Size != 8 {
			return false
		}
	}
	return true
}

// Celled prepends a TubeId dimension, used by the base chunk whose
// serialized points must round-trip their tube position.
func (s Schema) Celled() Schema {
	dims := make([]DimInfo, 0, len(s.Dims)+1)
	dims = append(dims, DimInfo{Name: "TubeId", Type: Unsigned, Size: 8})
	dims = append(dims, s.Dims...)
	return Schema{Dims: dims}
}

// Equal reports structural equality with other.
func (s Schema) Equal(other Schema) bool {
	if len(s.Dims) != len(other.Dims) {
		return false
	}
	for i := range s.Dims {
		if s.Dims[i] != other.Dims[i] {
			return false
		}
	}
	return true
}
