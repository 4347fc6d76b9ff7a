package format

import (
	"encoding/binary"
	"math"

	"github.com/hupe1980/pointgo/internal/pool"
	"github.com/hupe1980/pointgo/metadata"
)

// ReadXYZ decodes a point's position from its serialized bytes. After
// delta conversion XYZ are signed integers; their values are the
// tree-space coordinates, so they widen losslessly into float64.
func ReadXYZ(s metadata.Schema, buf []byte) pool.Point {
	var pt pool.Point
	offset := 0
	for _, d := range s.Dims {
		switch d.Name {
		case "X":
			pt.X = readCoord(d, buf[offset:])
		case "Y":
			pt.Y = readCoord(d, buf[offset:])
		case "Z":
			pt.Z = readCoord(d, buf[offset:])
		}
		offset += d.Size
	}
	return pt
}

func readCoord(d metadata.DimInfo, buf []byte) float64 {
	switch {
	case d.Type == metadata.Floating && d.Size == 8:
		return math.Float64frombits(binary.LittleEndian.Uint64(buf))
	case d.Type == metadata.Floating && d.Size == 4:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf)))
	case d.Type == metadata.Signed && d.Size == 4:
		return float64(int32(binary.LittleEndian.Uint32(buf)))
	case d.Type == metadata.Signed && d.Size == 8:
		return float64(int64(binary.LittleEndian.Uint64(buf)))
	default:
		return 0
	}
}

// WriteXYZ encodes a position into a point's serialized bytes,
// honoring the schema's XYZ representation.
func WriteXYZ(s metadata.Schema, buf []byte, pt pool.Point) {
	offset := 0
	for _, d := range s.Dims {
		switch d.Name {
		case "X":
			writeCoord(d, buf[offset:], pt.X)
		case "Y":
			writeCoord(d, buf[offset:], pt.Y)
		case "Z":
			writeCoord(d, buf[offset:], pt.Z)
		}
		offset += d.Size
	}
}

func writeCoord(d metadata.DimInfo, buf []byte, v float64) {
	switch {
	case d.Type == metadata.Floating && d.Size == 8:
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
	case d.Type == metadata.Floating && d.Size == 4:
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
	case d.Type == metadata.Signed && d.Size == 4:
		binary.LittleEndian.PutUint32(buf, uint32(int32(v)))
	case d.Type == metadata.Signed && d.Size == 8:
		binary.LittleEndian.PutUint64(buf, uint64(int64(v)))
	}
}
