package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hupe1980/pointgo/format"
	"github.com/hupe1980/pointgo/internal/pool"
	"github.com/hupe1980/pointgo/metadata"
)

// BinReader streams a raw binary point file: concatenated points in a
// known schema, XYZ as little-endian doubles first. This is the
// in-tree reference format; richer formats plug in through Opener.
type BinReader struct {
	f      *os.File
	schema metadata.Schema
	count  uint64
}

// NewBinReader opens path with the given schema.
func NewBinReader(path string, schema metadata.Schema) (*BinReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	pointSize := int64(schema.PointSize())
	if info.Size()%pointSize != 0 {
		f.Close()
		return nil, fmt.Errorf("bin: %s size %d not a multiple of point size %d",
			path, info.Size(), pointSize)
	}
	return &BinReader{
		f:      f,
		schema: schema,
		count:  uint64(info.Size() / pointSize),
	}, nil
}

// Schema returns the file's schema.
func (r *BinReader) Schema() metadata.Schema { return r.schema }

// Bounds is unknown for raw files.
func (r *BinReader) Bounds() (metadata.Bounds, bool) { return metadata.Bounds{}, false }

// NumPoints returns the count derived from the file size.
func (r *BinReader) NumPoints() (uint64, bool) { return r.count, true }

// Read fills point buffers from the file.
func (r *BinReader) Read(refs [][]byte) (int, error) {
	for i := range refs {
		if _, err := io.ReadFull(r.f, refs[i]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return i, io.EOF
			}
			return i, err
		}
	}
	return len(refs), nil
}

// Close closes the file.
func (r *BinReader) Close() error { return r.f.Close() }

// SliceReader serves points from memory; tests and inference use it.
type SliceReader struct {
	schema metadata.Schema
	points []metadata.Point
	attrs  [][]byte
	pos    int
}

// NewSliceReader creates a reader over in-memory points. attrs may be
// nil when the schema is XYZ-only.
func NewSliceReader(schema metadata.Schema, points []metadata.Point, attrs [][]byte) *SliceReader {
	return &SliceReader{schema: schema, points: points, attrs: attrs}
}

// Schema returns the declared schema.
func (r *SliceReader) Schema() metadata.Schema { return r.schema }

// Bounds computes the tight bounds over the points.
func (r *SliceReader) Bounds() (metadata.Bounds, bool) {
	if len(r.points) == 0 {
		return metadata.Bounds{}, false
	}
	b := metadata.Bounds{Min: r.points[0], Max: r.points[0]}
	for _, p := range r.points[1:] {
		b.GrowToInclude(p)
	}
	return b, true
}

// NumPoints returns the slice length.
func (r *SliceReader) NumPoints() (uint64, bool) { return uint64(len(r.points)), true }

// Read fills point buffers from the slice.
func (r *SliceReader) Read(refs [][]byte) (int, error) {
	xyzSize := r.schema.XYZSize()
	var n int
	for n < len(refs) && r.pos < len(r.points) {
		buf := refs[n]
		p := r.points[r.pos]
		format.WriteXYZ(r.schema, buf, pool.Point{X: p.X, Y: p.Y, Z: p.Z})
		if r.attrs != nil {
			copy(buf[xyzSize:], r.attrs[r.pos])
		}
		n++
		r.pos++
	}
	if r.pos >= len(r.points) {
		return n, io.EOF
	}
	return n, nil
}

// Close resets the reader.
func (r *SliceReader) Close() error {
	r.pos = 0
	return nil
}

// BinOpener opens .bin files against a fixed schema.
type BinOpener struct {
	Schema metadata.Schema
}

// Open implements Opener.
func (o BinOpener) Open(_ context.Context, path string) (Reader, error) {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".bin" {
		return nil, fmt.Errorf("bin: unsupported extension %q", ext)
	}
	return NewBinReader(path, o.Schema)
}
