package pointgo

import (
	"context"
	"errors"
	"io"

	"github.com/hupe1980/pointgo/format"
	"github.com/hupe1980/pointgo/metadata"
	"github.com/hupe1980/pointgo/source"
)

// Inference is the result of a pre-scan over source files: everything
// a fresh build needs that the user did not specify.
type Inference struct {
	Bounds    metadata.Bounds `json:"bounds"`
	Schema    metadata.Schema `json:"schema"`
	NumPoints uint64          `json:"numPoints"`
	// PerFile records each file's own bounds and count for manifest
	// pre-population.
	PerFile []metadata.FileInfo `json:"fileInfo"`
}

// Infer scans the given paths without indexing, producing aggregate
// bounds, schema and point counts. Files whose readers carry trusted
// header bounds are not fully scanned.
func Infer(ctx context.Context, opener source.Opener, paths []string, trustHeaders bool) (*Inference, error) {
	out := &Inference{}
	first := true

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		reader, err := opener.Open(ctx, path)
		if err != nil {
			out.PerFile = append(out.PerFile, metadata.FileInfo{
				Path: path, Status: metadata.Errored, Message: err.Error(),
			})
			continue
		}

		info := metadata.FileInfo{Path: path, Status: metadata.Inserted}

		if first {
			out.Schema = reader.Schema()
			first = false
		}

		fb, haveBounds := reader.Bounds()
		np, haveCount := reader.NumPoints()

		if !trustHeaders || !haveBounds || !haveCount {
			fb, np, err = scan(reader)
			if err != nil {
				reader.Close()
				out.PerFile = append(out.PerFile, metadata.FileInfo{
					Path: path, Status: metadata.Errored, Message: err.Error(),
				})
				continue
			}
			haveBounds = np > 0
		}
		reader.Close()

		info.NumPoints = np
		if haveBounds {
			b := fb
			info.Bounds = &b
			if out.NumPoints == 0 {
				out.Bounds = fb
			} else {
				out.Bounds = out.Bounds.Union(fb)
			}
		}
		out.NumPoints += np
		out.PerFile = append(out.PerFile, info)
	}

	return out, nil
}

// scan reads a whole file accumulating tight bounds and a count.
func scan(reader source.Reader) (metadata.Bounds, uint64, error) {
	schema := reader.Schema()
	pointSize := schema.PointSize()

	const batch = 4096
	backing := make([]byte, batch*pointSize)
	refs := make([][]byte, batch)
	for i := range refs {
		refs[i] = backing[i*pointSize : (i+1)*pointSize]
	}

	var bounds metadata.Bounds
	var count uint64

	for {
		n, err := reader.Read(refs)
		for i := 0; i < n; i++ {
			p := format.ReadXYZ(schema, refs[i])
			pt := metadata.Point{X: p.X, Y: p.Y, Z: p.Z}
			if count == 0 {
				bounds = metadata.Bounds{Min: pt, Max: pt}
			} else {
				bounds.GrowToInclude(pt)
			}
			count++
		}
		if errors.Is(err, io.EOF) {
			return bounds, count, nil
		}
		if err != nil {
			return bounds, count, err
		}
	}
}
