// Package format defines the on-disk chunk layout: a payload of
// concatenated (optionally compressed) points followed by a tail of
// fixed-width metadata fields. The tail is not self-describing; the
// reader recovers the field list from the build metadata and peels it
// from the right.
package format

import (
	"fmt"

	"github.com/hupe1980/pointgo/metadata"
)

// ChunkType tags the serialized representation in the tail.
type ChunkType uint8

const (
	// ChunkContiguous is a dense tube vector.
	ChunkContiguous ChunkType = 0
	// ChunkSparse is a hash-mapped chunk.
	ChunkSparse ChunkType = 1
	// ChunkBase is the celled base serialization.
	ChunkBase ChunkType = 2
)

// TailField names one trailing metadata field.
type TailField string

const (
	// TailNumPoints is the serialized point count, u64 LE. Required
	// whenever compression is enabled.
	TailNumPoints TailField = "numPoints"
	// TailChunkType is the ChunkType, u8.
	TailChunkType TailField = "chunkType"
	// TailNumBytes is the payload byte count, u64 LE, validated on
	// unpack.
	TailNumBytes TailField = "numBytes"
)

// DefaultTailFields is the nominal tail layout.
var DefaultTailFields = []TailField{TailNumPoints, TailChunkType}

func tailFieldSize(f TailField) int {
	switch f {
	case TailChunkType:
		return 1
	default:
		return 8
	}
}

// Format holds the serialization configuration for one build.
type Format struct {
	schema       metadata.Schema
	compress     bool
	hierarchy    Compression
	tailFields   []TailField
	trustHeaders bool
}

// Config is the serializable form of Format.
type Config struct {
	Compress     bool        `json:"compress"`
	Hierarchy    string      `json:"compress-hierarchy"`
	TailFields   []TailField `json:"tail"`
	TrustHeaders bool        `json:"trustHeaders"`
}

// New validates and creates a Format. Compression requires a numPoints
// tail field, and tail fields must be unique; violations are
// configuration errors raised here rather than at write time.
func New(schema metadata.Schema, cfg Config) (*Format, error) {
	tail := cfg.TailFields
	if len(tail) == 0 {
		tail = DefaultTailFields
	}

	seen := make(map[TailField]bool, len(tail))
	hasNumPoints := false
	for _, f := range tail {
		switch f {
		case TailNumPoints, TailChunkType, TailNumBytes:
		default:
			return nil, fmt.Errorf("format: unknown tail field %q", f)
		}
		if seen[f] {
			return nil, fmt.Errorf("format: duplicate tail field %q", f)
		}
		seen[f] = true
		if f == TailNumPoints {
			hasNumPoints = true
		}
	}

	if cfg.Compress && !hasNumPoints {
		return nil, fmt.Errorf("format: cannot specify compression without numPoints")
	}

	hier, err := CompressionFromName(cfg.Hierarchy)
	if err != nil {
		return nil, fmt.Errorf("format: %w", err)
	}

	return &Format{
		schema:       schema,
		compress:     cfg.Compress,
		hierarchy:    hier,
		tailFields:   tail,
		trustHeaders: cfg.TrustHeaders,
	}, nil
}

// Schema returns the point schema this format serializes.
func (f *Format) Schema() metadata.Schema { return f.schema }

// Compress reports whether payloads are compressed.
func (f *Format) Compress() bool { return f.compress }

// HierarchyCompression returns the hierarchy document codec.
func (f *Format) HierarchyCompression() Compression { return f.hierarchy }

// TailFields returns the configured tail layout.
func (f *Format) TailFields() []TailField { return f.tailFields }

// TrustHeaders reports whether the build may mark a source file omitted
// from its header bounds alone, without scanning its points.
func (f *Format) TrustHeaders() bool { return f.trustHeaders }

// Config returns the serializable configuration.
func (f *Format) Config() Config {
	return Config{
		Compress:     f.compress,
		Hierarchy:    string(f.hierarchy),
		TailFields:   f.tailFields,
		TrustHeaders: f.trustHeaders,
	}
}

// Celled returns a Format identical to f but serializing the celled
// (TubeId-prefixed) schema, used by the base chunk.
func (f *Format) Celled() *Format {
	out := *f
	out.schema = f.schema.Celled()
	return &out
}
