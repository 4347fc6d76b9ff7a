package pointgo

import (
	"runtime"

	"github.com/hupe1980/pointgo/format"
	"github.com/hupe1980/pointgo/metadata"
	"github.com/hupe1980/pointgo/source"
)

type options struct {
	bounds       *metadata.Bounds
	schema       *metadata.Schema
	structure    metadata.Structure
	delta        *metadata.Delta
	subset       *metadata.Subset
	compress     bool
	hierComp     string
	tailFields   []format.TailField
	trustHeaders bool
	paths        []string
	opener       source.Opener
	threads      int
	clips        int
	force        bool
	checkpoint   int
	logger       *Logger
}

func defaultOptions() options {
	return options{
		structure:  metadata.DefaultStructure(),
		compress:   true,
		threads:    runtime.GOMAXPROCS(0),
		clips:      4,
		checkpoint: 8,
	}
}

// Option configures a Builder.
type Option func(*options)

// WithBounds sets the native input bounds. Required for fresh builds
// unless inferred beforehand.
func WithBounds(b metadata.Bounds) Option {
	return func(o *options) { o.bounds = &b }
}

// WithSchema sets the normalized point schema (XYZ doubles first).
func WithSchema(s metadata.Schema) Option {
	return func(o *options) { o.schema = &s }
}

// WithStructure overrides the tree shape.
func WithStructure(s metadata.Structure) Option {
	return func(o *options) { o.structure = s }
}

// WithDelta enables integer XYZ storage with the given quantization.
func WithDelta(d *metadata.Delta) Option {
	return func(o *options) { o.delta = d }
}

// WithSubset restricts this build to one disjoint partition.
func WithSubset(s *metadata.Subset) Option {
	return func(o *options) { o.subset = s }
}

// WithCompression toggles chunk payload compression. On by default.
func WithCompression(on bool) Option {
	return func(o *options) { o.compress = on }
}

// WithHierarchyCompression selects the hierarchy codec: "zstd" (the
// default), "lz4", or "none".
func WithHierarchyCompression(name string) Option {
	return func(o *options) { o.hierComp = name }
}

// WithTailFields overrides the chunk tail layout.
func WithTailFields(fields ...format.TailField) Option {
	return func(o *options) { o.tailFields = fields }
}

// WithTrustHeaders allows source-file header bounds to omit files
// without scanning their points.
func WithTrustHeaders(trust bool) Option {
	return func(o *options) { o.trustHeaders = trust }
}

// WithPaths sets the source file list for a fresh build.
func WithPaths(paths ...string) Option {
	return func(o *options) { o.paths = paths }
}

// WithOpener sets the source reader factory.
func WithOpener(op source.Opener) Option {
	return func(o *options) { o.opener = op }
}

// WithThreads sets the insert worker count. Defaults to GOMAXPROCS.
func WithThreads(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.threads = n
		}
	}
}

// WithClipThreads sets the eviction writer count.
func WithClipThreads(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.clips = n
		}
	}
}

// WithForce discards any existing build at the endpoint instead of
// continuing it.
func WithForce(force bool) Option {
	return func(o *options) { o.force = force }
}

// WithCheckpointEvery flushes the registry and persists the manifest
// every n source files.
func WithCheckpointEvery(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.checkpoint = n
		}
	}
}

// WithLogger sets the logger. Defaults to NoopLogger, which discards
// output.
func WithLogger(l *Logger) Option {
	return func(o *options) { o.logger = l }
}
