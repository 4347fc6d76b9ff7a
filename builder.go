package pointgo

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/pointgo/blobstore"
	"github.com/hupe1980/pointgo/format"
	"github.com/hupe1980/pointgo/internal/pool"
	"github.com/hupe1980/pointgo/internal/worker"
	"github.com/hupe1980/pointgo/metadata"
	"github.com/hupe1980/pointgo/source"
	"github.com/hupe1980/pointgo/tree"
)

// clipCadence is how many inserts a worker performs before releasing
// its cached chunk references, bounding resident memory.
const clipCadence = 1 << 16

// State is the builder's lifecycle phase.
type State string

const (
	// StateFresh: configuration parsed, no existing metadata.
	StateFresh State = "fresh"
	// StateContinuing: existing metadata loaded from the endpoint.
	StateContinuing State = "continuing"
	// StateRunning: the insert loop is active.
	StateRunning State = "running"
	// StateCheckpoint: flushing the registry and persisting the
	// manifest.
	StateCheckpoint State = "checkpoint"
	// StateDone: final flush complete; terminal.
	StateDone State = "done"
	// StateFailed: unrecoverable error; terminal.
	StateFailed State = "failed"
)

// Builder orchestrates a build: sources stream through pooled tables
// into the insert pipeline, cold chunks drain to the store through the
// registry, and the manifest checkpoints progress.
type Builder struct {
	opts   options
	logger *Logger
	store  blobstore.Store

	meta      *Metadata
	manifest  *metadata.Manifest
	fm        *format.Format
	pointPool *pool.PointPool
	base      *tree.BaseChunk
	registry  *tree.Registry
	hierarchy *tree.Hierarchy
	clipPool  *worker.Pool

	subsetBoxes []metadata.Bounds

	mu        sync.Mutex
	state     State
	sinceSync int
	cursor    metadata.Origin
}

// NewBuilder creates or continues a build at the given store. An
// existing build (its metadata document) is continued unless
// WithForce is set; a fresh build requires bounds, schema and paths.
func NewBuilder(ctx context.Context, store blobstore.Store, opts ...Option) (*Builder, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.opener == nil && o.schema != nil {
		o.opener = source.BinOpener{Schema: *o.schema}
	}

	b := &Builder{opts: o, logger: o.logger, store: store}

	existing, err := LoadMetadata(ctx, store, o.subset)
	switch {
	case err == nil && !o.force:
		if err := b.continueFrom(ctx, existing); err != nil {
			return nil, err
		}
	case err == nil || errors.Is(err, ErrNoMetadata):
		if err := b.fresh(); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if err := b.prepare(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Builder) fresh() error {
	o := b.opts
	if o.bounds == nil {
		return &ConfigError{Field: "bounds", Reason: "required for a fresh build"}
	}
	if o.schema == nil {
		return &ConfigError{Field: "schema", Reason: "required for a fresh build"}
	}
	if len(o.paths) == 0 {
		return &ConfigError{Field: "paths", Reason: "no input files"}
	}

	fcfg := format.Config{
		Compress:     o.compress,
		Hierarchy:    o.hierComp,
		TailFields:   o.tailFields,
		TrustHeaders: o.trustHeaders,
	}
	meta, err := NewMetadata(*o.bounds, *o.schema, o.structure, fcfg, o.delta, o.subset)
	if err != nil {
		return err
	}

	b.meta = meta
	b.manifest = metadata.NewManifest(o.paths)
	b.state = StateFresh
	return nil
}

func (b *Builder) continueFrom(ctx context.Context, existing *Metadata) error {
	if b.opts.schema != nil && !b.opts.schema.Equal(existing.SchemaNative) {
		return &ConfigError{Field: "schema", Reason: "does not match existing build"}
	}

	manifest, err := LoadManifest(ctx, b.store, existing.Postfix())
	if err != nil {
		return fmt.Errorf("continue: %w", err)
	}
	if added := manifest.Append(b.opts.paths); added > 0 {
		b.logger.Info("appended new inputs", "count", added)
	}

	b.meta = existing
	b.manifest = manifest
	b.state = StateContinuing
	return nil
}

// prepare builds the runtime machinery shared by fresh and continued
// builds.
func (b *Builder) prepare(ctx context.Context) error {
	fm, err := b.meta.NewFormat()
	if err != nil {
		return err
	}
	b.fm = fm
	b.pointPool = pool.NewPointPool(b.meta.SchemaStorage.PointSize())
	b.clipPool = worker.NewPool(b.opts.clips)

	env := tree.Env{
		Structure: b.meta.Structure,
		Cube:      b.meta.Cube,
		Format:    fm,
		Pool:      b.pointPool,
	}

	if b.state == StateContinuing {
		if err := b.reload(ctx, env); err != nil {
			return err
		}
	} else {
		b.hierarchy = tree.NewHierarchy()
		b.base = tree.NewBaseChunk(env, b.meta.Subset)
	}

	b.registry = tree.NewRegistry(env, b.store, b.clipPool, b.hierarchy, b.logger.Logger)

	if b.meta.Subset != nil {
		b.subsetBoxes = b.meta.Subset.Bounds(b.meta.Structure, b.meta.Cube)
	}
	return nil
}

// reload restores the base chunk and hierarchy of a continued build.
func (b *Builder) reload(ctx context.Context, env tree.Env) error {
	postfix := b.meta.Postfix()

	h, err := tree.LoadHierarchy(ctx, b.store, hierarchyName+postfix, b.fm.HierarchyCompression())
	if errors.Is(err, blobstore.ErrNotFound) {
		h = tree.NewHierarchy()
	} else if err != nil {
		return fmt.Errorf("continue: hierarchy: %w", err)
	}
	b.hierarchy = h

	baseName := b.meta.Structure.BaseIndexBegin().String() + postfix
	data, err := b.store.Get(ctx, baseName)
	if errors.Is(err, blobstore.ErrNotFound) {
		b.base = tree.NewBaseChunk(env, b.meta.Subset)
		return nil
	}
	if err != nil {
		return fmt.Errorf("continue: base: %w", err)
	}
	base, err := tree.LoadBaseChunk(env, b.meta.Subset, data)
	if err != nil {
		return fmt.Errorf("continue: base: %w", err)
	}
	b.base = base
	return nil
}

// State returns the current lifecycle phase.
func (b *Builder) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Builder) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// Metadata returns the build's metadata.
func (b *Builder) Metadata() *Metadata { return b.meta }

// Manifest returns the build's manifest.
func (b *Builder) Manifest() *metadata.Manifest { return b.manifest }

// Hierarchy returns the chunk existence index.
func (b *Builder) Hierarchy() *tree.Hierarchy { return b.hierarchy }

// Go processes up to maxFiles outstanding manifest entries (0 for
// all), then performs the final save. Cancellation is soft: files in
// flight finish, no new ones start.
func (b *Builder) Go(ctx context.Context, maxFiles int) error {
	b.setState(StateRunning)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.threads)

	var launched int
	for maxFiles == 0 || launched < maxFiles {
		if ctx.Err() != nil {
			break
		}
		origin, ok := b.manifest.NextOutstanding(&b.cursor)
		if !ok {
			break
		}
		launched++

		g.Go(func() error {
			if err := b.insertPath(gctx, origin); err != nil {
				return err
			}
			return b.maybeCheckpoint(gctx)
		})
	}

	// Cancellation is soft: files in flight finished above, and the
	// final save still runs so the manifest reflects them.
	saveCtx := context.WithoutCancel(ctx)

	if err := g.Wait(); err != nil {
		return b.fail(saveCtx, err)
	}
	if err := b.registry.WriteErr(); err != nil {
		return b.fail(saveCtx, err)
	}

	if err := b.Save(saveCtx); err != nil {
		return b.fail(saveCtx, err)
	}
	b.setState(StateDone)
	return nil
}

// fail records the fatal error into the metadata document so a later
// invocation can inspect it, then marks the build failed.
func (b *Builder) fail(ctx context.Context, err error) error {
	b.logger.Error("build failed", "error", err)
	b.meta.Errors = append(b.meta.Errors, err.Error())
	if saveErr := b.meta.Save(ctx, b.store); saveErr != nil {
		b.logger.Error("could not persist failure", "error", saveErr)
	}
	if saveErr := SaveManifest(ctx, b.store, b.manifest, b.meta.Postfix()); saveErr != nil {
		b.logger.Error("could not persist manifest", "error", saveErr)
	}
	b.setState(StateFailed)
	return err
}

// insertPath runs one source file through the pipeline. Per-file
// errors are contained: recorded on the manifest entry, the build
// continues.
func (b *Builder) insertPath(ctx context.Context, origin metadata.Origin) error {
	info, err := b.manifest.Get(origin)
	if err != nil {
		return err
	}
	b.logger.Info("adding", "origin", origin, "path", info.Path)

	reader, err := b.opts.opener.Open(ctx, info.Path)
	if err != nil {
		b.addFileError(origin, info.Path, err)
		return nil
	}
	defer reader.Close()

	if err := b.checkSchema(info.Path, reader.Schema()); err != nil {
		b.addFileError(origin, info.Path, err)
		return nil
	}

	// Skip files whose header bounds are entirely outside the build.
	// Headers must be explicitly trusted; otherwise every point is
	// examined and counted.
	if fb, ok := reader.Bounds(); ok && b.fm.TrustHeaders() {
		if !b.overlaps(fb) {
			b.manifest.SetStatus(origin, metadata.Omitted, "")
			return nil
		}
	}

	var (
		stats     metadata.PointStats
		sinceClip uint64
		fatal     error
	)
	climber := tree.NewClimber(b.meta.Structure, b.meta.Cube)
	clipper := tree.NewClipper(b.registry)

	process := func(cells pool.CellStack) pool.CellStack {
		before := stats.Inserts
		rejected := b.insertCells(ctx, cells, climber, clipper, &stats, &fatal)
		sinceClip += stats.Inserts - before
		if sinceClip > clipCadence {
			sinceClip = 0
			if err := clipper.Clip(ctx); err != nil && fatal == nil {
				fatal = err
			}
		}
		return rejected
	}

	var table *source.Table
	if b.meta.Delta != nil {
		table = source.NewConvertingTable(
			b.pointPool, b.meta.SchemaNative, b.meta.SchemaStorage, b.meta.Delta, process)
	} else {
		table = source.NewTable(b.pointPool, b.meta.SchemaStorage, process)
	}

	feedErr := table.Feed(reader)
	if err := clipper.Clip(ctx); err != nil && fatal == nil {
		fatal = err
	}

	b.manifest.AddPointStats(origin, stats)

	if fatal != nil {
		return fatal
	}
	if feedErr != nil {
		b.addFileError(origin, info.Path, feedErr)
		return nil
	}

	b.manifest.SetStatus(origin, metadata.Inserted, "")
	b.logger.Info("inserted", "origin", origin,
		"inserts", stats.Inserts, "outOfBounds", stats.OutOfBounds, "overflows", stats.Overflows)
	return nil
}

func (b *Builder) checkSchema(path string, s metadata.Schema) error {
	for _, dim := range []string{"X", "Y", "Z"} {
		if !s.Has(dim) {
			return &SchemaError{Path: path, Missing: dim}
		}
	}
	if !s.Equal(b.meta.SchemaNative) {
		return &SchemaError{Path: path, Missing: "matching layout"}
	}
	return nil
}

// overlaps reports whether native-space file bounds intersect the
// build's epsilon bounds.
func (b *Builder) overlaps(fb metadata.Bounds) bool {
	conforming := fb.Deltify(b.meta.Delta)
	eps := b.meta.BoundsEpsilon
	return conforming.Min.X < eps.Max.X && conforming.Max.X >= eps.Min.X &&
		conforming.Min.Y < eps.Max.Y && conforming.Max.Y >= eps.Min.Y &&
		conforming.Min.Z < eps.Max.Z && conforming.Max.Z >= eps.Min.Z
}

// insertCells routes one slab. Returned cells were rejected and will
// be recycled by the table.
func (b *Builder) insertCells(ctx context.Context, cells pool.CellStack,
	climber *tree.Climber, clipper *tree.Clipper,
	stats *metadata.PointStats, fatal *error) pool.CellStack {

	var rejected pool.CellStack

	for !cells.Empty() {
		cell := cells.Pop()
		if *fatal != nil {
			rejected.Push(cell)
			continue
		}

		pt := metadata.Point{X: cell.Point().X, Y: cell.Point().Y, Z: cell.Point().Z}

		if !b.meta.BoundsEpsilon.Contains(pt) {
			stats.OutOfBounds++
			rejected.Push(cell)
			continue
		}
		if b.subsetBoxes != nil && !metadata.ContainsAny(b.subsetBoxes, pt) {
			rejected.Push(cell)
			continue
		}

		res, err := b.insertOne(ctx, climber, clipper, cell)
		switch {
		case err != nil:
			*fatal = err
			rejected.Push(cell)
		case res == tree.InsertStacked:
			// The shell was emptied onto an existing cell; recycle it.
			stats.Inserts++
			rejected.Push(cell)
		case res == tree.InsertPlaced:
			stats.Inserts++
		default:
			stats.Overflows++
			rejected.Push(cell)
		}
	}
	return rejected
}

// insertOne climbs the cell to the shallowest depth whose tick will
// take it: base tier first, then cold chunks, deepening past occupied
// ticks until placed, stacked, or overflowed (InsertOccupied).
func (b *Builder) insertOne(ctx context.Context, climber *tree.Climber, clipper *tree.Clipper, cell *pool.Cell) (tree.InsertResult, error) {
	s := b.meta.Structure
	p := cell.Point()

	climber.Reset()
	climber.MagnifyTo(p, s.BaseDepthBegin())

	for {
		if end := s.ColdDepthEnd(); end != 0 && climber.Depth() >= end {
			return tree.InsertOccupied, nil
		}

		var res tree.InsertResult
		if climber.Depth() < s.BaseDepthEnd() {
			res = b.base.Insert(climber, cell)
		} else {
			chunkInfo, err := climber.ChunkInfo()
			if err != nil {
				return tree.InsertOccupied, err
			}
			ref, err := clipper.Acquire(ctx, chunkInfo)
			if err != nil {
				return tree.InsertOccupied, err
			}
			res = ref.Chunk().Insert(climber, cell)
		}

		if res != tree.InsertOccupied {
			return res, nil
		}
		climber.Magnify(p)
	}
}

func (b *Builder) addFileError(origin metadata.Origin, path string, err error) {
	b.logger.Warn("file failed", "path", path, "error", err)
	b.manifest.SetStatus(origin, metadata.Errored, err.Error())
}

// maybeCheckpoint flushes the registry and persists the manifest every
// checkpoint interval of completed files.
func (b *Builder) maybeCheckpoint(ctx context.Context) error {
	b.mu.Lock()
	b.sinceSync++
	due := b.sinceSync >= b.opts.checkpoint
	if due {
		b.sinceSync = 0
		b.state = StateCheckpoint
	}
	b.mu.Unlock()

	if !due {
		return nil
	}
	defer b.setState(StateRunning)

	if err := b.registry.Flush(ctx); err != nil {
		return err
	}
	if err := SaveManifest(ctx, b.store, b.manifest, b.meta.Postfix()); err != nil {
		return err
	}
	return b.registry.WriteErr()
}

// Save flushes everything and persists the base chunk, hierarchy,
// manifest and metadata.
func (b *Builder) Save(ctx context.Context) error {
	if err := b.registry.Save(ctx); err != nil {
		return err
	}

	snap := b.manifest.Snapshot()
	if b.meta.Structure.Lossless() && snap.Points.Overflows > 0 {
		return ErrLosslessOverflow
	}

	postfix := b.meta.Postfix()

	if b.base.NumPoints() > 0 {
		if err := b.base.Save(ctx, b.store, postfix); err != nil {
			return err
		}
		// Every subset shares the base id; Merge records the merged
		// base count, so subset hierarchies stay disjoint.
		if b.meta.Subset == nil {
			b.hierarchy.Set(b.base.ID(), b.base.NumPoints())
		}
	}
	if err := b.hierarchy.Save(ctx, b.store, hierarchyName+postfix, b.fm.HierarchyCompression()); err != nil {
		return err
	}
	if err := SaveManifest(ctx, b.store, b.manifest, postfix); err != nil {
		return err
	}
	return b.meta.Save(ctx, b.store)
}

// Close releases the builder's pools. The builder is unusable after.
func (b *Builder) Close() {
	b.clipPool.Stop()
}
