package pointgo

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pointgo/blobstore"
	"github.com/hupe1980/pointgo/format"
	"github.com/hupe1980/pointgo/metadata"
	"github.com/hupe1980/pointgo/source"
	"github.com/hupe1980/pointgo/testutil"
)

// memOpener serves in-memory point slices as source files.
type memOpener struct {
	schema metadata.Schema
	files  map[string][]metadata.Point
}

func (o memOpener) Open(_ context.Context, path string) (source.Reader, error) {
	pts, ok := o.files[path]
	if !ok {
		return nil, fmt.Errorf("no such file %s", path)
	}
	return source.NewSliceReader(o.schema, pts, nil), nil
}

// coldStructure routes everything to the cold tier from the root.
func coldStructure() metadata.Structure {
	return metadata.Structure{
		NullDepth:      0,
		BaseDepth:      0,
		ColdDepth:      0, // lossless
		PointsPerChunk: 64,
		Type:           metadata.Octree,
		MappedDepth:    2,
		SparseDepth:    2,
	}
}

// tieredStructure exercises the base and cold tiers.
func tieredStructure() metadata.Structure {
	return metadata.Structure{
		NullDepth:      1,
		BaseDepth:      3,
		ColdDepth:      0, // lossless
		PointsPerChunk: 64,
		Type:           metadata.Octree,
		MappedDepth:    5,
		SparseDepth:    5,
	}
}

func newTestBuilder(t *testing.T, store blobstore.Store, opener memOpener, paths []string, extra ...Option) *Builder {
	t.Helper()
	opts := append([]Option{
		WithBounds(metadata.NewBounds(0, 0, 0, 8, 8, 8)),
		WithSchema(opener.schema),
		WithStructure(tieredStructure()),
		WithPaths(paths...),
		WithOpener(opener),
		WithThreads(1),
		WithLogger(NoopLogger()),
	}, extra...)

	b, err := NewBuilder(context.Background(), store, opts...)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

func TestBuildTwoIdenticalPointsStack(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	schema := metadata.XYZSchema()

	opener := memOpener{schema: schema, files: map[string][]metadata.Point{
		"dup.bin": {
			{X: 1.5, Y: 2.5, Z: 3.5},
			{X: 1.5, Y: 2.5, Z: 3.5},
		},
	}}

	b := newTestBuilder(t, store, opener, []string{"dup.bin"},
		WithStructure(coldStructure()), WithCompression(false))
	require.NoError(t, b.Go(ctx, 0))
	assert.Equal(t, StateDone, b.State())

	snap := b.Manifest().Snapshot()
	assert.Equal(t, uint64(2), snap.Points.Inserts)
	assert.Zero(t, snap.Points.OutOfBounds)
	assert.Zero(t, snap.Points.Overflows)

	// One chunk at the shallowest depth, holding both points.
	assert.Equal(t, 1, b.Hierarchy().Len())
	n, ok := b.Hierarchy().Get(metadata.NewID(0))
	require.True(t, ok)
	assert.Equal(t, uint64(2), n)

	// Pack/unpack round-trips exactly.
	data, err := store.Get(ctx, "0")
	require.NoError(t, err)

	fm, err := b.Metadata().NewFormat()
	require.NoError(t, err)
	u, err := fm.Unpack(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), u.NumPoints())

	raw, err := u.Bytes()
	require.NoError(t, err)
	repacked, err := fm.PackBytes(raw, 2, format.ChunkContiguous)
	require.NoError(t, err)
	assert.Equal(t, data, repacked)
}

func TestBuildPointOutsideBounds(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	schema := metadata.XYZSchema()

	opener := memOpener{schema: schema, files: map[string][]metadata.Point{
		"out.bin": {{X: 1.006, Y: 0.5, Z: 0.5}},
	}}

	b, err := NewBuilder(ctx, store,
		WithBounds(metadata.NewBounds(0, 0, 0, 1, 1, 1)),
		WithSchema(schema),
		WithStructure(coldStructure()),
		WithPaths("out.bin"),
		WithOpener(opener),
		WithThreads(1),
		WithLogger(NoopLogger()),
	)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Go(ctx, 0))

	snap := b.Manifest().Snapshot()
	assert.Equal(t, uint64(1), snap.Points.OutOfBounds)
	assert.Zero(t, snap.Points.Inserts)

	// No chunks written.
	assert.Zero(t, b.Hierarchy().Len())
	_, err = store.Get(ctx, "0")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestBuildBoundaryPointAccepted(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	schema := metadata.XYZSchema()

	opener := memOpener{schema: schema, files: map[string][]metadata.Point{
		"edge.bin": {{X: 8, Y: 8, Z: 8}}, // exactly on the cube max
	}}

	b := newTestBuilder(t, store, opener, []string{"edge.bin"})
	require.NoError(t, b.Go(ctx, 0))

	snap := b.Manifest().Snapshot()
	assert.Equal(t, uint64(1), snap.Points.Inserts)
	assert.Zero(t, snap.Points.OutOfBounds)
}

func TestBuildDeltaQuantization(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	schema := metadata.XYZSchema()
	delta := metadata.NewDelta(0.01)

	opener := memOpener{schema: schema, files: map[string][]metadata.Point{
		"d.bin": {{X: 123.456, Y: 0, Z: 0}},
	}}

	b, err := NewBuilder(ctx, store,
		WithBounds(metadata.NewBounds(0, 0, 0, 200, 200, 200)),
		WithSchema(schema),
		WithStructure(coldStructure()),
		WithDelta(delta),
		WithPaths("d.bin"),
		WithOpener(opener),
		WithThreads(1),
		WithCompression(false),
		WithLogger(NoopLogger()),
	)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Go(ctx, 0))
	snap := b.Manifest().Snapshot()
	require.Equal(t, uint64(1), snap.Points.Inserts)

	// On-disk XYZ are scaled i32s.
	require.Equal(t, 12, b.Metadata().SchemaStorage.PointSize())

	require.Equal(t, 1, b.Hierarchy().Len())
	data, err := store.Get(ctx, "0")
	require.NoError(t, err)

	fm, err := b.Metadata().NewFormat()
	require.NoError(t, err)
	u, err := fm.Unpack(data)
	require.NoError(t, err)
	cells, err := u.AcquireCells(b.pointPool)
	require.NoError(t, err)

	c := cells.Pop()
	require.NotNil(t, c)
	assert.Equal(t, 12346.0, c.Point().X)

	// A reader applying the same delta reconstructs the quantized
	// coordinate.
	back := metadata.Point{X: c.Point().X, Y: c.Point().Y, Z: c.Point().Z}.Unscale(delta)
	assert.InDelta(t, 123.46, back.X, 1e-9)
}

func TestBuildInsertThenCount(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	schema := metadata.XYZSchema()
	rng := testutil.NewRNG(99)

	inside := rng.PointsIn(500, metadata.NewBounds(0, 0, 0, 8, 8, 8))
	outside := []metadata.Point{
		{X: 9, Y: 1, Z: 1},
		{X: -1, Y: 1, Z: 1},
		{X: 4, Y: 4, Z: 100},
	}

	opener := memOpener{schema: schema, files: map[string][]metadata.Point{
		"a.bin": append(append([]metadata.Point{}, inside[:250]...), outside...),
		"b.bin": inside[250:],
	}}

	b := newTestBuilder(t, store, opener, []string{"a.bin", "b.bin"})
	require.NoError(t, b.Go(ctx, 0))

	snap := b.Manifest().Snapshot()
	assert.Equal(t, uint64(3), snap.Points.OutOfBounds)
	assert.Equal(t, uint64(500), snap.Points.Inserts)
	assert.Zero(t, snap.Points.Overflows)

	// The sum across all produced chunks equals the insert count.
	assert.Equal(t, snap.Points.Inserts, b.Hierarchy().TotalPoints())
}

func TestBuildEmptySourceFile(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	schema := metadata.XYZSchema()

	opener := memOpener{schema: schema, files: map[string][]metadata.Point{
		"empty.bin": {},
	}}

	b := newTestBuilder(t, store, opener, []string{"empty.bin"})
	require.NoError(t, b.Go(ctx, 0))

	snap := b.Manifest().Snapshot()
	assert.Equal(t, metadata.Inserted, snap.Files[0].Status)
	assert.Zero(t, snap.Points.Inserts)
}

func TestBuildMissingFileContained(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	schema := metadata.XYZSchema()

	opener := memOpener{schema: schema, files: map[string][]metadata.Point{
		"good.bin": {{X: 1, Y: 1, Z: 1}},
	}}

	b := newTestBuilder(t, store, opener, []string{"gone.bin", "good.bin"})
	require.NoError(t, b.Go(ctx, 0), "per-file errors do not fail the build")

	snap := b.Manifest().Snapshot()
	assert.Equal(t, metadata.Errored, snap.Files[0].Status)
	assert.Contains(t, snap.Files[0].Message, "gone.bin")
	assert.Equal(t, metadata.Inserted, snap.Files[1].Status)
	assert.Equal(t, uint64(1), snap.Points.Inserts)
}

func TestBuildCompressionWithoutNumPointsFails(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	schema := metadata.XYZSchema()

	_, err := NewBuilder(ctx, store,
		WithBounds(metadata.NewBounds(0, 0, 0, 8, 8, 8)),
		WithSchema(schema),
		WithStructure(coldStructure()),
		WithPaths("x.bin"),
		WithOpener(memOpener{schema: schema}),
		WithCompression(true),
		WithTailFields(format.TailChunkType),
		WithLogger(NoopLogger()),
	)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "format", cfgErr.Field)
}

func TestBuildResume(t *testing.T) {
	ctx := context.Background()
	schema := metadata.XYZSchema()
	rng := testutil.NewRNG(5)

	points := rng.PointsIn(300, metadata.NewBounds(0, 0, 0, 8, 8, 8))
	opener := memOpener{schema: schema, files: map[string][]metadata.Point{
		"one.bin": points[:100],
		"two.bin": points[100:200],
		"tre.bin": points[200:],
	}}
	paths := []string{"one.bin", "two.bin", "tre.bin"}

	// Uninterrupted reference run.
	refStore := blobstore.NewMemoryStore()
	ref := newTestBuilder(t, refStore, opener, paths)
	require.NoError(t, ref.Go(ctx, 0))
	want := ref.Manifest().Snapshot().Points.Inserts

	// Interrupted run: one file, then stop.
	store := blobstore.NewMemoryStore()
	first := newTestBuilder(t, store, opener, paths)
	require.NoError(t, first.Go(ctx, 1))
	firstInserts := first.Manifest().Snapshot().Points.Inserts
	require.Less(t, firstInserts, want)
	first.Close()

	// A new builder at the same endpoint continues from the manifest.
	second := newTestBuilder(t, store, opener, paths)
	assert.Equal(t, StateContinuing, second.State())
	require.NoError(t, second.Go(ctx, 0))
	assert.Equal(t, StateDone, second.State())

	assert.Equal(t, want, second.Manifest().Snapshot().Points.Inserts)
	assert.Equal(t, want, second.Hierarchy().TotalPoints())
}

func TestBuildForceDiscardsExisting(t *testing.T) {
	ctx := context.Background()
	schema := metadata.XYZSchema()
	store := blobstore.NewMemoryStore()

	opener := memOpener{schema: schema, files: map[string][]metadata.Point{
		"a.bin": {{X: 1, Y: 1, Z: 1}},
	}}

	b1 := newTestBuilder(t, store, opener, []string{"a.bin"})
	require.NoError(t, b1.Go(ctx, 0))

	b2 := newTestBuilder(t, store, opener, []string{"a.bin"}, WithForce(true))
	assert.Equal(t, StateFresh, b2.State())
}

func TestBuildSchemaMismatchContained(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	schema := metadata.XYZSchema()
	other := metadata.XYZSchema(metadata.DimInfo{Name: "Intensity", Type: metadata.Unsigned, Size: 2})

	opener := memOpener{schema: other, files: map[string][]metadata.Point{
		"odd.bin": {{X: 1, Y: 1, Z: 1}},
	}}

	// Builder expects plain XYZ; the file carries an extra dimension.
	b, err := NewBuilder(ctx, store,
		WithBounds(metadata.NewBounds(0, 0, 0, 8, 8, 8)),
		WithSchema(schema),
		WithStructure(tieredStructure()),
		WithPaths("odd.bin"),
		WithOpener(opener),
		WithThreads(1),
		WithLogger(NoopLogger()),
	)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Go(ctx, 0))
	snap := b.Manifest().Snapshot()
	assert.Equal(t, metadata.Errored, snap.Files[0].Status)
	assert.True(t, strings.Contains(snap.Files[0].Message, "schema"))
}
