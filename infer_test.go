package pointgo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pointgo/blobstore"
	"github.com/hupe1980/pointgo/format"
	"github.com/hupe1980/pointgo/metadata"
)

func blobstoreMem() *blobstore.MemoryStore { return blobstore.NewMemoryStore() }

func formatConfig() format.Config { return format.Config{Compress: true} }

func TestInferScansBoundsAndCounts(t *testing.T) {
	ctx := context.Background()
	schema := metadata.XYZSchema()

	opener := memOpener{schema: schema, files: map[string][]metadata.Point{
		"a.bin": {{X: 1, Y: 2, Z: 3}, {X: 7, Y: 0, Z: 5}},
		"b.bin": {{X: -2, Y: 9, Z: 4}},
	}}

	inf, err := Infer(ctx, opener, []string{"a.bin", "b.bin"}, false)
	require.NoError(t, err)

	assert.Equal(t, uint64(3), inf.NumPoints)
	assert.Equal(t, metadata.NewBounds(-2, 0, 3, 7, 9, 5), inf.Bounds)
	assert.True(t, inf.Schema.Equal(schema))
	require.Len(t, inf.PerFile, 2)
	assert.Equal(t, uint64(2), inf.PerFile[0].NumPoints)
}

func TestInferContainsFileErrors(t *testing.T) {
	ctx := context.Background()
	schema := metadata.XYZSchema()

	opener := memOpener{schema: schema, files: map[string][]metadata.Point{
		"ok.bin": {{X: 1, Y: 1, Z: 1}},
	}}

	inf, err := Infer(ctx, opener, []string{"missing.bin", "ok.bin"}, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), inf.NumPoints)
	require.Len(t, inf.PerFile, 2)
	assert.Equal(t, metadata.Errored, inf.PerFile[0].Status)
	assert.Equal(t, metadata.Inserted, inf.PerFile[1].Status)
}

func TestMetadataSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := blobstoreMem()

	native := metadata.NewBounds(0, 0, 0, 8, 4, 2)
	m, err := NewMetadata(native, metadata.XYZSchema(), tieredStructure(),
		formatConfig(), metadata.NewDelta(0.5), nil)
	require.NoError(t, err)

	// The derivation chain: conforming scaled, cube square, epsilon
	// grown.
	assert.Equal(t, 16.0, m.BoundsConforming.Max.X)
	e := m.Cube.Extent()
	assert.Equal(t, e.X, e.Y)
	assert.Equal(t, e.X, e.Z)
	assert.True(t, m.BoundsEpsilon.Contains(m.Cube.Min))

	require.NoError(t, m.Save(ctx, store))

	loaded, err := LoadMetadata(ctx, store, nil)
	require.NoError(t, err)
	assert.Equal(t, m.BoundsNative, loaded.BoundsNative)
	assert.True(t, loaded.SchemaStorage.Equal(m.SchemaStorage))
	assert.True(t, loaded.Structure.Equal(m.Structure))
	assert.Equal(t, m.Delta, loaded.Delta)
}

func TestMetadataRejectsBadConfig(t *testing.T) {
	schema := metadata.XYZSchema()
	bounds := metadata.NewBounds(0, 0, 0, 1, 1, 1)

	// Inverted bounds.
	_, err := NewMetadata(metadata.NewBounds(1, 0, 0, 0, 1, 1), schema,
		tieredStructure(), formatConfig(), nil, nil)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)

	// Non-normal schema.
	intSchema := metadata.NewSchema(
		metadata.DimInfo{Name: "X", Type: metadata.Signed, Size: 4},
		metadata.DimInfo{Name: "Y", Type: metadata.Signed, Size: 4},
		metadata.DimInfo{Name: "Z", Type: metadata.Signed, Size: 4},
	)
	_, err = NewMetadata(bounds, intSchema, tieredStructure(), formatConfig(), nil, nil)
	assert.ErrorAs(t, err, &cfgErr)

	// Subset with too-shallow null depth.
	s := tieredStructure()
	s.NullDepth = 0
	s.BaseDepth = 3
	sub, serr := metadata.NewSubset(1, 4)
	require.NoError(t, serr)
	_, err = NewMetadata(bounds, schema, s, formatConfig(), nil, sub)
	assert.ErrorAs(t, err, &cfgErr)
}

func TestMetadataPostfix(t *testing.T) {
	sub, err := metadata.NewSubset(3, 4)
	require.NoError(t, err)
	m, err := NewMetadata(metadata.NewBounds(0, 0, 0, 8, 8, 8), metadata.XYZSchema(),
		tieredStructure(), formatConfig(), nil, sub)
	require.NoError(t, err)

	assert.Equal(t, "-3", m.Postfix())
	m.MakeWhole()
	assert.Equal(t, "", m.Postfix())
}
