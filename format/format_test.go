package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pointgo/internal/pool"
	"github.com/hupe1980/pointgo/metadata"
)

func testSchema() metadata.Schema {
	return metadata.XYZSchema(metadata.DimInfo{Name: "Intensity", Type: metadata.Unsigned, Size: 2})
}

func TestNewFormatValidation(t *testing.T) {
	schema := testSchema()

	_, err := New(schema, Config{Compress: true})
	require.NoError(t, err, "default tail includes numPoints")

	// Compression without numPoints fails at construction.
	_, err = New(schema, Config{Compress: true, TailFields: []TailField{TailChunkType}})
	assert.ErrorContains(t, err, "numPoints")

	// Duplicate tail fields fail.
	_, err = New(schema, Config{TailFields: []TailField{TailNumPoints, TailNumPoints}})
	assert.ErrorContains(t, err, "duplicate")

	// Unknown fields fail.
	_, err = New(schema, Config{TailFields: []TailField{"checksum"}})
	assert.ErrorContains(t, err, "unknown tail field")

	// Unknown hierarchy codec fails.
	_, err = New(schema, Config{Hierarchy: "brotli"})
	assert.Error(t, err)

	// Uncompressed with no numPoints is fine: the count derives from
	// the payload size.
	_, err = New(schema, Config{TailFields: []TailField{TailChunkType}})
	assert.NoError(t, err)
}

func packStack(t *testing.T, f *Format, pp *pool.PointPool, points []pool.Point) []byte {
	t.Helper()
	stack := pp.DataPool().Acquire(uint64(len(points)))

	var ordered []*pool.DataNode
	for n := stack.Pop(); n != nil; n = stack.Pop() {
		ordered = append(ordered, n)
	}
	var rebuilt pool.DataStack
	for i := len(points) - 1; i >= 0; i-- {
		WriteXYZ(f.Schema(), ordered[i].Bytes(), points[i])
		rebuilt.Push(ordered[i])
	}

	data, err := f.Pack(&rebuilt, ChunkContiguous)
	require.NoError(t, err)
	return data
}

func TestPackUnpackRoundTrip(t *testing.T) {
	schema := testSchema()
	points := []pool.Point{
		{X: 1.5, Y: 2.5, Z: 3.5},
		{X: 4.25, Y: 5.125, Z: 6.0625},
		{X: -7, Y: 0, Z: 7.75},
	}

	cases := []struct {
		name string
		cfg  Config
	}{
		{"raw-default-tail", Config{}},
		{"compressed-default-tail", Config{Compress: true}},
		{"raw-full-tail", Config{TailFields: []TailField{TailNumPoints, TailChunkType, TailNumBytes}}},
		{"compressed-full-tail", Config{Compress: true, TailFields: []TailField{TailNumPoints, TailChunkType, TailNumBytes}}},
		{"raw-type-only", Config{TailFields: []TailField{TailChunkType}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := New(schema, tc.cfg)
			require.NoError(t, err)

			pp := pool.NewPointPool(schema.PointSize())
			data := packStack(t, f, pp, points)

			u, err := f.Unpack(data)
			require.NoError(t, err)
			assert.Equal(t, uint64(len(points)), u.NumPoints())

			if typ, ok := u.ChunkType(); ok {
				assert.Equal(t, ChunkContiguous, typ)
			}

			cells, err := u.AcquireCells(pp)
			require.NoError(t, err)
			assert.Equal(t, uint64(len(points)), cells.Size())

			got := map[pool.Point]bool{}
			for c := cells.Pop(); c != nil; c = cells.Pop() {
				got[c.Point()] = true
			}
			for _, p := range points {
				assert.True(t, got[p], "missing point %+v", p)
			}
		})
	}
}

func TestPackBytesRepacksIdentically(t *testing.T) {
	schema := testSchema()
	f, err := New(schema, Config{Compress: true})
	require.NoError(t, err)

	pp := pool.NewPointPool(schema.PointSize())
	points := []pool.Point{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}}
	data := packStack(t, f, pp, points)

	// Unpack to raw payload, repack, and expect byte equality.
	u, err := f.Unpack(data)
	require.NoError(t, err)
	raw, err := u.Bytes()
	require.NoError(t, err)

	repacked, err := f.PackBytes(raw, u.NumPoints(), ChunkContiguous)
	require.NoError(t, err)
	assert.Equal(t, data, repacked)
}

func TestUnpackIntegrityFailures(t *testing.T) {
	schema := testSchema()

	f, err := New(schema, Config{TailFields: []TailField{TailNumPoints, TailNumBytes}})
	require.NoError(t, err)

	pp := pool.NewPointPool(schema.PointSize())
	data := packStack(t, f, pp, []pool.Point{{X: 1, Y: 1, Z: 1}})

	// Truncating the payload invalidates numBytes.
	_, err = f.Unpack(data[1:])
	assert.ErrorIs(t, err, ErrIntegrity)

	// A short buffer cannot even hold the tail.
	_, err = f.Unpack(data[:3])
	assert.ErrorIs(t, err, ErrIntegrity)

	// A corrupted point count disagrees with the payload size.
	fc, err := New(schema, Config{})
	require.NoError(t, err)
	good := packStack(t, fc, pp, []pool.Point{{X: 1, Y: 1, Z: 1}})
	bad := append([]byte(nil), good...)
	bad[len(bad)-2] = 99 // stomp numPoints
	u, err := fc.Unpack(bad)
	require.NoError(t, err)
	_, err = u.Bytes()
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestDeltifiedSchemaRoundTrip(t *testing.T) {
	delta := metadata.NewDelta(0.01)
	native := metadata.XYZSchema()
	conforming := metadata.NewBounds(0, 0, 0, 100000, 100000, 100000)
	storage := native.Deltify(delta, conforming)

	require.Equal(t, 12, storage.PointSize(), "three i32 coordinates")

	f, err := New(storage, Config{Compress: true})
	require.NoError(t, err)

	// Scaled coordinates are integers in delta space.
	pp := pool.NewPointPool(storage.PointSize())
	points := []pool.Point{{X: 12346, Y: 0, Z: -250}}
	data := packStack(t, f, pp, points)

	u, err := f.Unpack(data)
	require.NoError(t, err)
	cells, err := u.AcquireCells(pp)
	require.NoError(t, err)

	c := cells.Pop()
	require.NotNil(t, c)
	assert.Equal(t, pool.Point{X: 12346, Y: 0, Z: -250}, c.Point())
}

func TestCompressionCodecs(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog, twice over")

	for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLz4} {
		t.Run(string(c), func(t *testing.T) {
			packed, err := CompressBytes(c, payload)
			require.NoError(t, err)
			back, err := DecompressBytes(c, packed)
			require.NoError(t, err)
			assert.Equal(t, payload, back)
		})
	}

	_, err := CompressionFromName("zstd")
	require.NoError(t, err)
	def, err := CompressionFromName("")
	require.NoError(t, err)
	assert.Equal(t, CompressionZstd, def)
	_, err = CompressionFromName("snappy")
	assert.Error(t, err)
}
