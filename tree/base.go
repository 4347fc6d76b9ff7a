package tree

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/pointgo/blobstore"
	"github.com/hupe1980/pointgo/format"
	"github.com/hupe1980/pointgo/internal/pool"
	"github.com/hupe1980/pointgo/metadata"
)

// ErrBumpDepthMerge is returned when a merge would re-chunk a filled
// bump-depth span. The re-chunking semantics need per-chunk bounds
// that the merge path does not carry; builds without a bump depth
// never hit this.
var ErrBumpDepthMerge = fmt.Errorf("bump-depth re-chunking during merge is unsupported")

// BaseChunk holds every depth of the base tier in memory for the whole
// build. Internally one dense slice per depth, with placeholders below
// the base so depth equals slice index. It serializes all depths into
// a single celled object whose points carry their tube id.
type BaseChunk struct {
	env    Env
	subset *metadata.Subset

	// slices[d] is the ordered list of contiguous spans at depth d.
	// A build has exactly one per depth; merging appends more.
	slices [][]*ContiguousChunk
}

// NewBaseChunk creates an empty base for the build's structure and, if
// subset is non-nil, that subset's per-depth spans.
func NewBaseChunk(d Env, subset *metadata.Subset) *BaseChunk {
	s := d.Structure
	b := &BaseChunk{
		env:    d,
		subset: subset,
		slices: make([][]*ContiguousChunk, s.BaseDepthEnd()),
	}

	for depth := uint64(0); depth < s.BaseDepthBegin(); depth++ {
		// Unused placeholders keeping depth == index.
		b.slices[depth] = nil
	}

	if subset != nil {
		spans := subset.Spans(s)
		for depth := s.BaseDepthBegin(); depth < s.BaseDepthEnd(); depth++ {
			span := spans[depth]
			width := span.End.Sub(span.Begin).Simple()
			b.slices[depth] = []*ContiguousChunk{
				newBaseSlice(d, span.Begin, depth, width),
			}
		}
	} else {
		for depth := s.BaseDepthBegin(); depth < s.BaseDepthEnd(); depth++ {
			width := metadata.PointsAtDepth(s.Dimensions(), depth).Simple()
			b.slices[depth] = []*ContiguousChunk{
				newBaseSlice(d, s.LevelIndex(depth), depth, width),
			}
		}
	}

	return b
}

// ID returns the base tier's first index.
func (b *BaseChunk) ID() metadata.ID { return b.env.Structure.BaseIndexBegin() }

// Insert routes a cell to the slice owning the climber's index at the
// climber's depth.
func (b *BaseChunk) Insert(climber *Climber, cell *pool.Cell) InsertResult {
	depth := climber.Depth()
	if depth >= uint64(len(b.slices)) {
		return InsertOccupied
	}
	for _, slice := range b.slices[depth] {
		if climber.Index().Cmp(slice.ID()) >= 0 && climber.Index().Less(slice.EndID()) {
			return slice.Insert(climber, cell)
		}
	}
	return InsertOccupied
}

// NumPoints returns the stacked point count across all depths.
func (b *BaseChunk) NumPoints() uint64 {
	var n uint64
	for _, slices := range b.slices {
		for _, slice := range slices {
			n += slice.NumPoints()
		}
	}
	return n
}

// Save serializes every depth into one celled object at
// `<baseIndexBegin><postfix>`. Each point is prefixed with its tube id
// relative to the base index so load can rebuild depth and tube.
func (b *BaseChunk) Save(ctx context.Context, store blobstore.Store, postfix string) error {
	celled := b.env.Format.Celled()
	nativeSize := b.env.Format.Schema().PointSize()
	celledSize := celled.Schema().PointSize()
	baseBegin := b.ID()

	var payload []byte
	var numPoints uint64
	point := make([]byte, celledSize)

	for depth := b.env.Structure.BaseDepthBegin(); depth < uint64(len(b.slices)); depth++ {
		for _, slice := range b.slices[depth] {
			sliceOffset := slice.ID().Sub(baseBegin).Simple()
			slice.rangeTubes(func(idx uint64, t *Tube) {
				tubeID := sliceOffset + idx
				t.Range(func(_ uint64, cell *pool.Cell) {
					for n := cell.Data(); n != nil; n = n.Next() {
						binary.LittleEndian.PutUint64(point, tubeID)
						copy(point[8:], n.Bytes()[:nativeSize])
						payload = append(payload, point...)
						numPoints++
					}
				})
			})
		}
	}

	packed, err := celled.PackBytes(payload, numPoints, format.ChunkBase)
	if err != nil {
		return err
	}
	return store.Put(ctx, baseBegin.String()+postfix, packed)
}

// LoadBaseChunk reads a previously saved base object and rebuilds the
// per-depth slices, verifying each point's recorded tube id against a
// fresh climb. A disagreement means the object does not belong to this
// build's structure and is fatal.
func LoadBaseChunk(d Env, subset *metadata.Subset, data []byte) (*BaseChunk, error) {
	b := NewBaseChunk(d, subset)
	celled := d.Format.Celled()

	unpacker, err := celled.Unpack(data)
	if err != nil {
		return nil, err
	}
	payload, err := unpacker.Bytes()
	if err != nil {
		return nil, err
	}

	nativeSchema := d.Format.Schema()
	nativeSize := nativeSchema.PointSize()
	celledSize := celled.Schema().PointSize()
	numPoints := unpacker.NumPoints()
	baseBegin := b.ID()

	dataStack := d.Pool.DataPool().Acquire(numPoints)
	cellStack := d.Pool.CellPool().Acquire(numPoints)
	climber := NewClimber(d.Structure, d.Cube)

	var freed pool.CellStack
	pos := 0
	for i := uint64(0); i < numPoints; i++ {
		tubeID := binary.LittleEndian.Uint64(payload[pos:])
		native := payload[pos+8 : pos+celledSize]

		node := dataStack.Pop()
		copy(node.Bytes(), native[:nativeSize])

		cell := cellStack.Pop()
		cell.Set(format.ReadXYZ(nativeSchema, node.Bytes()), node)

		index := baseBegin.AddUint64(tubeID)
		depth := d.Structure.DepthOf(index)

		climber.Reset()
		climber.MagnifyTo(cell.Point(), depth)

		if !climber.Index().Equal(index) {
			return nil, fmt.Errorf("%w: base tube %d does not match climb to %s",
				format.ErrIntegrity, tubeID, climber.Index())
		}
		switch b.Insert(climber, cell) {
		case InsertOccupied:
			return nil, fmt.Errorf("%w: base cell rejected at depth %d",
				format.ErrIntegrity, depth)
		case InsertStacked:
			freed.Push(cell)
		}

		pos += celledSize
	}
	d.Pool.CellPool().Release(&freed)

	return b, nil
}

// Merge appends another base's spans onto this one, depth by depth.
// Each appended span must start exactly where the previous one ends;
// subsets merged out of order fail the continuity check.
func (b *BaseChunk) Merge(other *BaseChunk) error {
	s := b.env.Structure
	for depth := s.BaseDepthBegin(); depth < uint64(len(b.slices)); depth++ {
		write := b.slices[depth]
		for _, adding := range other.slices[depth] {
			if len(write) > 0 {
				last := write[len(write)-1]
				if !last.EndID().Equal(adding.ID()) {
					return fmt.Errorf("merges must be performed consecutively: depth %d ends at %s, next starts at %s",
						depth, last.EndID(), adding.ID())
				}
			}
			write = append(write, adding)

			if s.BumpDepth != 0 && depth >= s.BumpDepth {
				span := write[len(write)-1].EndID().Sub(write[0].ID())
				if span.Equal(metadata.NewID(s.PointsPerChunk)) {
					return ErrBumpDepthMerge
				}
			}
		}
		b.slices[depth] = write
	}
	return nil
}
