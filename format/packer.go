package format

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/pointgo/internal/pool"
)

// ErrIntegrity is wrapped by unpack errors where the tail disagrees
// with the payload. Integrity failures are fatal to a build.
var ErrIntegrity = fmt.Errorf("chunk integrity")

// Pack serializes a stack of point buffers: payload (raw or
// compressed) followed by the configured tail. The stack is consumed;
// the caller releases its nodes afterwards.
func (f *Format) Pack(data *pool.DataStack, typ ChunkType) ([]byte, error) {
	numPoints := data.Size()
	pointSize := f.schema.PointSize()

	payload := make([]byte, 0, numPoints*uint64(pointSize))
	data.Range(func(n *pool.DataNode) {
		payload = append(payload, n.Bytes()...)
	})

	return f.PackBytes(payload, numPoints, typ)
}

// PackBytes serializes an already-concatenated point payload. Used by
// the base chunk, whose celled payload is assembled separately.
func (f *Format) PackBytes(payload []byte, numPoints uint64, typ ChunkType) ([]byte, error) {
	if f.compress {
		compressed, err := CompressBytes(CompressionZstd, payload)
		if err != nil {
			return nil, err
		}
		payload = compressed
	}

	// numBytes records the payload size alone, before any tail fields.
	payloadLen := uint64(len(payload))

	for _, field := range f.tailFields {
		switch field {
		case TailNumPoints:
			payload = binary.LittleEndian.AppendUint64(payload, numPoints)
		case TailChunkType:
			payload = append(payload, byte(typ))
		case TailNumBytes:
			payload = binary.LittleEndian.AppendUint64(payload, payloadLen)
		}
	}
	return payload, nil
}

// Unpacker holds a peeled chunk: tail fields extracted, payload still
// in its serialized (possibly compressed) form.
type Unpacker struct {
	format    *Format
	payload   []byte
	numPoints uint64
	hasCount  bool
	chunkType ChunkType
	hasType   bool
}

// Unpack peels the tail from the right. Tail fields were appended in
// order, so they are read back in reverse.
func (f *Format) Unpack(data []byte) (*Unpacker, error) {
	u := &Unpacker{format: f}

	var numBytes *uint64
	for i := len(f.tailFields) - 1; i >= 0; i-- {
		field := f.tailFields[i]
		size := tailFieldSize(field)
		if len(data) < size {
			return nil, fmt.Errorf("%w: truncated tail", ErrIntegrity)
		}
		tail := data[len(data)-size:]
		data = data[:len(data)-size]

		switch field {
		case TailNumPoints:
			u.numPoints = binary.LittleEndian.Uint64(tail)
			u.hasCount = true
		case TailChunkType:
			u.chunkType = ChunkType(tail[0])
			u.hasType = true
		case TailNumBytes:
			n := binary.LittleEndian.Uint64(tail)
			numBytes = &n
		}
	}

	// Validated once every tail field is off, so it measures the
	// payload alone regardless of field order.
	if numBytes != nil && *numBytes != uint64(len(data)) {
		return nil, fmt.Errorf("%w: numBytes %d != payload %d", ErrIntegrity, *numBytes, len(data))
	}

	if f.compress && !u.hasCount {
		return nil, fmt.Errorf("%w: cannot decompress without numPoints", ErrIntegrity)
	}

	u.payload = data
	if !u.hasCount {
		u.numPoints = uint64(len(data)) / uint64(f.schema.PointSize())
		u.hasCount = true
	}
	return u, nil
}

// NumPoints returns the serialized point count.
func (u *Unpacker) NumPoints() uint64 { return u.numPoints }

// ChunkType returns the tail's chunk type; ok is false when the tail
// layout omits it.
func (u *Unpacker) ChunkType() (ChunkType, bool) { return u.chunkType, u.hasType }

// Bytes returns the decompressed payload, validating its length
// against the point count.
func (u *Unpacker) Bytes() ([]byte, error) {
	payload := u.payload
	if u.format.compress {
		raw, err := DecompressBytes(CompressionZstd, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrIntegrity, err)
		}
		payload = raw
	}
	want := u.numPoints * uint64(u.format.schema.PointSize())
	if uint64(len(payload)) != want {
		return nil, fmt.Errorf("%w: payload %d bytes, tail claims %d points of %d",
			ErrIntegrity, len(payload), u.numPoints, u.format.schema.PointSize())
	}
	return payload, nil
}

// AcquireCells rebuilds pooled cells from the payload, one cell per
// point.
func (u *Unpacker) AcquireCells(pp *pool.PointPool) (pool.CellStack, error) {
	payload, err := u.Bytes()
	if err != nil {
		return pool.CellStack{}, err
	}

	pointSize := u.format.schema.PointSize()
	np := u.numPoints

	dataStack := pp.DataPool().Acquire(np)
	cellStack := pp.CellPool().Acquire(np)

	var out pool.CellStack
	pos := 0
	for i := uint64(0); i < np; i++ {
		data := dataStack.Pop()
		copy(data.Bytes(), payload[pos:pos+pointSize])

		cell := cellStack.Pop()
		cell.Set(ReadXYZ(u.format.schema, data.Bytes()), data)
		out.Push(cell)

		pos += pointSize
	}
	return out, nil
}
