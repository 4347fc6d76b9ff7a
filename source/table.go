package source

import (
	"errors"
	"io"

	"github.com/hupe1980/pointgo/format"
	"github.com/hupe1980/pointgo/internal/pool"
	"github.com/hupe1980/pointgo/metadata"
)

// TableCapacity is the slab size: how many points a table batches
// before invoking the process function.
const TableCapacity = 4096

// Process consumes a stack of cells and returns the cells it did not
// consume; the table recycles those.
type Process func(cells pool.CellStack) pool.CellStack

// Table is a streaming pooled point table. It exposes a fixed number
// of raw point buffers to a reader and turns each filled slab into
// pooled cells for the process function.
//
// The normal variant hands pool memory directly to the reader. The
// converting variant (delta builds) stages reader output in the native
// double layout and rewrites XYZ into scaled integers on flush.
type Table struct {
	pool      *pool.PointPool
	outSchema metadata.Schema
	process   Process

	data []*pool.DataNode
	refs [][]byte

	// Converting variant state; nil/empty for the normal variant.
	delta     *metadata.Delta
	preSchema metadata.Schema
	staging   []byte
}

// NewTable creates a normal (pass-through) table. The reader writes
// directly into pool memory.
func NewTable(pp *pool.PointPool, schema metadata.Schema, process Process) *Table {
	t := &Table{
		pool:      pp,
		outSchema: schema,
		process:   process,
		data:      make([]*pool.DataNode, TableCapacity),
		refs:      make([][]byte, TableCapacity),
	}
	t.allocate()
	return t
}

// NewConvertingTable creates a table that applies delta quantization:
// the reader writes points in preSchema (native doubles); the table
// rewrites XYZ as round((v-offset)/scale) in outSchema's integer
// layout before processing.
func NewConvertingTable(pp *pool.PointPool, preSchema, outSchema metadata.Schema, delta *metadata.Delta, process Process) *Table {
	preSize := preSchema.PointSize()
	t := &Table{
		pool:      pp,
		outSchema: outSchema,
		process:   process,
		data:      make([]*pool.DataNode, TableCapacity),
		refs:      make([][]byte, TableCapacity),
		delta:     delta,
		preSchema: preSchema,
		staging:   make([]byte, TableCapacity*preSize),
	}
	t.allocate()
	return t
}

// Capacity returns the slab size.
func (t *Table) Capacity() int { return TableCapacity }

// allocate tops up the data nodes and rebuilds the reader refs.
func (t *Table) allocate() {
	var missing uint64
	for _, n := range t.data {
		if n == nil {
			missing++
		}
	}
	if missing > 0 {
		stack := t.pool.DataPool().Acquire(missing)
		for i := range t.data {
			if t.data[i] == nil {
				t.data[i] = stack.Pop()
			}
		}
	}
	if t.delta != nil {
		preSize := t.preSchema.PointSize()
		for i := range t.refs {
			t.refs[i] = t.staging[i*preSize : (i+1)*preSize]
		}
	} else {
		for i := range t.refs {
			t.refs[i] = t.data[i].Bytes()
		}
	}
}

// Feed streams the reader through the table until exhaustion.
func (t *Table) Feed(r Reader) error {
	for {
		n, err := r.Read(t.refs)
		if n > 0 {
			if ferr := t.flush(n); ferr != nil {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// flush converts (if needed) and hands n cells to the process
// function, then recycles rejections and replenishes the slab.
func (t *Table) flush(n int) error {
	if t.delta != nil {
		t.convert(n)
	}

	cellNodes := t.pool.CellPool().Acquire(uint64(n))
	var cells pool.CellStack
	for i := 0; i < n; i++ {
		cell := cellNodes.Pop()
		cell.Set(format.ReadXYZ(t.outSchema, t.data[i].Bytes()), t.data[i])
		cells.Push(cell)
		t.data[i] = nil
	}

	rejected := t.process(cells)
	t.pool.ReleaseCells(&rejected)

	t.allocate()
	return nil
}

// convert rewrites each staged point into the pool's integer layout:
// XYZ scaled, remaining attributes copied through.
func (t *Table) convert(n int) {
	preSize := t.preSchema.PointSize()
	preXYZ := t.preSchema.XYZSize()
	outXYZ := t.outSchema.XYZSize()

	for i := 0; i < n; i++ {
		pre := t.staging[i*preSize : (i+1)*preSize]
		out := t.data[i].Bytes()

		pt := format.ReadXYZ(t.preSchema, pre)
		scaled := metadata.Point{X: pt.X, Y: pt.Y, Z: pt.Z}.Scale(t.delta)
		format.WriteXYZ(t.outSchema, out, pool.Point{X: scaled.X, Y: scaled.Y, Z: scaled.Z})

		copy(out[outXYZ:], pre[preXYZ:])
	}
}
