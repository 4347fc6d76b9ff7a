package tree

import (
	"sort"

	"github.com/hupe1980/pointgo/internal/pool"
)

// InsertResult describes what a tube did with an incoming cell.
type InsertResult int

const (
	// InsertPlaced put the cell at an empty tick.
	InsertPlaced InsertResult = iota
	// InsertStacked appended the cell's point to an identical cell
	// already at the tick; the incoming cell shell is now empty.
	InsertStacked
	// InsertOccupied found a different point at the tick; the caller
	// climbs one depth deeper and retries.
	InsertOccupied
)

// Tube is one z column within a chunk: a map from z tick to cell.
type Tube struct {
	cells map[uint64]*pool.Cell
}

// Empty reports whether the tube holds no cells.
func (t *Tube) Empty() bool { return len(t.cells) == 0 }

// Insert places cell at tick, stacks it onto an identical point, or
// rejects it.
func (t *Tube) Insert(tick uint64, cell *pool.Cell) InsertResult {
	existing, ok := t.cells[tick]
	if !ok {
		if t.cells == nil {
			t.cells = make(map[uint64]*pool.Cell)
		}
		t.cells[tick] = cell
		return InsertPlaced
	}

	if existing.Point() == cell.Point() {
		// Identical discretized coordinates: stack the data.
		data := cell.AcquireData()
		for n := data.Pop(); n != nil; n = data.Pop() {
			existing.Push(n)
		}
		return InsertStacked
	}

	return InsertOccupied
}

// Drain moves every cell onto out in ascending tick order, emptying
// the tube. Tick order keeps serialization deterministic.
func (t *Tube) Drain(out *pool.CellStack) {
	if len(t.cells) == 0 {
		return
	}
	ticks := make([]uint64, 0, len(t.cells))
	for tick := range t.cells {
		ticks = append(ticks, tick)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i] > ticks[j] })
	// Descending push yields ascending pop order.
	for _, tick := range ticks {
		out.Push(t.cells[tick])
	}
	t.cells = nil
}

// Range calls fn for each (tick, cell) in ascending tick order.
func (t *Tube) Range(fn func(tick uint64, cell *pool.Cell)) {
	ticks := make([]uint64, 0, len(t.cells))
	for tick := range t.cells {
		ticks = append(ticks, tick)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i] < ticks[j] })
	for _, tick := range ticks {
		fn(tick, t.cells[tick])
	}
}

// NumPoints returns the stacked point count across the tube's cells.
func (t *Tube) NumPoints() uint64 {
	var n uint64
	for _, c := range t.cells {
		n += c.Size()
	}
	return n
}
