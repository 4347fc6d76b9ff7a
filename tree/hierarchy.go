package tree

import (
	"context"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/pointgo/blobstore"
	"github.com/hupe1980/pointgo/codec"
	"github.com/hupe1980/pointgo/format"
	"github.com/hupe1980/pointgo/metadata"
)

// Hierarchy tracks which chunks exist and how many points each holds.
// It is the index of the index: readers consult it to know which
// objects to fetch for a query region without probing the store.
//
// Ids that fit in a uint64 also populate a roaring bitmap, giving the
// merge path a cheap existence set.
type Hierarchy struct {
	mu     sync.Mutex
	counts map[string]uint64
	seen   *roaring64.Bitmap
}

// hierarchyDoc is the serialized form.
type hierarchyDoc struct {
	Counts map[string]uint64 `json:"counts"`
}

// NewHierarchy creates an empty hierarchy.
func NewHierarchy() *Hierarchy {
	return &Hierarchy{
		counts: make(map[string]uint64),
		seen:   roaring64.New(),
	}
}

// Set records the point count for a chunk, replacing any prior value:
// an evicted-and-reloaded chunk re-reports its full count.
func (h *Hierarchy) Set(id metadata.ID, numPoints uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counts[id.String()] = numPoints
	if v, ok := id.Uint64(); ok {
		h.seen.Add(v)
	}
}

// Get returns the recorded count for a chunk id.
func (h *Hierarchy) Get(id metadata.ID) (uint64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, ok := h.counts[id.String()]
	return n, ok
}

// Len returns the number of recorded chunks.
func (h *Hierarchy) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.counts)
}

// TotalPoints sums the recorded counts.
func (h *Hierarchy) TotalPoints() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	var n uint64
	for _, v := range h.counts {
		n += v
	}
	return n
}

// Contains reports whether the uint64-range id was ever recorded.
func (h *Hierarchy) Contains(id uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seen.Contains(id)
}

// Overlaps reports whether any recorded uint64-range id is shared with
// other, used as a merge precondition: subsets must be disjoint.
func (h *Hierarchy) Overlaps(other *Hierarchy) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	other.mu.Lock()
	defer other.mu.Unlock()
	return h.seen.Intersects(other.seen)
}

// Merge unions another hierarchy's counts into this one.
func (h *Hierarchy) Merge(other *Hierarchy) {
	h.mu.Lock()
	defer h.mu.Unlock()
	other.mu.Lock()
	defer other.mu.Unlock()
	for id, n := range other.counts {
		h.counts[id] += n
	}
	h.seen.Or(other.seen)
}

// Save persists the hierarchy compressed with the configured codec.
func (h *Hierarchy) Save(ctx context.Context, store blobstore.Store, name string, c format.Compression) error {
	h.mu.Lock()
	doc := hierarchyDoc{Counts: make(map[string]uint64, len(h.counts))}
	for id, n := range h.counts {
		doc.Counts[id] = n
	}
	h.mu.Unlock()

	raw, err := codec.Default.Marshal(doc)
	if err != nil {
		return err
	}
	data, err := format.CompressBytes(c, raw)
	if err != nil {
		return err
	}
	return store.Put(ctx, name, data)
}

// LoadHierarchy reads a persisted hierarchy.
func LoadHierarchy(ctx context.Context, store blobstore.Store, name string, c format.Compression) (*Hierarchy, error) {
	data, err := store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	raw, err := format.DecompressBytes(c, data)
	if err != nil {
		return nil, err
	}
	var doc hierarchyDoc
	if err := codec.Default.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	h := NewHierarchy()
	for idStr, n := range doc.Counts {
		id, err := metadata.ParseID(idStr)
		if err != nil {
			return nil, err
		}
		h.counts[idStr] = n
		if v, ok := id.Uint64(); ok {
			h.seen.Add(v)
		}
	}
	return h, nil
}
