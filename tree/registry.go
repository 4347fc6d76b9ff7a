package tree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hupe1980/pointgo/blobstore"
	"github.com/hupe1980/pointgo/internal/worker"
	"github.com/hupe1980/pointgo/metadata"
)

// Registry owns the live set of cold-tier chunks, keyed by chunk id
// and reference counted. Chunk ids below mappedIndexBegin resolve
// through a dense slot vector; deeper ids go through a map.
//
// The map lock guards slot membership and reference counts. A slot's
// lock serializes opening its chunk; Acquire may take the map lock
// while holding it (to drop its reference after a failed open), and
// the map lock is never held while taking a slot lock. Callers never
// hold a chunk lock while acquiring another chunk.
type Registry struct {
	env      Env
	store    blobstore.Store
	clipPool *worker.Pool
	logger   *slog.Logger

	mu   sync.Mutex
	fast []*slot
	slow map[string]*slot

	hierarchy *Hierarchy

	writeMu  sync.Mutex
	writeErr error
}

type slot struct {
	mu    sync.Mutex
	refs  int
	chunk Chunk
	// writing is non-nil while an eviction write is in flight; it is
	// closed when the object is durably in the store. An acquire that
	// races an eviction waits on it, then reloads.
	writing chan struct{}
}

// Ref is a scoped reference to an acquired chunk.
type Ref struct {
	id    metadata.ID
	key   string
	slot  *slot
	chunk Chunk
}

// Chunk returns the referenced chunk.
func (r *Ref) Chunk() Chunk { return r.chunk }

// ID returns the chunk id.
func (r *Ref) ID() metadata.ID { return r.id }

// NewRegistry creates a registry writing evicted chunks to store on
// clipPool.
func NewRegistry(d Env, store blobstore.Store, clipPool *worker.Pool, hierarchy *Hierarchy, logger *slog.Logger) *Registry {
	return &Registry{
		env:       d,
		store:     store,
		clipPool:  clipPool,
		logger:    logger,
		fast:      make([]*slot, d.Structure.NumFastChunks()),
		slow:      make(map[string]*slot),
		hierarchy: hierarchy,
	}
}

// getSlot finds or creates the slot for a chunk placement and takes a
// reference under the map lock. It also returns any in-flight write
// the caller must wait out before opening the chunk.
func (r *Registry) getSlot(info metadata.ChunkInfo) (*slot, string, chan struct{}) {
	key := info.ChunkID.String()

	r.mu.Lock()
	defer r.mu.Unlock()

	var s *slot
	if info.ChunkID.Less(r.env.Structure.MappedIndexBegin()) && info.ChunkNum < uint64(len(r.fast)) {
		if r.fast[info.ChunkNum] == nil {
			r.fast[info.ChunkNum] = &slot{}
		}
		s = r.fast[info.ChunkNum]
	} else {
		var ok bool
		if s, ok = r.slow[key]; !ok {
			s = &slot{}
			r.slow[key] = s
		}
	}
	s.refs++
	return s, key, s.writing
}

// Acquire returns a referenced chunk for the given placement, creating
// it empty or loading it from the store on first reference.
func (r *Registry) Acquire(ctx context.Context, info metadata.ChunkInfo) (*Ref, error) {
	s, key, writing := r.getSlot(info)

	if writing != nil {
		select {
		case <-writing:
		case <-ctx.Done():
			r.drop(s, key)
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.chunk == nil {
		chunk, err := r.open(ctx, info)
		if err != nil {
			r.drop(s, key)
			return nil, err
		}
		s.chunk = chunk
	}
	return &Ref{id: info.ChunkID, key: key, slot: s, chunk: s.chunk}, nil
}

// open creates or reloads the chunk for a placement. Reload happens on
// continued builds and when an eviction write raced a re-acquire.
func (r *Registry) open(ctx context.Context, info metadata.ChunkInfo) (Chunk, error) {
	path := r.env.Structure.MaybePrefix(info.ChunkID)
	data, err := r.store.Get(ctx, path)
	if errors.Is(err, blobstore.ErrNotFound) {
		return newChunk(r.env, info), nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: load %s: %w", path, err)
	}
	r.logger.Debug("reloaded chunk", "id", info.ChunkID.String(), "bytes", len(data))
	return loadChunk(r.env, info, data)
}

// drop undoes a reference taken by getSlot.
func (r *Registry) drop(s *slot, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.refs--
	r.maybeRemoveLocked(s, key)
}

// maybeRemoveLocked removes an idle, empty slot from the slow map.
// Fast-tier slots stay in their vector.
func (r *Registry) maybeRemoveLocked(s *slot, key string) {
	if s.refs == 0 && s.chunk == nil && s.writing == nil {
		delete(r.slow, key)
	}
}

// Release drops a reference. The last release detaches the chunk and
// schedules its serialization and write on the clip pool, so insert
// workers never block on store I/O.
func (r *Registry) Release(ctx context.Context, ref *Ref) error {
	var evict Chunk

	r.mu.Lock()
	s := ref.slot
	s.refs--
	if s.refs == 0 && s.chunk != nil {
		evict = s.chunk
		s.chunk = nil
		if !evict.Empty() {
			s.writing = make(chan struct{})
		}
	}
	r.maybeRemoveLocked(s, ref.key)
	r.mu.Unlock()

	if evict == nil {
		return nil
	}
	return r.scheduleWrite(ctx, ref.id, ref.key, s, evict)
}

// scheduleWrite serializes and uploads an evicted chunk on the clip
// pool, then clears the slot's write marker. Empty chunks are dropped
// without a write.
func (r *Registry) scheduleWrite(ctx context.Context, id metadata.ID, key string, s *slot, chunk Chunk) error {
	if chunk.Empty() {
		return nil
	}
	r.hierarchy.Set(id, chunk.NumPoints())

	// The write may outlive the caller's context; a soft-cancelled
	// build still drains its in-flight chunks durably.
	wctx := context.WithoutCancel(ctx)

	err := r.clipPool.Submit(ctx, func() {
		data, err := chunk.Collect()
		if err == nil {
			err = r.store.Put(wctx, r.env.Structure.MaybePrefix(id), data)
		}
		if err != nil {
			r.logger.Error("chunk write failed", "id", id.String(), "error", err)
			r.setWriteErr(fmt.Errorf("registry: write %s: %w", id, err))
		}

		r.mu.Lock()
		close(s.writing)
		s.writing = nil
		r.maybeRemoveLocked(s, key)
		r.mu.Unlock()
	})
	if err != nil {
		// Submission failed; unblock any waiters.
		r.mu.Lock()
		close(s.writing)
		s.writing = nil
		r.maybeRemoveLocked(s, key)
		r.mu.Unlock()
	}
	return err
}

func (r *Registry) setWriteErr(err error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if r.writeErr == nil {
		r.writeErr = err
	}
}

// WriteErr returns the first asynchronous write failure, if any.
// Write failures are fatal to the build.
func (r *Registry) WriteErr() error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.writeErr
}

// Flush evicts every chunk with no outstanding references. Called at
// checkpoints after workers have clipped; writes proceed concurrently
// on the clip pool.
func (r *Registry) Flush(ctx context.Context) error {
	type pending struct {
		id    metadata.ID
		key   string
		slot  *slot
		chunk Chunk
	}
	var evicted []pending

	r.mu.Lock()
	collect := func(key string, s *slot) {
		if s != nil && s.refs == 0 && s.chunk != nil {
			p := pending{s.chunk.ID(), key, s, s.chunk}
			s.chunk = nil
			if !p.chunk.Empty() {
				s.writing = make(chan struct{})
			}
			evicted = append(evicted, p)
		}
	}
	for _, s := range r.fast {
		if s != nil {
			collect(s.chunkKey(), s)
		}
	}
	for key, s := range r.slow {
		collect(key, s)
	}
	r.mu.Unlock()

	for _, p := range evicted {
		if err := r.scheduleWrite(ctx, p.id, p.key, p.slot, p.chunk); err != nil {
			return err
		}
	}
	return nil
}

func (s *slot) chunkKey() string {
	if s.chunk == nil {
		return ""
	}
	return s.chunk.ID().String()
}

// Save flushes everything and waits for outstanding writes.
func (r *Registry) Save(ctx context.Context) error {
	if err := r.Flush(ctx); err != nil {
		return err
	}
	r.clipPool.Wait()
	return r.WriteErr()
}

// Clipper caches chunk references for one insert worker so hot chunks
// stay resident between slabs. Workers clip on a cadence; every ref
// released drops the chunk's count toward eviction.
type Clipper struct {
	registry *Registry
	refs     map[string]*Ref
}

// NewClipper creates a clipper against the registry.
func NewClipper(r *Registry) *Clipper {
	return &Clipper{registry: r, refs: make(map[string]*Ref)}
}

// Acquire returns a cached or fresh reference for the placement.
func (c *Clipper) Acquire(ctx context.Context, info metadata.ChunkInfo) (*Ref, error) {
	key := info.ChunkID.String()
	if ref, ok := c.refs[key]; ok {
		return ref, nil
	}
	ref, err := c.registry.Acquire(ctx, info)
	if err != nil {
		return nil, err
	}
	c.refs[key] = ref
	return ref, nil
}

// Clip releases every cached reference.
func (c *Clipper) Clip(ctx context.Context) error {
	for key, ref := range c.refs {
		delete(c.refs, key)
		if err := c.registry.Release(ctx, ref); err != nil {
			return err
		}
	}
	return nil
}
