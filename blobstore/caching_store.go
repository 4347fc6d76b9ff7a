package blobstore

import (
	"context"

	"github.com/dgraph-io/ristretto/v2"
)

// CachingStore wraps a Store and caches whole objects on read. Chunk
// objects are immutable once written, so cached entries never go
// stale; Put and Delete still invalidate defensively for the metadata
// documents that are rewritten at checkpoints.
type CachingStore struct {
	inner Store
	cache *ristretto.Cache[string, []byte]
}

// NewCachingStore creates a CachingStore with the given capacity in
// bytes. maxBytes defaults to 256 MiB if <= 0.
func NewCachingStore(inner Store, maxBytes int64) (*CachingStore, error) {
	if maxBytes <= 0 {
		maxBytes = 256 << 20
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxBytes / 1024 * 10,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachingStore{inner: inner, cache: cache}, nil
}

// Get reads through the cache.
func (s *CachingStore) Get(ctx context.Context, name string) ([]byte, error) {
	if data, ok := s.cache.Get(name); ok {
		return data, nil
	}
	data, err := s.inner.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	s.cache.Set(name, data, int64(len(data)))
	return data, nil
}

// Put writes through and invalidates.
func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.cache.Del(name)
	return s.inner.Put(ctx, name, data)
}

// Delete removes the object and its cache entry.
func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.cache.Del(name)
	return s.inner.Delete(ctx, name)
}

// List passes through.
func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

// Close releases the cache.
func (s *CachingStore) Close() {
	s.cache.Close()
}
