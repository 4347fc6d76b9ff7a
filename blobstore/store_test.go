package blobstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "a/b", []byte("hello")))
	data, err := s.Get(ctx, "a/b")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	// Mutating the returned slice must not affect the store.
	data[0] = 'X'
	data2, _ := s.Get(ctx, "a/b")
	assert.Equal(t, []byte("hello"), data2)

	require.NoError(t, s.Put(ctx, "a/c", []byte("x")))
	require.NoError(t, s.Put(ctx, "d", []byte("y")))
	names, err := s.List(ctx, "a/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a/b", "a/c"}, names)

	require.NoError(t, s.Delete(ctx, "a/b"))
	require.NoError(t, s.Delete(ctx, "a/b"), "deleting a missing object is fine")
	_, err = s.Get(ctx, "a/b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "deep/nested/obj", []byte("data")))
	data, err := s.Get(ctx, "deep/nested/obj")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), data)

	// Overwrite is atomic and replaces content.
	require.NoError(t, s.Put(ctx, "deep/nested/obj", []byte("data2")))
	data, _ = s.Get(ctx, "deep/nested/obj")
	assert.Equal(t, []byte("data2"), data)

	require.NoError(t, s.Put(ctx, "top", []byte("t")))
	names, err := s.List(ctx, "deep/")
	require.NoError(t, err)
	assert.Equal(t, []string{"deep/nested/obj"}, names)

	require.NoError(t, s.Delete(ctx, "top"))
	require.NoError(t, s.Delete(ctx, "top"))
}

// flaky fails the first n calls of each operation.
type flaky struct {
	inner Store
	n     int
	calls map[string]int
}

func (f *flaky) attempt(op string) error {
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[op]++
	if f.calls[op] <= f.n {
		return errors.New("transient")
	}
	return nil
}

func (f *flaky) Get(ctx context.Context, name string) ([]byte, error) {
	if err := f.attempt("get"); err != nil {
		return nil, err
	}
	return f.inner.Get(ctx, name)
}

func (f *flaky) Put(ctx context.Context, name string, data []byte) error {
	if err := f.attempt("put"); err != nil {
		return err
	}
	return f.inner.Put(ctx, name, data)
}

func (f *flaky) Delete(ctx context.Context, name string) error {
	return f.inner.Delete(ctx, name)
}

func (f *flaky) List(ctx context.Context, prefix string) ([]string, error) {
	return f.inner.List(ctx, prefix)
}

func TestRetryStoreRecovers(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	rs := NewRetryStore(&flaky{inner: mem, n: 2}, 4, time.Millisecond, nil)

	require.NoError(t, rs.Put(ctx, "k", []byte("v")))
	data, err := rs.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), data)
}

func TestRetryStoreExhausts(t *testing.T) {
	ctx := context.Background()
	rs := NewRetryStore(&flaky{inner: NewMemoryStore(), n: 100}, 3, time.Millisecond, nil)

	err := rs.Put(ctx, "k", []byte("v"))
	assert.ErrorContains(t, err, "retries exhausted")
}

func TestRetryStoreDoesNotRetryNotFound(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	f := &flaky{inner: mem, n: 0}
	rs := NewRetryStore(f, 5, time.Millisecond, nil)

	_, err := rs.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, f.calls["get"], "not-found is terminal")
}

func TestCachingStoreReadThroughAndInvalidate(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	require.NoError(t, mem.Put(ctx, "obj", []byte("cached")))

	cs, err := NewCachingStore(mem, 1<<20)
	require.NoError(t, err)
	defer cs.Close()

	data, err := cs.Get(ctx, "obj")
	require.NoError(t, err)
	assert.Equal(t, []byte("cached"), data)

	// Deleting through the caching store invalidates the cached entry,
	// so the next read surfaces the miss.
	require.NoError(t, cs.Delete(ctx, "obj"))
	_, err = cs.Get(ctx, "obj")
	assert.ErrorIs(t, err, ErrNotFound)
}
