// Package testutil provides seeded randomness and point-bag helpers
// for deterministic tests.
package testutil

import (
	"math/rand"
	"sync"

	"github.com/hupe1980/pointgo/metadata"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float64 returns a pseudo-random number in [0,1).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// PointsIn returns n pseudo-random points uniformly inside bounds.
func (r *RNG) PointsIn(n int, b metadata.Bounds) []metadata.Point {
	e := b.Extent()
	points := make([]metadata.Point, n)
	for i := range points {
		points[i] = metadata.Point{
			X: b.Min.X + r.Float64()*e.X,
			Y: b.Min.Y + r.Float64()*e.Y,
			Z: b.Min.Z + r.Float64()*e.Z,
		}
	}
	return points
}

// Attrs returns n pseudo-random attribute payloads of size bytes each.
func (r *RNG) Attrs(n, size int) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	attrs := make([][]byte, n)
	for i := range attrs {
		attrs[i] = make([]byte, size)
		r.rand.Read(attrs[i])
	}
	return attrs
}
