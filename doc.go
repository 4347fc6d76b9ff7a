// Package pointgo indexes massive 3D point clouds into a persistent,
// queryable octree-like spatial index stored as chunked binary objects
// in an abstract object store.
//
// A Builder streams source files through pooled point tables, routes
// each point down the tree with a Climber, and hands it to the chunk
// owning its node. Shallow depths live in a single always-resident
// base chunk; deeper nodes are reference-counted by a registry and
// evicted to the store as their references drain. Builds checkpoint
// their manifest so an interrupted run continues where it stopped, and
// disjoint subset builds merge into one index afterwards.
package pointgo
