// Package blobstore abstracts object storage for index artifacts.
//
// The local filesystem, an in-memory map, HTTP, MinIO and S3 backends
// all implement the same whole-object Store contract. Wrappers add
// read caching (CachingStore) and bounded retry with rate limiting
// (RetryStore).
package blobstore
