// Package chunkstore persists fetched chunks keyed by their index.
//
// A [Store] maps chunk index to chunk bytes. Keys are write-once: [Store.Set]
// on an index that already holds data returns [ErrChunkExists] and leaves the
// stored bytes untouched. Stores are safe for concurrent writers to distinct
// keys.
//
// # Variants
//
//   - [Memory]: process-local, lost on exit.
//   - [Disk]: one file per chunk under a cache directory. Survives restarts,
//     which is what makes a download resumable.
//   - [Bucket]: the same layout in a gocloud.dev/blob bucket (file://, mem://,
//     s3://, gs://).
//
// # Storage Layout
//
//	{root}/{namespace}/{etag}.0
//	{root}/{namespace}/{etag}.1
//	...
//
// The namespace is the parent path segment of the remote resource (see
// [Namespace]) and etag is the filesystem-safe form of the entity tag (see
// [SafeName]). Chunk files hold raw bytes with no header.
//
// # Resume
//
// Chunks are only ever stored contiguously from index zero, so [FirstGap]
// (the first unset index) is the resume point. Opening a [Disk] or [Bucket]
// store on the same namespace and entity tag as a previous run picks up
// where it stopped.
package chunkstore
