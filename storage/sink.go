// Package storage writes finalized parquet chunks to the output sink. The
// sink itself is an opaque destination capability; implementations may back
// onto local disk or object storage. Chunks are staged locally and uploaded
// with a single sequential write, so sinks never need random access.
package storage

import (
	"context"
	"io"
)

// ObjectInfo describes one stored object under a sink prefix.
type ObjectInfo struct {
	Key  string
	Size int64
}

// Sink is the destination capability consumed by the pipeline: write a byte
// stream to a key, list keys under a prefix, delete. Writes are whole-object
// and atomic per key; concurrent writers never share a chunk key because key
// derivation includes the owning entry and sequence index.
type Sink interface {
	Put(ctx context.Context, key string, r io.Reader) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
}
