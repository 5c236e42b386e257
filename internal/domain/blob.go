package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads objects to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// ChunkArchiver serializes an expired chunk's records to cold storage before
// retention drops them. It returns the storage path of the written object.
type ChunkArchiver interface {
	ArchiveChunk(ctx context.Context, kind SeriesKind, start, end time.Time, records []SeriesRecord) (string, error)
}
