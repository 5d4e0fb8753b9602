package domain

import (
	"context"
	"io"
)

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver exports ledger history to blob storage for audit retention.
type Archiver interface {
	// ArchiveEvents exports one day's ledger events for a pool as JSONL and
	// returns the object path written. Days with no events write nothing
	// and return an empty path.
	ArchiveEvents(ctx context.Context, pool Pool, day string) (string, error)
}
