package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quantrail/alertledger/internal/domain"
)

// EventArchiveStore provides read access to ledger events for archival
// purposes. The Postgres ledger store satisfies it through AllEvents.
type EventArchiveStore interface {
	AllEvents(ctx context.Context, pool domain.Pool, since *time.Time) ([]domain.LedgerEvent, error)
}

// EventArchiver implements domain.Archiver by exporting one day's ledger
// events for a pool as JSONL and uploading the result to S3. The primary
// store is never pruned here: the archive is a retention copy, not a
// migration.
type EventArchiver struct {
	writer domain.BlobWriter
	events EventArchiveStore
}

// NewEventArchiver creates an EventArchiver.
func NewEventArchiver(writer domain.BlobWriter, events EventArchiveStore) *EventArchiver {
	return &EventArchiver{writer: writer, events: events}
}

// ArchiveEvents exports the pool's ledger events appended on the given day
// (formatted 2006-01-02) as JSONL under ledger/{pool}/{day}.jsonl. Days with
// no events write nothing and return an empty path.
func (a *EventArchiver) ArchiveEvents(ctx context.Context, pool domain.Pool, day string) (string, error) {
	start, err := time.ParseInLocation("2006-01-02", day, time.UTC)
	if err != nil {
		return "", fmt.Errorf("s3blob: parse archive day %q: %w", day, err)
	}
	end := start.Add(24 * time.Hour)

	events, err := a.events.AllEvents(ctx, pool, &start)
	if err != nil {
		return "", fmt.Errorf("s3blob: load events for %s/%s: %w", pool, day, err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	count := 0
	for _, ev := range events {
		if !ev.At.Before(end) {
			continue
		}
		if err := enc.Encode(ev); err != nil {
			return "", fmt.Errorf("s3blob: encode event %s: %w", ev.ID, err)
		}
		count++
	}
	if count == 0 {
		return "", nil
	}

	path := fmt.Sprintf("ledger/%s/%s.jsonl", pool, day)
	if err := a.writer.Put(ctx, path, &buf, "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("s3blob: upload archive %s: %w", path, err)
	}
	return path, nil
}

// Compile-time interface check.
var _ domain.Archiver = (*EventArchiver)(nil)
