package domain

import (
	"context"
	"time"
)

// LedgerStore is the append-only record of allocation events. Events are
// immutable once appended; corrections are new events referencing the event
// they supersede. Appends for the same position must be serialized by the
// caller so that Sequence ordering is preserved.
type LedgerStore interface {
	// Append persists the event and returns its assigned ID. It fails with
	// ErrAlreadyExists when the (position, sequence) pair is taken, which
	// indicates a serialization violation upstream.
	Append(ctx context.Context, event LedgerEvent) (string, error)

	// EventsFor returns all events for one position ordered by Sequence.
	EventsFor(ctx context.Context, positionID string) ([]LedgerEvent, error)

	// PositionByFill resolves the position that a fill belongs to. It fails
	// with ErrNotFound when no event carries the fill ID.
	PositionByFill(ctx context.Context, fillID string) (string, error)

	// PositionIDs returns the IDs of every position ever opened from the
	// pool, in open order.
	PositionIDs(ctx context.Context, pool Pool) ([]string, error)

	// AllEvents returns every event for the pool ordered by (position,
	// sequence), optionally restricted to events appended at or after since.
	AllEvents(ctx context.Context, pool Pool, since *time.Time) ([]LedgerEvent, error)
}

// PoolStore persists pool identities. One row per pool, unique by name.
type PoolStore interface {
	Get(ctx context.Context, name Pool) (PoolRecord, error)
	List(ctx context.Context) ([]PoolRecord, error)
	// SetInitialLiquidity amends the pool's contributed capital. This is an
	// explicit admin correction, not part of normal traffic.
	SetInitialLiquidity(ctx context.Context, name Pool, amount float64) error
}

// SnapshotStore persists daily pool valuations, unique by (pool, date).
type SnapshotStore interface {
	// Insert persists a snapshot. Inserting for an existing (pool, date) is
	// a no-op so the daily materialization job is idempotent.
	Insert(ctx context.Context, snap Snapshot) error
	Get(ctx context.Context, pool Pool, date time.Time) (Snapshot, error)
	// Range returns snapshots for [from, to] inclusive, ordered by date.
	Range(ctx context.Context, pool Pool, from, to time.Time) ([]Snapshot, error)
	// Latest returns the most recent snapshot strictly before the date.
	Latest(ctx context.Context, pool Pool, before time.Time) (Snapshot, error)
}
