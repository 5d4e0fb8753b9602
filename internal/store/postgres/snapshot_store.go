package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantrail/alertledger/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL. The
// (pool, snapshot_date) primary key plus ON CONFLICT DO NOTHING makes the
// daily materialization job idempotent: a past date is written at most once.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a SnapshotStore backed by the given connection pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

const snapshotSelectCols = `pool, snapshot_date, total_value, unrealized_pnl,
	realized_pnl, position_count_active, position_count_closed, created_at`

func scanSnapshot(row pgx.Row) (domain.Snapshot, error) {
	var snap domain.Snapshot
	err := row.Scan(
		&snap.Pool, &snap.Date, &snap.TotalValue, &snap.UnrealizedPnL,
		&snap.RealizedPnL, &snap.ActivePositions, &snap.ClosedPositions,
		&snap.CreatedAt,
	)
	return snap, err
}

// Insert persists a snapshot; re-inserting for an existing (pool, date) is a
// no-op.
func (s *SnapshotStore) Insert(ctx context.Context, snap domain.Snapshot) error {
	const query = `
		INSERT INTO snapshots (
			pool, snapshot_date, total_value, unrealized_pnl,
			realized_pnl, position_count_active, position_count_closed, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (pool, snapshot_date) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		string(snap.Pool), snap.Date, snap.TotalValue, snap.UnrealizedPnL,
		snap.RealizedPnL, snap.ActivePositions, snap.ClosedPositions,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert snapshot %s/%s: %w",
			snap.Pool, snap.Date.Format("2006-01-02"), err)
	}
	return nil
}

// Get retrieves the snapshot for one (pool, date).
func (s *SnapshotStore) Get(ctx context.Context, pool domain.Pool, date time.Time) (domain.Snapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+snapshotSelectCols+` FROM snapshots
		 WHERE pool = $1 AND snapshot_date = $2`, string(pool), date)

	snap, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Snapshot{}, domain.ErrNotFound
		}
		return domain.Snapshot{}, fmt.Errorf("postgres: get snapshot %s/%s: %w",
			pool, date.Format("2006-01-02"), err)
	}
	return snap, nil
}

// Range returns snapshots for [from, to] inclusive, ordered by date.
func (s *SnapshotStore) Range(ctx context.Context, pool domain.Pool, from, to time.Time) ([]domain.Snapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotSelectCols+` FROM snapshots
		 WHERE pool = $1 AND snapshot_date >= $2 AND snapshot_date <= $3
		 ORDER BY snapshot_date ASC`, string(pool), from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: snapshot range for %s: %w", pool, err)
	}
	defer rows.Close()

	var snaps []domain.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// Latest returns the most recent snapshot strictly before the date.
func (s *SnapshotStore) Latest(ctx context.Context, pool domain.Pool, before time.Time) (domain.Snapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+snapshotSelectCols+` FROM snapshots
		 WHERE pool = $1 AND snapshot_date < $2
		 ORDER BY snapshot_date DESC LIMIT 1`, string(pool), before)

	snap, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Snapshot{}, domain.ErrNotFound
		}
		return domain.Snapshot{}, fmt.Errorf("postgres: latest snapshot for %s: %w", pool, err)
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.SnapshotStore = (*SnapshotStore)(nil)
