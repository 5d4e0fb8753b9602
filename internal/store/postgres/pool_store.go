package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantrail/alertledger/internal/domain"
)

// PoolStore implements domain.PoolStore using PostgreSQL. Rows are seeded by
// migration; only initial liquidity is ever updated, via an explicit admin
// correction.
type PoolStore struct {
	pool *pgxpool.Pool
}

// NewPoolStore creates a PoolStore backed by the given connection pool.
func NewPoolStore(pool *pgxpool.Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

// Get retrieves a single pool record by name.
func (s *PoolStore) Get(ctx context.Context, name domain.Pool) (domain.PoolRecord, error) {
	var rec domain.PoolRecord
	err := s.pool.QueryRow(ctx,
		`SELECT name, initial_liquidity, created_at, updated_at
		 FROM pools WHERE name = $1`, string(name)).
		Scan(&rec.Name, &rec.InitialLiquidity, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PoolRecord{}, domain.ErrNotFound
		}
		return domain.PoolRecord{}, fmt.Errorf("postgres: get pool %s: %w", name, err)
	}
	return rec, nil
}

// List returns all pool records ordered by name.
func (s *PoolStore) List(ctx context.Context) ([]domain.PoolRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, initial_liquidity, created_at, updated_at
		 FROM pools ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pools: %w", err)
	}
	defer rows.Close()

	var pools []domain.PoolRecord
	for rows.Next() {
		var rec domain.PoolRecord
		if err := rows.Scan(&rec.Name, &rec.InitialLiquidity, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan pool: %w", err)
		}
		pools = append(pools, rec)
	}
	return pools, rows.Err()
}

// SetInitialLiquidity amends the pool's contributed capital.
func (s *PoolStore) SetInitialLiquidity(ctx context.Context, name domain.Pool, amount float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pools SET initial_liquidity = $2, updated_at = NOW() WHERE name = $1`,
		string(name), amount)
	if err != nil {
		return fmt.Errorf("postgres: set initial liquidity for %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.PoolStore = (*PoolStore)(nil)
