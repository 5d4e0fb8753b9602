package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantrail/alertledger/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL. The table is
// append-only; nothing here issues UPDATE or DELETE.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

const eventSelectCols = `id, position_id, pool, event_type, sequence, at,
	symbol, side, entry_fixed, entry_range_min, entry_range_max, entry_effective,
	amount, shares, fill_id, percentage_sold, price_at_fill, effective_date,
	target_fill_id, discard_reason, supersedes_id`

func scanEventRows(rows pgx.Rows) ([]domain.LedgerEvent, error) {
	var events []domain.LedgerEvent
	for rows.Next() {
		var e domain.LedgerEvent
		var symbol, side, fillID, targetFillID, discardReason, supersedesID *string
		var entryFixed *bool
		var rangeMin, rangeMax, effective, amount, shares, pctSold, priceAtFill *float64
		var effectiveDate *time.Time

		if err := rows.Scan(
			&e.ID, &e.PositionID, &e.Pool, &e.Type, &e.Sequence, &e.At,
			&symbol, &side, &entryFixed, &rangeMin, &rangeMax, &effective,
			&amount, &shares, &fillID, &pctSold, &priceAtFill, &effectiveDate,
			&targetFillID, &discardReason, &supersedesID,
		); err != nil {
			return nil, err
		}

		if symbol != nil {
			e.Symbol = *symbol
		}
		if side != nil {
			e.Side = domain.Side(*side)
		}
		if entryFixed != nil {
			e.Entry.Fixed = *entryFixed
		}
		if rangeMin != nil {
			e.Entry.RangeMin = *rangeMin
		}
		if rangeMax != nil {
			e.Entry.RangeMax = *rangeMax
		}
		if effective != nil {
			e.Entry.Effective = *effective
		}
		if amount != nil {
			e.Amount = *amount
		}
		if shares != nil {
			e.Shares = *shares
		}
		if fillID != nil {
			e.FillID = *fillID
		}
		if pctSold != nil {
			e.PercentSold = *pctSold
		}
		if priceAtFill != nil {
			e.PriceAtFill = *priceAtFill
		}
		if effectiveDate != nil {
			e.EffectiveDate = *effectiveDate
		}
		if targetFillID != nil {
			e.TargetFillID = *targetFillID
		}
		if discardReason != nil {
			e.DiscardReason = *discardReason
		}
		if supersedesID != nil {
			e.SupersedesID = *supersedesID
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// nullStr maps "" to NULL so empty optional UUID columns stay NULL.
func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Append inserts the event. A unique violation on (position_id, sequence)
// maps to domain.ErrAlreadyExists, signalling a serialization race upstream.
func (s *LedgerStore) Append(ctx context.Context, e domain.LedgerEvent) (string, error) {
	const query = `
		INSERT INTO ledger_events (
			id, position_id, pool, event_type, sequence, at,
			symbol, side, entry_fixed, entry_range_min, entry_range_max, entry_effective,
			amount, shares, fill_id, percentage_sold, price_at_fill, effective_date,
			target_fill_id, discard_reason, supersedes_id
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18,
			$19, $20, $21
		)`

	_, err := s.pool.Exec(ctx, query,
		e.ID, e.PositionID, string(e.Pool), string(e.Type), e.Sequence, e.At,
		nullStr(e.Symbol), nullStr(string(e.Side)),
		e.Entry.Fixed, e.Entry.RangeMin, e.Entry.RangeMax, e.Entry.Effective,
		e.Amount, e.Shares,
		nullStr(e.FillID), e.PercentSold, e.PriceAtFill, nullTime(e.EffectiveDate),
		nullStr(e.TargetFillID), nullStr(e.DiscardReason), nullStr(e.SupersedesID),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("postgres: append event seq %d for %s: %w",
				e.Sequence, e.PositionID, domain.ErrAlreadyExists)
		}
		return "", fmt.Errorf("postgres: append event for %s: %w", e.PositionID, err)
	}
	return e.ID, nil
}

// EventsFor returns all events for one position ordered by sequence.
func (s *LedgerStore) EventsFor(ctx context.Context, positionID string) ([]domain.LedgerEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventSelectCols+` FROM ledger_events
		 WHERE position_id = $1
		 ORDER BY sequence ASC`, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: events for %s: %w", positionID, err)
	}
	defer rows.Close()

	events, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan events for %s: %w", positionID, err)
	}
	return events, nil
}

// PositionByFill resolves the position a fill was recorded against.
func (s *LedgerStore) PositionByFill(ctx context.Context, fillID string) (string, error) {
	var positionID string
	err := s.pool.QueryRow(ctx,
		`SELECT position_id FROM ledger_events
		 WHERE fill_id = $1 AND event_type = 'fill'
		 LIMIT 1`, fillID).Scan(&positionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("postgres: position by fill %s: %w", fillID, err)
	}
	return positionID, nil
}

// PositionIDs returns every position ever opened from the pool, in open order.
func (s *LedgerStore) PositionIDs(ctx context.Context, pool domain.Pool) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT position_id FROM ledger_events
		 WHERE pool = $1 AND event_type = 'open'
		 ORDER BY at ASC`, string(pool))
	if err != nil {
		return nil, fmt.Errorf("postgres: position ids for pool %s: %w", pool, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan position id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AllEvents returns every event for the pool ordered by (position, sequence),
// optionally restricted to events appended at or after since.
func (s *LedgerStore) AllEvents(ctx context.Context, pool domain.Pool, since *time.Time) ([]domain.LedgerEvent, error) {
	query := `SELECT ` + eventSelectCols + ` FROM ledger_events WHERE pool = $1`
	args := []any{string(pool)}
	if since != nil {
		query += ` AND at >= $2`
		args = append(args, *since)
	}
	query += ` ORDER BY position_id, sequence ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: all events for pool %s: %w", pool, err)
	}
	defer rows.Close()

	events, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan pool events: %w", err)
	}
	return events, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Compile-time interface check.
var _ domain.LedgerStore = (*LedgerStore)(nil)
