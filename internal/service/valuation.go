package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantrail/alertledger/internal/domain"
	"github.com/quantrail/alertledger/internal/ledger"
)

// priceTimeout bounds a single quote lookup during valuation. A slow or dead
// feed degrades to the entry-price fallback instead of stalling the request.
const priceTimeout = 2 * time.Second

// ValuationService marks a pool to market: current total value, per-position
// unrealized P&L, and capital-weighted period returns.
type ValuationService struct {
	allocator *AllocatorService
	events    domain.LedgerStore
	pools     domain.PoolStore
	prices    domain.PriceSource
	snapshots domain.SnapshotStore
	logger    *slog.Logger
}

// NewValuationService creates a ValuationService with all required
// dependencies.
func NewValuationService(
	allocator *AllocatorService,
	events domain.LedgerStore,
	pools domain.PoolStore,
	prices domain.PriceSource,
	snapshots domain.SnapshotStore,
	logger *slog.Logger,
) *ValuationService {
	return &ValuationService{
		allocator: allocator,
		events:    events,
		pools:     pools,
		prices:    prices,
		snapshots: snapshots,
		logger:    logger,
	}
}

// CurrentValue computes the pool's instantaneous valuation. A missing quote
// falls back to the position's entry price, never to zero: an unreachable
// feed must not manufacture phantom losses.
func (s *ValuationService) CurrentValue(ctx context.Context, pool domain.Pool) (domain.PoolValuation, error) {
	if !domain.ValidPool(pool) {
		return domain.PoolValuation{}, fmt.Errorf("valuation: %w: unknown pool %q", domain.ErrValidation, pool)
	}

	state, err := s.allocator.PoolState(ctx, pool)
	if err != nil {
		return domain.PoolValuation{}, err
	}
	active, err := s.allocator.ActivePositions(ctx, pool)
	if err != nil {
		return domain.PoolValuation{}, err
	}

	val := domain.PoolValuation{
		Pool:        pool,
		AsOf:        time.Now().UTC(),
		RealizedPnL: state.CumulativeRealizedPnL,
		PoolState:   state,
		Positions:   make([]domain.PositionValuation, 0, len(active)),
	}

	for _, pos := range active {
		if err := ctx.Err(); err != nil {
			// Cancelled mid-valuation: discard the partial result.
			return domain.PoolValuation{}, fmt.Errorf("valuation: %s: %w", pool, err)
		}

		price, fallback := s.lookupPrice(ctx, pos.Symbol, pos.Entry.Effective)

		unrealized := pos.RemainingShares * (price - pos.Entry.Effective)
		if pos.Side == domain.SideSell {
			unrealized = -unrealized
		}

		val.UnrealizedPnL += unrealized
		val.Positions = append(val.Positions, domain.PositionValuation{
			PositionID:      pos.ID,
			Symbol:          pos.Symbol,
			Side:            pos.Side,
			RemainingShares: pos.RemainingShares,
			AllocatedAmount: pos.AllocatedAmount,
			EntryPrice:      pos.Entry.Effective,
			CurrentPrice:    price,
			PriceFallback:   fallback,
			UnrealizedPnL:   unrealized,
			RealizedPnL:     pos.RealizedPnL,
		})
	}

	val.TotalValue = state.TotalLiquidity + val.UnrealizedPnL
	return val, nil
}

// lookupPrice fetches the current price with a hard timeout; any miss or
// failure falls back to the entry price and reports fallback=true.
func (s *ValuationService) lookupPrice(ctx context.Context, symbol string, entryPrice float64) (float64, bool) {
	if s.prices == nil {
		return entryPrice, true
	}

	quoteCtx, cancel := context.WithTimeout(ctx, priceTimeout)
	defer cancel()

	price, ok, err := s.prices.GetCurrentPrice(quoteCtx, symbol)
	if err != nil {
		s.logger.WarnContext(ctx, "valuation: price unavailable, using entry price",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return entryPrice, true
	}
	if !ok || price <= 0 {
		return entryPrice, true
	}
	return price, false
}

// PeriodReturn computes the capital-weighted portfolio return over [from, to]
// as (value(to) - value(from)) / value(from). It is never an average of
// per-position percentage returns: that would double-count small positions.
// value(from) prefers a persisted snapshot and falls back to replaying the
// ledger up to that date.
func (s *ValuationService) PeriodReturn(ctx context.Context, pool domain.Pool, from, to time.Time) (float64, error) {
	v0, err := s.valueAt(ctx, pool, from)
	if err != nil {
		return 0, err
	}
	if v0 == 0 {
		return 0, fmt.Errorf("valuation: %w: pool %s had zero value at %s",
			domain.ErrValidation, pool, from.Format("2006-01-02"))
	}

	var v1 float64
	if sameDay(to, time.Now().UTC()) || to.After(time.Now().UTC()) {
		cur, err := s.CurrentValue(ctx, pool)
		if err != nil {
			return 0, err
		}
		v1 = cur.TotalValue
	} else {
		v1, err = s.valueAt(ctx, pool, to)
		if err != nil {
			return 0, err
		}
	}

	return (v1 - v0) / v0, nil
}

// valueAt resolves the pool's value on a date from the snapshot store, or by
// replaying the ledger up to the end of that date when no snapshot exists.
// The replay carries realized P&L only; without historical quotes the
// unrealized component of a missing snapshot cannot be reconstructed.
func (s *ValuationService) valueAt(ctx context.Context, pool domain.Pool, date time.Time) (float64, error) {
	day := midnightUTC(date)

	snap, err := s.snapshots.Get(ctx, pool, day)
	if err == nil {
		return snap.TotalValue, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return 0, fmt.Errorf("valuation: snapshot for %s/%s: %w", pool, day.Format("2006-01-02"), err)
	}

	state, err := s.PoolStateAt(ctx, pool, day.Add(24*time.Hour))
	if err != nil {
		return 0, err
	}
	return state.TotalLiquidity, nil
}

// PoolStateAt folds the pool's positions using only events effective before
// the cutoff. Fills use their (possibly backdated) effective date; other
// events use their append time.
func (s *ValuationService) PoolStateAt(ctx context.Context, pool domain.Pool, cutoff time.Time) (domain.PoolState, error) {
	rec, err := s.pools.Get(ctx, pool)
	if err != nil {
		return domain.PoolState{}, fmt.Errorf("valuation: get pool %s: %w", pool, err)
	}

	events, err := s.events.AllEvents(ctx, pool, nil)
	if err != nil {
		return domain.PoolState{}, fmt.Errorf("valuation: load pool %s events: %w", pool, err)
	}

	byPosition := make(map[string][]domain.LedgerEvent)
	var order []string
	droppedFills := make(map[string]bool)
	for _, ev := range events {
		if effectiveTime(ev).After(cutoff) || effectiveTime(ev).Equal(cutoff) {
			if ev.Type == domain.EventFill {
				droppedFills[ev.FillID] = true
			}
			continue
		}
		// An execute or discard of a fill past the cutoff goes with it;
		// keeping it would make the fold reject the replay.
		if ev.TargetFillID != "" && droppedFills[ev.TargetFillID] {
			continue
		}
		if _, seen := byPosition[ev.PositionID]; !seen {
			order = append(order, ev.PositionID)
		}
		byPosition[ev.PositionID] = append(byPosition[ev.PositionID], ev)
	}

	var positions []domain.Position
	for _, id := range order {
		evs := byPosition[id]
		if evs[0].Type != domain.EventOpen {
			// The open itself is past the cutoff; the position did not
			// exist yet.
			continue
		}
		pos, err := ledger.Fold(evs)
		if err != nil {
			return domain.PoolState{}, err
		}
		positions = append(positions, pos)
	}

	return SumPool(rec, positions), nil
}

func effectiveTime(ev domain.LedgerEvent) time.Time {
	if ev.Type == domain.EventFill && !ev.EffectiveDate.IsZero() {
		return ev.EffectiveDate
	}
	return ev.At
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func sameDay(a, b time.Time) bool {
	return midnightUTC(a).Equal(midnightUTC(b))
}
