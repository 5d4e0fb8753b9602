package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantrail/alertledger/internal/domain"
	"github.com/quantrail/alertledger/internal/ledger"
)

// OpenRequest carries the parameters for opening a position.
type OpenRequest struct {
	Pool     domain.Pool
	Symbol   string
	Side     domain.Side
	Amount   float64
	Price    float64 // fixed entry price; zero when a range is given
	RangeMin float64
	RangeMax float64
	OpenedAt time.Time // optional; backdated for historical positions
}

// AllocatorService owns every mutation of the ledger: opening positions,
// recording and discarding fills, closing, and corrective amendments. Each
// mutation validates against a freshly folded state before appending, so it
// either fully succeeds or leaves no trace. Pool liquidity figures are always
// recomputed as a full sum over folds, never patched incrementally.
type AllocatorService struct {
	events   domain.LedgerStore
	pools    domain.PoolStore
	prices   domain.PriceSource
	bus      domain.EventBus
	logger   *slog.Logger
	posLocks *keyedLock
	poolMu   *poolLocks
}

// NewAllocatorService creates an AllocatorService with all required
// dependencies. bus may be nil, in which case lifecycle events are not
// published.
func NewAllocatorService(
	events domain.LedgerStore,
	pools domain.PoolStore,
	prices domain.PriceSource,
	bus domain.EventBus,
	logger *slog.Logger,
) *AllocatorService {
	return &AllocatorService{
		events:   events,
		pools:    pools,
		prices:   prices,
		bus:      bus,
		logger:   logger,
		posLocks: newKeyedLock(),
		poolMu:   newPoolLocks(),
	}
}

// OpenPosition allocates capital from the pool and opens a position. The
// entire check-then-append runs under the pool's write lock so a concurrent
// open cannot slip past the availability check.
func (s *AllocatorService) OpenPosition(ctx context.Context, req OpenRequest) (string, error) {
	if !domain.ValidPool(req.Pool) {
		return "", fmt.Errorf("allocator: %w: unknown pool %q", domain.ErrValidation, req.Pool)
	}
	if req.Amount <= 0 {
		return "", fmt.Errorf("allocator: %w: amount must be positive", domain.ErrValidation)
	}

	entry, err := s.collapseEntry(ctx, req)
	if err != nil {
		return "", err
	}

	mu := s.poolMu.get(req.Pool)
	mu.Lock()
	defer mu.Unlock()

	state, err := s.poolStateLocked(ctx, req.Pool)
	if err != nil {
		return "", err
	}
	if req.Amount > state.AvailableLiquidity {
		return "", fmt.Errorf("allocator: pool %s has %.2f available, requested %.2f: %w",
			req.Pool, state.AvailableLiquidity, req.Amount, domain.ErrInsufficientLiquidity)
	}

	openedAt := req.OpenedAt
	if openedAt.IsZero() {
		openedAt = time.Now().UTC()
	}

	ev := domain.LedgerEvent{
		ID:         uuid.New().String(),
		PositionID: uuid.New().String(),
		Pool:       req.Pool,
		Type:       domain.EventOpen,
		Sequence:   1,
		At:         openedAt,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Entry:      entry,
		Amount:     req.Amount,
		Shares:     req.Amount / entry.Effective,
	}

	if err := ledger.Validate(nil, ev); err != nil {
		return "", err
	}
	if _, err := s.events.Append(ctx, ev); err != nil {
		return "", fmt.Errorf("allocator: open position: %w", err)
	}

	s.publish(ctx, req.Pool, "position_opened", map[string]any{
		"position_id": ev.PositionID,
		"symbol":      req.Symbol,
		"side":        string(req.Side),
		"entry_price": entry.Effective,
		"amount":      req.Amount,
		"shares":      ev.Shares,
	})

	s.logger.InfoContext(ctx, "allocator: position opened",
		slog.String("position_id", ev.PositionID),
		slog.String("pool", string(req.Pool)),
		slog.String("symbol", req.Symbol),
		slog.Float64("amount", req.Amount),
		slog.Float64("entry_price", entry.Effective),
	)

	return ev.PositionID, nil
}

// collapseEntry resolves the effective entry price once, at open time. A
// range uses the live quote when it falls inside the range, the nearer bound
// when it falls outside, and the midpoint when no quote is available.
func (s *AllocatorService) collapseEntry(ctx context.Context, req OpenRequest) (domain.EntryPricing, error) {
	if req.Price > 0 {
		return domain.FixedPrice(req.Price), nil
	}
	if req.RangeMin <= 0 || req.RangeMax < req.RangeMin {
		return domain.EntryPricing{}, fmt.Errorf("allocator: %w: invalid entry range [%.4f, %.4f]",
			domain.ErrValidation, req.RangeMin, req.RangeMax)
	}

	effective := (req.RangeMin + req.RangeMax) / 2
	if s.prices != nil {
		quoteCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		price, ok, err := s.prices.GetCurrentPrice(quoteCtx, req.Symbol)
		if err != nil {
			s.logger.WarnContext(ctx, "allocator: quote lookup failed, using range midpoint",
				slog.String("symbol", req.Symbol),
				slog.String("error", err.Error()),
			)
		} else if ok {
			switch {
			case price < req.RangeMin:
				effective = req.RangeMin
			case price > req.RangeMax:
				effective = req.RangeMax
			default:
				effective = price
			}
		}
	}

	return domain.PriceRange(req.RangeMin, req.RangeMax, effective), nil
}

// RecordFill records a sale against a position. A positive price executes
// immediately; a zero price schedules a pending fill to be confirmed later
// via ExecuteFill.
func (s *AllocatorService) RecordFill(ctx context.Context, positionID string, pct, price float64, effectiveDate time.Time) (string, error) {
	fillID := uuid.New().String()

	err := s.appendForPosition(ctx, positionID, func(prior []domain.LedgerEvent, pos domain.Position) (domain.LedgerEvent, error) {
		if effectiveDate.IsZero() {
			effectiveDate = time.Now().UTC()
		}
		return domain.LedgerEvent{
			ID:            uuid.New().String(),
			PositionID:    positionID,
			Pool:          pos.Pool,
			Type:          domain.EventFill,
			Sequence:      nextSeq(prior),
			At:            time.Now().UTC(),
			FillID:        fillID,
			PercentSold:   pct,
			PriceAtFill:   price,
			EffectiveDate: effectiveDate,
		}, nil
	})
	if err != nil {
		return "", err
	}

	s.logger.InfoContext(ctx, "allocator: fill recorded",
		slog.String("position_id", positionID),
		slog.String("fill_id", fillID),
		slog.Float64("percentage_sold", pct),
		slog.Float64("price", price),
	)
	return fillID, nil
}

// ExecuteFill confirms a pending fill with a concrete price.
func (s *AllocatorService) ExecuteFill(ctx context.Context, fillID string, price float64) error {
	positionID, err := s.events.PositionByFill(ctx, fillID)
	if err != nil {
		return fmt.Errorf("allocator: execute fill %s: %w", fillID, err)
	}

	return s.appendForPosition(ctx, positionID, func(prior []domain.LedgerEvent, pos domain.Position) (domain.LedgerEvent, error) {
		return domain.LedgerEvent{
			ID:           uuid.New().String(),
			PositionID:   positionID,
			Pool:         pos.Pool,
			Type:         domain.EventExecuteFill,
			Sequence:     nextSeq(prior),
			At:           time.Now().UTC(),
			TargetFillID: fillID,
			PriceAtFill:  price,
		}, nil
	})
}

// errDiscardNoop signals that the target fill is already discarded.
var errDiscardNoop = errors.New("fill already discarded")

// DiscardFill reverses a fill's effect. Discarding an already-discarded fill
// is a no-op, not an error; the position state afterwards is identical either
// way because folding skips discarded fills from scratch.
func (s *AllocatorService) DiscardFill(ctx context.Context, fillID, reason string) error {
	positionID, err := s.events.PositionByFill(ctx, fillID)
	if err != nil {
		return fmt.Errorf("allocator: discard fill %s: %w", fillID, err)
	}

	err = s.appendForPosition(ctx, positionID, func(prior []domain.LedgerEvent, pos domain.Position) (domain.LedgerEvent, error) {
		for _, f := range pos.Fills {
			if f.ID == fillID && f.State == domain.FillStateDiscarded {
				return domain.LedgerEvent{}, errDiscardNoop
			}
		}
		return domain.LedgerEvent{
			ID:            uuid.New().String(),
			PositionID:    positionID,
			Pool:          pos.Pool,
			Type:          domain.EventDiscardFill,
			Sequence:      nextSeq(prior),
			At:            time.Now().UTC(),
			TargetFillID:  fillID,
			DiscardReason: reason,
		}, nil
	})
	if errors.Is(err, errDiscardNoop) {
		return nil
	}
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "allocator: fill discarded",
		slog.String("position_id", positionID),
		slog.String("fill_id", fillID),
		slog.String("reason", reason),
	)
	return nil
}

// ClosePosition appends an explicit close event. When discardReason is
// non-empty the position is discarded instead: it stops contributing to pool
// sums entirely.
func (s *AllocatorService) ClosePosition(ctx context.Context, positionID, discardReason string) error {
	return s.appendForPosition(ctx, positionID, func(prior []domain.LedgerEvent, pos domain.Position) (domain.LedgerEvent, error) {
		return domain.LedgerEvent{
			ID:            uuid.New().String(),
			PositionID:    positionID,
			Pool:          pos.Pool,
			Type:          domain.EventClose,
			Sequence:      nextSeq(prior),
			At:            time.Now().UTC(),
			DiscardReason: discardReason,
		}, nil
	})
}

// AmendOpen appends a corrective restatement of the position's open
// parameters. Zero fields leave the original value in place. The amendment
// replays through the same fold as live traffic, so every fill is restated
// retroactively under the corrected entry.
func (s *AllocatorService) AmendOpen(ctx context.Context, positionID string, entry domain.EntryPricing, amount, shares float64, supersedesID string) error {
	err := s.appendForPosition(ctx, positionID, func(prior []domain.LedgerEvent, pos domain.Position) (domain.LedgerEvent, error) {
		return domain.LedgerEvent{
			ID:           uuid.New().String(),
			PositionID:   positionID,
			Pool:         pos.Pool,
			Type:         domain.EventAmendOpen,
			Sequence:     nextSeq(prior),
			At:           time.Now().UTC(),
			Entry:        entry,
			Amount:       amount,
			Shares:       shares,
			SupersedesID: supersedesID,
		}, nil
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "allocator: open amended",
		slog.String("position_id", positionID),
	)
	return nil
}

// GetPosition folds and returns one position's current state.
func (s *AllocatorService) GetPosition(ctx context.Context, positionID string) (domain.Position, error) {
	events, err := s.events.EventsFor(ctx, positionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("allocator: get position %s: %w", positionID, err)
	}
	if len(events) == 0 {
		return domain.Position{}, fmt.Errorf("allocator: position %s: %w", positionID, domain.ErrNotFound)
	}
	return ledger.Fold(events)
}

// ListPositions folds every position of the pool; status filters the result
// when non-empty.
func (s *AllocatorService) ListPositions(ctx context.Context, pool domain.Pool, status domain.PositionStatus) ([]domain.Position, error) {
	mu := s.poolMu.get(pool)
	mu.RLock()
	defer mu.RUnlock()

	positions, err := s.foldPoolLocked(ctx, pool)
	if err != nil {
		return nil, err
	}
	if status == "" {
		return positions, nil
	}

	filtered := positions[:0]
	for _, p := range positions {
		if p.Status == status {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

// PoolState recomputes the pool's liquidity figures as a full sum over every
// position's folded state.
func (s *AllocatorService) PoolState(ctx context.Context, pool domain.Pool) (domain.PoolState, error) {
	mu := s.poolMu.get(pool)
	mu.RLock()
	defer mu.RUnlock()
	return s.poolStateLocked(ctx, pool)
}

// ActivePositions returns the folded state of every active position in the
// pool, under the pool's read lock.
func (s *AllocatorService) ActivePositions(ctx context.Context, pool domain.Pool) ([]domain.Position, error) {
	return s.ListPositions(ctx, pool, domain.PositionStatusActive)
}

// appendForPosition runs the serialized validate-then-append cycle for one
// position: acquire its lock and the pool write lock, fold the current
// events, build the event, validate it against the fold, append, publish.
func (s *AllocatorService) appendForPosition(
	ctx context.Context,
	positionID string,
	build func(prior []domain.LedgerEvent, pos domain.Position) (domain.LedgerEvent, error),
) error {
	release, err := s.posLocks.acquire(ctx, positionID)
	if err != nil {
		return err
	}
	defer release()

	prior, err := s.events.EventsFor(ctx, positionID)
	if err != nil {
		return fmt.Errorf("allocator: load events for %s: %w", positionID, err)
	}
	if len(prior) == 0 {
		return fmt.Errorf("allocator: position %s: %w", positionID, domain.ErrNotFound)
	}

	pos, err := ledger.Fold(prior)
	if err != nil {
		return err
	}

	ev, err := build(prior, pos)
	if err != nil {
		return err
	}

	if err := ledger.Validate(prior, ev); err != nil {
		return err
	}

	// The pool write lock covers the append so readers never observe the
	// pool total mid-update.
	mu := s.poolMu.get(pos.Pool)
	mu.Lock()
	_, err = s.events.Append(ctx, ev)
	mu.Unlock()
	if err != nil {
		return fmt.Errorf("allocator: append %s for %s: %w", ev.Type, positionID, err)
	}

	s.publish(ctx, pos.Pool, string(ev.Type), map[string]any{
		"position_id": positionID,
		"event_id":    ev.ID,
		"fill_id":     ev.FillID,
	})
	return nil
}

// poolStateLocked computes the pool state; the caller holds the pool lock.
func (s *AllocatorService) poolStateLocked(ctx context.Context, pool domain.Pool) (domain.PoolState, error) {
	rec, err := s.pools.Get(ctx, pool)
	if err != nil {
		return domain.PoolState{}, fmt.Errorf("allocator: get pool %s: %w", pool, err)
	}

	positions, err := s.foldPoolLocked(ctx, pool)
	if err != nil {
		return domain.PoolState{}, err
	}

	return SumPool(rec, positions), nil
}

// foldPoolLocked folds every position ever opened from the pool.
func (s *AllocatorService) foldPoolLocked(ctx context.Context, pool domain.Pool) ([]domain.Position, error) {
	events, err := s.events.AllEvents(ctx, pool, nil)
	if err != nil {
		return nil, fmt.Errorf("allocator: load pool %s events: %w", pool, err)
	}

	var positions []domain.Position
	var current []domain.LedgerEvent
	flush := func() error {
		if len(current) == 0 {
			return nil
		}
		pos, err := ledger.Fold(current)
		if err != nil {
			return err
		}
		positions = append(positions, pos)
		current = nil
		return nil
	}

	for _, ev := range events {
		if len(current) > 0 && current[0].PositionID != ev.PositionID {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		current = append(current, ev)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return positions, nil
}

// SumPool derives the pool's liquidity figures from its record and every
// position's folded state. Realized P&L accumulates over active and closed
// positions alike; discarded positions contribute nothing at all.
func SumPool(rec domain.PoolRecord, positions []domain.Position) domain.PoolState {
	state := domain.PoolState{
		Name:             rec.Name,
		InitialLiquidity: rec.InitialLiquidity,
	}
	for _, p := range positions {
		switch p.Status {
		case domain.PositionStatusActive:
			state.CumulativeRealizedPnL += p.RealizedPnL
			state.DistributedLiquidity += p.AllocatedAmount
			state.ActivePositions++
		case domain.PositionStatusClosed:
			state.CumulativeRealizedPnL += p.RealizedPnL
			state.ClosedPositions++
		}
	}
	state.TotalLiquidity = state.InitialLiquidity + state.CumulativeRealizedPnL
	state.AvailableLiquidity = state.TotalLiquidity - state.DistributedLiquidity
	return state
}

func nextSeq(events []domain.LedgerEvent) int64 {
	if len(events) == 0 {
		return 1
	}
	return events[len(events)-1].Sequence + 1
}

// publish emits a lifecycle event to the bus channel and the pool's durable
// stream. Failures are logged, never surfaced: the ledger append already
// succeeded.
func (s *AllocatorService) publish(ctx context.Context, pool domain.Pool, event string, fields map[string]any) {
	if s.bus == nil {
		return
	}
	fields["event"] = event
	fields["pool"] = string(pool)
	payload, _ := json.Marshal(fields)

	if err := s.bus.Publish(ctx, "positions", payload); err != nil {
		s.logger.WarnContext(ctx, "allocator: publish event failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, "ledger:"+string(pool), payload); err != nil {
		s.logger.WarnContext(ctx, "allocator: stream append failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
