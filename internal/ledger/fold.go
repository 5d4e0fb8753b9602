// Package ledger implements the pure fold that derives a position's state
// from its ordered ledger events, and the validation applied before a new
// event is appended. Folding is always from scratch: replaying the same
// events yields the same state, which is what makes corrections safe.
package ledger

import (
	"fmt"
	"math"
	"time"

	"github.com/quantrail/alertledger/internal/domain"
)

// Epsilon absorbs floating-point rounding when comparing participation
// percentages. A position whose remaining participation is within Epsilon of
// zero is considered fully liquidated.
const Epsilon = 1e-6

// Fold replays one position's ordered events into its current state. The
// first event must be an OPEN. Discarded fills are skipped entirely rather
// than reversed: since folding starts from scratch they simply never apply.
func Fold(events []domain.LedgerEvent) (domain.Position, error) {
	if len(events) == 0 {
		return domain.Position{}, fmt.Errorf("ledger: fold: %w: no events", domain.ErrValidation)
	}
	if events[0].Type != domain.EventOpen {
		return domain.Position{}, fmt.Errorf("ledger: fold: %w: first event is %s, want %s",
			domain.ErrValidation, events[0].Type, domain.EventOpen)
	}

	open := events[0]
	pos := domain.Position{
		ID:                       open.PositionID,
		Symbol:                   open.Symbol,
		Pool:                     open.Pool,
		Side:                     open.Side,
		Entry:                    open.Entry,
		OriginalAllocatedAmount:  open.Amount,
		OriginalShares:           open.Shares,
		OriginalParticipationPct: 100,
		Status:                   domain.PositionStatusActive,
		OpenedAt:                 open.At,
	}

	// fills are collected in event order; amounts are derived afterwards so
	// that a later AMEND_OPEN restates every fill retroactively.
	fills := make([]domain.Fill, 0, len(events)-1)
	fillIdx := make(map[string]int)

	// closedPinned is set by an explicit CLOSE event and survives until an
	// AMEND_OPEN, which is the only way to reopen a corrected position.
	var closedPinned bool
	var discarded bool
	var closedAt *time.Time

	for _, ev := range events[1:] {
		if ev.PositionID != open.PositionID {
			return domain.Position{}, fmt.Errorf("ledger: fold: %w: event %s belongs to position %s",
				domain.ErrValidation, ev.ID, ev.PositionID)
		}

		switch ev.Type {
		case domain.EventOpen:
			return domain.Position{}, fmt.Errorf("ledger: fold: %w: duplicate open event %s",
				domain.ErrValidation, ev.ID)

		case domain.EventAmendOpen:
			if ev.Entry != (domain.EntryPricing{}) {
				pos.Entry = ev.Entry
			}
			if ev.Amount > 0 {
				pos.OriginalAllocatedAmount = ev.Amount
			}
			if ev.Shares > 0 {
				pos.OriginalShares = ev.Shares
			}
			closedPinned = false
			discarded = false
			closedAt = nil

		case domain.EventFill:
			state := domain.FillStatePending
			if ev.PriceAtFill > 0 {
				state = domain.FillStateExecuted
			}
			fills = append(fills, domain.Fill{
				ID:            ev.FillID,
				PositionID:    ev.PositionID,
				EffectiveDate: ev.EffectiveDate,
				PercentSold:   ev.PercentSold,
				PriceAtFill:   ev.PriceAtFill,
				State:         state,
			})
			fillIdx[ev.FillID] = len(fills) - 1

		case domain.EventExecuteFill:
			i, ok := fillIdx[ev.TargetFillID]
			if !ok {
				return domain.Position{}, fmt.Errorf("ledger: fold: %w: execute for unknown fill %s",
					domain.ErrValidation, ev.TargetFillID)
			}
			if fills[i].State == domain.FillStatePending {
				fills[i].PriceAtFill = ev.PriceAtFill
				fills[i].State = domain.FillStateExecuted
			}

		case domain.EventDiscardFill:
			i, ok := fillIdx[ev.TargetFillID]
			if !ok {
				return domain.Position{}, fmt.Errorf("ledger: fold: %w: discard for unknown fill %s",
					domain.ErrValidation, ev.TargetFillID)
			}
			// Discarding twice is a no-op, not an error.
			fills[i].State = domain.FillStateDiscarded
			fills[i].DiscardReason = ev.DiscardReason

		case domain.EventClose:
			if ev.DiscardReason != "" {
				discarded = true
			}
			closedPinned = true
			t := ev.At
			closedAt = &t

		default:
			return domain.Position{}, fmt.Errorf("ledger: fold: %w: unknown event type %q",
				domain.ErrValidation, ev.Type)
		}
	}

	derive(&pos, fills, closedPinned, discarded, closedAt)
	return pos, nil
}

// derive computes every dependent field from the open parameters and the
// collected fills.
func derive(pos *domain.Position, fills []domain.Fill, closedPinned, discarded bool, closedAt *time.Time) {
	var executedPct, realized float64
	var lastFillAt time.Time

	for i := range fills {
		f := &fills[i]
		f.SharesSold = pos.OriginalShares * f.PercentSold / 100
		if f.State == domain.FillStateExecuted {
			delta := f.SharesSold * (f.PriceAtFill - pos.Entry.Effective)
			if pos.Side == domain.SideSell {
				delta = -delta
			}
			f.RealizedDelta = delta
			executedPct += f.PercentSold
			realized += delta
			if f.EffectiveDate.After(lastFillAt) {
				lastFillAt = f.EffectiveDate
			}
		} else {
			f.RealizedDelta = 0
		}
	}

	remainingPct := pos.OriginalParticipationPct - executedPct
	remainingPct = math.Max(0, math.Min(pos.OriginalParticipationPct, remainingPct))

	pos.Fills = fills
	pos.RemainingParticipation = remainingPct
	pos.RemainingShares = pos.OriginalShares * remainingPct / pos.OriginalParticipationPct
	pos.AllocatedAmount = pos.RemainingShares * pos.Entry.Effective
	pos.RealizedPnL = realized

	switch {
	case discarded:
		pos.Status = domain.PositionStatusDiscarded
		pos.ClosedAt = closedAt
	case closedPinned:
		pos.Status = domain.PositionStatusClosed
		pos.ClosedAt = closedAt
	case remainingPct <= Epsilon:
		pos.Status = domain.PositionStatusClosed
		if !lastFillAt.IsZero() {
			t := lastFillAt
			pos.ClosedAt = &t
		}
	default:
		pos.Status = domain.PositionStatusActive
		pos.ClosedAt = nil
	}
}

// ExecutedPct returns the sum of percentages over executed, non-discarded
// fills.
func ExecutedPct(pos domain.Position) float64 {
	var sum float64
	for _, f := range pos.Fills {
		if f.State == domain.FillStateExecuted {
			sum += f.PercentSold
		}
	}
	return sum
}
