package ledger

import (
	"fmt"

	"github.com/quantrail/alertledger/internal/domain"
)

// Validate checks whether appending event to the position's current events is
// legal. It always folds the prior events from scratch rather than trusting
// any cached total, so a drifted aggregate can never let a bad event through.
// For an OPEN event prior must be empty.
func Validate(prior []domain.LedgerEvent, event domain.LedgerEvent) error {
	if event.Type == domain.EventOpen {
		if len(prior) != 0 {
			return fmt.Errorf("ledger: %w: position %s already opened", domain.ErrInvalidState, event.PositionID)
		}
		return validateOpen(event)
	}

	pos, err := Fold(prior)
	if err != nil {
		return err
	}

	switch event.Type {
	case domain.EventFill:
		if pos.Status != domain.PositionStatusActive {
			return fmt.Errorf("ledger: %w: position %s is %s", domain.ErrInvalidState, pos.ID, pos.Status)
		}
		if event.PercentSold <= 0 || event.PercentSold > 100 {
			return fmt.Errorf("ledger: %w: percentage_sold %.6f outside (0, 100]",
				domain.ErrValidation, event.PercentSold)
		}
		if event.PriceAtFill < 0 {
			return fmt.Errorf("ledger: %w: negative fill price", domain.ErrValidation)
		}
		// Pending fills reserve participation too: a pending 60% after an
		// executed 50% would be unfulfillable once confirmed.
		if reservedPct(pos)+event.PercentSold > pos.OriginalParticipationPct+Epsilon {
			return fmt.Errorf("ledger: %w: position %s has %.6f%% reserved, cannot add %.6f%%",
				domain.ErrOverAllocation, pos.ID, reservedPct(pos), event.PercentSold)
		}

	case domain.EventExecuteFill:
		f, ok := findFill(pos, event.TargetFillID)
		if !ok {
			return fmt.Errorf("ledger: %w: fill %s", domain.ErrNotFound, event.TargetFillID)
		}
		if f.State != domain.FillStatePending {
			return fmt.Errorf("ledger: %w: fill %s is %s, want pending",
				domain.ErrInvalidState, f.ID, f.State)
		}
		if event.PriceAtFill <= 0 {
			return fmt.Errorf("ledger: %w: execute requires a positive price", domain.ErrValidation)
		}

	case domain.EventDiscardFill:
		if _, ok := findFill(pos, event.TargetFillID); !ok {
			return fmt.Errorf("ledger: %w: fill %s", domain.ErrNotFound, event.TargetFillID)
		}

	case domain.EventClose:
		if pos.Status != domain.PositionStatusActive {
			return fmt.Errorf("ledger: %w: position %s is %s", domain.ErrInvalidState, pos.ID, pos.Status)
		}

	case domain.EventAmendOpen:
		if event.Shares < 0 || event.Amount < 0 {
			return fmt.Errorf("ledger: %w: amend with negative shares or amount", domain.ErrValidation)
		}

	default:
		return fmt.Errorf("ledger: %w: unknown event type %q", domain.ErrValidation, event.Type)
	}

	return nil
}

func validateOpen(event domain.LedgerEvent) error {
	if !domain.ValidPool(event.Pool) {
		return fmt.Errorf("ledger: %w: unknown pool %q", domain.ErrValidation, event.Pool)
	}
	if event.Side != domain.SideBuy && event.Side != domain.SideSell {
		return fmt.Errorf("ledger: %w: unknown side %q", domain.ErrValidation, event.Side)
	}
	if event.Symbol == "" {
		return fmt.Errorf("ledger: %w: symbol required", domain.ErrValidation)
	}
	if event.Amount <= 0 {
		return fmt.Errorf("ledger: %w: allocation amount must be positive", domain.ErrValidation)
	}
	if event.Shares <= 0 {
		return fmt.Errorf("ledger: %w: shares must be positive", domain.ErrValidation)
	}
	if event.Entry.Effective <= 0 {
		return fmt.Errorf("ledger: %w: effective entry price must be positive", domain.ErrValidation)
	}
	if !event.Entry.Fixed && event.Entry.RangeMin > event.Entry.RangeMax {
		return fmt.Errorf("ledger: %w: inverted entry range", domain.ErrValidation)
	}
	return nil
}

// reservedPct sums percentages over pending and executed fills. Discarded
// fills release their reservation.
func reservedPct(pos domain.Position) float64 {
	var sum float64
	for _, f := range pos.Fills {
		if f.State != domain.FillStateDiscarded {
			sum += f.PercentSold
		}
	}
	return sum
}

func findFill(pos domain.Position, fillID string) (domain.Fill, bool) {
	for _, f := range pos.Fills {
		if f.ID == fillID {
			return f, true
		}
	}
	return domain.Fill{}, false
}
