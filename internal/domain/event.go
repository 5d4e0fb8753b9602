package domain

import "time"

// EventType enumerates the ledger event kinds.
type EventType string

const (
	// EventOpen allocates capital from a pool and opens a position.
	EventOpen EventType = "open"
	// EventFill records a partial or full sale against a position.
	EventFill EventType = "fill"
	// EventExecuteFill confirms a pending fill with a concrete price.
	EventExecuteFill EventType = "execute_fill"
	// EventDiscardFill reverses a previously recorded fill. Folding skips
	// discarded fills entirely, so the reversal is exact.
	EventDiscardFill EventType = "discard_fill"
	// EventClose explicitly closes a position regardless of remaining
	// participation.
	EventClose EventType = "close"
	// EventAmendOpen is a corrective restatement of the OPEN parameters.
	// It references the event it supersedes and is replayed through the
	// same fold as live traffic.
	EventAmendOpen EventType = "amend_open"
)

// LedgerEvent is one immutable entry in the append-only ledger. Exactly the
// fields relevant to its Type are set; the rest are zero. Events for one
// position are totally ordered by Sequence.
type LedgerEvent struct {
	ID         string    `json:"id"`
	PositionID string    `json:"position_id"`
	Pool       Pool      `json:"pool"`
	Type       EventType `json:"type"`
	Sequence   int64     `json:"sequence"`
	At         time.Time `json:"at"`

	// Open / AmendOpen fields.
	Symbol string       `json:"symbol,omitempty"`
	Side   Side         `json:"side,omitempty"`
	Entry  EntryPricing `json:"entry,omitempty"`
	Amount float64      `json:"amount,omitempty"`
	Shares float64      `json:"shares,omitempty"`

	// Fill fields.
	FillID        string    `json:"fill_id,omitempty"`
	PercentSold   float64   `json:"percentage_sold,omitempty"`
	PriceAtFill   float64   `json:"price_at_fill,omitempty"`
	EffectiveDate time.Time `json:"effective_date,omitempty"`

	// DiscardFill fields. TargetFillID names the fill being discarded.
	TargetFillID  string `json:"target_fill_id,omitempty"`
	DiscardReason string `json:"discard_reason,omitempty"`

	// SupersedesID links a corrective event to the event it restates.
	SupersedesID string `json:"supersedes_id,omitempty"`
}
