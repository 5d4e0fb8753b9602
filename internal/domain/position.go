package domain

import "time"

// Pool identifies one of the capital pools. Each product line allocates from
// exactly one pool; there is no heuristic lookup of "the current" pool.
type Pool string

const (
	PoolAlpha Pool = "alpha"
	PoolBeta  Pool = "beta"
)

// Pools lists every known pool.
var Pools = []Pool{PoolAlpha, PoolBeta}

// ValidPool reports whether p names a known pool.
func ValidPool(p Pool) bool {
	return p == PoolAlpha || p == PoolBeta
}

// Side is the direction of a position.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// PositionStatus tracks the capital lifecycle of a position.
type PositionStatus string

const (
	PositionStatusActive    PositionStatus = "active"
	PositionStatusClosed    PositionStatus = "closed"
	PositionStatusDiscarded PositionStatus = "discarded"
)

// EntryPricing is the pricing regime a position was opened under. A range
// collapses to a single effective price at open time and is immutable
// afterwards; Effective is the price every later computation uses.
type EntryPricing struct {
	Fixed     bool    `json:"fixed"`
	RangeMin  float64 `json:"range_min,omitempty"`
	RangeMax  float64 `json:"range_max,omitempty"`
	Effective float64 `json:"effective"`
}

// FixedPrice returns an EntryPricing for a single known entry price.
func FixedPrice(price float64) EntryPricing {
	return EntryPricing{Fixed: true, Effective: price}
}

// PriceRange returns an EntryPricing for a min/max entry range with the
// already-collapsed effective price.
func PriceRange(min, max, effective float64) EntryPricing {
	return EntryPricing{RangeMin: min, RangeMax: max, Effective: effective}
}

// Position is the folded state of one trading alert's capital lifecycle.
// It is always derived by replaying the position's ledger events; it is
// never patched in place.
type Position struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Pool   Pool   `json:"pool"`
	Side   Side   `json:"side"`

	Entry EntryPricing `json:"entry"`

	OriginalAllocatedAmount  float64 `json:"original_allocated_amount"`
	OriginalShares           float64 `json:"original_shares"`
	OriginalParticipationPct float64 `json:"original_participation_pct"`

	RemainingShares        float64 `json:"remaining_shares"`
	RemainingParticipation float64 `json:"remaining_participation_pct"`
	AllocatedAmount        float64 `json:"allocated_amount"`
	RealizedPnL            float64 `json:"realized_pnl"`

	Status PositionStatus `json:"status"`
	Fills  []Fill         `json:"fills"`

	OpenedAt time.Time  `json:"opened_at"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
}

// FillState tracks a fill's lifecycle.
type FillState string

const (
	FillStatePending   FillState = "pending"
	FillStateExecuted  FillState = "executed"
	FillStateDiscarded FillState = "discarded"
)

// Fill is one partial or full liquidation event against a position.
type Fill struct {
	ID            string    `json:"id"`
	PositionID    string    `json:"position_id"`
	EffectiveDate time.Time `json:"effective_date"`
	PercentSold   float64   `json:"percentage_sold"`
	PriceAtFill   float64   `json:"price_at_fill"`
	SharesSold    float64   `json:"shares_sold"`
	RealizedDelta float64   `json:"realized_pnl_delta"`
	State         FillState `json:"state"`
	DiscardReason string    `json:"discard_reason,omitempty"`
}
