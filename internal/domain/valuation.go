package domain

import "time"

// PositionValuation is the mark-to-market view of one active position.
type PositionValuation struct {
	PositionID      string  `json:"position_id"`
	Symbol          string  `json:"symbol"`
	Side            Side    `json:"side"`
	RemainingShares float64 `json:"remaining_shares"`
	AllocatedAmount float64 `json:"allocated_amount"`
	EntryPrice      float64 `json:"entry_price"`
	CurrentPrice    float64 `json:"current_price"`
	PriceFallback   bool    `json:"price_fallback"` // true when no quote was available
	UnrealizedPnL   float64 `json:"unrealized_pnl"`
	RealizedPnL     float64 `json:"realized_pnl"`
}

// PoolValuation is the instantaneous value of a whole pool.
//
//	TotalValue = TotalLiquidity + sum of unrealized P&L over active positions.
type PoolValuation struct {
	Pool          Pool                `json:"pool"`
	AsOf          time.Time           `json:"as_of"`
	TotalValue    float64             `json:"total_value"`
	UnrealizedPnL float64             `json:"unrealized_pnl"`
	RealizedPnL   float64             `json:"realized_pnl"`
	PoolState     PoolState           `json:"pool_state"`
	Positions     []PositionValuation `json:"per_position"`
}
