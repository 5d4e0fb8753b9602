package domain

import "time"

// Snapshot is a persisted valuation of a pool as of the end of one day.
// Snapshots for past dates are immutable; the current day is always computed
// live rather than read from a snapshot.
type Snapshot struct {
	Pool            Pool      `json:"pool"`
	Date            time.Time `json:"date"` // midnight UTC of the snapshot day
	TotalValue      float64   `json:"total_value"`
	UnrealizedPnL   float64   `json:"unrealized_pnl"`
	RealizedPnL     float64   `json:"realized_pnl"`
	ActivePositions int       `json:"position_count_active"`
	ClosedPositions int       `json:"position_count_closed"`
	CreatedAt       time.Time `json:"created_at"`
}

// EvolutionPoint is one element of a pool's value time series.
type EvolutionPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}
