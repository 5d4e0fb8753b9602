package domain

import "time"

// PoolRecord is the persisted identity of a pool. Only InitialLiquidity is
// stored; every other pool figure is derived by folding the pool's ledger.
type PoolRecord struct {
	Name             Pool      `json:"name"`
	InitialLiquidity float64   `json:"initial_liquidity"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// PoolState is the derived liquidity picture of a pool at an instant.
//
//	TotalLiquidity     = InitialLiquidity + CumulativeRealizedPnL
//	AvailableLiquidity = TotalLiquidity - DistributedLiquidity
//
// DistributedLiquidity sums AllocatedAmount over ACTIVE positions only;
// discarded positions contribute nothing.
type PoolState struct {
	Name                  Pool    `json:"name"`
	InitialLiquidity      float64 `json:"initial_liquidity"`
	CumulativeRealizedPnL float64 `json:"cumulative_realized_pnl"`
	TotalLiquidity        float64 `json:"total_liquidity"`
	DistributedLiquidity  float64 `json:"distributed_liquidity"`
	AvailableLiquidity    float64 `json:"available_liquidity"`
	ActivePositions       int     `json:"active_positions"`
	ClosedPositions       int     `json:"closed_positions"`
}
