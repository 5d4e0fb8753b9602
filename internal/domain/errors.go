package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// ErrValidation covers malformed input, e.g. a sell percentage outside
	// (0, 100] or a non-positive allocation amount.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientLiquidity rejects an allocation that exceeds the pool's
	// available liquidity. The request is refused, never clamped.
	ErrInsufficientLiquidity = errors.New("insufficient pool liquidity")

	// ErrOverAllocation rejects a fill that would push the position's
	// cumulative executed percentage above its original participation.
	ErrOverAllocation = errors.New("fills exceed position participation")

	// ErrInvalidState rejects an operation that is not valid for the
	// position's current status, e.g. filling a closed position.
	ErrInvalidState = errors.New("invalid position state")

	// ErrPriceUnavailable is non-fatal: valuation falls back to the entry
	// price and logs the miss rather than surfacing a hard error.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrLockHeld signals lock contention on a position or pool. Callers
	// may retry.
	ErrLockHeld = errors.New("lock already held")
)
