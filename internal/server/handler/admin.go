package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/quantrail/alertledger/internal/domain"
)

// AdminAllocator defines the corrective operations the admin handler requires.
type AdminAllocator interface {
	AmendOpen(ctx context.Context, positionID string, entry domain.EntryPricing, amount, shares float64, supersedesID string) error
	GetPosition(ctx context.Context, positionID string) (domain.Position, error)
}

// PoolAdmin restates a pool's initial liquidity.
type PoolAdmin interface {
	SetInitialLiquidity(ctx context.Context, pool domain.Pool, amount float64) error
}

// SnapshotAdmin triggers snapshot materialization on demand.
type SnapshotAdmin interface {
	MaterializeDaily(ctx context.Context, pool domain.Pool, asOf time.Time) error
}

// AdminHandler serves the corrective endpoints: amendments, refolds, pool
// liquidity restatement, and manual snapshot runs. These sit behind the same
// API key as everything else but live under /api/admin to keep the corrective
// surface visibly separate.
type AdminHandler struct {
	allocator AdminAllocator
	pools     PoolAdmin
	snapshots SnapshotAdmin
	logger    *slog.Logger
}

// NewAdminHandler creates an AdminHandler with the given services.
func NewAdminHandler(allocator AdminAllocator, pools PoolAdmin, snapshots SnapshotAdmin, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		allocator: allocator,
		pools:     pools,
		snapshots: snapshots,
		logger:    logger,
	}
}

// amendRequest is the wire shape of a corrective open restatement. Zero
// fields leave the original values in place.
type amendRequest struct {
	Price        float64 `json:"price,omitempty"`
	RangeMin     float64 `json:"range_min,omitempty"`
	RangeMax     float64 `json:"range_max,omitempty"`
	Amount       float64 `json:"amount,omitempty"`
	Shares       float64 `json:"shares,omitempty"`
	SupersedesID string  `json:"supersedes_id,omitempty"`
}

// Amend appends a corrective restatement of a position's open parameters and
// returns the restated fold.
// POST /api/admin/positions/{id}/amend
func (h *AdminHandler) Amend(w http.ResponseWriter, r *http.Request) {
	positionID := pathParam(r, "id")
	if positionID == "" {
		writeError(w, http.StatusBadRequest, "position id required")
		return
	}

	var req amendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var entry domain.EntryPricing
	switch {
	case req.Price > 0:
		entry = domain.FixedPrice(req.Price)
	case req.RangeMin > 0 && req.RangeMax >= req.RangeMin:
		entry = domain.PriceRange(req.RangeMin, req.RangeMax, (req.RangeMin+req.RangeMax)/2)
	}

	if err := h.allocator.AmendOpen(r.Context(), positionID, entry, req.Amount, req.Shares, req.SupersedesID); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: amend failed",
			slog.String("position_id", positionID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, "failed to amend position")
		return
	}

	pos, err := h.allocator.GetPosition(r.Context(), positionID)
	if err != nil {
		writeDomainError(w, err, "failed to reload position")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// Refold replays a position's event stream from scratch and returns the
// resulting state. The fold is deterministic, so this never changes anything;
// it exists to let an operator verify what the ledger derives.
// POST /api/admin/positions/{id}/refold
func (h *AdminHandler) Refold(w http.ResponseWriter, r *http.Request) {
	positionID := pathParam(r, "id")
	if positionID == "" {
		writeError(w, http.StatusBadRequest, "position id required")
		return
	}

	pos, err := h.allocator.GetPosition(r.Context(), positionID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: refold failed",
			slog.String("position_id", positionID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, "failed to refold position")
		return
	}

	writeJSON(w, http.StatusOK, pos)
}

// liquidityRequest is the wire shape for restating a pool's seed capital.
type liquidityRequest struct {
	Amount float64 `json:"amount"`
}

// SetInitialLiquidity restates a pool's initial liquidity. Derived figures
// pick the change up on the next recomputation automatically.
// POST /api/admin/pools/{pool}/initial-liquidity
func (h *AdminHandler) SetInitialLiquidity(w http.ResponseWriter, r *http.Request) {
	pool := domain.Pool(pathParam(r, "pool"))
	if !domain.ValidPool(pool) {
		writeError(w, http.StatusBadRequest, "unknown pool")
		return
	}

	var req liquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Amount < 0 {
		writeError(w, http.StatusBadRequest, "amount must not be negative")
		return
	}

	if err := h.pools.SetInitialLiquidity(r.Context(), pool, req.Amount); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: set initial liquidity failed",
			slog.String("pool", string(pool)),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, "failed to set initial liquidity")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pool":              pool,
		"initial_liquidity": req.Amount,
	})
}

// Materialize runs the daily snapshot for a pool on demand. Re-running for an
// already-materialized day is a no-op.
// POST /api/admin/snapshots/materialize?pool=alpha&date=2026-01-15
func (h *AdminHandler) Materialize(w http.ResponseWriter, r *http.Request) {
	pool, ok := parsePool(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "pool query parameter required")
		return
	}

	asOf := time.Now().UTC()
	if r.URL.Query().Get("date") != "" {
		t, err := parseDate(r, "date")
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be formatted YYYY-MM-DD")
			return
		}
		asOf = t
	}

	if err := h.snapshots.MaterializeDaily(r.Context(), pool, asOf); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: materialize failed",
			slog.String("pool", string(pool)),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, "failed to materialize snapshot")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pool": pool,
		"date": asOf.Format("2006-01-02"),
	})
}
