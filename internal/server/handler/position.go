package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/quantrail/alertledger/internal/domain"
	"github.com/quantrail/alertledger/internal/service"
)

// AllocatorService defines the mutations and reads the position handlers
// require.
type AllocatorService interface {
	OpenPosition(ctx context.Context, req service.OpenRequest) (string, error)
	RecordFill(ctx context.Context, positionID string, pct, price float64, effectiveDate time.Time) (string, error)
	ExecuteFill(ctx context.Context, fillID string, price float64) error
	DiscardFill(ctx context.Context, fillID, reason string) error
	ClosePosition(ctx context.Context, positionID, discardReason string) error
	GetPosition(ctx context.Context, positionID string) (domain.Position, error)
	ListPositions(ctx context.Context, pool domain.Pool, status domain.PositionStatus) ([]domain.Position, error)
	PoolState(ctx context.Context, pool domain.Pool) (domain.PoolState, error)
}

// PositionHandler serves position lifecycle endpoints.
type PositionHandler struct {
	allocator AllocatorService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service.
func NewPositionHandler(allocator AllocatorService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{allocator: allocator, logger: logger}
}

// openRequest is the wire shape for opening a position.
type openRequest struct {
	Pool     string  `json:"pool"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Amount   float64 `json:"amount"`
	Price    float64 `json:"price,omitempty"`
	RangeMin float64 `json:"range_min,omitempty"`
	RangeMax float64 `json:"range_max,omitempty"`
	OpenedAt string  `json:"opened_at,omitempty"` // RFC 3339; empty means now
}

// Open opens a new position against a pool.
// POST /api/positions
func (h *PositionHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var openedAt time.Time
	if req.OpenedAt != "" {
		t, err := time.Parse(time.RFC3339, req.OpenedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "opened_at must be RFC 3339")
			return
		}
		openedAt = t.UTC()
	}

	positionID, err := h.allocator.OpenPosition(r.Context(), service.OpenRequest{
		Pool:     domain.Pool(req.Pool),
		Symbol:   req.Symbol,
		Side:     domain.Side(req.Side),
		Amount:   req.Amount,
		Price:    req.Price,
		RangeMin: req.RangeMin,
		RangeMax: req.RangeMax,
		OpenedAt: openedAt,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: open position failed",
			slog.String("pool", req.Pool),
			slog.String("symbol", req.Symbol),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, "failed to open position")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"position_id": positionID})
}

// List returns positions of a pool, optionally filtered by status.
// GET /api/positions?pool=alpha&status=active
func (h *PositionHandler) List(w http.ResponseWriter, r *http.Request) {
	pool, ok := parsePool(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "pool query parameter required")
		return
	}

	status := domain.PositionStatus(r.URL.Query().Get("status"))
	switch status {
	case "", domain.PositionStatusActive, domain.PositionStatusClosed, domain.PositionStatusDiscarded:
	default:
		writeError(w, http.StatusBadRequest, "status must be active, closed or discarded")
		return
	}

	positions, err := h.allocator.ListPositions(r.Context(), pool, status)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("pool", string(pool)),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, "failed to list positions")
		return
	}

	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pool":      pool,
		"positions": positions,
	})
}

// Get returns one position's folded state.
// GET /api/positions/{id}
func (h *PositionHandler) Get(w http.ResponseWriter, r *http.Request) {
	positionID := pathParam(r, "id")
	if positionID == "" {
		writeError(w, http.StatusBadRequest, "position id required")
		return
	}

	pos, err := h.allocator.GetPosition(r.Context(), positionID)
	if err != nil {
		writeDomainError(w, err, "failed to load position")
		return
	}

	writeJSON(w, http.StatusOK, pos)
}

// fillRequest is the wire shape for recording a fill.
type fillRequest struct {
	PercentSold   float64 `json:"percent_sold"`
	Price         float64 `json:"price,omitempty"`          // zero records a pending fill
	EffectiveDate string  `json:"effective_date,omitempty"` // YYYY-MM-DD; empty means today
}

// RecordFill records a partial or full sale against a position.
// POST /api/positions/{id}/fills
func (h *PositionHandler) RecordFill(w http.ResponseWriter, r *http.Request) {
	positionID := pathParam(r, "id")
	if positionID == "" {
		writeError(w, http.StatusBadRequest, "position id required")
		return
	}

	var req fillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var effective time.Time
	if req.EffectiveDate != "" {
		t, err := time.Parse("2006-01-02", req.EffectiveDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "effective_date must be formatted YYYY-MM-DD")
			return
		}
		effective = t.UTC()
	}

	fillID, err := h.allocator.RecordFill(r.Context(), positionID, req.PercentSold, req.Price, effective)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: record fill failed",
			slog.String("position_id", positionID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, "failed to record fill")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"position_id": positionID,
		"fill_id":     fillID,
	})
}

// closeRequest is the wire shape for closing a position.
type closeRequest struct {
	DiscardReason string `json:"discard_reason,omitempty"`
}

// Close closes a position; a discard reason marks it discarded instead.
// POST /api/positions/{id}/close
func (h *PositionHandler) Close(w http.ResponseWriter, r *http.Request) {
	positionID := pathParam(r, "id")
	if positionID == "" {
		writeError(w, http.StatusBadRequest, "position id required")
		return
	}

	var req closeRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if err := h.allocator.ClosePosition(r.Context(), positionID, req.DiscardReason); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: close position failed",
			slog.String("position_id", positionID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, "failed to close position")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"position_id": positionID, "status": "closed"})
}

// Pool returns the pool's recomputed liquidity figures.
// GET /api/pools/{pool}
func (h *PositionHandler) Pool(w http.ResponseWriter, r *http.Request) {
	pool := domain.Pool(pathParam(r, "pool"))
	if !domain.ValidPool(pool) {
		writeError(w, http.StatusBadRequest, "unknown pool")
		return
	}

	state, err := h.allocator.PoolState(r.Context(), pool)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: pool state failed",
			slog.String("pool", string(pool)),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, "failed to compute pool state")
		return
	}

	writeJSON(w, http.StatusOK, state)
}
