package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// FillHandler serves the fill confirmation endpoints. Fills are addressed by
// their own id because the caller confirming an execution typically only holds
// the fill id handed out when the sale was scheduled.
type FillHandler struct {
	allocator AllocatorService
	logger    *slog.Logger
}

// NewFillHandler creates a FillHandler with the given service.
func NewFillHandler(allocator AllocatorService, logger *slog.Logger) *FillHandler {
	return &FillHandler{allocator: allocator, logger: logger}
}

// executeRequest is the wire shape for confirming a pending fill.
type executeRequest struct {
	Price float64 `json:"price"`
}

// Execute confirms a pending fill with its realized price.
// POST /api/fills/{id}/execute
func (h *FillHandler) Execute(w http.ResponseWriter, r *http.Request) {
	fillID := pathParam(r, "id")
	if fillID == "" {
		writeError(w, http.StatusBadRequest, "fill id required")
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Price <= 0 {
		writeError(w, http.StatusBadRequest, "price must be positive")
		return
	}

	if err := h.allocator.ExecuteFill(r.Context(), fillID, req.Price); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: execute fill failed",
			slog.String("fill_id", fillID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, "failed to execute fill")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"fill_id": fillID, "state": "executed"})
}

// discardRequest is the wire shape for discarding a fill.
type discardRequest struct {
	Reason string `json:"reason"`
}

// Discard reverses a fill. Discarding twice is a no-op.
// POST /api/fills/{id}/discard
func (h *FillHandler) Discard(w http.ResponseWriter, r *http.Request) {
	fillID := pathParam(r, "id")
	if fillID == "" {
		writeError(w, http.StatusBadRequest, "fill id required")
		return
	}

	var req discardRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "discarded by operator"
	}

	if err := h.allocator.DiscardFill(r.Context(), fillID, req.Reason); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: discard fill failed",
			slog.String("fill_id", fillID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, "failed to discard fill")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"fill_id": fillID, "state": "discarded"})
}
