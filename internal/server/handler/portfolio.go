package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/quantrail/alertledger/internal/domain"
)

// ValuationService defines the methods that the portfolio handler requires.
type ValuationService interface {
	CurrentValue(ctx context.Context, pool domain.Pool) (domain.PoolValuation, error)
	PeriodReturn(ctx context.Context, pool domain.Pool, from, to time.Time) (float64, error)
}

// SnapshotService defines the history methods the portfolio handler requires.
type SnapshotService interface {
	EvolutionSeries(ctx context.Context, pool domain.Pool, from, to time.Time) ([]domain.EvolutionPoint, error)
}

// PortfolioHandler serves portfolio valuation and history endpoints.
type PortfolioHandler struct {
	valuation ValuationService
	snapshots SnapshotService
	logger    *slog.Logger
}

// NewPortfolioHandler creates a PortfolioHandler with the given services.
func NewPortfolioHandler(valuation ValuationService, snapshots SnapshotService, logger *slog.Logger) *PortfolioHandler {
	return &PortfolioHandler{
		valuation: valuation,
		snapshots: snapshots,
		logger:    logger,
	}
}

// CurrentValue returns the pool's live valuation.
// GET /api/portfolio/value?pool=alpha
func (h *PortfolioHandler) CurrentValue(w http.ResponseWriter, r *http.Request) {
	pool, ok := parsePool(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "pool query parameter required")
		return
	}

	val, err := h.valuation.CurrentValue(r.Context(), pool)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: current value failed",
			slog.String("pool", string(pool)),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, "failed to compute portfolio value")
		return
	}

	writeJSON(w, http.StatusOK, val)
}

// evolutionResponse wraps the evolution series.
type evolutionResponse struct {
	Pool   domain.Pool             `json:"pool"`
	Series []domain.EvolutionPoint `json:"series"`
}

// Evolution returns the pool's daily value series over a date range.
// GET /api/portfolio/evolution?pool=alpha&from=2026-01-01&to=2026-01-31
func (h *PortfolioHandler) Evolution(w http.ResponseWriter, r *http.Request) {
	pool, ok := parsePool(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "pool query parameter required")
		return
	}
	from, err := parseDate(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, "from must be formatted YYYY-MM-DD")
		return
	}
	to, err := parseDate(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, "to must be formatted YYYY-MM-DD")
		return
	}

	series, err := h.snapshots.EvolutionSeries(r.Context(), pool, from, to)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: evolution failed",
			slog.String("pool", string(pool)),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, "failed to build evolution series")
		return
	}

	if series == nil {
		series = []domain.EvolutionPoint{}
	}
	writeJSON(w, http.StatusOK, evolutionResponse{Pool: pool, Series: series})
}

// periodReturnResponse wraps a capital-weighted period return.
type periodReturnResponse struct {
	Pool   domain.Pool `json:"pool"`
	From   string      `json:"from"`
	To     string      `json:"to"`
	Return float64     `json:"return"`
}

// PeriodReturn returns the weighted return over a date range.
// GET /api/portfolio/return?pool=alpha&from=2026-01-01&to=2026-01-31
func (h *PortfolioHandler) PeriodReturn(w http.ResponseWriter, r *http.Request) {
	pool, ok := parsePool(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "pool query parameter required")
		return
	}
	from, err := parseDate(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, "from must be formatted YYYY-MM-DD")
		return
	}
	to, err := parseDate(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, "to must be formatted YYYY-MM-DD")
		return
	}

	ret, err := h.valuation.PeriodReturn(r.Context(), pool, from, to)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: period return failed",
			slog.String("pool", string(pool)),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, "failed to compute period return")
		return
	}

	writeJSON(w, http.StatusOK, periodReturnResponse{
		Pool:   pool,
		From:   from.Format("2006-01-02"),
		To:     to.Format("2006-01-02"),
		Return: ret,
	})
}
