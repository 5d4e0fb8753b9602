package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrail/alertledger/internal/domain"
)

type stubValuation struct {
	valueFn  func(ctx context.Context, pool domain.Pool) (domain.PoolValuation, error)
	returnFn func(ctx context.Context, pool domain.Pool, from, to time.Time) (float64, error)
}

func (s *stubValuation) CurrentValue(ctx context.Context, pool domain.Pool) (domain.PoolValuation, error) {
	if s.valueFn != nil {
		return s.valueFn(ctx, pool)
	}
	return domain.PoolValuation{}, nil
}

func (s *stubValuation) PeriodReturn(ctx context.Context, pool domain.Pool, from, to time.Time) (float64, error) {
	if s.returnFn != nil {
		return s.returnFn(ctx, pool, from, to)
	}
	return 0, nil
}

type stubSnapshots struct {
	seriesFn func(ctx context.Context, pool domain.Pool, from, to time.Time) ([]domain.EvolutionPoint, error)
}

func (s *stubSnapshots) EvolutionSeries(ctx context.Context, pool domain.Pool, from, to time.Time) ([]domain.EvolutionPoint, error) {
	if s.seriesFn != nil {
		return s.seriesFn(ctx, pool, from, to)
	}
	return nil, nil
}

var (
	_ ValuationService = (*stubValuation)(nil)
	_ SnapshotService  = (*stubSnapshots)(nil)
)

func TestPortfolioHandler_CurrentValue(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		val := &stubValuation{
			valueFn: func(_ context.Context, pool domain.Pool) (domain.PoolValuation, error) {
				return domain.PoolValuation{
					Pool:          pool,
					TotalValue:    10200,
					UnrealizedPnL: 200,
					Positions: []domain.PositionValuation{
						{PositionID: "pos-1", Symbol: "ACME", CurrentPrice: 60, PriceFallback: false},
					},
				}, nil
			},
		}
		h := NewPortfolioHandler(val, &stubSnapshots{}, testLogger())

		req := httptest.NewRequest(http.MethodGet, "/api/portfolio/value?pool=alpha", nil)
		rec := httptest.NewRecorder()
		h.CurrentValue(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, 10200.0, body["total_value"])
		assert.Equal(t, 200.0, body["unrealized_pnl"])
		per, ok := body["per_position"].([]any)
		require.True(t, ok)
		assert.Len(t, per, 1)
	})

	t.Run("missing_pool", func(t *testing.T) {
		h := NewPortfolioHandler(&stubValuation{}, &stubSnapshots{}, testLogger())
		req := httptest.NewRequest(http.MethodGet, "/api/portfolio/value", nil)
		rec := httptest.NewRecorder()
		h.CurrentValue(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestPortfolioHandler_Evolution(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
		snaps := &stubSnapshots{
			seriesFn: func(_ context.Context, pool domain.Pool, from, to time.Time) ([]domain.EvolutionPoint, error) {
				assert.Equal(t, domain.PoolAlpha, pool)
				assert.Equal(t, day, from)
				assert.Equal(t, day.AddDate(0, 0, 2), to)
				return []domain.EvolutionPoint{
					{Date: day, Value: 100},
					{Date: day.AddDate(0, 0, 1), Value: 100},
					{Date: day.AddDate(0, 0, 2), Value: 120},
				}, nil
			},
		}
		h := NewPortfolioHandler(&stubValuation{}, snaps, testLogger())

		req := httptest.NewRequest(http.MethodGet,
			"/api/portfolio/evolution?pool=alpha&from=2026-03-02&to=2026-03-04", nil)
		rec := httptest.NewRecorder()
		h.Evolution(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "alpha", body["pool"])
		series, ok := body["series"].([]any)
		require.True(t, ok)
		assert.Len(t, series, 3)
	})

	t.Run("bad_date", func(t *testing.T) {
		h := NewPortfolioHandler(&stubValuation{}, &stubSnapshots{}, testLogger())
		req := httptest.NewRequest(http.MethodGet,
			"/api/portfolio/evolution?pool=alpha&from=march&to=2026-03-04", nil)
		rec := httptest.NewRecorder()
		h.Evolution(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("empty_series_is_array", func(t *testing.T) {
		h := NewPortfolioHandler(&stubValuation{}, &stubSnapshots{}, testLogger())
		req := httptest.NewRequest(http.MethodGet,
			"/api/portfolio/evolution?pool=alpha&from=2026-03-02&to=2026-03-04", nil)
		rec := httptest.NewRecorder()
		h.Evolution(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"series":[]`)
	})
}

func TestPortfolioHandler_PeriodReturn(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		val := &stubValuation{
			returnFn: func(context.Context, domain.Pool, time.Time, time.Time) (float64, error) {
				return 0.06, nil
			},
		}
		h := NewPortfolioHandler(val, &stubSnapshots{}, testLogger())

		req := httptest.NewRequest(http.MethodGet,
			"/api/portfolio/return?pool=alpha&from=2026-03-02&to=2026-03-09", nil)
		rec := httptest.NewRecorder()
		h.PeriodReturn(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, 0.06, body["return"])
		assert.Equal(t, "2026-03-02", body["from"])
		assert.Equal(t, "2026-03-09", body["to"])
	})

	t.Run("zero_base_rejected", func(t *testing.T) {
		val := &stubValuation{
			returnFn: func(context.Context, domain.Pool, time.Time, time.Time) (float64, error) {
				return 0, domain.ErrValidation
			},
		}
		h := NewPortfolioHandler(val, &stubSnapshots{}, testLogger())

		req := httptest.NewRequest(http.MethodGet,
			"/api/portfolio/return?pool=alpha&from=2026-03-02&to=2026-03-09", nil)
		rec := httptest.NewRecorder()
		h.PeriodReturn(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
