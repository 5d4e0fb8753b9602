package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrail/alertledger/internal/domain"
	"github.com/quantrail/alertledger/internal/service"
)

// stubAllocator implements AllocatorService with overridable behavior per
// method; unset methods return zero values.
type stubAllocator struct {
	openFn    func(ctx context.Context, req service.OpenRequest) (string, error)
	fillFn    func(ctx context.Context, positionID string, pct, price float64, effectiveDate time.Time) (string, error)
	executeFn func(ctx context.Context, fillID string, price float64) error
	discardFn func(ctx context.Context, fillID, reason string) error
	closeFn   func(ctx context.Context, positionID, discardReason string) error
	getFn     func(ctx context.Context, positionID string) (domain.Position, error)
	listFn    func(ctx context.Context, pool domain.Pool, status domain.PositionStatus) ([]domain.Position, error)
	poolFn    func(ctx context.Context, pool domain.Pool) (domain.PoolState, error)
}

func (s *stubAllocator) OpenPosition(ctx context.Context, req service.OpenRequest) (string, error) {
	if s.openFn != nil {
		return s.openFn(ctx, req)
	}
	return "", nil
}

func (s *stubAllocator) RecordFill(ctx context.Context, positionID string, pct, price float64, effectiveDate time.Time) (string, error) {
	if s.fillFn != nil {
		return s.fillFn(ctx, positionID, pct, price, effectiveDate)
	}
	return "", nil
}

func (s *stubAllocator) ExecuteFill(ctx context.Context, fillID string, price float64) error {
	if s.executeFn != nil {
		return s.executeFn(ctx, fillID, price)
	}
	return nil
}

func (s *stubAllocator) DiscardFill(ctx context.Context, fillID, reason string) error {
	if s.discardFn != nil {
		return s.discardFn(ctx, fillID, reason)
	}
	return nil
}

func (s *stubAllocator) ClosePosition(ctx context.Context, positionID, discardReason string) error {
	if s.closeFn != nil {
		return s.closeFn(ctx, positionID, discardReason)
	}
	return nil
}

func (s *stubAllocator) GetPosition(ctx context.Context, positionID string) (domain.Position, error) {
	if s.getFn != nil {
		return s.getFn(ctx, positionID)
	}
	return domain.Position{}, nil
}

func (s *stubAllocator) ListPositions(ctx context.Context, pool domain.Pool, status domain.PositionStatus) ([]domain.Position, error) {
	if s.listFn != nil {
		return s.listFn(ctx, pool, status)
	}
	return nil, nil
}

func (s *stubAllocator) PoolState(ctx context.Context, pool domain.Pool) (domain.PoolState, error) {
	if s.poolFn != nil {
		return s.poolFn(ctx, pool)
	}
	return domain.PoolState{}, nil
}

var _ AllocatorService = (*stubAllocator)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestPositionHandler_Open(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		alloc := &stubAllocator{
			openFn: func(_ context.Context, req service.OpenRequest) (string, error) {
				assert.Equal(t, domain.PoolAlpha, req.Pool)
				assert.Equal(t, "ACME", req.Symbol)
				assert.Equal(t, 1000.0, req.Amount)
				return "pos-1", nil
			},
		}
		h := NewPositionHandler(alloc, testLogger())

		req := httptest.NewRequest(http.MethodPost, "/api/positions",
			strings.NewReader(`{"pool":"alpha","symbol":"ACME","side":"buy","amount":1000,"price":50}`))
		rec := httptest.NewRecorder()
		h.Open(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "pos-1", decodeBody(t, rec)["position_id"])
	})

	t.Run("backdated_open", func(t *testing.T) {
		var got time.Time
		alloc := &stubAllocator{
			openFn: func(_ context.Context, req service.OpenRequest) (string, error) {
				got = req.OpenedAt
				return "pos-1", nil
			},
		}
		h := NewPositionHandler(alloc, testLogger())

		req := httptest.NewRequest(http.MethodPost, "/api/positions",
			strings.NewReader(`{"pool":"alpha","symbol":"ACME","side":"buy","amount":1000,"price":50,"opened_at":"2026-03-02T09:00:00Z"}`))
		rec := httptest.NewRecorder()
		h.Open(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), got)
	})

	t.Run("malformed_body", func(t *testing.T) {
		h := NewPositionHandler(&stubAllocator{}, testLogger())
		req := httptest.NewRequest(http.MethodPost, "/api/positions", strings.NewReader("{"))
		rec := httptest.NewRecorder()
		h.Open(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad_opened_at", func(t *testing.T) {
		h := NewPositionHandler(&stubAllocator{}, testLogger())
		req := httptest.NewRequest(http.MethodPost, "/api/positions",
			strings.NewReader(`{"pool":"alpha","symbol":"ACME","side":"buy","amount":1000,"price":50,"opened_at":"yesterday"}`))
		rec := httptest.NewRecorder()
		h.Open(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

// TestPositionHandler_ErrorMapping pins the domain-error to status-code
// mapping on a representative endpoint.
func TestPositionHandler_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"not_found", domain.ErrNotFound, http.StatusNotFound},
		{"validation", domain.ErrValidation, http.StatusBadRequest},
		{"insufficient_liquidity", domain.ErrInsufficientLiquidity, http.StatusConflict},
		{"over_allocation", domain.ErrOverAllocation, http.StatusConflict},
		{"invalid_state", domain.ErrInvalidState, http.StatusConflict},
		{"lock_held", domain.ErrLockHeld, http.StatusServiceUnavailable},
		{"unknown", fmt.Errorf("pgx: connection reset"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			alloc := &stubAllocator{
				openFn: func(context.Context, service.OpenRequest) (string, error) {
					return "", fmt.Errorf("allocator: %w", tc.err)
				},
			}
			h := NewPositionHandler(alloc, testLogger())

			req := httptest.NewRequest(http.MethodPost, "/api/positions",
				strings.NewReader(`{"pool":"alpha","symbol":"ACME","side":"buy","amount":1000,"price":50}`))
			rec := httptest.NewRecorder()
			h.Open(rec, req)

			assert.Equal(t, tc.code, rec.Code)
			if tc.code == http.StatusServiceUnavailable {
				assert.Equal(t, "1", rec.Header().Get("Retry-After"))
			}
			if tc.code == http.StatusInternalServerError {
				assert.NotContains(t, rec.Body.String(), "pgx", "internal detail must not leak")
			}
		})
	}
}

func TestPositionHandler_List(t *testing.T) {
	t.Run("filters_by_status", func(t *testing.T) {
		alloc := &stubAllocator{
			listFn: func(_ context.Context, pool domain.Pool, status domain.PositionStatus) ([]domain.Position, error) {
				assert.Equal(t, domain.PoolBeta, pool)
				assert.Equal(t, domain.PositionStatusActive, status)
				return []domain.Position{{ID: "pos-1", Symbol: "ACME"}}, nil
			},
		}
		h := NewPositionHandler(alloc, testLogger())

		req := httptest.NewRequest(http.MethodGet, "/api/positions?pool=beta&status=active", nil)
		rec := httptest.NewRecorder()
		h.List(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "beta", body["pool"])
		assert.Len(t, body["positions"], 1)
	})

	t.Run("missing_pool", func(t *testing.T) {
		h := NewPositionHandler(&stubAllocator{}, testLogger())
		req := httptest.NewRequest(http.MethodGet, "/api/positions", nil)
		rec := httptest.NewRecorder()
		h.List(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad_status", func(t *testing.T) {
		h := NewPositionHandler(&stubAllocator{}, testLogger())
		req := httptest.NewRequest(http.MethodGet, "/api/positions?pool=alpha&status=pending", nil)
		rec := httptest.NewRecorder()
		h.List(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("empty_result_is_array", func(t *testing.T) {
		h := NewPositionHandler(&stubAllocator{}, testLogger())
		req := httptest.NewRequest(http.MethodGet, "/api/positions?pool=alpha", nil)
		rec := httptest.NewRecorder()
		h.List(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"positions":[]`)
	})
}

func TestPositionHandler_Get(t *testing.T) {
	alloc := &stubAllocator{
		getFn: func(_ context.Context, positionID string) (domain.Position, error) {
			if positionID != "pos-1" {
				return domain.Position{}, domain.ErrNotFound
			}
			return domain.Position{ID: "pos-1", Symbol: "ACME", Status: domain.PositionStatusActive}, nil
		},
	}
	h := NewPositionHandler(alloc, testLogger())

	t.Run("found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/positions/pos-1", nil)
		req.SetPathValue("id", "pos-1")
		rec := httptest.NewRecorder()
		h.Get(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "pos-1", body["id"])
		assert.Equal(t, "active", body["status"])
	})

	t.Run("not_found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/positions/missing", nil)
		req.SetPathValue("id", "missing")
		rec := httptest.NewRecorder()
		h.Get(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestPositionHandler_RecordFill(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		alloc := &stubAllocator{
			fillFn: func(_ context.Context, positionID string, pct, price float64, effective time.Time) (string, error) {
				assert.Equal(t, "pos-1", positionID)
				assert.Equal(t, 50.0, pct)
				assert.Equal(t, 110.0, price)
				assert.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), effective)
				return "fill-1", nil
			},
		}
		h := NewPositionHandler(alloc, testLogger())

		req := httptest.NewRequest(http.MethodPost, "/api/positions/pos-1/fills",
			strings.NewReader(`{"percent_sold":50,"price":110,"effective_date":"2026-03-04"}`))
		req.SetPathValue("id", "pos-1")
		rec := httptest.NewRecorder()
		h.RecordFill(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "fill-1", decodeBody(t, rec)["fill_id"])
	})

	t.Run("bad_effective_date", func(t *testing.T) {
		h := NewPositionHandler(&stubAllocator{}, testLogger())
		req := httptest.NewRequest(http.MethodPost, "/api/positions/pos-1/fills",
			strings.NewReader(`{"percent_sold":50,"effective_date":"04/03/2026"}`))
		req.SetPathValue("id", "pos-1")
		rec := httptest.NewRecorder()
		h.RecordFill(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("over_allocation_conflict", func(t *testing.T) {
		alloc := &stubAllocator{
			fillFn: func(context.Context, string, float64, float64, time.Time) (string, error) {
				return "", domain.ErrOverAllocation
			},
		}
		h := NewPositionHandler(alloc, testLogger())

		req := httptest.NewRequest(http.MethodPost, "/api/positions/pos-1/fills",
			strings.NewReader(`{"percent_sold":60,"price":110}`))
		req.SetPathValue("id", "pos-1")
		rec := httptest.NewRecorder()
		h.RecordFill(rec, req)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestPositionHandler_Close(t *testing.T) {
	t.Run("plain_close_without_body", func(t *testing.T) {
		alloc := &stubAllocator{
			closeFn: func(_ context.Context, positionID, reason string) error {
				assert.Equal(t, "pos-1", positionID)
				assert.Empty(t, reason)
				return nil
			},
		}
		h := NewPositionHandler(alloc, testLogger())

		req := httptest.NewRequest(http.MethodPost, "/api/positions/pos-1/close", nil)
		req.SetPathValue("id", "pos-1")
		rec := httptest.NewRecorder()
		h.Close(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("discard_reason_forwarded", func(t *testing.T) {
		var got string
		alloc := &stubAllocator{
			closeFn: func(_ context.Context, _, reason string) error {
				got = reason
				return nil
			},
		}
		h := NewPositionHandler(alloc, testLogger())

		req := httptest.NewRequest(http.MethodPost, "/api/positions/pos-1/close",
			strings.NewReader(`{"discard_reason":"duplicate alert"}`))
		req.SetPathValue("id", "pos-1")
		rec := httptest.NewRecorder()
		h.Close(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "duplicate alert", got)
	})

	t.Run("already_closed", func(t *testing.T) {
		alloc := &stubAllocator{
			closeFn: func(context.Context, string, string) error {
				return domain.ErrInvalidState
			},
		}
		h := NewPositionHandler(alloc, testLogger())

		req := httptest.NewRequest(http.MethodPost, "/api/positions/pos-1/close", nil)
		req.SetPathValue("id", "pos-1")
		rec := httptest.NewRecorder()
		h.Close(rec, req)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestPositionHandler_Pool(t *testing.T) {
	t.Run("state", func(t *testing.T) {
		alloc := &stubAllocator{
			poolFn: func(_ context.Context, pool domain.Pool) (domain.PoolState, error) {
				return domain.PoolState{
					Name:               pool,
					InitialLiquidity:   10000,
					TotalLiquidity:     10050,
					AvailableLiquidity: 9550,
				}, nil
			},
		}
		h := NewPositionHandler(alloc, testLogger())

		req := httptest.NewRequest(http.MethodGet, "/api/pools/alpha", nil)
		req.SetPathValue("pool", "alpha")
		rec := httptest.NewRecorder()
		h.Pool(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "alpha", body["name"])
		assert.Equal(t, 10050.0, body["total_liquidity"])
	})

	t.Run("unknown_pool", func(t *testing.T) {
		h := NewPositionHandler(&stubAllocator{}, testLogger())
		req := httptest.NewRequest(http.MethodGet, "/api/pools/gamma", nil)
		req.SetPathValue("pool", "gamma")
		rec := httptest.NewRecorder()
		h.Pool(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
