package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/quantrail/alertledger/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps a domain error to its HTTP status and writes it.
// Unknown errors become an opaque 500 with the given fallback message.
func writeDomainError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInsufficientLiquidity),
		errors.Is(err, domain.ErrOverAllocation),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrLockHeld):
		// Retryable: the position or pool is busy.
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

// parsePool extracts and validates the pool query parameter.
func parsePool(r *http.Request) (domain.Pool, bool) {
	pool := domain.Pool(r.URL.Query().Get("pool"))
	return pool, domain.ValidPool(pool)
}

// parseDate parses a YYYY-MM-DD query parameter.
func parseDate(r *http.Request, name string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", r.URL.Query().Get(name), time.UTC)
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
