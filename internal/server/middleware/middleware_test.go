package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// --- Auth ---

func TestAuth_HealthOpenWithoutKey(t *testing.T) {
	h := Auth("secret")(okHandler())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAuth_MissingKey(t *testing.T) {
	h := Auth("secret")(okHandler())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/pools", nil))

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "missing api key")
}

func TestAuth_AcceptsBearerAndHeader(t *testing.T) {
	h := Auth("secret")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/pools", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/pools", nil)
	req.Header.Set("X-API-Key", "secret")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAuth_RejectsWrongKey(t *testing.T) {
	h := Auth("secret")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/pools", nil)
	req.Header.Set("X-API-Key", "nope")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid api key")
}

func TestAuth_WebSocketQueryParam(t *testing.T) {
	h := Auth("secret")(okHandler())

	// Browser WebSocket clients pass the key in the URL.
	req := httptest.NewRequest(http.MethodGet, "/ws?api_key=secret", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	// The query parameter is only honoured on /ws.
	req = httptest.NewRequest(http.MethodGet, "/api/pools?api_key=secret", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuth_DisabledWhenNoKeyConfigured(t *testing.T) {
	h := Auth("")(okHandler())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/pools", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
}

// --- Logging ---

func logTo(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestLogging_IncludesPool(t *testing.T) {
	var buf bytes.Buffer
	h := Logging(logTo(&buf))(okHandler())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/portfolio/value?pool=alpha", nil))

	line := buf.String()
	assert.Contains(t, line, `"pool":"alpha"`)
	assert.Contains(t, line, `"status":200`)
	assert.Contains(t, line, `"level":"INFO"`)
}

func TestLogging_LevelRouting(t *testing.T) {
	serverError := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	badRequest := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	var buf bytes.Buffer
	rr := httptest.NewRecorder()
	Logging(logTo(&buf))(serverError).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/positions", nil))
	assert.Contains(t, buf.String(), `"level":"ERROR"`)

	buf.Reset()
	rr = httptest.NewRecorder()
	Logging(logTo(&buf))(badRequest).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/positions", nil))
	assert.Contains(t, buf.String(), `"level":"WARN"`)

	buf.Reset()
	rr = httptest.NewRecorder()
	Logging(logTo(&buf))(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Contains(t, buf.String(), `"level":"DEBUG"`)
}

// --- CORS ---

func TestCORS_AllowedOrigin(t *testing.T) {
	h := CORS([]string{"https://dash.example.com"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/pools", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "https://dash.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", rr.Header().Get("Access-Control-Allow-Methods"))
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	h := CORS([]string{"https://dash.example.com"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/pools", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_Preflight(t *testing.T) {
	h := CORS(nil)(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/positions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
}

// --- RateLimit ---

type stubLimiter struct {
	keys  []string
	allow bool
	err   error
}

func (s *stubLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allow, s.err
}

func (s *stubLimiter) Wait(ctx context.Context, key string) error { return nil }

func TestRateLimit_PoolScopedKeys(t *testing.T) {
	lim := &stubLimiter{allow: true}
	h := RateLimit(lim, 10, time.Minute)(okHandler())

	for _, target := range []string{
		"/api/portfolio/value?pool=alpha",
		"/api/portfolio/value?pool=beta",
		"/api/health",
	} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req.RemoteAddr = "10.0.0.7:4455"
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	require.Len(t, lim.keys, 3)
	assert.Equal(t, "ratelimit:10.0.0.7:alpha", lim.keys[0])
	assert.Equal(t, "ratelimit:10.0.0.7:beta", lim.keys[1])
	assert.Equal(t, "ratelimit:10.0.0.7", lim.keys[2])
}

func TestRateLimit_Blocked(t *testing.T) {
	lim := &stubLimiter{allow: false}
	h := RateLimit(lim, 10, 30*time.Second)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/positions", nil)
	req.RemoteAddr = "10.0.0.7:4455"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "31", rr.Header().Get("Retry-After"))
	assert.Contains(t, rr.Body.String(), "rate limit exceeded")
}

func TestRateLimit_FailsOpenOnLimiterError(t *testing.T) {
	lim := &stubLimiter{err: context.DeadlineExceeded}
	h := RateLimit(lim, 10, time.Minute)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/positions", nil)
	req.RemoteAddr = "10.0.0.7:4455"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRateLimit_ForwardedFor(t *testing.T) {
	lim := &stubLimiter{allow: true}
	h := RateLimit(lim, 10, time.Minute)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/positions", nil)
	req.RemoteAddr = "127.0.0.1:9000"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.Len(t, lim.keys, 1)
	assert.True(t, strings.HasPrefix(lim.keys[0], "ratelimit:203.0.113.9"))
}
