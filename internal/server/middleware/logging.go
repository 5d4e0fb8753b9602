package middleware

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// slowRequestThreshold flags ledger requests that took suspiciously long.
// Valuation endpoints wait up to 2s per quote lookup, so anything beyond a
// few seconds means a stalled feed or a pool fold gone quadratic.
const slowRequestThreshold = 5 * time.Second

// Logging returns middleware that logs every request with the fields that
// matter for this API: method, path, the pool being operated on, status, and
// duration. Health checks are demoted to debug so they do not drown the log.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			elapsed := time.Since(start)

			attrs := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", elapsed),
				slog.String("remote_addr", r.RemoteAddr),
			}
			// Most ledger endpoints are pool-scoped via query parameter.
			if pool := r.URL.Query().Get("pool"); pool != "" {
				attrs = append(attrs, slog.String("pool", pool))
			}

			switch {
			case r.URL.Path == "/api/health":
				logger.DebugContext(r.Context(), "http request", attrs...)
			case rec.status >= http.StatusInternalServerError:
				logger.ErrorContext(r.Context(), "http request", attrs...)
			case rec.status >= http.StatusBadRequest:
				logger.WarnContext(r.Context(), "http request", attrs...)
			case elapsed > slowRequestThreshold:
				logger.WarnContext(r.Context(), "slow http request", attrs...)
			default:
				logger.InfoContext(r.Context(), "http request", attrs...)
			}
		})
	}
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

// Write records the implicit 200 when a handler writes without calling
// WriteHeader first.
func (s *statusRecorder) Write(b []byte) (int, error) {
	if !s.wroteHeader {
		s.wroteHeader = true
	}
	return s.ResponseWriter.Write(b)
}

// Hijack implements http.Hijacker so the /ws upgrade works through the
// logging middleware.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
	}
	return h.Hijack()
}
