// Package middleware provides HTTP middleware components for the Rootline API.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rootline-io/rootline/internal/metrics"
)

// RequestLogger creates a middleware that logs HTTP requests with
// structured logging and records the request counter and latency histogram.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			correlationID := GetCorrelationID(r.Context())

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			logger.Info("HTTP request started",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("user_agent", r.UserAgent()),
				slog.String("correlation_id", correlationID),
			)

			next.ServeHTTP(rw, r)

			duration := time.Since(start)

			metrics.ObserveHTTPRequest(r.Method, routeLabel(r.URL.Path), rw.statusCode, duration)

			logger.Info("HTTP request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status_code", rw.statusCode),
				slog.Duration("duration", duration),
				slog.String("correlation_id", correlationID),
			)
		})
	}
}

// routeLabel maps a request path onto a bounded metric label. Incident IDs
// would otherwise make the route label unbounded, one series per incident.
func routeLabel(path string) string {
	const incidentPrefix = "/api/v1/incidents/"

	if rest, ok := strings.CutPrefix(path, incidentPrefix); ok && rest != "" {
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			return incidentPrefix + "{id}" + rest[idx:]
		}

		return incidentPrefix + "{id}"
	}

	return path
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter

	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
