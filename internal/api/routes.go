// Package api provides the HTTP API server for the Rootline engine.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rootline-io/rootline/internal/api/middleware"
)

const (
	healthCheckTimeout = 2 * time.Second
	expectedURLParts   = 2
	serviceVersion     = "v0.3.0"
)

// setupRoutes sets up all HTTP routes for the API server.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// Public endpoints: health probes and metrics bypass authentication.
	s.registerPublicRoutes(
		mux,
		Route{"GET /ping", s.handlePing},                    // K8s liveness probe
		Route{"GET /ready", s.handleReady},                  // K8s readiness probe
		Route{"GET /health", s.handleHealth},                // status, uptime, version
		Route{"GET /metrics", promhttp.Handler().ServeHTTP}, // Prometheus scrape target
		Route{"/", s.handleNotFound},                        // catch-all 404
	)

	// Alert ingestion
	mux.HandleFunc("POST /api/v1/alerts", s.handleIngestAlerts)

	// Incident queries
	mux.HandleFunc("GET /api/v1/incidents", s.handleListIncidents)
	mux.HandleFunc("GET /api/v1/incidents/{id}", s.handleGetIncident)
	mux.HandleFunc("GET /api/v1/incidents/{id}/investigation", s.handleGetInvestigation)

	// Operator lifecycle actions
	mux.HandleFunc("POST /api/v1/incidents/{id}/ack", s.handleAcknowledgeIncident)
	mux.HandleFunc("POST /api/v1/incidents/{id}/mitigate", s.handleMitigateIncident)
	mux.HandleFunc("POST /api/v1/incidents/{id}/close", s.handleCloseIncident)
	mux.HandleFunc("POST /api/v1/incidents/{id}/confirm", s.handleConfirmIncident)

	// Topology snapshot replacement
	mux.HandleFunc("POST /api/v1/topology", s.handleSyncTopology)
}

// registerPublicRoutes registers routes that bypass authentication and rate
// limiting: the handler goes on the mux and the path is registered as a
// public endpoint with the auth middleware.
//
// Only health probes and observability endpoints belong here. Never register
// a business endpoint as public.
func (s *Server) registerPublicRoutes(mux *http.ServeMux, routes ...Route) {
	validHTTPMethods := map[string]bool{
		"GET":    true,
		"POST":   true,
		"PUT":    true,
		"PATCH":  true,
		"DELETE": true,
	}

	for _, route := range routes {
		mux.Handle(route.Path, route.Handler)

		// Method-qualified patterns ("GET /ping") match requests whose
		// r.URL.Path is just "/ping", so strip the method prefix before
		// registering the bypass.
		path := route.Path

		parts := strings.Fields(path)
		if len(parts) == expectedURLParts && validHTTPMethods[parts[0]] {
			path = strings.TrimSpace(parts[1])
		}

		if path == "" {
			s.logger.Warn("Malformed route path detected, ignoring route", slog.String("path", route.Path))

			continue
		}

		middleware.RegisterPublicEndpoint(path)
	}
}

// handlePing responds to liveness probes.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("X-Rootline-Version", serviceVersion)
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("pong")); err != nil {
		s.logger.Error("Failed to write ping response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}

// healthChecker is the optional probe surface of a key store. The in-memory
// store has no backend to check and does not implement it.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// handleReady responds to readiness probes with a storage backend check.
//
// Response codes:
//   - 200 OK: storage is reachable (or the server runs without one)
//   - 503 Service Unavailable: storage backend is unhealthy
//
// When the ready endpoint returns 503, K8s stops routing traffic to the pod
// until the backend recovers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	checker, ok := s.keyStore.(healthChecker)
	if !ok {
		// No persistent backend behind this server; correlation is
		// in-memory and always ready.
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)

		if _, err := w.Write([]byte("ready")); err != nil {
			s.logger.Error("Failed to write ready response",
				slog.String("correlation_id", correlationID),
				slog.String("error", err.Error()),
			)
		}

		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := checker.HealthCheck(ctx); err != nil {
		s.logger.Error("Storage health check failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusServiceUnavailable)

		if _, writeErr := w.Write([]byte("storage unavailable")); writeErr != nil {
			s.logger.Error("Failed to write unavailable response",
				slog.String("correlation_id", correlationID),
				slog.String("error", writeErr.Error()),
			)
		}

		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("ready")); err != nil {
		s.logger.Error("Failed to write ready response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}

// handleHealth returns service health details including the number of
// incidents the engine currently tracks in a non-terminal state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	var uptime string

	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Round(time.Second).String()
	}

	openIncidents := 0

	if s.engine != nil {
		for _, inc := range s.engine.Incidents() {
			if !inc.Status.IsTerminal() {
				openIncidents++
			}
		}
	}

	health := HealthStatus{
		Status:        "healthy",
		ServiceName:   "rootline",
		Version:       serviceVersion,
		Uptime:        uptime,
		OpenIncidents: openIncidents,
	}

	data, err := json.Marshal(health)
	if err != nil {
		s.logger.Error("Failed to encode health response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode health response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Rootline-Version", serviceVersion)
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write health response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}

// handleNotFound returns RFC 7807 compliant 404 responses for unknown paths.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}

// hasJSONContentType checks whether Content-Type starts with
// "application/json", allowing charset parameters.
func hasJSONContentType(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(contentType), "application/json")
}
