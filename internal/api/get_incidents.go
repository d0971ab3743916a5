package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/rootline-io/rootline/internal/api/middleware"
	"github.com/rootline-io/rootline/internal/incident"
)

// handleListIncidents handles GET /api/v1/incidents.
// Returns every incident the engine currently tracks, oldest window first.
//
// Query parameters:
//   - status: open | investigating | identified | mitigated | resolved |
//     expired | all (default: all)
func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	states, problem := parseStatusFilter(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	incidents := s.engine.Incidents(states...)

	response := IncidentListResponse{
		Incidents:     incidents,
		Total:         len(incidents),
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.Marshal(response)
	if err != nil {
		s.logger.Error("Failed to marshal incidents response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// parseStatusFilter validates the status query parameter and maps it onto
// the engine's state filter. An absent or "all" status means no filter.
func parseStatusFilter(r *http.Request) ([]incident.State, *ProblemDetail) {
	status := r.URL.Query().Get("status")
	if status == "" || status == "all" {
		return nil, nil
	}

	state := incident.State(status)
	if !state.IsValid() {
		return nil, BadRequest("Invalid parameter 'status': unknown incident state " + status)
	}

	return []incident.State{state}, nil
}

// handleGetIncident handles GET /api/v1/incidents/{id}.
// Returns the full incident snapshot including member alert details.
func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	inc, err := s.engine.Incident(r.PathValue("id"))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, mapEngineError(err))

		return
	}

	data, err := json.Marshal(inc)
	if err != nil {
		s.logger.Error("Failed to marshal incident response",
			slog.String("correlation_id", correlationID),
			slog.String("incident_id", inc.ID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleGetInvestigation handles GET /api/v1/incidents/{id}/investigation.
// The investigation path is generated on demand from the current hypothesis,
// so diagnostic checks and fix references reflect history at call time. An
// incident without a hypothesis yields an empty step list, not an error.
func (s *Server) handleGetInvestigation(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	path, err := s.engine.InvestigationPath(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, mapEngineError(err))

		return
	}

	data, err := json.Marshal(path)
	if err != nil {
		s.logger.Error("Failed to marshal investigation response",
			slog.String("correlation_id", correlationID),
			slog.String("incident_id", path.IncidentID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
