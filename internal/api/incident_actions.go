package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/rootline-io/rootline/internal/api/middleware"
	"github.com/rootline-io/rootline/internal/correlation"
	"github.com/rootline-io/rootline/internal/incident"
)

// handleAcknowledgeIncident handles POST /api/v1/incidents/{id}/ack.
// Moves an open incident to investigating.
func (s *Server) handleAcknowledgeIncident(w http.ResponseWriter, r *http.Request) {
	s.applyIncidentAction(w, r, "ack", func(id string) (correlation.Incident, error) {
		return s.engine.Acknowledge(id)
	})
}

// handleMitigateIncident handles POST /api/v1/incidents/{id}/mitigate.
func (s *Server) handleMitigateIncident(w http.ResponseWriter, r *http.Request) {
	s.applyIncidentAction(w, r, "mitigate", func(id string) (correlation.Incident, error) {
		return s.engine.Mitigate(id)
	})
}

// handleCloseIncident handles POST /api/v1/incidents/{id}/close.
// Resolves the incident regardless of member alert status.
func (s *Server) handleCloseIncident(w http.ResponseWriter, r *http.Request) {
	s.applyIncidentAction(w, r, "close", func(id string) (correlation.Incident, error) {
		return s.engine.ForceClose(id)
	})
}

// handleConfirmIncident handles POST /api/v1/incidents/{id}/confirm.
// Records an operator confirmation of the current root-cause hypothesis,
// optionally with a fix reference from the request body. Confirmed outcomes
// feed the historical scoring factor for future incidents.
func (s *Server) handleConfirmIncident(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest

	// The body is optional: confirming without a fix reference is valid.
	if r.ContentLength != 0 {
		decoder := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxRequestSize))
		if err := decoder.Decode(&req); err != nil {
			WriteErrorResponse(w, r, s.logger, BadRequest("Invalid JSON: "+err.Error()))

			return
		}
	}

	s.applyIncidentAction(w, r, "confirm", func(id string) (correlation.Incident, error) {
		return s.engine.Confirm(r.Context(), id, req.FixRef)
	})
}

// applyIncidentAction runs one lifecycle action and writes the updated
// incident snapshot, mapping engine errors onto problem responses.
func (s *Server) applyIncidentAction(
	w http.ResponseWriter,
	r *http.Request,
	action string,
	apply func(id string) (correlation.Incident, error),
) {
	correlationID := middleware.GetCorrelationID(r.Context())
	id := r.PathValue("id")

	inc, err := apply(id)
	if err != nil {
		s.logger.Warn("Incident action rejected",
			slog.String("correlation_id", correlationID),
			slog.String("incident_id", id),
			slog.String("action", action),
			slog.String("reason", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, mapEngineError(err))

		return
	}

	s.logger.Info("Incident action applied",
		slog.String("correlation_id", correlationID),
		slog.String("incident_id", id),
		slog.String("action", action),
		slog.String("status", string(inc.Status)),
	)

	data, err := json.Marshal(inc)
	if err != nil {
		s.logger.Error("Failed to marshal incident response",
			slog.String("correlation_id", correlationID),
			slog.String("incident_id", id),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// mapEngineError translates engine and lifecycle errors into RFC 7807
// problems: unknown incidents are 404, state machine rejections are 409,
// everything unexpected is 500.
func mapEngineError(err error) *ProblemDetail {
	switch {
	case errors.Is(err, correlation.ErrIncidentNotFound):
		return NotFound(err.Error())
	case errors.Is(err, incident.ErrTerminalStateImmutable),
		errors.Is(err, incident.ErrBackwardTransition),
		errors.Is(err, incident.ErrInvalidState),
		errors.Is(err, correlation.ErrNoHypothesis),
		errors.Is(err, correlation.ErrSameIncident):
		return Conflict(err.Error())
	default:
		return InternalServerError(err.Error())
	}
}
