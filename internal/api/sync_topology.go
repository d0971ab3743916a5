package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/rootline-io/rootline/internal/api/middleware"
	"github.com/rootline-io/rootline/internal/topology"
)

// handleSyncTopology handles POST /api/v1/topology.
// Replaces the service topology wholesale with the submitted snapshot.
// There is no incremental mutation: correlation passes always observe a
// consistent graph, and re-posting the same snapshot is a no-op.
//
// An empty component list is accepted and clears the topology; the engine
// then degrades to temporal and label correlation only.
func (s *Server) handleSyncTopology(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return
	}

	if r.ContentLength > 0 && r.ContentLength > s.config.MaxRequestSize {
		WriteErrorResponse(w, r, s.logger, PayloadTooLarge(
			fmt.Sprintf("Request body exceeds maximum size of %d bytes", s.config.MaxRequestSize),
		))

		return
	}

	if r.ContentLength == 0 {
		WriteErrorResponse(w, r, s.logger, BadRequest("Request body cannot be empty"))

		return
	}

	var snapshot topology.Snapshot

	decoder := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err := decoder.Decode(&snapshot); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Invalid JSON: "+err.Error()))

		return
	}

	components, dependencies := s.topo.ReplaceSnapshot(snapshot)

	s.logger.Info("Topology snapshot replaced",
		slog.String("correlation_id", correlationID),
		slog.Int("components", components),
		slog.Int("dependencies", dependencies),
	)

	response := TopologySyncResponse{
		Components:    components,
		Dependencies:  dependencies,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.Marshal(response)
	if err != nil {
		s.logger.Error("Failed to marshal topology response",
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
