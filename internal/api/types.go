// Package api provides the HTTP API server for the Rootline engine.
package api

import (
	"net/http"

	"github.com/rootline-io/rootline/internal/correlation"
)

type (
	// HealthStatus is the GET /health response.
	HealthStatus struct {
		Status        string `json:"status"`
		ServiceName   string `json:"service_name"`
		Version       string `json:"version"`
		Uptime        string `json:"uptime,omitempty"`
		OpenIncidents int    `json:"open_incidents"`
	}

	// AlertBatchResponse is the POST /api/v1/alerts response. Only rejected
	// events are listed individually; accepted events are implied by the
	// summary counts.
	AlertBatchResponse struct {
		Status        string        `json:"status"` // "success", "partial_success" or "error"
		Summary       BatchSummary  `json:"summary"`
		FailedEvents  []FailedEvent `json:"failed_events"`
		CorrelationID string        `json:"correlation_id"`
		Timestamp     string        `json:"timestamp"`
	}

	// BatchSummary provides aggregate counts for batch ingestion.
	BatchSummary struct {
		Received int `json:"received"`
		Accepted int `json:"accepted"` // validated and queued for correlation
		Failed   int `json:"failed"`
	}

	// FailedEvent describes one rejected event in a batch.
	FailedEvent struct {
		Index     int    `json:"index"` // position in the submitted batch, 0-based
		Reason    string `json:"reason"`
		Retriable bool   `json:"retriable"` // true for transient failures (engine shutting down)
	}

	// IncidentListResponse is the GET /api/v1/incidents response.
	IncidentListResponse struct {
		Incidents     []correlation.Incident `json:"incidents"`
		Total         int                    `json:"total"`
		CorrelationID string                 `json:"correlation_id"`
		Timestamp     string                 `json:"timestamp"`
	}

	// ConfirmRequest is the optional POST .../confirm body. An empty body is
	// a confirmation without a fix reference.
	ConfirmRequest struct {
		FixRef string `json:"fix_ref,omitempty"`
	}

	// TopologySyncResponse is the POST /api/v1/topology response, reporting
	// what the replacement snapshot contained after validation.
	TopologySyncResponse struct {
		Components    int    `json:"components"`
		Dependencies  int    `json:"dependencies"`
		CorrelationID string `json:"correlation_id"`
		Timestamp     string `json:"timestamp"`
	}

	// Route pairs a mux pattern with its handler for declarative route
	// registration with public-endpoint bypass support.
	Route struct {
		Path    string           // mux pattern, e.g. "GET /ping"
		Handler http.HandlerFunc // handler for this route
	}
)
