package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/rootline-io/rootline/internal/alert"
	"github.com/rootline-io/rootline/internal/api/middleware"
	"github.com/rootline-io/rootline/internal/correlation"
)

// handleIngestAlerts handles alert ingestion.
// POST /api/v1/alerts - submit a batch of alert events for correlation.
//
// Request validation (returns 4xx):
//   - 415 Unsupported Media Type: Content-Type must be application/json
//   - 413 Payload Too Large: request body exceeds MaxRequestSize
//   - 400 Bad Request: empty body, invalid JSON, or empty event array
//
// Success responses:
//   - 200 OK: every event validated and queued
//   - 207 Multi-Status: partial acceptance, rejected events listed
//   - 422 Unprocessable Entity: every event rejected
//
// Acceptance means validated and handed to the correlation engine;
// dedup and window placement happen asynchronously on the worker pool.
func (s *Server) handleIngestAlerts(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return
	}

	events, problem := s.parseAlertBatch(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	response := s.processAlertBatch(r, events)

	statusCode := s.sendBatchResponse(w, r, response)

	s.logger.Info("Alert batch processed",
		slog.String("correlation_id", response.CorrelationID),
		slog.String("status", response.Status),
		slog.Int("received", response.Summary.Received),
		slog.Int("accepted", response.Summary.Accepted),
		slog.Int("failed", response.Summary.Failed),
		slog.Int("status_code", statusCode),
		slog.Duration("duration", time.Since(startTime)),
	)
}

// parseAlertBatch parses and validates the request body.
// Returns the decoded events or a ProblemDetail when parsing fails.
func (s *Server) parseAlertBatch(r *http.Request) ([]alert.Event, *ProblemDetail) {
	// Fail fast on declared oversized bodies; unknown lengths (-1) fall
	// through to the limited reader.
	if r.ContentLength > 0 && r.ContentLength > s.config.MaxRequestSize {
		return nil, PayloadTooLarge(
			fmt.Sprintf("Request body exceeds maximum size of %d bytes", s.config.MaxRequestSize),
		)
	}

	if r.ContentLength == 0 {
		return nil, BadRequest("Request body cannot be empty")
	}

	var events []alert.Event

	decoder := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err := decoder.Decode(&events); err != nil {
		return nil, BadRequest("Invalid JSON: " + err.Error())
	}

	if len(events) == 0 {
		return nil, BadRequest("Event array cannot be empty")
	}

	return events, nil
}

// processAlertBatch submits each event to the engine and collects per-event
// outcomes into the batch response.
func (s *Server) processAlertBatch(r *http.Request, events []alert.Event) *AlertBatchResponse {
	correlationID := middleware.GetCorrelationID(r.Context())

	failedEvents := make([]FailedEvent, 0)
	accepted := 0

	for i := range events {
		err := s.engine.Process(r.Context(), &events[i])
		if err == nil {
			accepted++

			continue
		}

		// Shutdown and cancellation are transient from the caller's view;
		// validation failures are permanent.
		retriable := errors.Is(err, correlation.ErrEngineClosed) ||
			errors.Is(err, context.Canceled) ||
			errors.Is(err, context.DeadlineExceeded)

		failedEvents = append(failedEvents, FailedEvent{
			Index:     i,
			Reason:    err.Error(),
			Retriable: retriable,
		})

		s.logger.Warn("Alert event rejected",
			slog.String("correlation_id", correlationID),
			slog.Int("event_index", i),
			slog.String("event_name", events[i].Name),
			slog.String("reason", err.Error()),
		)
	}

	status := "success"
	if len(failedEvents) > 0 && accepted == 0 {
		status = "error"
	}

	return &AlertBatchResponse{
		Status: status,
		Summary: BatchSummary{
			Received: len(events),
			Accepted: accepted,
			Failed:   len(failedEvents),
		},
		FailedEvents:  failedEvents,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
}

// determineBatchStatusCode maps batch outcomes onto an HTTP status.
//
//   - 200 OK: every event accepted
//   - 207 Multi-Status: partial acceptance
//   - 422 Unprocessable Entity: every event rejected
func determineBatchStatusCode(response *AlertBatchResponse) int {
	if response.Summary.Failed == 0 {
		return http.StatusOK
	}

	if response.Summary.Accepted > 0 {
		response.Status = "partial_success"

		return http.StatusMultiStatus
	}

	return http.StatusUnprocessableEntity
}

// sendBatchResponse marshals and sends the batch response, returning the
// HTTP status code for logging.
func (s *Server) sendBatchResponse(
	w http.ResponseWriter,
	r *http.Request,
	response *AlertBatchResponse,
) int {
	statusCode := determineBatchStatusCode(response)

	data, err := json.Marshal(response)
	if err != nil {
		s.logger.Error("Failed to marshal batch response",
			slog.String("correlation_id", response.CorrelationID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write batch response",
			slog.String("correlation_id", response.CorrelationID),
			slog.String("error", err.Error()),
		)
	}

	return statusCode
}
