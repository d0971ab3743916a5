package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/rootline-io/rootline/internal/config"
	"github.com/rootline-io/rootline/internal/history"
)

// Sentinel errors for incident outcome storage operations.
var (
	// ErrInvalidCleanupInterval is returned when an invalid cleanup interval is provided.
	ErrInvalidCleanupInterval = errors.New("cleanup interval must be greater than zero")

	// ErrOutcomeIncidentEmpty is returned when an outcome carries no incident ID.
	ErrOutcomeIncidentEmpty = errors.New("outcome incident ID is required")

	// ErrOutcomeComponentEmpty is returned when an outcome carries no component ID.
	ErrOutcomeComponentEmpty = errors.New("outcome component ID is required")

	// Compile-time interface assertions to ensure HistoryStore implements both interfaces.
	// This provides early compile-time errors if interface contracts change.

	// HistoryStore implements history.OutcomeStore (outcome writes, rate and fix-ref reads).
	_ history.OutcomeStore = (*HistoryStore)(nil)

	// HistoryStore implements history.CheckSource (diagnostic check reads).
	_ history.CheckSource = (*HistoryStore)(nil)
)

// Cleanup configuration constants.
const (
	// cleanupQueryTimeout is the maximum time allowed for a single cleanup query execution.
	cleanupQueryTimeout = 30 * time.Second
	// shutdownTimeout is the maximum time to wait for the cleanup goroutine to stop during Close().
	shutdownTimeout = 5 * time.Second
	// cleanupBatchSize is the maximum number of rows to delete per batch to avoid long-running locks.
	cleanupBatchSize = 10000
	// batchSleepDuration is the sleep time between batches to avoid overwhelming the database.
	batchSleepDuration = 100 * time.Millisecond
	// maxFixRefs caps how many historical fix references a single lookup returns.
	maxFixRefs = 5
)

// HistoryStore implements history.OutcomeStore and history.CheckSource with a
// PostgreSQL backend.
//
// Outcome rows feed the historical factor of root-cause scoring: the
// confirmed rate per (component, pattern) and the fix references attached to
// confirmed incidents. Diagnostic check rows feed investigation path steps.
//
// A background goroutine prunes outcome rows older than the configured
// retention so the table does not grow without bound. A retention of zero
// keeps outcomes forever and starts no goroutine.
type HistoryStore struct {
	conn            *Connection
	logger          *slog.Logger
	retention       time.Duration
	cleanupInterval time.Duration
	cleanupStop     chan struct{} // Signal to stop cleanup goroutine
	cleanupDone     chan struct{} // Signal cleanup has stopped
	closeOnce       sync.Once
}

// NewHistoryStore creates a PostgreSQL-backed history store with background
// retention cleanup.
//
// The retention controls how long outcome rows are kept; zero disables
// pruning. The cleanup interval controls how often the pruning goroutine
// wakes up and must be positive even when retention is zero, so that
// misconfiguration surfaces at boot rather than silently.
func NewHistoryStore(conn *Connection, retention, cleanupInterval time.Duration) (*HistoryStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	if cleanupInterval <= 0 {
		return nil, ErrInvalidCleanupInterval
	}

	if retention < 0 {
		return nil, ErrNegativeRetention
	}

	store := &HistoryStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("ROOTLINE_LOG_LEVEL", slog.LevelInfo),
		})),
		retention:       retention,
		cleanupInterval: cleanupInterval,
		cleanupStop:     make(chan struct{}), // Signal to stop cleanup goroutine
		cleanupDone:     make(chan struct{}), // Signal cleanup has stopped
	}

	if retention > 0 {
		// Start cleanup goroutine
		go store.runCleanup()

		store.logger.Info("Started outcome retention cleanup goroutine",
			slog.Duration("interval", cleanupInterval),
			slog.Duration("retention", retention))
	} else {
		// No goroutine to wait for on Close
		close(store.cleanupDone)

		store.logger.Info("Outcome retention disabled, keeping incident history indefinitely")
	}

	return store, nil
}

// Close stops the cleanup goroutine gracefully.
// This method is safe to call multiple times.
//
// Note: Does NOT close the database connection, as the connection is managed
// externally via dependency injection. The caller is responsible for closing
// the connection.
func (s *HistoryStore) Close() error {
	s.closeOnce.Do(func() {
		// Signal cleanup goroutine to stop
		close(s.cleanupStop)

		// Wait for cleanup to finish (with timeout)
		select {
		case <-s.cleanupDone:
			s.logger.Info("Cleanup goroutine stopped gracefully")
		case <-time.After(shutdownTimeout):
			s.logger.Warn("Cleanup goroutine did not stop within timeout")
		}
	})

	return nil
}

// HealthCheck verifies the database connection is healthy and ready to serve requests.
//
// Used by readiness probes and the /ready and /health endpoints.
func (s *HistoryStore) HealthCheck(ctx context.Context) error {
	if s.conn == nil {
		return ErrNoDatabaseConnection
	}

	return s.conn.HealthCheck(ctx)
}

// RecordOutcome persists one incident outcome, keyed by incident ID.
//
// The write is an upsert: re-delivery after a crash or a confirm that
// follows an earlier unconfirmed close simply replaces the row, so at most
// one outcome exists per incident.
func (s *HistoryStore) RecordOutcome(ctx context.Context, outcome history.Outcome) error {
	if outcome.IncidentID == "" {
		return ErrOutcomeIncidentEmpty
	}

	if outcome.ComponentID == "" {
		return ErrOutcomeComponentEmpty
	}

	occurredAt := outcome.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	query := `
		INSERT INTO incident_outcomes (incident_id, component_id, pattern, confirmed, fix_ref, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (incident_id) DO UPDATE
		SET component_id = EXCLUDED.component_id,
		    pattern      = EXCLUDED.pattern,
		    confirmed    = EXCLUDED.confirmed,
		    fix_ref      = EXCLUDED.fix_ref,
		    occurred_at  = EXCLUDED.occurred_at
	`

	_, err := s.conn.ExecContext(
		ctx,
		query,
		outcome.IncidentID,
		outcome.ComponentID,
		outcome.Pattern,
		outcome.Confirmed,
		outcome.FixRef,
		occurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record incident outcome: %w", err)
	}

	return nil
}

// RootCauseRate returns the confirmed rate for a component and pattern.
//
// A component that was never hypothesized yields 0 with no error; the caller
// distinguishes that from a degraded lookup by the error value.
func (s *HistoryStore) RootCauseRate(ctx context.Context, componentID, pattern string) (float64, error) {
	query := `
		SELECT COUNT(*) FILTER (WHERE confirmed), COUNT(*)
		FROM incident_outcomes
		WHERE component_id = $1 AND pattern = $2
	`

	var confirmed, total int64

	err := s.conn.QueryRowContext(ctx, query, componentID, pattern).Scan(&confirmed, &total)
	if err != nil {
		return 0, fmt.Errorf("failed to query root cause rate: %w", err)
	}

	if total == 0 {
		return 0, nil
	}

	return float64(confirmed) / float64(total), nil
}

// FixRefs returns fix references from confirmed outcomes for a component and
// pattern, most recent first, capped at maxFixRefs.
func (s *HistoryStore) FixRefs(ctx context.Context, componentID, pattern string) ([]string, error) {
	query := `
		SELECT fix_ref
		FROM incident_outcomes
		WHERE component_id = $1 AND pattern = $2 AND confirmed AND fix_ref <> ''
		ORDER BY occurred_at DESC
		LIMIT $3
	`

	rows, err := s.conn.QueryContext(ctx, query, componentID, pattern, maxFixRefs)
	if err != nil {
		return nil, fmt.Errorf("failed to query fix references: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	refs := []string{}

	for rows.Next() {
		var ref string

		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("failed to scan fix reference: %w", err)
		}

		refs = append(refs, ref)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return refs, nil
}

// Checks returns the curated diagnostic checks for a component.
//
// Rows whose pattern matches exactly come first, followed by the component's
// generic checks (stored with an empty pattern). Within each group the
// operator-assigned position decides the order.
func (s *HistoryStore) Checks(ctx context.Context, componentID, pattern string) ([]history.Check, error) {
	query := `
		SELECT description, command
		FROM diagnostic_checks
		WHERE component_id = $1 AND (pattern = $2 OR pattern = '')
		ORDER BY CASE WHEN pattern = $2 THEN 0 ELSE 1 END, position ASC
	`

	rows, err := s.conn.QueryContext(ctx, query, componentID, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to query diagnostic checks: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	checks := []history.Check{}

	for rows.Next() {
		var check history.Check

		if err := rows.Scan(&check.Description, &check.Command); err != nil {
			return nil, fmt.Errorf("failed to scan diagnostic check: %w", err)
		}

		checks = append(checks, check)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return checks, nil
}

// runCleanup runs periodic retention cleanup until Close() is called.
func (s *HistoryStore) runCleanup() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	// Create a cancellable context for cleanup operations
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		select {
		case <-s.cleanupStop:
			cancel()
			s.logger.Info("Stopping outcome retention cleanup goroutine")

			return
		case <-ticker.C:
			// Create context with timeout for cleanup query
			cleanupCtx, cleanupCancel := context.WithTimeout(ctx, cleanupQueryTimeout)
			s.cleanupExpiredOutcomes(cleanupCtx)
			cleanupCancel()
		}
	}
}

// cleanupExpiredOutcomes deletes outcome rows older than the retention window
// in batches.
//
// Batching strategy:
//   - Deletes up to cleanupBatchSize rows per batch to avoid long-running table locks
//   - Loops until no more expired rows exist (handles large backlogs)
//   - Sleeps batchSleepDuration between batches so other queries can interleave
//   - Respects context cancellation for graceful shutdown mid-cleanup
//
// Failures are logged but don't crash the cleanup goroutine.
func (s *HistoryStore) cleanupExpiredOutcomes(ctx context.Context) {
	if s.conn == nil {
		s.logger.Error("Cleanup skipped: database connection is nil")

		return
	}

	cutoff := time.Now().UTC().Add(-s.retention)
	startTime := time.Now()
	totalDeleted := int64(0)
	batchCount := 0

	// Batch delete loop - continues until no more expired rows exist
	for {
		// Check if context is cancelled (shutdown requested or timeout exceeded)
		if ctx.Err() != nil {
			s.logger.Info("Cleanup cancelled",
				slog.Int64("rows_deleted", totalDeleted),
				slog.Int("batches_completed", batchCount),
				slog.Duration("duration", time.Since(startTime)))

			return
		}

		// Oldest expired rows are deleted first (FIFO)
		query := `
			DELETE FROM incident_outcomes
			WHERE incident_id IN (
				SELECT incident_id
				FROM incident_outcomes
				WHERE occurred_at < $1
				ORDER BY occurred_at ASC
				LIMIT $2
			)
		`

		result, err := s.conn.ExecContext(ctx, query, cutoff, cleanupBatchSize)
		if err != nil {
			s.logger.Error("Failed to cleanup expired incident outcomes",
				slog.String("error", err.Error()),
				slog.Int64("rows_deleted_before_error", totalDeleted),
				slog.Int("batches_completed", batchCount),
				slog.String("status", "failed"))

			return
		}

		rowsDeleted, err := result.RowsAffected()
		if err != nil {
			// DELETE succeeded but can't get row count - log as warning with success status
			s.logger.Warn("Cleanup batch completed but row count unavailable",
				slog.String("error", err.Error()),
				slog.Int64("rows_deleted_before_error", totalDeleted),
				slog.Int("batches_completed", batchCount),
				slog.Duration("duration", time.Since(startTime)),
				slog.String("status", "success"))

			return
		}

		totalDeleted += rowsDeleted
		batchCount++

		// If we deleted fewer rows than batch size, we're done (no more expired rows)
		if rowsDeleted < cleanupBatchSize {
			break
		}

		// Small sleep between batches to avoid overwhelming the database
		select {
		case <-ctx.Done():
			// Context cancelled during sleep - exit gracefully
			s.logger.Info("Cleanup cancelled between batches",
				slog.Int64("rows_deleted", totalDeleted),
				slog.Int("batches_completed", batchCount),
				slog.Duration("duration", time.Since(startTime)))

			return
		case <-time.After(batchSleepDuration):
			// Continue to next batch
		}
	}

	duration := time.Since(startTime)

	// Log cleanup execution (Debug level for 0 rows, Info for >0) for monitoring purposes
	if totalDeleted == 0 {
		s.logger.Debug("Cleanup completed - no expired outcomes found",
			slog.Int64("rows_deleted", 0),
			slog.Int("batches_completed", batchCount),
			slog.Duration("duration", duration),
			slog.String("status", "success"))
	} else {
		s.logger.Info("Cleaned up expired incident outcomes",
			slog.Int64("rows_deleted", totalDeleted),
			slog.Int("batches_completed", batchCount),
			slog.Duration("duration", duration),
			slog.String("status", "success"))
	}
}
