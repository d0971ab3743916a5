package history

import (
	"context"
	"log/slog"
	"time"
)

// DefaultLookupTimeout bounds a single collaborator call.
const DefaultLookupTimeout = 2 * time.Second

// Client wraps the history collaborators with bounded timeouts and
// degrade-to-default semantics. The correlation hot path talks to
// collaborators only through it.
type Client struct {
	outcomes OutcomeStore
	checks   CheckSource
	timeout  time.Duration
	logger   *slog.Logger
}

// NewClient creates a Client. A nil checks source is allowed and yields
// empty check lists; outcomes must be non-nil. A non-positive timeout falls
// back to DefaultLookupTimeout.
func NewClient(outcomes OutcomeStore, checks CheckSource, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		outcomes: outcomes,
		checks:   checks,
		timeout:  timeout,
		logger:   logger,
	}
}

// Rate looks up the root-cause rate for a component and pattern.
//
// Returns (rate, true) on success, including a genuine rate of 0 for a
// component with no confirmed history. Returns (0, false) when the lookup
// failed or timed out; the caller excludes the historical factor rather
// than treating the silence as evidence.
func (c *Client) Rate(ctx context.Context, componentID, pattern string) (float64, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	rate, err := c.outcomes.RootCauseRate(ctx, componentID, pattern)
	if err != nil {
		c.logger.Warn("Historical rate lookup degraded",
			slog.String("component_id", componentID),
			slog.String("pattern", pattern),
			slog.String("error", err.Error()))

		return 0, false
	}

	return rate, true
}

// Checks returns the diagnostic checks for a component and pattern, or an
// empty list when no source is configured or the lookup failed.
func (c *Client) Checks(ctx context.Context, componentID, pattern string) []Check {
	if c.checks == nil {
		return []Check{}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	checks, err := c.checks.Checks(ctx, componentID, pattern)
	if err != nil {
		c.logger.Warn("Diagnostic check lookup degraded",
			slog.String("component_id", componentID),
			slog.String("pattern", pattern),
			slog.String("error", err.Error()))

		return []Check{}
	}

	if checks == nil {
		return []Check{}
	}

	return checks
}

// FixRefs returns past fix references for a component and pattern, or an
// empty list when the lookup failed.
func (c *Client) FixRefs(ctx context.Context, componentID, pattern string) []string {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	refs, err := c.outcomes.FixRefs(ctx, componentID, pattern)
	if err != nil {
		c.logger.Warn("Fix reference lookup degraded",
			slog.String("component_id", componentID),
			slog.String("pattern", pattern),
			slog.String("error", err.Error()))

		return []string{}
	}

	if refs == nil {
		return []string{}
	}

	return refs
}

// Record persists an outcome under the client's timeout. Failures are logged
// and swallowed; losing one outcome row must not fail the incident
// transition that produced it.
func (c *Client) Record(ctx context.Context, outcome Outcome) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.outcomes.RecordOutcome(ctx, outcome); err != nil {
		c.logger.Warn("Outcome record failed",
			slog.String("incident_id", outcome.IncidentID),
			slog.String("component_id", outcome.ComponentID),
			slog.String("error", err.Error()))
	}
}
