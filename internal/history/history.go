// Package history defines the engine's collaborator contracts for incident
// memory: how often a component was the confirmed root cause of an alert
// pattern, which diagnostic checks apply to it, and which past fixes are
// worth reading.
//
// The engine never blocks on these collaborators. Every lookup is bounded by
// a timeout and degrades to a neutral default on failure; the correlation
// result records that the signal was missing rather than waiting for it.
package history

import (
	"context"
	"time"
)

type (
	// Outcome records how one incident ended for one hypothesized component.
	//
	// Fields:
	//   - IncidentID: the incident the hypothesis belonged to
	//   - ComponentID: the hypothesized root-cause component
	//   - Pattern: the alert pattern key the hypothesis was scored against
	//   - Confirmed: whether an operator confirmed this component as the cause
	//   - FixRef: optional pointer to the fix (runbook, postmortem, PR)
	//   - OccurredAt: when the incident closed
	Outcome struct {
		IncidentID  string    `json:"incident_id"`
		ComponentID string    `json:"component_id"`
		Pattern     string    `json:"pattern"`
		Confirmed   bool      `json:"confirmed"`
		FixRef      string    `json:"fix_ref,omitempty"`
		OccurredAt  time.Time `json:"occurred_at"`
	}

	// Check is one diagnostic step an operator can run against a component.
	Check struct {
		Description string `json:"description"`
		Command     string `json:"command,omitempty"`
	}
)

// OutcomeStore records incident outcomes and answers root-cause-rate
// lookups over them.
type OutcomeStore interface {
	// RecordOutcome persists one outcome.
	RecordOutcome(ctx context.Context, outcome Outcome) error

	// RootCauseRate returns confirmed/total outcomes for the component and
	// pattern. A component never hypothesized for the pattern yields 0 with
	// no error.
	RootCauseRate(ctx context.Context, componentID, pattern string) (float64, error)

	// FixRefs returns references from confirmed outcomes for the component
	// and pattern, most recent first.
	FixRefs(ctx context.Context, componentID, pattern string) ([]string, error)
}

// CheckSource answers which diagnostic checks apply to a component and alert
// pattern. The engine stores no diagnostic content itself.
type CheckSource interface {
	Checks(ctx context.Context, componentID, pattern string) ([]Check, error)
}
