// Package correlation implements the correlation engine: it groups alerts
// into windows, builds causal graphs over the service topology, scores
// root-cause hypotheses, and drives the incident lifecycle.
//
// The engine is the only writer of window state. All writes to one window
// are serialized by its mutex; windows for unrelated components proceed in
// parallel. Hypotheses are recomputed on every membership change and
// committed through a per-window revision counter, so a stale computation
// can never clobber a newer result.
package correlation

import (
	"context"
	"errors"
	"time"

	"github.com/rootline-io/rootline/internal/alert"
	"github.com/rootline-io/rootline/internal/history"
	"github.com/rootline-io/rootline/internal/incident"
)

// Sentinel errors for engine operations.
var (
	// ErrEngineClosed is returned when alerts are submitted after Close.
	ErrEngineClosed = errors.New("correlation engine is closed")

	// ErrIncidentNotFound is returned by operator operations on unknown incidents.
	ErrIncidentNotFound = errors.New("incident not found")

	// ErrSameIncident is returned when a merge names one incident twice.
	ErrSameIncident = errors.New("cannot merge an incident into itself")

	// ErrNoHypothesis is returned when an operation requires a root-cause
	// hypothesis the incident does not have.
	ErrNoHypothesis = errors.New("incident has no root-cause hypothesis")
)

type (
	// Strategy names the matching rule that joined an alert to a window.
	Strategy string

	// FactorBreakdown records each scoring term's normalized value for one
	// candidate. HistoricalDegraded marks that the historical lookup failed
	// and the remaining weights were renormalized; the historical value is
	// then reported as 0, not treated as evidence of innocence.
	FactorBreakdown struct {
		Time               float64 `json:"time"`
		Dependency         float64 `json:"dependency"`
		Historical         float64 `json:"historical"`
		Criticality        float64 `json:"criticality"`
		HistoricalDegraded bool    `json:"historical_degraded,omitempty"`
	}

	// CausalHop is one edge of the inferred propagation path.
	CausalHop struct {
		From         string  `json:"from"`
		To           string  `json:"to"`
		DelaySeconds float64 `json:"delay_seconds"`
	}

	// Candidate is one scored root-cause candidate.
	Candidate struct {
		ComponentID   string          `json:"component_id"`
		Pattern       string          `json:"pattern,omitempty"`
		Score         float64         `json:"score"`
		Factors       FactorBreakdown `json:"factors"`
		InDegree      int             `json:"in_degree"`
		EarliestAlert time.Time       `json:"earliest_alert"`
	}

	// RootCauseHypothesis is the engine's best current explanation for a
	// window. Replaced atomically on recompute, never patched in place.
	//
	// Fields:
	//   - ComponentID: the winning candidate
	//   - Confidence: the winner's aggregate score in [0,1]
	//   - LowConfidence: true when Confidence is below the configured floor;
	//     the hypothesis is still emitted, never withheld
	//   - Factors: the winner's scoring breakdown
	//   - CausalChain: advisory propagation narrative from the root outward
	//   - Candidates: every candidate in descending score order, feeding the
	//     investigation path
	//   - Revision: the window revision this hypothesis was computed against
	RootCauseHypothesis struct {
		ComponentID   string          `json:"component_id"`
		Confidence    float64         `json:"confidence"`
		LowConfidence bool            `json:"low_confidence"`
		Factors       FactorBreakdown `json:"factors"`
		CausalChain   []CausalHop     `json:"causal_chain,omitempty"`
		Candidates    []Candidate     `json:"candidates,omitempty"`
		Revision      uint64          `json:"revision"`
	}

	// Incident is an externally visible window snapshot: what the API
	// serves and the incident stream publishes.
	Incident struct {
		ID                 string               `json:"incident_id"`
		Status             incident.State       `json:"status"`
		WindowStart        time.Time            `json:"window_start"`
		WindowEnd          time.Time            `json:"window_end"`
		MemberAlertIDs     []string             `json:"member_alert_ids"`
		Alerts             []alert.Alert        `json:"alerts,omitempty"`
		AffectedComponents []string             `json:"affected_components"`
		RootCause          *RootCauseHypothesis `json:"root_cause,omitempty"`
		IsStorm            bool                 `json:"is_storm"`
		Revision           uint64               `json:"revision"`
		MergedInto         string               `json:"merged_into,omitempty"`
	}

	// InvestigationStep is one entry of the ordered investigation path.
	InvestigationStep struct {
		Order       int             `json:"order"`
		ComponentID string          `json:"component_id"`
		Probability float64         `json:"probability"`
		Checks      []history.Check `json:"checks"`
		FixRefs     []string        `json:"historical_fix_refs"`
	}

	// InvestigationPath is the on-demand investigation output for one
	// incident. Not persisted; regenerated per request.
	InvestigationPath struct {
		IncidentID string              `json:"incident_id"`
		Steps      []InvestigationStep `json:"steps"`
	}
)

// Matching strategies, in evaluation order.
const (
	StrategyTemporal    Strategy = "temporal"
	StrategyTopological Strategy = "topological"
	StrategyLabel       Strategy = "label"
	StrategyNone        Strategy = "none"
)

// IncidentSink receives incident snapshots on every state change: creation,
// membership growth, hypothesis updates, lifecycle transitions, merges and
// eviction. Implementations must not block the engine; slow transports
// buffer or drop on their side of the contract.
type IncidentSink interface {
	PublishIncident(ctx context.Context, inc Incident) error
}
