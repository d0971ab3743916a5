// Package alert defines the canonical alert model and the normalization path
// from raw monitoring events into it.
//
// Every inbound record, whatever its source (HTTP batch, Kafka feed), becomes
// an Alert before the correlation engine sees it. Normalization resolves the
// component via topology label matching, fills in a deterministic fingerprint
// when the producer did not supply one, and assigns the engine-side ID.
package alert

import (
	"fmt"
	"time"
)

type (
	// Severity classifies how urgent an alert is.
	Severity string

	// Status is the alert's lifecycle state as reported by the source.
	Status string

	// Event is an inbound alert record before normalization.
	//
	// Fields:
	//   - Fingerprint: producer-supplied identity; computed from Name+Labels when empty
	//   - Name: alert rule name (e.g., "HighErrorRate")
	//   - Labels: key/value pairs used for component resolution and label correlation
	//   - Severity: info, warning or critical; defaults to warning when empty
	//   - StartedAt: when the alert began firing (required)
	//   - Status: firing or resolved; defaults to firing when empty
	//   - ResolvedAt: resolution time for resolved events; falls back to StartedAt
	Event struct {
		Fingerprint string            `json:"fingerprint,omitempty"`
		Name        string            `json:"name"`
		Labels      map[string]string `json:"labels,omitempty"`
		Severity    Severity          `json:"severity,omitempty"`
		StartedAt   time.Time         `json:"started_at"`
		Status      Status            `json:"status,omitempty"`
		ResolvedAt  *time.Time        `json:"resolved_at,omitempty"`
	}

	// Alert is the canonical, normalized alert.
	//
	// Immutable after normalization except Status and ResolvedAt, which flip
	// exactly once when a matching resolved event arrives.
	//
	// Fields:
	//   - ID: engine-assigned UUID
	//   - Fingerprint: deterministic identity (SHA-256 over name + sorted labels)
	//   - ComponentID: topology component, "" when no label matcher applied
	//   - Name: alert rule name, may be empty for fingerprint-only producers
	//   - Severity: info, warning or critical
	//   - StartedAt: when the alert began firing
	//   - Labels: normalized label set (never nil)
	//   - Status: firing or resolved
	//   - ResolvedAt: set when Status is resolved
	Alert struct {
		ID          string            `json:"id"`
		Fingerprint string            `json:"fingerprint"`
		ComponentID string            `json:"component_id,omitempty"`
		Name        string            `json:"name,omitempty"`
		Severity    Severity          `json:"severity"`
		StartedAt   time.Time         `json:"started_at"`
		Labels      map[string]string `json:"labels"`
		Status      Status            `json:"status"`
		ResolvedAt  *time.Time        `json:"resolved_at,omitempty"`
	}
)

// Severity values.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Status values.
const (
	StatusFiring   Status = "firing"
	StatusResolved Status = "resolved"
)

// patternKeyHexLen is how much of the fingerprint stands in for a missing
// alert name when building the pattern key.
const patternKeyHexLen = 12

// IsValid reports whether the severity is one of the known values.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	default:
		return false
	}
}

// IsValid reports whether the status is one of the known values.
func (s Status) IsValid() bool {
	switch s {
	case StatusFiring, StatusResolved:
		return true
	default:
		return false
	}
}

// IsResolved reports whether the alert has stopped firing.
func (a *Alert) IsResolved() bool {
	return a.Status == StatusResolved
}

// Resolve marks the alert resolved at the given time. Resolving an already
// resolved alert keeps the original resolution time.
func (a *Alert) Resolve(at time.Time) {
	if a.Status == StatusResolved {
		return
	}

	a.Status = StatusResolved
	resolvedAt := at
	a.ResolvedAt = &resolvedAt
}

// PatternKey identifies the alert's pattern for historical lookups: the rule
// name when present, otherwise a fingerprint prefix.
func (a *Alert) PatternKey() string {
	if a.Name != "" {
		return a.Name
	}

	if len(a.Fingerprint) >= patternKeyHexLen {
		return a.Fingerprint[:patternKeyHexLen]
	}

	return a.Fingerprint
}

// DedupKey is the duplicate-delivery identity: the same alert instance
// delivered twice in the same status is dropped, while the resolved follow-up
// of a firing alert is processed.
func (a *Alert) DedupKey() string {
	return dedupKey(a.Fingerprint, a.StartedAt, a.Status)
}

// InstanceKey identifies the alert instance independent of status. A resolved
// event targets the firing member with the same instance key.
func (a *Alert) InstanceKey() string {
	return fmt.Sprintf("%s|%s", a.Fingerprint, a.StartedAt.UTC().Format(time.RFC3339Nano))
}

// DedupKeyFor builds the dedup key for an alert instance in a given status,
// without needing the alert itself. Callers use it to clear both status
// variants when an instance leaves scope.
func DedupKeyFor(fingerprint string, startedAt time.Time, status Status) string {
	return dedupKey(fingerprint, startedAt, status)
}

func dedupKey(fingerprint string, startedAt time.Time, status Status) string {
	return fmt.Sprintf("%s|%s|%s", fingerprint, startedAt.UTC().Format(time.RFC3339Nano), status)
}
