// Package topology maintains the service dependency graph used for
// correlation: components, their depends-on edges, and the label matchers
// that map alert label sets onto components.
//
// The graph is replaced wholesale from snapshots (YAML file or HTTP sync);
// there is no incremental mutation, so a correlation pass always observes a
// consistent topology.
package topology

import "strings"

type (
	// ComponentType classifies a component for operators. The engine treats
	// all types identically; the type is carried through to incident output.
	ComponentType string

	// DependencyKind describes how a dependent consumes its dependency.
	DependencyKind string

	// Component is a node in the service topology.
	//
	// Fields:
	//   - ID: stable identifier, unique within a snapshot
	//   - Name: human-readable display name
	//   - Type: coarse classification (compute, database, ...)
	//   - Criticality: tier 1..3, where 1 is the most critical
	//   - Labels: matcher used to resolve alerts to this component; a value
	//     ending in "*" matches as a prefix, anything else matches exactly
	Component struct {
		ID          string            `json:"id"          yaml:"id"`
		Name        string            `json:"name"        yaml:"name"`
		Type        ComponentType     `json:"type"        yaml:"type"`
		Criticality int               `json:"criticality" yaml:"criticality"`
		Labels      map[string]string `json:"labels"      yaml:"labels"`
	}

	// Dependency is a directed depends-on edge: From depends on To.
	// Failure flows the other way (To failing degrades From).
	Dependency struct {
		From          string         `json:"from"                     yaml:"from"`
		To            string         `json:"to"                       yaml:"to"`
		Kind          DependencyKind `json:"kind"                     yaml:"kind"`
		FailureImpact string         `json:"failure_impact,omitempty" yaml:"failure_impact,omitempty"`
	}

	// Snapshot is a complete topology: the unit of replacement.
	Snapshot struct {
		Components   []Component  `json:"components"   yaml:"components"`
		Dependencies []Dependency `json:"dependencies" yaml:"dependencies"`
	}
)

// Component types.
const (
	TypeCompute  ComponentType = "compute"
	TypeDatabase ComponentType = "database"
	TypeCache    ComponentType = "cache"
	TypeQueue    ComponentType = "queue"
	TypeStorage  ComponentType = "storage"
	TypeExternal ComponentType = "external"
	TypeCustom   ComponentType = "custom"
)

// Dependency kinds.
const (
	KindSync     DependencyKind = "sync"
	KindAsync    DependencyKind = "async"
	KindOptional DependencyKind = "optional"
)

// Criticality tiers. Values outside the range are clamped on insert.
const (
	MinCriticality = 1
	MaxCriticality = 3
)

// clampCriticality forces a tier into the valid range. Anything outside it,
// including the zero value of an unset field, maps to the least critical
// tier rather than the most.
func clampCriticality(tier int) int {
	if tier < MinCriticality || tier > MaxCriticality {
		return MaxCriticality
	}

	return tier
}

// matchLabel reports whether an alert label value satisfies a matcher value.
// A matcher value ending in "*" is a prefix match; anything else is exact.
func matchLabel(matcher, value string) bool {
	if strings.HasSuffix(matcher, "*") {
		return strings.HasPrefix(value, strings.TrimSuffix(matcher, "*"))
	}

	return matcher == value
}
