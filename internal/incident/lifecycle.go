// Package incident provides the incident lifecycle state machine.
// Handles operator-driven and engine-driven transitions over correlation
// windows.
//
// Usage:
//
//	The correlation engine owns the state of each window and consults this
//	package before every transition, whether triggered by an operator action
//	(ack, mitigate, close) or by the engine itself (auto-resolve, eviction).
//
// The machine is strictly forward: open → investigating → identified →
// mitigated → resolved. Operators may jump forward (mitigate an unacked
// incident, force close anything non-terminal) but never backward; a
// recurrence after resolution opens a new incident rather than reviving the
// old one.
package incident

import (
	"errors"
	"fmt"
)

// State is an incident's position in its lifecycle.
type State string

// Lifecycle states. Resolved and expired are terminal.
const (
	StateOpen          State = "open"
	StateInvestigating State = "investigating"
	StateIdentified    State = "identified"
	StateMitigated     State = "mitigated"
	StateResolved      State = "resolved"
	StateExpired       State = "expired"
)

// Sentinel errors for state transition validation.
// These can be used with errors.Is() for error checking.
var (
	// ErrInvalidState indicates a state outside the known set.
	ErrInvalidState = errors.New("invalid incident state")

	// ErrTerminalStateImmutable indicates an attempt to transition from a terminal state.
	ErrTerminalStateImmutable = errors.New("terminal state is immutable")

	// ErrBackwardTransition indicates an attempt to move the lifecycle backwards.
	ErrBackwardTransition = errors.New("cannot transition backwards")
)

// rank orders states for forward-only validation. Both terminals share the
// top rank; the terminal-immutability check keeps them from reaching each
// other.
var rank = map[State]int{
	StateOpen:          0,
	StateInvestigating: 1,
	StateIdentified:    2,
	StateMitigated:     3,
	StateResolved:      4,
	StateExpired:       4,
}

// IsValid reports whether the state is one of the known lifecycle states.
func (s State) IsValid() bool {
	_, ok := rank[s]

	return ok
}

// IsTerminal reports whether the state admits no further transitions.
func (s State) IsTerminal() bool {
	return s == StateResolved || s == StateExpired
}

// ValidateTransition validates a lifecycle transition.
//
// Valid transitions:
//   - open → {investigating, identified, mitigated, resolved, expired}
//   - investigating → {identified, mitigated, resolved, expired}
//   - identified → {mitigated, resolved, expired}
//   - mitigated → {resolved, expired}
//   - any state → itself (idempotent)
//
// Invalid transitions:
//   - resolved/expired → anything else (terminal states are immutable)
//   - any backward move (e.g., identified → investigating)
func ValidateTransition(from, to State) error {
	if !from.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidState, from)
	}

	if !to.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidState, to)
	}

	// Idempotent re-application, including on terminals
	if from == to {
		return nil
	}

	if from.IsTerminal() {
		return fmt.Errorf("%w: %s → %s", ErrTerminalStateImmutable, from, to)
	}

	if rank[to] < rank[from] {
		return fmt.Errorf("%w: %s → %s", ErrBackwardTransition, from, to)
	}

	return nil
}
