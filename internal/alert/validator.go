package alert

import (
	"errors"
	"fmt"
)

// Sentinel errors for validation failures.
var (
	ErrNilEvent         = errors.New("event cannot be nil")
	ErrMissingIdentity  = errors.New("event requires a name or a fingerprint")
	ErrMissingStartedAt = errors.New("started_at is required")
	ErrInvalidSeverity  = errors.New("invalid severity")
	ErrInvalidStatus    = errors.New("invalid status")
)

// Validator performs semantic validation of inbound alert events.
// Strategy: unmarshal + business rules rather than formal schema validation,
// since producers disagree on everything beyond the core fields.
type Validator struct{}

// NewValidator creates a new Validator instance.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateEvent checks that an inbound event carries enough to become an
// Alert.
//
// Required:
//   - name or fingerprint: at least one, or the alert has no identity
//   - started_at: must not be zero
//
// Optional with defaults applied during normalization:
//   - severity: empty defaults to warning; non-empty must be valid
//   - status: empty defaults to firing; non-empty must be valid
//   - labels: may be nil; an alert without matching labels still correlates
//     by time
//
// Returns nil if valid, error with descriptive message if validation fails.
func (v *Validator) ValidateEvent(event *Event) error {
	if event == nil {
		return ErrNilEvent
	}

	if event.Name == "" && event.Fingerprint == "" {
		return ErrMissingIdentity
	}

	if event.StartedAt.IsZero() {
		return ErrMissingStartedAt
	}

	if event.Severity != "" && !event.Severity.IsValid() {
		return fmt.Errorf("%w: %s (valid: info, warning, critical)", ErrInvalidSeverity, event.Severity)
	}

	if event.Status != "" && !event.Status.IsValid() {
		return fmt.Errorf("%w: %s (valid: firing, resolved)", ErrInvalidStatus, event.Status)
	}

	return nil
}
