package alert

import (
	"github.com/google/uuid"
)

// alertIDNamespace scopes the version-5 UUIDs assigned to alerts. IDs derive
// from the alert's content, so replaying the same event stream reproduces the
// same IDs.
var alertIDNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("alert.rootline.io"))

// ComponentMatcher resolves an alert label set to a topology component.
// Satisfied by *topology.Store.
type ComponentMatcher interface {
	Match(labels map[string]string) (string, bool)
}

// Normalizer turns inbound events into canonical Alerts.
//
// An event that matches no component is not an error: the alert proceeds
// with an empty ComponentID and participates in temporal and label
// correlation only.
type Normalizer struct {
	matcher   ComponentMatcher
	validator *Validator
}

// NewNormalizer creates a Normalizer resolving components through the given
// matcher.
func NewNormalizer(matcher ComponentMatcher) *Normalizer {
	return &Normalizer{
		matcher:   matcher,
		validator: NewValidator(),
	}
}

// Normalize validates an inbound event and produces the canonical Alert.
//
// Applied defaults: severity warning, status firing. The fingerprint is the
// producer's when supplied, otherwise computed from name + labels. Resolved
// events without an explicit resolution time resolve at StartedAt, keeping
// replays deterministic.
func (n *Normalizer) Normalize(event *Event) (*Alert, error) {
	if err := n.validator.ValidateEvent(event); err != nil {
		return nil, err
	}

	labels := make(map[string]string, len(event.Labels))
	for k, v := range event.Labels {
		labels[k] = v
	}

	fingerprint := event.Fingerprint
	if fingerprint == "" {
		fingerprint = Fingerprint(event.Name, labels)
	}

	severity := event.Severity
	if severity == "" {
		severity = SeverityWarning
	}

	status := event.Status
	if status == "" {
		status = StatusFiring
	}

	componentID := ""
	if n.matcher != nil {
		if id, ok := n.matcher.Match(labels); ok {
			componentID = id
		}
	}

	a := &Alert{
		ID:          uuid.NewSHA1(alertIDNamespace, []byte(dedupKey(fingerprint, event.StartedAt, status))).String(),
		Fingerprint: fingerprint,
		ComponentID: componentID,
		Name:        event.Name,
		Severity:    severity,
		StartedAt:   event.StartedAt,
		Labels:      labels,
		Status:      status,
	}

	if status == StatusResolved {
		resolvedAt := event.StartedAt
		if event.ResolvedAt != nil {
			resolvedAt = *event.ResolvedAt
		}

		a.ResolvedAt = &resolvedAt
	}

	return a, nil
}
