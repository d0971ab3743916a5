package correlation

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rootline-io/rootline/internal/alert"
	"github.com/rootline-io/rootline/internal/incident"
)

// incidentIDNamespace scopes the version-5 UUIDs assigned to incidents. The
// ID derives from the opening alert, so replaying the same stream reproduces
// the same incident IDs.
var incidentIDNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("incident.rootline.io"))

// window is one correlation window / incident. All fields behind mu; the
// engine snapshots under the lock and computes outside it.
type window struct {
	mu sync.Mutex

	id       string
	seq      uint64 // creation sequence, fixes candidate scan order
	start    time.Time
	end      time.Time
	state    incident.State
	members  []*alert.Alert
	isStorm  bool
	revision uint64

	rootCause *RootCauseHypothesis

	// byInstance indexes members by fingerprint+started_at for resolve
	// matching.
	byInstance map[string]*alert.Alert

	// outcomeRecorded marks that this incident already produced its history
	// outcome row (operator confirm, or unconfirmed close).
	outcomeRecorded bool

	mergedInto string
}

// newWindow opens a window around its first alert. Windows are born
// zero-width (start = end = the alert's start time) and grow as matches
// arrive; the grace period provides the effective correlation width.
func newWindow(seq uint64, first *alert.Alert) *window {
	w := &window{
		id:         uuid.NewSHA1(incidentIDNamespace, []byte(first.DedupKey())).String(),
		seq:        seq,
		start:      first.StartedAt,
		end:        first.StartedAt,
		state:      incident.StateOpen,
		members:    []*alert.Alert{first},
		byInstance: map[string]*alert.Alert{first.InstanceKey(): first},
		revision:   1,
	}

	return w
}

// append adds a member under the window lock, extends the bounds, bumps the
// revision and re-evaluates the storm flag. Returns false when the revision
// counter would overflow; the caller treats the window as corrupt and evicts
// it.
func (w *window) append(a *alert.Alert, stormThreshold int, grace time.Duration) bool {
	if w.revision == math.MaxUint64 {
		return false
	}

	w.members = append(w.members, a)
	w.byInstance[a.InstanceKey()] = a

	if a.StartedAt.Before(w.start) {
		w.start = a.StartedAt
	}

	if a.StartedAt.After(w.end) {
		w.end = a.StartedAt
	}

	w.revision++
	w.refreshStorm(stormThreshold, grace)

	return true
}

// refreshStorm flags the window once any stormThreshold consecutive member
// start times (sorted) fit within one grace span. The flag is sticky.
func (w *window) refreshStorm(stormThreshold int, grace time.Duration) {
	if w.isStorm || stormThreshold <= 0 || len(w.members) < stormThreshold {
		return
	}

	times := make([]time.Time, len(w.members))
	for i, m := range w.members {
		times[i] = m.StartedAt
	}

	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	for i := 0; i+stormThreshold-1 < len(times); i++ {
		span := times[i+stormThreshold-1].Sub(times[i])
		if span <= grace {
			w.isStorm = true

			return
		}
	}
}

// resolveMember marks the member matching the instance key resolved.
// Returns (member found, all members now resolved).
func (w *window) resolveMember(instanceKey string, at time.Time) (bool, bool) {
	member, ok := w.byInstance[instanceKey]
	if !ok {
		return false, false
	}

	member.Resolve(at)

	return true, w.allResolved()
}

func (w *window) allResolved() bool {
	for _, m := range w.members {
		if !m.IsResolved() {
			return false
		}
	}

	return len(w.members) > 0
}

// affectedComponents returns the distinct member components in first-seen
// order.
func (w *window) affectedComponents() []string {
	seen := make(map[string]bool, len(w.members))
	components := make([]string, 0, len(w.members))

	for _, m := range w.members {
		if m.ComponentID == "" || seen[m.ComponentID] {
			continue
		}

		seen[m.ComponentID] = true
		components = append(components, m.ComponentID)
	}

	return components
}

// snapshotMembers returns deep copies of the members under the caller-held
// lock.
func (w *window) snapshotMembers() []alert.Alert {
	members := make([]alert.Alert, 0, len(w.members))

	for _, m := range w.members {
		copied := *m

		labels := make(map[string]string, len(m.Labels))
		for k, v := range m.Labels {
			labels[k] = v
		}

		copied.Labels = labels

		if m.ResolvedAt != nil {
			at := *m.ResolvedAt
			copied.ResolvedAt = &at
		}

		members = append(members, copied)
	}

	return members
}

// snapshot builds the externally visible incident view under the
// caller-held lock.
func (w *window) snapshot(includeAlerts bool) Incident {
	inc := Incident{
		ID:                 w.id,
		Status:             w.state,
		WindowStart:        w.start,
		WindowEnd:          w.end,
		MemberAlertIDs:     make([]string, 0, len(w.members)),
		AffectedComponents: w.affectedComponents(),
		IsStorm:            w.isStorm,
		Revision:           w.revision,
		MergedInto:         w.mergedInto,
	}

	for _, m := range w.members {
		inc.MemberAlertIDs = append(inc.MemberAlertIDs, m.ID)
	}

	if includeAlerts {
		inc.Alerts = w.snapshotMembers()
	}

	if w.rootCause != nil {
		hyp := *w.rootCause
		hyp.CausalChain = append([]CausalHop(nil), w.rootCause.CausalChain...)
		hyp.Candidates = append([]Candidate(nil), w.rootCause.Candidates...)
		inc.RootCause = &hyp
	}

	return inc
}

// instanceHash derives a short deterministic tag from an instance key, used
// in log lines where the full key is noise.
func instanceHash(key string) string {
	sum := sha256.Sum256([]byte(key))

	return hex.EncodeToString(sum[:])[:12]
}
