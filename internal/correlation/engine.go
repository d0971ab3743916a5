package correlation

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/rootline-io/rootline/internal/alert"
	"github.com/rootline-io/rootline/internal/history"
	"github.com/rootline-io/rootline/internal/incident"
	"github.com/rootline-io/rootline/internal/metrics"
	"github.com/rootline-io/rootline/internal/topology"
)

// Engine is the correlation core: it normalizes inbound alert events,
// places them into correlation windows, recomputes root-cause hypotheses on
// every membership change, and drives the incident lifecycle.
//
// Concurrency model: alerts are sharded by component onto worker queues, so
// deliveries for one component are processed in arrival order while
// unrelated components proceed in parallel. Window placement runs under the
// manager lock; hypothesis scoring runs outside any lock and commits behind
// a revision check, so a stale computation is discarded rather than
// clobbering a newer membership.
//
// Fields:
//   - cfg: validated engine configuration
//   - topo: topology store, may be empty when no snapshot is loaded
//   - history: historical outcome client used for scoring and runbooks
//   - sink: receives an incident snapshot on every state change
type Engine struct {
	cfg        Config
	topo       *topology.Store
	history    *history.Client
	normalizer *alert.Normalizer
	scorer     *scorer
	sink       IncidentSink
	logger     *slog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.RWMutex
	windows map[string]*window
	order   []*window
	seq     uint64
	dedup   map[string]bool
	pending map[string]time.Time
	closed  bool

	queues    []chan *alert.Alert
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewEngine builds an engine from a validated configuration.
//
// Parameters:
//   - cfg: engine configuration, validated before use
//   - topo: topology store; a nil store disables topological matching and
//     criticality scoring but never fails processing
//   - hist: historical outcome client; nil degrades the historical factor
//   - sink: incident sink; nil drops emissions
//
// Returns the engine, or a configuration validation error. The engine does
// not process alerts until Start is called.
func NewEngine(cfg Config, topo *topology.Store, hist *history.Client, sink IncidentSink, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	var matcher alert.ComponentMatcher
	if topo != nil {
		matcher = topo
	}

	baseCtx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:        cfg,
		topo:       topo,
		history:    hist,
		normalizer: alert.NewNormalizer(matcher),
		scorer:     newScorer(topo, hist, cfg.Weights, cfg.MinConfidence, logger),
		sink:       sink,
		logger:     logger,
		baseCtx:    baseCtx,
		cancel:     cancel,
		windows:    make(map[string]*window),
		dedup:      make(map[string]bool),
		pending:    make(map[string]time.Time),
		queues:     make([]chan *alert.Alert, cfg.Workers),
	}

	for i := range e.queues {
		e.queues[i] = make(chan *alert.Alert, cfg.QueueSize)
	}

	return e, nil
}

// Start launches the worker pool and the eviction loop.
func (e *Engine) Start() {
	for _, queue := range e.queues {
		e.wg.Add(1)

		go e.worker(queue)
	}

	e.wg.Add(1)

	go e.evictLoop()

	e.logger.Info("Correlation engine started",
		slog.Int("workers", len(e.queues)),
		slog.Duration("grace_period", e.cfg.GracePeriod),
		slog.Duration("lookback", e.cfg.Lookback))
}

// Close stops the workers and the eviction loop and waits for them to
// drain. Alerts still queued at shutdown are dropped. Close is idempotent;
// Process returns ErrEngineClosed afterwards.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()

		e.cancel()
		e.wg.Wait()

		e.logger.Info("Correlation engine stopped")
	})
}

// Process validates, normalizes and enqueues one alert event onto the shard
// owning its component. It blocks only when the shard queue is full.
//
// Returns a validation error for malformed events, ErrEngineClosed after
// Close, or the context error when enqueueing is cancelled.
func (e *Engine) Process(ctx context.Context, event *alert.Event) error {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()

	if closed {
		return ErrEngineClosed
	}

	a, err := e.normalizer.Normalize(event)
	if err != nil {
		metrics.ObserveAlert(metrics.AlertInvalid)

		return err
	}

	queue := e.queues[e.shard(a)]

	select {
	case queue <- a:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.baseCtx.Done():
		return ErrEngineClosed
	}
}

// shard maps an alert to its worker queue. Alerts without a component use
// the fingerprint, so repeated deliveries of the same rule stay ordered.
func (e *Engine) shard(a *alert.Alert) int {
	key := a.ComponentID
	if key == "" {
		key = a.Fingerprint
	}

	h := fnv.New32a()
	h.Write([]byte(key))

	return int(h.Sum32() % uint32(len(e.queues)))
}

func (e *Engine) worker(queue chan *alert.Alert) {
	defer e.wg.Done()

	for {
		select {
		case <-e.baseCtx.Done():
			return
		case a := <-queue:
			e.handle(a)
		}
	}
}

// handle routes one normalized alert. It is the sequential core of the
// engine; workers call it one alert at a time per shard.
func (e *Engine) handle(a *alert.Alert) {
	if a.Status == alert.StatusResolved {
		e.handleResolve(a)

		return
	}

	e.handleFiring(a)
}

func (e *Engine) handleFiring(a *alert.Alert) {
	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()

		return
	}

	if e.dedup[a.DedupKey()] {
		e.mu.Unlock()
		metrics.ObserveAlert(metrics.AlertDuplicate)
		e.logger.Debug("Duplicate alert delivery dropped",
			slog.String("fingerprint", a.Fingerprint),
			slog.String("component_id", a.ComponentID))

		return
	}

	e.dedup[a.DedupKey()] = true

	instanceKey := a.InstanceKey()

	resolvedAt, hasPending := e.pending[instanceKey]
	if hasPending {
		delete(e.pending, instanceKey)
	}

	w, strategy, created := e.place(a)
	open := e.countOpenLocked()
	e.mu.Unlock()

	metrics.ObserveAlert(metrics.AlertAccepted)
	metrics.ObserveCorrelation(string(strategy))
	metrics.SetOpenIncidents(open)

	if created {
		e.logger.Info("Correlation window opened",
			slog.String("incident_id", w.id),
			slog.String("component_id", a.ComponentID),
			slog.String("alert", a.Name))
	} else {
		e.logger.Debug("Alert joined window",
			slog.String("incident_id", w.id),
			slog.String("component_id", a.ComponentID),
			slog.String("strategy", string(strategy)))
	}

	if hasPending {
		e.applyResolve(w, instanceKey, resolvedAt)
	}

	e.recompute(w)
}

func (e *Engine) handleResolve(a *alert.Alert) {
	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()

		return
	}

	if e.dedup[a.DedupKey()] {
		e.mu.Unlock()
		metrics.ObserveAlert(metrics.AlertDuplicate)

		return
	}

	e.dedup[a.DedupKey()] = true

	instanceKey := a.InstanceKey()
	resolvedAt := a.StartedAt

	if a.ResolvedAt != nil {
		resolvedAt = *a.ResolvedAt
	}

	var target *window

	for _, w := range e.order {
		w.mu.Lock()
		_, member := w.byInstance[instanceKey]
		w.mu.Unlock()

		if member {
			target = w

			break
		}
	}

	if target == nil {
		// Resolve arrived before its firing twin. Stash it; placement
		// applies it when the firing alert shows up.
		e.pending[instanceKey] = resolvedAt
		e.mu.Unlock()

		metrics.ObserveAlert(metrics.AlertAccepted)
		e.logger.Debug("Resolve stashed for unknown alert instance",
			slog.String("instance", instanceHash(instanceKey)))

		return
	}

	e.mu.Unlock()

	metrics.ObserveAlert(metrics.AlertAccepted)
	e.applyResolve(target, instanceKey, resolvedAt)
}

// windowProbe is the per-window view collected during one placement scan.
type windowProbe struct {
	w      *window
	end    time.Time
	comps  map[string]bool
	labels map[string]bool
}

// place matches the alert against open windows, strategy by strategy, and
// appends it to the first match. When nothing matches, or the matched
// window had to be retired, it opens a new window so the alert is never
// orphaned. Caller holds the manager lock.
func (e *Engine) place(a *alert.Alert) (*window, Strategy, bool) {
	probes := e.probeCandidatesLocked(a)

	if w := e.matchTemporal(a, probes); w != nil {
		if e.appendLocked(w, a) {
			return w, StrategyTemporal, false
		}

		return e.createLocked(a), StrategyNone, true
	}

	if w := e.matchTopological(a, probes); w != nil {
		if e.appendLocked(w, a) {
			return w, StrategyTopological, false
		}

		return e.createLocked(a), StrategyNone, true
	}

	if w := e.matchLabel(a, probes); w != nil {
		if e.appendLocked(w, a) {
			return w, StrategyLabel, false
		}

		return e.createLocked(a), StrategyNone, true
	}

	return e.createLocked(a), StrategyNone, true
}

func (e *Engine) createLocked(a *alert.Alert) *window {
	e.seq++
	w := newWindow(e.seq, a)
	e.windows[w.id] = w
	e.order = append(e.order, w)

	return w
}

// probeCandidatesLocked snapshots the open windows whose window_end lies
// within the lookback of the alert's own timestamp, in creation order. The
// alert clock, not the wall clock, drives the cutoff so replays behave
// identically.
func (e *Engine) probeCandidatesLocked(a *alert.Alert) []windowProbe {
	cutoff := a.StartedAt.Add(-e.cfg.Lookback)
	probes := make([]windowProbe, 0, len(e.order))

	for _, w := range e.order {
		w.mu.Lock()

		if w.state.IsTerminal() || w.end.Before(cutoff) {
			w.mu.Unlock()

			continue
		}

		probe := windowProbe{
			w:      w,
			end:    w.end,
			comps:  make(map[string]bool, len(w.members)),
			labels: make(map[string]bool),
		}

		for _, m := range w.members {
			if m.ComponentID != "" {
				probe.comps[m.ComponentID] = true
			}

			for _, key := range e.cfg.CorrelatingLabels {
				if v, ok := m.Labels[key]; ok {
					probe.labels[key+"="+v] = true
				}
			}
		}

		w.mu.Unlock()

		probes = append(probes, probe)
	}

	return probes
}

// matchTemporal finds the first window already containing the alert's
// component whose end lies within the grace period of the alert. The
// boundary is inclusive: an alert exactly at window_end+grace still joins.
func (e *Engine) matchTemporal(a *alert.Alert, probes []windowProbe) *window {
	if a.ComponentID == "" {
		return nil
	}

	for _, p := range probes {
		if p.comps[a.ComponentID] && !a.StartedAt.After(p.end.Add(e.cfg.GracePeriod)) {
			return p.w
		}
	}

	return nil
}

// matchTopological finds the first window holding a different component
// within max_hops of the alert's component in either dependency direction.
func (e *Engine) matchTopological(a *alert.Alert, probes []windowProbe) *window {
	if a.ComponentID == "" || e.topo == nil {
		return nil
	}

	for _, p := range probes {
		for comp := range p.comps {
			if comp == a.ComponentID {
				continue
			}

			if e.topo.Linked(a.ComponentID, comp, e.cfg.MaxHops) {
				return p.w
			}
		}
	}

	return nil
}

// matchLabel finds the first window sharing a configured correlating label
// value with the alert.
func (e *Engine) matchLabel(a *alert.Alert, probes []windowProbe) *window {
	if len(e.cfg.CorrelatingLabels) == 0 || len(a.Labels) == 0 {
		return nil
	}

	for _, p := range probes {
		for _, key := range e.cfg.CorrelatingLabels {
			v, ok := a.Labels[key]
			if !ok {
				continue
			}

			if p.labels[key+"="+v] {
				return p.w
			}
		}
	}

	return nil
}

// appendLocked adds an alert to a matched window. Returns false when the
// window's revision counter is exhausted; the window is then retired as
// expired and the caller reroutes the alert. Caller holds the manager lock.
func (e *Engine) appendLocked(w *window, a *alert.Alert) bool {
	w.mu.Lock()

	wasStorm := w.isStorm

	if !w.append(a, e.cfg.StormThreshold, e.cfg.GracePeriod) {
		w.state = incident.StateExpired
		snap := w.snapshot(false)
		w.mu.Unlock()

		e.removeLocked(w)
		e.logger.Error("Window revision counter exhausted, window expired",
			slog.String("incident_id", w.id))
		e.emit(snap)

		return false
	}

	becameStorm := !wasStorm && w.isStorm
	memberCount := len(w.members)
	w.mu.Unlock()

	if becameStorm {
		metrics.ObserveStorm()
		e.logger.Info("Alert storm detected",
			slog.String("incident_id", w.id),
			slog.Int("members", memberCount))
	}

	return true
}

// removeLocked drops a window from the manager maps and clears the dedup
// entries of its members. Caller holds the manager lock.
func (e *Engine) removeLocked(w *window) {
	delete(e.windows, w.id)

	for i, other := range e.order {
		if other == w {
			e.order = append(e.order[:i], e.order[i+1:]...)

			break
		}
	}

	for _, m := range w.members {
		delete(e.dedup, alert.DedupKeyFor(m.Fingerprint, m.StartedAt, alert.StatusFiring))
		delete(e.dedup, alert.DedupKeyFor(m.Fingerprint, m.StartedAt, alert.StatusResolved))
	}
}

func (e *Engine) countOpenLocked() int {
	open := 0

	for _, w := range e.order {
		w.mu.Lock()

		if !w.state.IsTerminal() {
			open++
		}

		w.mu.Unlock()
	}

	return open
}

// recompute rebuilds the causal graph and hypothesis from a membership
// snapshot and commits the result only if the window has not changed in the
// meantime. Scoring runs outside all locks; the revision check makes a
// superseded computation a no-op.
func (e *Engine) recompute(w *window) {
	w.mu.Lock()

	if w.state.IsTerminal() {
		w.mu.Unlock()

		return
	}

	members := w.snapshotMembers()
	revision := w.revision
	w.mu.Unlock()

	var hyp *RootCauseHypothesis

	if len(members) >= 2 {
		g := buildCausalGraph(members, e.topo, e.cfg.MaxHops)
		hyp = e.scorer.Hypothesize(e.baseCtx, g, members)
	}

	w.mu.Lock()

	if w.revision != revision {
		w.mu.Unlock()
		metrics.ObserveRecompute(metrics.RecomputeSuperseded)

		return
	}

	if hyp != nil {
		hyp.Revision = revision
	}

	w.rootCause = hyp

	promoted := e.autoPromoteLocked(w)
	snap := w.snapshot(false)
	w.mu.Unlock()

	metrics.ObserveRecompute(metrics.RecomputeCommitted)

	if promoted {
		e.logger.Info("Incident promoted to identified",
			slog.String("incident_id", snap.ID),
			slog.Float64("confidence", confidenceOf(snap.RootCause)))
	}

	e.emit(snap)
}

// autoPromoteLocked moves an acknowledged incident to identified once a
// confident hypothesis lands. Unacknowledged and already promoted incidents
// are left alone. Caller holds the window lock.
func (e *Engine) autoPromoteLocked(w *window) bool {
	if w.state != incident.StateInvestigating {
		return false
	}

	if w.rootCause == nil || w.rootCause.LowConfidence {
		return false
	}

	w.state = incident.StateIdentified

	return true
}

func confidenceOf(hyp *RootCauseHypothesis) float64 {
	if hyp == nil {
		return 0
	}

	return hyp.Confidence
}

// applyResolve marks one member resolved and auto-resolves the window when
// it was the last firing member. Membership is untouched: resolved alerts
// keep participating in the causal graph.
func (e *Engine) applyResolve(w *window, instanceKey string, at time.Time) {
	w.mu.Lock()

	found, all := w.resolveMember(instanceKey, at)
	if !found {
		w.mu.Unlock()

		return
	}

	transitioned := false

	if all && !w.state.IsTerminal() {
		if err := incident.ValidateTransition(w.state, incident.StateResolved); err == nil {
			w.state = incident.StateResolved
			transitioned = true
		}
	}

	outcome := e.closeOutcomeLocked(w, at)
	snap := w.snapshot(false)
	w.mu.Unlock()

	if outcome != nil {
		e.recordOutcome(e.baseCtx, *outcome)
	}

	if transitioned {
		e.logger.Info("Incident auto-resolved, all member alerts resolved",
			slog.String("incident_id", snap.ID),
			slog.Int("members", len(snap.MemberAlertIDs)))
		e.emit(snap)
		metrics.SetOpenIncidents(e.openCount())
	}
}

// closeOutcomeLocked builds the unconfirmed outcome recorded when an
// incident with a hypothesis reaches a terminal state without an operator
// confirmation. Returns nil when there is nothing to record. Caller holds
// the window lock.
func (e *Engine) closeOutcomeLocked(w *window, at time.Time) *history.Outcome {
	if !w.state.IsTerminal() || w.outcomeRecorded || w.rootCause == nil {
		return nil
	}

	if len(w.rootCause.Candidates) == 0 {
		return nil
	}

	w.outcomeRecorded = true
	winner := w.rootCause.Candidates[0]

	return &history.Outcome{
		IncidentID:  w.id,
		ComponentID: winner.ComponentID,
		Pattern:     winner.Pattern,
		Confirmed:   false,
		OccurredAt:  at,
	}
}

func (e *Engine) recordOutcome(ctx context.Context, outcome history.Outcome) {
	if e.history == nil {
		return
	}

	e.history.Record(ctx, outcome)
}

func (e *Engine) lookup(id string) (*window, error) {
	e.mu.RLock()
	w, ok := e.windows[id]
	e.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIncidentNotFound, id)
	}

	return w, nil
}

func (e *Engine) openCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.countOpenLocked()
}

// Acknowledge moves an incident from open to investigating.
func (e *Engine) Acknowledge(id string) (Incident, error) {
	return e.transition(id, incident.StateInvestigating)
}

// Mitigate marks an incident mitigated.
func (e *Engine) Mitigate(id string) (Incident, error) {
	return e.transition(id, incident.StateMitigated)
}

// ForceClose resolves an incident regardless of member alert status. An
// unconfirmed outcome is recorded when a hypothesis exists.
func (e *Engine) ForceClose(id string) (Incident, error) {
	return e.transition(id, incident.StateResolved)
}

func (e *Engine) transition(id string, to incident.State) (Incident, error) {
	w, err := e.lookup(id)
	if err != nil {
		return Incident{}, err
	}

	w.mu.Lock()

	if err := incident.ValidateTransition(w.state, to); err != nil {
		w.mu.Unlock()

		return Incident{}, err
	}

	changed := w.state != to
	w.state = to

	outcome := e.closeOutcomeLocked(w, time.Now().UTC())
	snap := w.snapshot(false)
	w.mu.Unlock()

	if outcome != nil {
		e.recordOutcome(e.baseCtx, *outcome)
	}

	if changed {
		e.logger.Info("Incident state changed by operator",
			slog.String("incident_id", id),
			slog.String("status", string(to)))
		e.emit(snap)
		metrics.SetOpenIncidents(e.openCount())
	}

	return snap, nil
}

// Confirm records an operator confirmation of the current root-cause
// hypothesis, optionally with a fix reference, and promotes the incident to
// identified when its state allows. Confirmed outcomes feed the historical
// factor of future incidents on the same component and pattern.
func (e *Engine) Confirm(ctx context.Context, id, fixRef string) (Incident, error) {
	w, err := e.lookup(id)
	if err != nil {
		return Incident{}, err
	}

	w.mu.Lock()

	if w.rootCause == nil || len(w.rootCause.Candidates) == 0 {
		w.mu.Unlock()

		return Incident{}, fmt.Errorf("%w: %s", ErrNoHypothesis, id)
	}

	winner := w.rootCause.Candidates[0]
	outcome := history.Outcome{
		IncidentID:  w.id,
		ComponentID: winner.ComponentID,
		Pattern:     winner.Pattern,
		Confirmed:   true,
		FixRef:      fixRef,
		OccurredAt:  time.Now().UTC(),
	}
	w.outcomeRecorded = true

	promoted := false

	if w.state != incident.StateIdentified {
		if err := incident.ValidateTransition(w.state, incident.StateIdentified); err == nil {
			w.state = incident.StateIdentified
			promoted = true
		}
	}

	snap := w.snapshot(false)
	w.mu.Unlock()

	e.recordOutcome(ctx, outcome)

	e.logger.Info("Root cause confirmed by operator",
		slog.String("incident_id", id),
		slog.String("component_id", winner.ComponentID),
		slog.String("fix_ref", fixRef))

	if promoted {
		e.emit(snap)
	}

	return snap, nil
}

// Merge moves every member of the source incident into the destination and
// force-resolves the source, leaving a MergedInto marker behind. The
// destination re-scores with the combined membership.
func (e *Engine) Merge(dstID, srcID string) (Incident, error) {
	if dstID == srcID {
		return Incident{}, fmt.Errorf("%w: %s", ErrSameIncident, dstID)
	}

	e.mu.Lock()

	dst, ok := e.windows[dstID]
	if !ok {
		e.mu.Unlock()

		return Incident{}, fmt.Errorf("%w: %s", ErrIncidentNotFound, dstID)
	}

	src, ok := e.windows[srcID]
	if !ok {
		e.mu.Unlock()

		return Incident{}, fmt.Errorf("%w: %s", ErrIncidentNotFound, srcID)
	}

	first, second := dst, src
	if src.seq < dst.seq {
		first, second = src, dst
	}

	first.mu.Lock()
	second.mu.Lock()

	if dst.state.IsTerminal() || src.state.IsTerminal() {
		second.mu.Unlock()
		first.mu.Unlock()
		e.mu.Unlock()

		return Incident{}, fmt.Errorf("%w: merge requires two live incidents", incident.ErrTerminalStateImmutable)
	}

	for _, m := range src.members {
		dst.members = append(dst.members, m)
		dst.byInstance[m.InstanceKey()] = m

		if m.StartedAt.Before(dst.start) {
			dst.start = m.StartedAt
		}

		if m.StartedAt.After(dst.end) {
			dst.end = m.StartedAt
		}
	}

	src.members = nil
	src.byInstance = map[string]*alert.Alert{}
	src.rootCause = nil
	src.state = incident.StateResolved
	src.mergedInto = dst.id

	wasStorm := dst.isStorm
	dst.revision++
	dst.refreshStorm(e.cfg.StormThreshold, e.cfg.GracePeriod)
	becameStorm := !wasStorm && dst.isStorm

	srcSnap := src.snapshot(false)

	second.mu.Unlock()
	first.mu.Unlock()
	e.mu.Unlock()

	if becameStorm {
		metrics.ObserveStorm()
	}

	e.logger.Info("Incidents merged",
		slog.String("src_incident_id", srcID),
		slog.String("dst_incident_id", dstID))

	e.emit(srcSnap)
	e.recompute(dst)
	metrics.SetOpenIncidents(e.openCount())

	dst.mu.Lock()
	dstSnap := dst.snapshot(true)
	dst.mu.Unlock()

	return dstSnap, nil
}

// Incidents returns snapshots of the tracked incidents in creation order,
// optionally filtered by state. Member alert details are omitted; use
// Incident for the full view.
func (e *Engine) Incidents(states ...incident.State) []Incident {
	filter := make(map[incident.State]bool, len(states))
	for _, s := range states {
		filter[s] = true
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Incident, 0, len(e.order))

	for _, w := range e.order {
		w.mu.Lock()
		snap := w.snapshot(false)
		w.mu.Unlock()

		if len(filter) > 0 && !filter[snap.Status] {
			continue
		}

		out = append(out, snap)
	}

	return out
}

// Incident returns the full snapshot of one incident, including member
// alert details.
func (e *Engine) Incident(id string) (Incident, error) {
	w, err := e.lookup(id)
	if err != nil {
		return Incident{}, err
	}

	w.mu.Lock()
	snap := w.snapshot(true)
	w.mu.Unlock()

	return snap, nil
}

// InvestigationPath builds the ordered runbook for an incident from its
// current hypothesis. Paths are generated on demand, so diagnostic checks
// and fix references reflect history at call time.
func (e *Engine) InvestigationPath(ctx context.Context, id string) (InvestigationPath, error) {
	w, err := e.lookup(id)
	if err != nil {
		return InvestigationPath{}, err
	}

	w.mu.Lock()
	snap := w.snapshot(false)
	w.mu.Unlock()

	return buildInvestigationPath(ctx, id, snap.RootCause, e.cfg.MaxSteps, e.history), nil
}

func (e *Engine) evictLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.EvictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.baseCtx.Done():
			return
		case <-ticker.C:
			e.evictOnce(time.Now().Add(-e.cfg.Lookback))
		}
	}
}

// evictOnce removes windows whose end predates the cutoff, closing live
// ones as resolved or expired first. Terminal windows past the cutoff are
// pruned without another emission. Stale pending resolves are dropped on
// the same sweep. Returns the number of windows removed.
func (e *Engine) evictOnce(cutoff time.Time) int {
	type closure struct {
		snap    Incident
		outcome *history.Outcome
		closed  bool
	}

	e.mu.Lock()

	var closures []closure

	for _, w := range append([]*window(nil), e.order...) {
		w.mu.Lock()

		if !w.end.Before(cutoff) {
			w.mu.Unlock()

			continue
		}

		c := closure{}

		if !w.state.IsTerminal() {
			target := incident.StateExpired
			if w.allResolved() {
				target = incident.StateResolved
			}

			w.state = target
			c.outcome = e.closeOutcomeLocked(w, cutoff)
			c.closed = true
		}

		c.snap = w.snapshot(false)
		w.mu.Unlock()

		e.removeLocked(w)
		closures = append(closures, c)
	}

	for key, at := range e.pending {
		if at.Before(cutoff) {
			delete(e.pending, key)
		}
	}

	open := e.countOpenLocked()
	e.mu.Unlock()

	for _, c := range closures {
		if c.outcome != nil {
			e.recordOutcome(e.baseCtx, *c.outcome)
		}

		if c.closed {
			e.logger.Info("Correlation window evicted",
				slog.String("incident_id", c.snap.ID),
				slog.String("status", string(c.snap.Status)))
			e.emit(c.snap)
		}

		metrics.ObserveEviction(string(c.snap.Status))
	}

	if len(closures) > 0 {
		metrics.SetOpenIncidents(open)
	}

	return len(closures)
}

func (e *Engine) emit(inc Incident) {
	if e.sink == nil {
		return
	}

	if err := e.sink.PublishIncident(e.baseCtx, inc); err != nil {
		metrics.ObservePublish(metrics.PublishError)
		e.logger.Warn("Incident publish failed",
			slog.String("incident_id", inc.ID),
			slog.String("error", err.Error()))

		return
	}

	metrics.ObservePublish(metrics.PublishOK)
}
