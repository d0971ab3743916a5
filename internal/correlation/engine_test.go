package correlation

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rootline-io/rootline/internal/alert"
	"github.com/rootline-io/rootline/internal/history"
	"github.com/rootline-io/rootline/internal/incident"
	"github.com/rootline-io/rootline/internal/topology"
)

// captureSink collects every emitted incident snapshot.
type captureSink struct {
	mu        sync.Mutex
	incidents []Incident
}

func (s *captureSink) PublishIncident(_ context.Context, inc Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.incidents = append(s.incidents, inc)

	return nil
}

func (s *captureSink) emissions() []Incident {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Incident(nil), s.incidents...)
}

func (s *captureSink) last(t *testing.T) Incident {
	t.Helper()

	s.mu.Lock()
	defer s.mu.Unlock()

	require.NotEmpty(t, s.incidents)

	return s.incidents[len(s.incidents)-1]
}

// recordingStore remembers the outcomes written through it on top of the
// in-memory behavior.
type recordingStore struct {
	*history.MemoryStore

	mu       sync.Mutex
	outcomes []history.Outcome
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: history.NewMemoryStore()}
}

func (r *recordingStore) RecordOutcome(ctx context.Context, outcome history.Outcome) error {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, outcome)
	r.mu.Unlock()

	return r.MemoryStore.RecordOutcome(ctx, outcome)
}

func (r *recordingStore) recorded() []history.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]history.Outcome(nil), r.outcomes...)
}

// gateStore parks the first historical rate lookup until released, holding
// that recompute open between its membership snapshot and its commit. Later
// lookups pass straight through.
type gateStore struct {
	*history.MemoryStore

	mu      sync.Mutex
	seen    bool
	entered chan struct{}
	release chan struct{}
}

func newGateStore() *gateStore {
	return &gateStore{
		MemoryStore: history.NewMemoryStore(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (g *gateStore) RootCauseRate(ctx context.Context, componentID, pattern string) (float64, error) {
	g.mu.Lock()
	first := !g.seen
	g.seen = true
	g.mu.Unlock()

	if first {
		close(g.entered)

		select {
		case <-g.release:
		case <-ctx.Done():
		}
	}

	return g.MemoryStore.RootCauseRate(ctx, componentID, pattern)
}

// engineTopology extends the chain fixture with matcher labels so the
// normalizer can resolve components, plus an isolated batch component.
func engineTopology(t *testing.T) *topology.Store {
	t.Helper()

	store := topology.NewStore()
	store.ReplaceSnapshot(topology.Snapshot{
		Components: []topology.Component{
			{ID: "web", Name: "Web Frontend", Type: topology.TypeCompute, Criticality: 3,
				Labels: map[string]string{"service": "web"}},
			{ID: "api", Name: "API Gateway", Type: topology.TypeCompute, Criticality: 2,
				Labels: map[string]string{"service": "api"}},
			{ID: "db-primary", Name: "Primary Database", Type: topology.TypeDatabase, Criticality: 1,
				Labels: map[string]string{"service": "db-primary"}},
			{ID: "batch", Name: "Batch Jobs", Type: topology.TypeCompute, Criticality: 3,
				Labels: map[string]string{"service": "batch"}},
		},
		Dependencies: []topology.Dependency{
			{From: "web", To: "api"},
			{From: "api", To: "db-primary"},
		},
	})

	return store
}

func newTestEngine(t *testing.T, topo *topology.Store, hist *history.Client, mutate func(*Config)) (*Engine, *captureSink) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Workers = 1
	cfg.QueueSize = 16

	if mutate != nil {
		mutate(&cfg)
	}

	sink := &captureSink{}

	e, err := NewEngine(cfg, topo, hist, sink, quietLogger())
	require.NoError(t, err)
	t.Cleanup(e.Close)

	return e, sink
}

func firingEvent(service, name string, at time.Time) *alert.Event {
	return &alert.Event{
		Name:      name,
		Labels:    map[string]string{"service": service},
		Severity:  alert.SeverityCritical,
		StartedAt: at,
		Status:    alert.StatusFiring,
	}
}

func resolvedEvent(service, name string, startedAt, resolvedAt time.Time) *alert.Event {
	ev := firingEvent(service, name, startedAt)
	ev.Status = alert.StatusResolved
	ev.ResolvedAt = &resolvedAt

	return ev
}

// ingest pushes one event through normalization and the sequential core,
// bypassing the worker queues for determinism.
func ingest(t *testing.T, e *Engine, event *alert.Event) {
	t.Helper()

	a, err := e.normalizer.Normalize(event)
	require.NoError(t, err)

	e.handle(a)
}

func soleIncident(t *testing.T, e *Engine) Incident {
	t.Helper()

	incidents := e.Incidents()
	require.Len(t, incidents, 1)

	return incidents[0]
}

func TestEngine_SingleAlertOpensWindow(t *testing.T) {
	e, sink := newTestEngine(t, engineTopology(t), nil, nil)

	ingest(t, e, firingEvent("db-primary", "ConnectionsSaturated", windowTestBase))

	inc := soleIncident(t, e)
	assert.Equal(t, incident.StateOpen, inc.Status)
	assert.Len(t, inc.MemberAlertIDs, 1)
	assert.Equal(t, []string{"db-primary"}, inc.AffectedComponents)
	assert.Nil(t, inc.RootCause, "a lone alert gets no hypothesis")
	assert.False(t, inc.IsStorm)
	assert.Equal(t, windowTestBase, inc.WindowStart)
	assert.Equal(t, inc.WindowStart, inc.WindowEnd)

	require.Len(t, sink.emissions(), 1)
}

func TestEngine_CascadeCorrelatesTopologically(t *testing.T) {
	_, client := memoryHistory()
	e, sink := newTestEngine(t, engineTopology(t), client, nil)

	ingest(t, e, firingEvent("db-primary", "ConnectionsSaturated", windowTestBase))
	ingest(t, e, firingEvent("api", "HighLatency", windowTestBase.Add(30*time.Second)))
	ingest(t, e, firingEvent("web", "ErrorRate", windowTestBase.Add(57*time.Second)))

	inc := soleIncident(t, e)
	assert.Equal(t, []string{"db-primary", "api", "web"}, inc.AffectedComponents)
	assert.Equal(t, windowTestBase, inc.WindowStart)
	assert.Equal(t, windowTestBase.Add(57*time.Second), inc.WindowEnd)

	require.NotNil(t, inc.RootCause)
	assert.Equal(t, "db-primary", inc.RootCause.ComponentID)
	assert.False(t, inc.RootCause.LowConfidence)

	require.Len(t, inc.RootCause.CausalChain, 2)
	assert.Equal(t, CausalHop{From: "db-primary", To: "api", DelaySeconds: 30}, inc.RootCause.CausalChain[0])
	assert.Equal(t, CausalHop{From: "api", To: "web", DelaySeconds: 27}, inc.RootCause.CausalChain[1])

	// One emission per processed alert.
	assert.Len(t, sink.emissions(), 3)
}

func TestEngine_UnrelatedAlertOpensIsolatedWindow(t *testing.T) {
	e, _ := newTestEngine(t, engineTopology(t), nil, nil)

	ingest(t, e, firingEvent("db-primary", "ConnectionsSaturated", windowTestBase))
	ingest(t, e, firingEvent("batch", "JobFailed", windowTestBase.Add(10*time.Second)))

	incidents := e.Incidents()
	require.Len(t, incidents, 2)
	assert.Equal(t, []string{"db-primary"}, incidents[0].AffectedComponents)
	assert.Equal(t, []string{"batch"}, incidents[1].AffectedComponents)
}

func TestEngine_NoComponentNoLabelIsIsolated(t *testing.T) {
	e, _ := newTestEngine(t, engineTopology(t), nil, nil)

	ingest(t, e, firingEvent("db-primary", "ConnectionsSaturated", windowTestBase))

	// Unknown service label resolves to no component; nothing correlates.
	ingest(t, e, firingEvent("mystery-svc", "Weird", windowTestBase.Add(time.Second)))

	incidents := e.Incidents()
	require.Len(t, incidents, 2)
	assert.Empty(t, incidents[1].AffectedComponents)
}

func TestEngine_GracePeriodBoundary(t *testing.T) {
	e, _ := newTestEngine(t, engineTopology(t), nil, nil)

	ingest(t, e, firingEvent("db-primary", "ConnectionsSaturated", windowTestBase))

	// Exactly window_end + grace: still temporal, inclusive boundary.
	ingest(t, e, firingEvent("db-primary", "ReplicationLag", windowTestBase.Add(5*time.Minute)))

	incidents := e.Incidents()
	require.Len(t, incidents, 1)
	assert.Len(t, incidents[0].MemberAlertIDs, 2)
	assert.Equal(t, windowTestBase.Add(5*time.Minute), incidents[0].WindowEnd)

	// One second beyond the extended end + grace: same component, new window.
	ingest(t, e, firingEvent("db-primary", "DiskFull", windowTestBase.Add(10*time.Minute).Add(time.Second)))

	incidents = e.Incidents()
	require.Len(t, incidents, 2)
	assert.Len(t, incidents[0].MemberAlertIDs, 2)
	assert.Len(t, incidents[1].MemberAlertIDs, 1)
}

func TestEngine_DuplicateDeliveryDropped(t *testing.T) {
	e, sink := newTestEngine(t, engineTopology(t), nil, nil)

	ev := firingEvent("db-primary", "ConnectionsSaturated", windowTestBase)
	ingest(t, e, ev)
	ingest(t, e, firingEvent("db-primary", "ConnectionsSaturated", windowTestBase))

	inc := soleIncident(t, e)
	assert.Len(t, inc.MemberAlertIDs, 1)
	assert.Len(t, sink.emissions(), 1)

	// The resolved follow-up of the same instance is not a duplicate.
	ingest(t, e, resolvedEvent("db-primary", "ConnectionsSaturated", ev.StartedAt, ev.StartedAt.Add(time.Minute)))

	inc = soleIncident(t, e)
	assert.Equal(t, incident.StateResolved, inc.Status)
}

func TestEngine_LabelCorrelation(t *testing.T) {
	e, _ := newTestEngine(t, engineTopology(t), nil, func(c *Config) {
		c.CorrelatingLabels = []string{"deployment"}
	})

	first := firingEvent("db-primary", "ConnectionsSaturated", windowTestBase)
	first.Labels["deployment"] = "blue"
	ingest(t, e, first)

	// batch is not linked to db-primary in the topology, but shares the
	// deployment label value.
	second := firingEvent("batch", "JobFailed", windowTestBase.Add(time.Minute))
	second.Labels["deployment"] = "blue"
	ingest(t, e, second)

	inc := soleIncident(t, e)
	assert.ElementsMatch(t, []string{"db-primary", "batch"}, inc.AffectedComponents)
}

func TestEngine_StormFlagging(t *testing.T) {
	e, _ := newTestEngine(t, engineTopology(t), nil, nil)

	ingest(t, e, firingEvent("db-primary", "A", windowTestBase))
	ingest(t, e, firingEvent("db-primary", "B", windowTestBase.Add(time.Minute)))

	assert.False(t, soleIncident(t, e).IsStorm, "two alerts are not a storm")

	ingest(t, e, firingEvent("db-primary", "C", windowTestBase.Add(2*time.Minute)))

	assert.True(t, soleIncident(t, e).IsStorm, "three alerts within grace are a storm")
}

func TestEngine_ResolveLifecycle(t *testing.T) {
	_, client := memoryHistory()
	e, _ := newTestEngine(t, engineTopology(t), client, nil)

	dbEv := firingEvent("db-primary", "ConnectionsSaturated", windowTestBase)
	apiEv := firingEvent("api", "HighLatency", windowTestBase.Add(30*time.Second))
	ingest(t, e, dbEv)
	ingest(t, e, apiEv)

	inc := soleIncident(t, e)

	acked, err := e.Acknowledge(inc.ID)
	require.NoError(t, err)
	assert.Equal(t, incident.StateInvestigating, acked.Status)

	ingest(t, e, resolvedEvent("db-primary", "ConnectionsSaturated", dbEv.StartedAt, windowTestBase.Add(10*time.Minute)))

	partial, err := e.Incident(inc.ID)
	require.NoError(t, err)
	assert.Equal(t, incident.StateInvestigating, partial.Status, "one firing member keeps the incident live")

	ingest(t, e, resolvedEvent("api", "HighLatency", apiEv.StartedAt, windowTestBase.Add(11*time.Minute)))

	closed, err := e.Incident(inc.ID)
	require.NoError(t, err)
	assert.Equal(t, incident.StateResolved, closed.Status, "all members resolved closes the incident")

	require.Len(t, closed.Alerts, 2)
	for _, a := range closed.Alerts {
		assert.Equal(t, alert.StatusResolved, a.Status)
		assert.NotNil(t, a.ResolvedAt)
	}
}

func TestEngine_ResolveBeforeFiring(t *testing.T) {
	e, _ := newTestEngine(t, engineTopology(t), nil, nil)

	started := windowTestBase
	ingest(t, e, resolvedEvent("db-primary", "ConnectionsSaturated", started, started.Add(time.Minute)))

	assert.Empty(t, e.Incidents(), "a resolve with no firing twin stays pending")

	ingest(t, e, firingEvent("db-primary", "ConnectionsSaturated", started))

	inc := soleIncident(t, e)
	assert.Equal(t, incident.StateResolved, inc.Status)
	assert.Len(t, inc.MemberAlertIDs, 1)
}

func TestEngine_AutoPromoteAfterAcknowledge(t *testing.T) {
	_, client := memoryHistory()
	e, _ := newTestEngine(t, engineTopology(t), client, nil)

	ingest(t, e, firingEvent("db-primary", "ConnectionsSaturated", windowTestBase))
	ingest(t, e, firingEvent("api", "HighLatency", windowTestBase.Add(30*time.Second)))

	inc := soleIncident(t, e)
	_, err := e.Acknowledge(inc.ID)
	require.NoError(t, err)

	// The next membership change recomputes and promotes the acknowledged
	// incident on a confident hypothesis.
	ingest(t, e, firingEvent("web", "ErrorRate", windowTestBase.Add(57*time.Second)))

	promoted, err := e.Incident(inc.ID)
	require.NoError(t, err)
	assert.Equal(t, incident.StateIdentified, promoted.Status)
}

func TestEngine_OperatorTransitions(t *testing.T) {
	e, sink := newTestEngine(t, engineTopology(t), nil, nil)

	ingest(t, e, firingEvent("db-primary", "ConnectionsSaturated", windowTestBase))
	inc := soleIncident(t, e)

	_, err := e.Acknowledge("no-such-incident")
	assert.ErrorIs(t, err, ErrIncidentNotFound)

	_, err = e.Mitigate(inc.ID)
	require.NoError(t, err)

	_, err = e.Acknowledge(inc.ID)
	assert.ErrorIs(t, err, incident.ErrBackwardTransition)

	closed, err := e.ForceClose(inc.ID)
	require.NoError(t, err)
	assert.Equal(t, incident.StateResolved, closed.Status)
	assert.Equal(t, incident.StateResolved, sink.last(t).Status)

	// Terminal close is idempotent, further movement is not.
	_, err = e.ForceClose(inc.ID)
	require.NoError(t, err)

	_, err = e.Mitigate(inc.ID)
	assert.ErrorIs(t, err, incident.ErrTerminalStateImmutable)
}

func TestEngine_ConfirmRecordsOutcome(t *testing.T) {
	store := newRecordingStore()
	client := history.NewClient(store, store.MemoryStore, time.Second, quietLogger())
	e, _ := newTestEngine(t, engineTopology(t), client, nil)

	ingest(t, e, firingEvent("db-primary", "ConnectionsSaturated", windowTestBase))
	ingest(t, e, firingEvent("api", "HighLatency", windowTestBase.Add(30*time.Second)))

	inc := soleIncident(t, e)

	confirmed, err := e.Confirm(context.Background(), inc.ID, "https://runbooks.example.com/db/connections")
	require.NoError(t, err)
	assert.Equal(t, incident.StateIdentified, confirmed.Status)

	outcomes := store.recorded()
	require.Len(t, outcomes, 1)
	assert.Equal(t, inc.ID, outcomes[0].IncidentID)
	assert.Equal(t, "db-primary", outcomes[0].ComponentID)
	assert.Equal(t, "ConnectionsSaturated", outcomes[0].Pattern)
	assert.True(t, outcomes[0].Confirmed)
	assert.Equal(t, "https://runbooks.example.com/db/connections", outcomes[0].FixRef)

	// Closing a confirmed incident does not double-record.
	_, err = e.ForceClose(inc.ID)
	require.NoError(t, err)
	assert.Len(t, store.recorded(), 1)
}

func TestEngine_ConfirmWithoutHypothesis(t *testing.T) {
	e, _ := newTestEngine(t, engineTopology(t), nil, nil)

	ingest(t, e, firingEvent("db-primary", "ConnectionsSaturated", windowTestBase))
	inc := soleIncident(t, e)

	_, err := e.Confirm(context.Background(), inc.ID, "")
	assert.ErrorIs(t, err, ErrNoHypothesis)
}

func TestEngine_UnconfirmedCloseRecordsOutcome(t *testing.T) {
	store := newRecordingStore()
	client := history.NewClient(store, store.MemoryStore, time.Second, quietLogger())
	e, _ := newTestEngine(t, engineTopology(t), client, nil)

	dbEv := firingEvent("db-primary", "ConnectionsSaturated", windowTestBase)
	apiEv := firingEvent("api", "HighLatency", windowTestBase.Add(30*time.Second))
	ingest(t, e, dbEv)
	ingest(t, e, apiEv)

	ingest(t, e, resolvedEvent("db-primary", "ConnectionsSaturated", dbEv.StartedAt, windowTestBase.Add(5*time.Minute)))
	ingest(t, e, resolvedEvent("api", "HighLatency", apiEv.StartedAt, windowTestBase.Add(6*time.Minute)))

	outcomes := store.recorded()
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Confirmed)
	assert.Equal(t, "db-primary", outcomes[0].ComponentID)
}

func TestEngine_Merge(t *testing.T) {
	e, _ := newTestEngine(t, engineTopology(t), nil, nil)

	ingest(t, e, firingEvent("db-primary", "ConnectionsSaturated", windowTestBase))
	ingest(t, e, firingEvent("batch", "JobFailed", windowTestBase.Add(time.Second)))

	incidents := e.Incidents()
	require.Len(t, incidents, 2)
	dstID, srcID := incidents[0].ID, incidents[1].ID

	merged, err := e.Merge(dstID, srcID)
	require.NoError(t, err)
	assert.Len(t, merged.MemberAlertIDs, 2)
	assert.ElementsMatch(t, []string{"db-primary", "batch"}, merged.AffectedComponents)

	src, err := e.Incident(srcID)
	require.NoError(t, err)
	assert.Equal(t, incident.StateResolved, src.Status)
	assert.Equal(t, dstID, src.MergedInto)
	assert.Empty(t, src.MemberAlertIDs, "members move, they are never duplicated")

	_, err = e.Merge(dstID, dstID)
	assert.ErrorIs(t, err, ErrSameIncident)

	_, err = e.Merge(dstID, "no-such-incident")
	assert.ErrorIs(t, err, ErrIncidentNotFound)

	_, err = e.Merge(dstID, srcID)
	assert.ErrorIs(t, err, incident.ErrTerminalStateImmutable)
}

func TestEngine_EvictionClosesAndPrunes(t *testing.T) {
	store := newRecordingStore()
	client := history.NewClient(store, store.MemoryStore, time.Second, quietLogger())
	e, sink := newTestEngine(t, engineTopology(t), client, nil)

	ev := firingEvent("db-primary", "ConnectionsSaturated", windowTestBase)
	ingest(t, e, ev)
	ingest(t, e, firingEvent("api", "HighLatency", windowTestBase.Add(30*time.Second)))

	evicted := e.evictOnce(windowTestBase.Add(time.Hour))
	assert.Equal(t, 1, evicted)
	assert.Empty(t, e.Incidents())

	last := sink.last(t)
	assert.Equal(t, incident.StateExpired, last.Status)

	// Expiring with a live hypothesis records an unconfirmed outcome.
	outcomes := store.recorded()
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Confirmed)

	// Eviction clears dedup state, so a replay of the same alert opens a
	// fresh window instead of vanishing.
	ingest(t, e, firingEvent("db-primary", "ConnectionsSaturated", windowTestBase))
	assert.Len(t, e.Incidents(), 1)
}

func TestEngine_EvictionSkipsRecentWindows(t *testing.T) {
	e, _ := newTestEngine(t, engineTopology(t), nil, nil)

	ingest(t, e, firingEvent("db-primary", "ConnectionsSaturated", windowTestBase))

	evicted := e.evictOnce(windowTestBase.Add(-time.Minute))
	assert.Zero(t, evicted)
	assert.Len(t, e.Incidents(), 1)
}

func TestEngine_InvestigationPath(t *testing.T) {
	_, client := memoryHistory()
	e, _ := newTestEngine(t, engineTopology(t), client, nil)

	ingest(t, e, firingEvent("db-primary", "ConnectionsSaturated", windowTestBase))
	ingest(t, e, firingEvent("api", "HighLatency", windowTestBase.Add(30*time.Second)))

	inc := soleIncident(t, e)

	path, err := e.InvestigationPath(context.Background(), inc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, path.Steps)
	assert.Equal(t, inc.ID, path.IncidentID)
	assert.Equal(t, "db-primary", path.Steps[0].ComponentID)
	assert.Equal(t, 1, path.Steps[0].Order)

	_, err = e.InvestigationPath(context.Background(), "no-such-incident")
	assert.ErrorIs(t, err, ErrIncidentNotFound)
}

func TestEngine_DeterministicReplay(t *testing.T) {
	run := func() []byte {
		_, client := memoryHistory()
		e, _ := newTestEngine(t, engineTopology(t), client, nil)

		dbEv := firingEvent("db-primary", "ConnectionsSaturated", windowTestBase)
		ingest(t, e, dbEv)
		ingest(t, e, firingEvent("api", "HighLatency", windowTestBase.Add(30*time.Second)))
		ingest(t, e, firingEvent("web", "ErrorRate", windowTestBase.Add(57*time.Second)))
		ingest(t, e, firingEvent("batch", "JobFailed", windowTestBase.Add(2*time.Minute)))
		ingest(t, e, resolvedEvent("db-primary", "ConnectionsSaturated", dbEv.StartedAt, windowTestBase.Add(10*time.Minute)))

		incidents := e.Incidents()

		payload, err := json.Marshal(incidents)
		require.NoError(t, err)

		return payload
	}

	assert.Equal(t, string(run()), string(run()), "identical input order reproduces identical incidents")
}

func TestEngine_StaleRecomputeSuperseded(t *testing.T) {
	store := newGateStore()
	client := history.NewClient(store, store, 10*time.Second, quietLogger())
	e, _ := newTestEngine(t, engineTopology(t), client, nil)

	ingest(t, e, firingEvent("db-primary", "ConnectionsSaturated", windowTestBase))

	second, err := e.normalizer.Normalize(firingEvent("api", "HighLatency", windowTestBase.Add(30*time.Second)))
	require.NoError(t, err)

	done := make(chan struct{})

	// The second member's recompute snapshots revision 2, then parks inside
	// the historical lookup.
	go func() {
		e.handle(second)
		close(done)
	}()

	<-store.entered

	// A third member lands while that computation is in flight, bumping the
	// window to revision 3 and committing its own hypothesis.
	ingest(t, e, firingEvent("web", "ErrorRate", windowTestBase.Add(45*time.Second)))

	close(store.release)
	<-done

	inc := soleIncident(t, e)
	require.NotNil(t, inc.RootCause)
	assert.Len(t, inc.MemberAlertIDs, 3)
	assert.Equal(t, uint64(3), inc.Revision)
	assert.Equal(t, uint64(3), inc.RootCause.Revision,
		"the stale revision-2 hypothesis must be discarded, not committed over the newer one")
}

func TestEngine_RescoreIdempotent(t *testing.T) {
	_, client := memoryHistory()
	e, _ := newTestEngine(t, engineTopology(t), client, nil)

	ingest(t, e, firingEvent("db-primary", "ConnectionsSaturated", windowTestBase))
	ingest(t, e, firingEvent("api", "HighLatency", windowTestBase.Add(30*time.Second)))

	before := soleIncident(t, e)
	require.NotNil(t, before.RootCause)

	w, err := e.lookup(before.ID)
	require.NoError(t, err)
	e.recompute(w)

	after := soleIncident(t, e)
	assert.Equal(t, before.Revision, after.Revision, "rescoring is not a membership change")
	assert.Equal(t, before.RootCause, after.RootCause)
}

func TestEngine_ProcessAfterClose(t *testing.T) {
	e, _ := newTestEngine(t, engineTopology(t), nil, nil)
	e.Close()

	err := e.Process(context.Background(), firingEvent("db-primary", "X", windowTestBase))
	assert.ErrorIs(t, err, ErrEngineClosed)
}

func TestEngine_ProcessRejectsInvalidEvent(t *testing.T) {
	e, _ := newTestEngine(t, engineTopology(t), nil, nil)

	err := e.Process(context.Background(), &alert.Event{StartedAt: windowTestBase})
	assert.ErrorIs(t, err, alert.ErrMissingIdentity)
	assert.Empty(t, e.Incidents())
}

func TestEngine_ConcurrentIngestion(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping concurrency test in short mode")
	}

	e, _ := newTestEngine(t, engineTopology(t), nil, func(c *Config) {
		c.Workers = 4
		c.EvictionInterval = time.Hour
	})
	e.Start()

	const perComponent = 5

	services := []string{"db-primary", "api", "web", "batch"}

	for i := 0; i < perComponent; i++ {
		for _, svc := range services {
			ev := firingEvent(svc, "Load", windowTestBase.Add(time.Duration(i)*time.Second))
			ev.Labels["iteration"] = string(rune('a' + i))

			require.NoError(t, e.Process(context.Background(), ev))
		}
	}

	total := perComponent * len(services)

	require.Eventually(t, func() bool {
		members := 0
		for _, inc := range e.Incidents() {
			members += len(inc.MemberAlertIDs)
		}

		return members == total
	}, 5*time.Second, 10*time.Millisecond, "every ingested alert lands in exactly one window")
}
