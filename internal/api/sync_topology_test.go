package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rootline-io/rootline/internal/alert"
	"github.com/rootline-io/rootline/internal/topology"
)

func TestSyncTopology_Success(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ts := newTestServer(t)

	snapshot := topology.Snapshot{
		Components: []topology.Component{
			{ID: "cache", Name: "Cache", Type: topology.TypeCache, Criticality: 2,
				Labels: map[string]string{"service": "cache"}},
			{ID: "queue", Name: "Queue", Type: topology.TypeQueue, Criticality: 2,
				Labels: map[string]string{"service": "queue"}},
		},
		Dependencies: []topology.Dependency{
			{From: "cache", To: "queue"},
		},
	}

	rr := ts.postJSON(t, "/api/v1/topology", snapshot)

	require.Equal(t, http.StatusOK, rr.Code, "Response body: %s", rr.Body.String())

	var response TopologySyncResponse

	require.NoError(t, decodeJSON(rr, &response))
	assert.Equal(t, 2, response.Components)
	assert.Equal(t, 1, response.Dependencies)
	assert.NotEmpty(t, response.CorrelationID)

	// Replacement is wholesale: the previous chain is gone.
	_, ok := ts.topo.Component("db-primary")
	assert.False(t, ok, "old components should be dropped by the replacement")

	_, ok = ts.topo.Component("cache")
	assert.True(t, ok)
}

func TestSyncTopology_Idempotent(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ts := newTestServer(t)

	snapshot := topology.Snapshot{
		Components: []topology.Component{
			{ID: "cache", Name: "Cache", Type: topology.TypeCache, Criticality: 2},
		},
	}

	first := ts.postJSON(t, "/api/v1/topology", snapshot)
	require.Equal(t, http.StatusOK, first.Code)

	second := ts.postJSON(t, "/api/v1/topology", snapshot)
	require.Equal(t, http.StatusOK, second.Code)

	var response TopologySyncResponse

	require.NoError(t, decodeJSON(second, &response))
	assert.Equal(t, 1, response.Components)
	assert.Zero(t, response.Dependencies)
}

func TestSyncTopology_DropsInvalidEntries(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ts := newTestServer(t)

	// One component without an ID, one self-dependency and one dependency
	// on an unknown component: all silently dropped, counts reflect what
	// was actually applied.
	snapshot := topology.Snapshot{
		Components: []topology.Component{
			{ID: "cache", Name: "Cache", Type: topology.TypeCache, Criticality: 2},
			{Name: "Anonymous", Type: topology.TypeCompute, Criticality: 3},
		},
		Dependencies: []topology.Dependency{
			{From: "cache", To: "cache"},
			{From: "cache", To: "ghost"},
		},
	}

	rr := ts.postJSON(t, "/api/v1/topology", snapshot)

	require.Equal(t, http.StatusOK, rr.Code, "Response body: %s", rr.Body.String())

	var response TopologySyncResponse

	require.NoError(t, decodeJSON(rr, &response))
	assert.Equal(t, 1, response.Components)
	assert.Zero(t, response.Dependencies)
}

func TestSyncTopology_NewSnapshotDrivesCorrelation(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ts := newTestServer(t)

	snapshot := topology.Snapshot{
		Components: []topology.Component{
			{ID: "payments", Name: "Payments", Type: topology.TypeCompute, Criticality: 1,
				Labels: map[string]string{"service": "payments"}},
		},
	}

	rr := ts.postJSON(t, "/api/v1/topology", snapshot)
	require.Equal(t, http.StatusOK, rr.Code)

	// An alert matching the new component resolves against the replaced
	// topology.
	base := time.Now().UTC().Add(-time.Minute)

	rr = ts.postJSON(t, "/api/v1/alerts", []alert.Event{
		firingBatchEvent("payments", "ChargeFailures", base),
	})
	require.Equal(t, http.StatusOK, rr.Code, "Response body: %s", rr.Body.String())

	list := ts.waitForIncidents(t, 1)
	assert.Equal(t, []string{"payments"}, list.Incidents[0].AffectedComponents)
}

func TestSyncTopology_WrongContentType(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/topology", strings.NewReader("components: []"))
	req.Header.Set("Content-Type", "application/x-yaml")

	rr := ts.do(req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
}

func TestSyncTopology_InvalidJSON(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/topology", strings.NewReader("{broken"))
	req.Header.Set("Content-Type", "application/json")

	rr := ts.do(req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSyncTopology_EmptyBody(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/topology", nil)
	req.Header.Set("Content-Type", "application/json")

	rr := ts.do(req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
