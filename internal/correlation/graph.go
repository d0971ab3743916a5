package correlation

import (
	"sort"
	"time"

	"github.com/rootline-io/rootline/internal/alert"
	"github.com/rootline-io/rootline/internal/topology"
)

type (
	// causalEdge is a directed upstream -> downstream edge between two
	// alerting components, oriented in the assumed direction of failure
	// propagation (against the dependency arrows).
	causalEdge struct {
		From string
		To   string
		Hops int
	}

	// causalGraph is the per-incident view of the topology restricted to
	// alerting components plus the non-alerting context nodes between them.
	//
	// Edges exist only between alerting components: context nodes explain a
	// path but never participate in candidate selection.
	causalGraph struct {
		// Alerting maps each alerting component to the earliest member
		// alert observed on it.
		Alerting map[string]alert.Alert

		// Context holds non-alerting components that sit on a dependency
		// path between two alerting components.
		Context []string

		Edges    []causalEdge
		inDegree map[string]int

		// CycleFallback is set when no alerting component had causal
		// in-degree zero and the minimum-in-degree fallback was used.
		CycleFallback bool
	}
)

// buildCausalGraph projects the window members onto the topology.
//
// For every alerting pair (A, B) where B depends on A within maxHops, the
// graph records a causal edge A -> B: a failure on A plausibly propagated to
// B. Transitive dependencies within the hop budget produce edges too, so a
// root with a long blast radius accumulates out-edges while pure victims
// accumulate in-degree.
func buildCausalGraph(members []alert.Alert, topo *topology.Store, maxHops int) *causalGraph {
	g := &causalGraph{
		Alerting: make(map[string]alert.Alert),
		inDegree: make(map[string]int),
	}

	for _, m := range members {
		if m.ComponentID == "" {
			continue
		}

		earliest, ok := g.Alerting[m.ComponentID]
		if !ok || m.StartedAt.Before(earliest.StartedAt) {
			g.Alerting[m.ComponentID] = m
		}
	}

	components := g.alertingIDs()
	for _, id := range components {
		g.inDegree[id] = 0
	}

	if topo == nil {
		return g
	}

	for _, downstream := range components {
		for _, upstream := range components {
			if upstream == downstream {
				continue
			}

			hops, ok := topo.DependsOn(downstream, upstream, maxHops)
			if !ok {
				continue
			}

			g.Edges = append(g.Edges, causalEdge{From: upstream, To: downstream, Hops: hops})
			g.inDegree[downstream]++
		}
	}

	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].From != g.Edges[j].From {
			return g.Edges[i].From < g.Edges[j].From
		}

		return g.Edges[i].To < g.Edges[j].To
	})

	g.Context = contextNodes(components, topo, maxHops)

	return g
}

// contextNodes collects non-alerting components lying on a dependency path
// between two distinct alerting components, within the hop budget.
func contextNodes(alerting []string, topo *topology.Store, maxHops int) []string {
	if topo == nil || len(alerting) < 2 {
		return nil
	}

	isAlerting := make(map[string]bool, len(alerting))
	for _, id := range alerting {
		isAlerting[id] = true
	}

	seen := make(map[string]bool)

	var nodes []string

	for _, downstream := range alerting {
		for _, upstream := range alerting {
			if downstream == upstream {
				continue
			}

			for _, mid := range topo.PathComponents(downstream, upstream, maxHops) {
				if isAlerting[mid] || seen[mid] {
					continue
				}

				seen[mid] = true
				nodes = append(nodes, mid)
			}
		}
	}

	sort.Strings(nodes)

	return nodes
}

// InDegree returns the causal in-degree of an alerting component.
func (g *causalGraph) InDegree(componentID string) int {
	return g.inDegree[componentID]
}

func (g *causalGraph) alertingIDs() []string {
	ids := make([]string, 0, len(g.Alerting))
	for id := range g.Alerting {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// RootCandidates returns the alerting components with causal in-degree
// zero. When a dependency cycle leaves no zero-in-degree node, it falls
// back to the minimum observed in-degree and flags the fallback.
func (g *causalGraph) RootCandidates() []string {
	ids := g.alertingIDs()
	if len(ids) == 0 {
		return nil
	}

	var roots []string

	for _, id := range ids {
		if g.inDegree[id] == 0 {
			roots = append(roots, id)
		}
	}

	if len(roots) > 0 {
		return roots
	}

	min := g.inDegree[ids[0]]
	for _, id := range ids[1:] {
		if g.inDegree[id] < min {
			min = g.inDegree[id]
		}
	}

	g.CycleFallback = true

	for _, id := range ids {
		if g.inDegree[id] == min {
			roots = append(roots, id)
		}
	}

	return roots
}

// successors returns the causal successors of a component, ordered by the
// earliest alert time on the successor, then by component ID.
func (g *causalGraph) successors(componentID string) []string {
	var succ []string

	for _, e := range g.Edges {
		if e.From != componentID {
			continue
		}

		succ = append(succ, e.To)
	}

	sort.Slice(succ, func(i, j int) bool {
		ti := g.alertTime(succ[i])
		tj := g.alertTime(succ[j])

		if !ti.Equal(tj) {
			return ti.Before(tj)
		}

		return succ[i] < succ[j]
	})

	return succ
}

func (g *causalGraph) alertTime(componentID string) time.Time {
	if a, ok := g.Alerting[componentID]; ok {
		return a.StartedAt
	}

	return time.Time{}
}
