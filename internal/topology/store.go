package topology

import (
	"log/slog"
	"sort"
	"sync"
)

// Store is the in-memory topology graph. Reads take the shared lock and are
// unlimited; ReplaceSnapshot takes the exclusive lock briefly for a full
// swap. Correlation hot paths never block behind snapshot writes for longer
// than the swap itself.
type Store struct {
	mu sync.RWMutex

	components map[string]Component
	// dependsOn[a] lists the components a depends on (outbound edges).
	dependsOn map[string][]string
	// dependedBy[b] lists the components that depend on b (inbound edges).
	dependedBy map[string][]string

	dependencies []Dependency
}

// NewStore creates an empty topology store. An empty topology is a valid
// degraded mode: alerts stay unmatched and correlation falls back to
// temporal and label strategies.
func NewStore() *Store {
	return &Store{
		components: make(map[string]Component),
		dependsOn:  make(map[string][]string),
		dependedBy: make(map[string][]string),
	}
}

// ReplaceSnapshot swaps the entire topology for the given snapshot.
//
// Invalid entries are skipped with a warning rather than failing the swap:
// components with empty IDs, duplicate IDs (first wins), self-dependencies,
// and dependencies referencing unknown components. The engine degrades, it
// does not abort.
//
// Returns the number of components and dependencies actually applied.
func (s *Store) ReplaceSnapshot(snapshot Snapshot) (int, int) {
	components := make(map[string]Component, len(snapshot.Components))

	for _, c := range snapshot.Components {
		if c.ID == "" {
			slog.Warn("Skipping topology component with empty id")

			continue
		}

		if _, exists := components[c.ID]; exists {
			slog.Warn("Skipping duplicate topology component",
				slog.String("component_id", c.ID))

			continue
		}

		c.Criticality = clampCriticality(c.Criticality)
		if c.Labels == nil {
			c.Labels = map[string]string{}
		}

		components[c.ID] = c
	}

	dependsOn := make(map[string][]string)
	dependedBy := make(map[string][]string)
	applied := make([]Dependency, 0, len(snapshot.Dependencies))
	seen := make(map[[2]string]bool, len(snapshot.Dependencies))

	for _, d := range snapshot.Dependencies {
		if d.From == d.To {
			slog.Warn("Skipping self-dependency",
				slog.String("component_id", d.From))

			continue
		}

		if _, ok := components[d.From]; !ok {
			slog.Warn("Skipping dependency with unknown source",
				slog.String("from", d.From),
				slog.String("to", d.To))

			continue
		}

		if _, ok := components[d.To]; !ok {
			slog.Warn("Skipping dependency with unknown target",
				slog.String("from", d.From),
				slog.String("to", d.To))

			continue
		}

		key := [2]string{d.From, d.To}
		if seen[key] {
			continue
		}

		seen[key] = true

		if d.Kind == "" {
			d.Kind = KindSync
		}

		dependsOn[d.From] = append(dependsOn[d.From], d.To)
		dependedBy[d.To] = append(dependedBy[d.To], d.From)
		applied = append(applied, d)
	}

	s.mu.Lock()
	s.components = components
	s.dependsOn = dependsOn
	s.dependedBy = dependedBy
	s.dependencies = applied
	s.mu.Unlock()

	slog.Info("Topology snapshot replaced",
		slog.Int("components", len(components)),
		slog.Int("dependencies", len(applied)))

	return len(components), len(applied)
}

// Component returns a copy of the component with the given ID.
func (s *Store) Component(id string) (Component, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.components[id]
	if !ok {
		return Component{}, false
	}

	return copyComponent(c), true
}

// Criticality returns the component's tier, or 0 when the component is
// unknown. Scoring treats 0 as "no criticality signal".
func (s *Store) Criticality(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.components[id]
	if !ok {
		return 0
	}

	return c.Criticality
}

// Snapshot returns a copy of the current topology.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	components := make([]Component, 0, len(s.components))
	for _, c := range s.components {
		components = append(components, copyComponent(c))
	}

	dependencies := make([]Dependency, len(s.dependencies))
	copy(dependencies, s.dependencies)

	return Snapshot{Components: components, Dependencies: dependencies}
}

// Counts returns the number of components and dependencies.
func (s *Store) Counts() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.components), len(s.dependencies)
}

// Upstream returns every component the given component depends on within
// maxHops, mapped to its hop distance. Traversal carries a visited set, so
// dependency cycles terminate.
func (s *Store) Upstream(id string, maxHops int) map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return walk(id, s.dependsOn, maxHops)
}

// Downstream returns every component that depends on the given component
// within maxHops, mapped to its hop distance.
func (s *Store) Downstream(id string, maxHops int) map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return walk(id, s.dependedBy, maxHops)
}

// DependsOn reports whether a depends on b within maxHops, and at what hop
// distance.
func (s *Store) DependsOn(a, b string, maxHops int) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hops, ok := walk(a, s.dependsOn, maxHops)[b]

	return hops, ok
}

// Linked reports whether a and b are connected in either direction within
// maxHops. Identity does not count: a component is upstream of itself only
// through a real dependency cycle. Used by the topological correlation
// strategy.
func (s *Store) Linked(a, b string, maxHops int) bool {
	if a == "" || b == "" {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := walk(a, s.dependsOn, maxHops)[b]; ok {
		return true
	}

	_, ok := walk(a, s.dependedBy, maxHops)[b]

	return ok
}

// PathComponents returns the components strictly between src and dst on a
// dependency path src -> ... -> dst of at most maxHops edges. Endpoints are
// excluded. Returns nil when no such path exists or the hop budget leaves no
// room for an intermediate.
func (s *Store) PathComponents(src, dst string, maxHops int) []string {
	if maxHops < 2 || src == dst {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	forward := walk(src, s.dependsOn, maxHops-1)
	backward := walk(dst, s.dependedBy, maxHops-1)

	var nodes []string

	for id, fromSrc := range forward {
		if id == dst {
			continue
		}

		toDst, ok := backward[id]
		if !ok {
			continue
		}

		if fromSrc+toDst <= maxHops {
			nodes = append(nodes, id)
		}
	}

	sort.Strings(nodes)

	return nodes
}

// Match resolves an alert label set to a component ID via label matchers.
//
// A component matches when every one of its matcher labels is satisfied by
// the alert labels (exact value, or prefix when the matcher value ends in
// "*"). Components with no matcher labels never match.
//
// When several components match, the most specific wins: most matcher
// labels, then the more critical tier (lower number), then lexicographic ID.
// Returns ("", false) when nothing matches.
func (s *Store) Match(labels map[string]string) (string, bool) {
	if len(labels) == 0 {
		return "", false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		bestID    string
		bestCount int
		bestTier  int
		found     bool
	)

	for id, c := range s.components {
		if len(c.Labels) == 0 {
			continue
		}

		matched := true

		for key, matcher := range c.Labels {
			value, ok := labels[key]
			if !ok || !matchLabel(matcher, value) {
				matched = false

				break
			}
		}

		if !matched {
			continue
		}

		count := len(c.Labels)

		if !found ||
			count > bestCount ||
			(count == bestCount && c.Criticality < bestTier) ||
			(count == bestCount && c.Criticality == bestTier && id < bestID) {
			bestID = id
			bestCount = count
			bestTier = c.Criticality
			found = true
		}
	}

	return bestID, found
}

// walk is a hop-bounded breadth-first traversal over an adjacency map.
// Callers hold at least the read lock.
func walk(start string, adjacency map[string][]string, maxHops int) map[string]int {
	result := make(map[string]int)
	if maxHops <= 0 {
		return result
	}

	visited := map[string]bool{start: true}
	frontier := []string{start}

	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		next := make([]string, 0, len(frontier))

		for _, id := range frontier {
			for _, neighbor := range adjacency[id] {
				if visited[neighbor] {
					continue
				}

				visited[neighbor] = true
				result[neighbor] = hop
				next = append(next, neighbor)
			}
		}

		frontier = next
	}

	return result
}

func copyComponent(c Component) Component {
	labels := make(map[string]string, len(c.Labels))
	for k, v := range c.Labels {
		labels[k] = v
	}

	c.Labels = labels

	return c
}
