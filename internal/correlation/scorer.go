package correlation

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/rootline-io/rootline/internal/alert"
	"github.com/rootline-io/rootline/internal/history"
	"github.com/rootline-io/rootline/internal/topology"
)

// dependencyPenalty is the score removed per unit of causal in-degree. A
// candidate with four or more suspected upstream causes contributes nothing
// on the dependency factor.
const dependencyPenalty = 0.25

// scorer ranks root-cause candidates for a window snapshot and assembles
// the resulting hypothesis.
type scorer struct {
	topo          *topology.Store
	history       *history.Client
	weights       ScoreWeights
	minConfidence float64
	logger        *slog.Logger
}

func newScorer(topo *topology.Store, hist *history.Client, weights ScoreWeights, minConfidence float64, logger *slog.Logger) *scorer {
	if logger == nil {
		logger = slog.Default()
	}

	return &scorer{
		topo:          topo,
		history:       hist,
		weights:       weights,
		minConfidence: minConfidence,
		logger:        logger,
	}
}

// Hypothesize scores the root candidates of the causal graph and returns the
// winning hypothesis.
//
// Windows with fewer than two members carry no hypothesis: a lone alert has
// nothing to correlate against, and guessing would only add noise. Low
// confidence never suppresses a hypothesis; it is reported via the
// LowConfidence flag so operators can weigh it themselves.
func (s *scorer) Hypothesize(ctx context.Context, g *causalGraph, members []alert.Alert) *RootCauseHypothesis {
	if len(members) < 2 || len(g.Alerting) == 0 {
		return nil
	}

	first, last := memberSpan(members)

	candidates := make([]Candidate, 0, len(g.Alerting))

	for _, componentID := range g.RootCandidates() {
		candidates = append(candidates, s.scoreCandidate(ctx, g, componentID, first, last))
	}

	if len(candidates) == 0 {
		return nil
	}

	if g.CycleFallback {
		s.logger.Debug("No zero in-degree candidate, falling back to minimum in-degree",
			slog.Int("candidates", len(candidates)))
	}

	sortCandidates(candidates)

	winner := candidates[0]

	hyp := &RootCauseHypothesis{
		ComponentID:   winner.ComponentID,
		Confidence:    winner.Score,
		LowConfidence: winner.Score < s.minConfidence,
		Factors:       winner.Factors,
		CausalChain:   causalChain(g, winner.ComponentID),
		Candidates:    candidates,
	}

	return hyp
}

// scoreCandidate computes the weighted factor score for one candidate.
//
// When the historical lookup is degraded, the remaining factor weights are
// renormalized for this candidate alone, so an unreachable history store
// changes confidence composition rather than silently zeroing a factor. A
// genuine zero rate is a real signal and participates normally.
func (s *scorer) scoreCandidate(ctx context.Context, g *causalGraph, componentID string, first, last time.Time) Candidate {
	a := g.Alerting[componentID]
	inDegree := g.InDegree(componentID)

	factors := FactorBreakdown{
		Time:        timeFactor(a.StartedAt, first, last),
		Dependency:  dependencyFactor(inDegree),
		Criticality: criticalityFactor(s.topo, componentID),
	}

	rate, ok := s.lookupRate(ctx, componentID, a.PatternKey())
	if ok {
		factors.Historical = rate
	} else {
		factors.HistoricalDegraded = true
	}

	return Candidate{
		ComponentID:   componentID,
		Pattern:       a.PatternKey(),
		Score:         s.weigh(factors),
		Factors:       factors,
		InDegree:      inDegree,
		EarliestAlert: a.StartedAt,
	}
}

func (s *scorer) lookupRate(ctx context.Context, componentID, pattern string) (float64, bool) {
	if s.history == nil {
		return 0, false
	}

	return s.history.Rate(ctx, componentID, pattern)
}

func (s *scorer) weigh(f FactorBreakdown) float64 {
	w := s.weights

	if !f.HistoricalDegraded {
		return w.Time*f.Time + w.Dependency*f.Dependency + w.Historical*f.Historical + w.Criticality*f.Criticality
	}

	remaining := w.Time + w.Dependency + w.Criticality
	if remaining <= 0 {
		return 0
	}

	return (w.Time*f.Time + w.Dependency*f.Dependency + w.Criticality*f.Criticality) / remaining
}

// timeFactor rewards candidates that alerted early in the window. The first
// alert scores 1.0, the last 0.0. A zero-width span scores 1.0.
func timeFactor(at, first, last time.Time) float64 {
	span := last.Sub(first)
	if span <= 0 {
		return 1.0
	}

	factor := 1.0 - float64(at.Sub(first))/float64(span)
	if factor < 0 {
		return 0
	}

	return factor
}

// dependencyFactor rewards candidates with few suspected causes of their
// own. In-degree counts causal edges, so topology roots score 1.0.
func dependencyFactor(inDegree int) float64 {
	factor := 1.0 - dependencyPenalty*float64(inDegree)
	if factor < 0 {
		return 0
	}

	return factor
}

// criticalityFactor maps the component's tier to a score: tier 1 scores
// 1.0, the lowest tier scores 1/maxTier. Unknown components score 0.
func criticalityFactor(topo *topology.Store, componentID string) float64 {
	if topo == nil {
		return 0
	}

	tier := topo.Criticality(componentID)
	if tier < topology.MinCriticality || tier > topology.MaxCriticality {
		return 0
	}

	return float64(topology.MaxCriticality-tier+1) / float64(topology.MaxCriticality)
}

// sortCandidates orders by score descending. Exact ties fall back to the
// earlier first alert, then to the lexicographically smaller component ID,
// so ranking is reproducible run to run.
func sortCandidates(candidates []Candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}

		if !candidates[i].EarliestAlert.Equal(candidates[j].EarliestAlert) {
			return candidates[i].EarliestAlert.Before(candidates[j].EarliestAlert)
		}

		return candidates[i].ComponentID < candidates[j].ComponentID
	})
}

// causalChain walks the causal edges depth-first from the winning candidate
// and records the propagation story. Successors are visited in alert-time
// order, so the chain follows the observed spread rather than topology
// declaration order. Clock skew can make a downstream alert predate its
// cause; the delay clamps to zero instead of going negative.
func causalChain(g *causalGraph, root string) []CausalHop {
	visited := map[string]bool{root: true}

	var hops []CausalHop

	var visit func(id string)

	visit = func(id string) {
		for _, succ := range g.successors(id) {
			if visited[succ] {
				continue
			}

			visited[succ] = true

			delay := g.alertTime(succ).Sub(g.alertTime(id)).Seconds()
			if delay < 0 {
				delay = 0
			}

			hops = append(hops, CausalHop{From: id, To: succ, DelaySeconds: delay})
			visit(succ)
		}
	}

	visit(root)

	return hops
}

// memberSpan returns the earliest and latest member start times.
func memberSpan(members []alert.Alert) (time.Time, time.Time) {
	first := members[0].StartedAt
	last := members[0].StartedAt

	for _, m := range members[1:] {
		if m.StartedAt.Before(first) {
			first = m.StartedAt
		}

		if m.StartedAt.After(last) {
			last = m.StartedAt
		}
	}

	return first, last
}
