package correlation

import (
	"context"

	"github.com/rootline-io/rootline/internal/history"
)

// defaultChecks is the fallback checklist for components with no curated
// diagnostic checks on file.
var defaultChecks = []history.Check{
	{Description: "Review recent deployments and config changes for the component"},
	{Description: "Inspect component logs around the first alert in the window"},
	{Description: "Check saturation of the component's direct dependencies"},
}

// buildInvestigationPath turns a ranked hypothesis into an ordered runbook.
//
// Steps follow the candidate ranking, capped at maxSteps. Each step carries
// the candidate's probability, its diagnostic checks, and fix references
// from previously confirmed incidents on the same component and pattern.
// Check and fix lookups degrade to the defaults when history is down.
func buildInvestigationPath(ctx context.Context, incidentID string, hyp *RootCauseHypothesis, maxSteps int, hist *history.Client) InvestigationPath {
	path := InvestigationPath{IncidentID: incidentID, Steps: []InvestigationStep{}}

	if hyp == nil || maxSteps <= 0 {
		return path
	}

	candidates := hyp.Candidates
	if len(candidates) > maxSteps {
		candidates = candidates[:maxSteps]
	}

	for i, c := range candidates {
		pattern := c.Pattern
		if pattern == "" {
			pattern = c.ComponentID
		}

		step := InvestigationStep{
			Order:       i + 1,
			ComponentID: c.ComponentID,
			Probability: c.Score,
			Checks:      lookupChecks(ctx, hist, c.ComponentID, pattern),
			FixRefs:     lookupFixRefs(ctx, hist, c.ComponentID, pattern),
		}

		path.Steps = append(path.Steps, step)
	}

	return path
}

func lookupChecks(ctx context.Context, hist *history.Client, componentID, pattern string) []history.Check {
	if hist == nil {
		return append([]history.Check(nil), defaultChecks...)
	}

	checks := hist.Checks(ctx, componentID, pattern)
	if len(checks) == 0 {
		return append([]history.Check(nil), defaultChecks...)
	}

	return checks
}

func lookupFixRefs(ctx context.Context, hist *history.Client, componentID, pattern string) []string {
	if hist == nil {
		return []string{}
	}

	refs := hist.FixRefs(ctx, componentID, pattern)
	if refs == nil {
		return []string{}
	}

	return refs
}
