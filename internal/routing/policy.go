package routing

import (
	"fmt"
	"sort"
)

// applyPolicy dispatches to the configured load-balancing policy. Callers
// pass the providers already scored and sorted best-first; they hold e.mu.
func (e *Engine) applyPolicy(scored []scoredProvider) (scoredProvider, bool, string) {
	switch e.cfg.Algorithm {
	case PolicyWeighted:
		return e.applyWeighted(scored)
	case PolicyLeastConnections:
		return e.applyLeastConnections(scored)
	case PolicyRoundRobin:
		return e.applyRoundRobin(scored)
	default:
		return e.applyPerformanceBased(scored)
	}
}

// applyPerformanceBased picks the top-scored provider among those meeting
// every hard requirement. When none qualifies it degrades to the single
// best-scored provider overall and flags the decision as a fallback.
func (e *Engine) applyPerformanceBased(scored []scoredProvider) (scoredProvider, bool, string) {
	eligible := make([]scoredProvider, 0, len(scored))
	for _, sp := range scored {
		if sp.meets {
			eligible = append(eligible, sp)
		}
	}
	if len(eligible) == 0 {
		sel := e.pickTop(scored)
		return sel, true, fmt.Sprintf("performance_based: no provider meets all requirements, using best-effort %s", sel.name)
	}
	sel := e.pickTop(eligible)
	return sel, false, fmt.Sprintf("performance_based: selected %s from %d eligible providers", sel.name, len(eligible))
}

// applyWeighted multiplies each composite score by the provider's static
// weight and picks the maximum. Hard requirements are deliberately not
// filtered here; the asymmetry with performance_based is preserved behavior
// pending product-owner confirmation.
func (e *Engine) applyWeighted(scored []scoredProvider) (scoredProvider, bool, string) {
	weighted := make([]scoredProvider, len(scored))
	copy(weighted, scored)
	for i := range weighted {
		weighted[i].score = weighted[i].score * weighted[i].profile.Weight
	}
	sortByScore(weighted)
	selWeighted := e.pickTop(weighted)

	// Report the unweighted composite score on the decision.
	sel := selWeighted
	for _, sp := range scored {
		if sp.name == selWeighted.name {
			sel = sp
			break
		}
	}
	return sel, false, fmt.Sprintf("weighted: selected %s (weight %.2f, weighted score %.3f)",
		sel.name, sel.profile.Weight, selWeighted.score)
}

// applyLeastConnections restricts to providers within 10% of the best score
// and picks the one with the fewest in-flight requests.
func (e *Engine) applyLeastConnections(scored []scoredProvider) (scoredProvider, bool, string) {
	best := scored[0].score
	sel := scored[0]
	for _, sp := range scored[1:] {
		if sp.score < best*(1-leastConnectionsBand) {
			continue
		}
		if sp.inflight < sel.inflight {
			sel = sp
		}
	}
	return sel, false, fmt.Sprintf("least_connections: selected %s with %d in-flight requests", sel.name, sel.inflight)
}

// applyRoundRobin cycles a shared index over the scored list. Scores only
// matter as the tie-break ordering of the cycle.
func (e *Engine) applyRoundRobin(scored []scoredProvider) (scoredProvider, bool, string) {
	sel := scored[e.rrIndex%len(scored)]
	e.rrIndex++
	return sel, false, fmt.Sprintf("round_robin: selected %s (position %d of %d)", sel.name, e.rrIndex%len(scored), len(scored))
}

// pickTop returns the best-scored provider, breaking near-ties (within the
// configured epsilon) with the engine's seeded random source so tests can
// pin the behavior.
func (e *Engine) pickTop(scored []scoredProvider) scoredProvider {
	if len(scored) == 1 {
		return scored[0]
	}
	best := scored[0].score
	tied := 1
	for _, sp := range scored[1:] {
		if best-sp.score <= e.cfg.TieEpsilon {
			tied++
		} else {
			break
		}
	}
	if tied == 1 {
		return scored[0]
	}
	return scored[e.rng.Intn(tied)]
}

// sortByScore orders providers best-first, with name as a deterministic
// tie-break.
func sortByScore(scored []scoredProvider) {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].name < scored[j].name
	})
}
