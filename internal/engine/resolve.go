package engine

import (
	"github.com/aretw0/tiller/pkg/domain"
)

// resolvePrioritization removes, from the matched set, every guideline that
// loses a prioritization conflict to another matched guideline. A guideline
// loses only to a winner that itself survives, so a suppressed suppressor
// does not knock out its own targets. Prioritization cycles resolve by
// declaration order: the earlier-declared side wins. The outcome is a pure
// function of the matched set and the declared relationships, so repeated
// runs on identical input are identical.
func resolvePrioritization(graph *RelationshipGraph, declIndex map[string]int, matched []domain.Guideline, set *ActiveSet) []domain.Guideline {
	matchedSet := make(map[string]bool, len(matched))
	for _, g := range matched {
		matchedSet[g.ID] = true
	}

	r := &suppressionResolver{
		graph:     graph,
		declIndex: declIndex,
		matched:   matchedSet,
		state:     make(map[string]resolveState, len(matched)),
	}

	var active []domain.Guideline
	for _, g := range matched {
		if r.suppressed(g.ID) {
			set.Audit = append(set.Audit, AuditEntry{
				GuidelineID: g.ID,
				Reason:      AuditSuppressed,
				Detail:      r.winner[g.ID],
			})
			continue
		}
		active = append(active, g)
	}
	return active
}

type resolveState int

const (
	unresolved resolveState = iota
	resolving
	isSuppressed
	isActive
)

type suppressionResolver struct {
	graph     *RelationshipGraph
	declIndex map[string]int
	matched   map[string]bool
	state     map[string]resolveState
	winner    map[string]string
}

// suppressed reports whether the guideline loses to a surviving matched
// suppressor.
func (r *suppressionResolver) suppressed(id string) bool {
	switch r.state[id] {
	case isSuppressed:
		return true
	case isActive:
		return false
	case resolving:
		// Cycle: treat the in-progress node as unresolved and let the
		// declaration-order rule below decide at the edge.
		return false
	}
	r.state[id] = resolving

	outcome := isActive
	for _, s := range r.graph.Suppressors(id) {
		if !r.matched[s] || s == id {
			continue
		}
		if r.state[s] == resolving {
			// Mutual prioritization: earlier declaration wins.
			if r.declIndex[s] < r.declIndex[id] {
				outcome = isSuppressed
				r.noteWinner(id, s)
				break
			}
			continue
		}
		if !r.suppressed(s) {
			outcome = isSuppressed
			r.noteWinner(id, s)
			break
		}
	}
	r.state[id] = outcome
	return outcome == isSuppressed
}

func (r *suppressionResolver) noteWinner(loser, winner string) {
	if r.winner == nil {
		r.winner = make(map[string]string)
	}
	r.winner[loser] = winner
}
