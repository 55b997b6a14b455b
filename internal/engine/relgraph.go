package engine

import (
	"github.com/aretw0/tiller/pkg/domain"
)

// RelationshipGraph is the static adjacency index over guideline↔guideline
// and guideline↔journey relationships. It is built once per Processor and
// read-only afterwards, so it is safe to share across concurrent turns.
type RelationshipGraph struct {
	entails    map[string][]string // guideline -> entailed guidelines
	dependsOn  map[string]string   // guideline -> journey it requires
	suppressor map[string][]string // guideline -> guidelines that override it
}

// NewRelationshipGraph indexes the declared relationships.
func NewRelationshipGraph(rels []domain.Relationship) *RelationshipGraph {
	g := &RelationshipGraph{
		entails:    make(map[string][]string),
		dependsOn:  make(map[string]string),
		suppressor: make(map[string][]string),
	}
	for _, rel := range rels {
		switch rel.Kind {
		case domain.Entailment:
			g.entails[rel.Source] = append(g.entails[rel.Source], rel.Target)
		case domain.Dependency:
			g.dependsOn[rel.Source] = rel.Target
		case domain.Prioritization:
			g.suppressor[rel.Target] = append(g.suppressor[rel.Target], rel.Source)
		}
	}
	return g
}

// Entailed returns the direct entailment targets of a guideline.
func (g *RelationshipGraph) Entailed(guidelineID string) []string {
	return g.entails[guidelineID]
}

// TransitiveEntailments walks entailment edges from the seeds and returns
// every reachable guideline not already a seed, in deterministic
// breadth-first order. The entailment graph may be cyclic; the visited set
// bounds the walk.
func (g *RelationshipGraph) TransitiveEntailments(seeds []string) []string {
	visited := make(map[string]bool, len(seeds))
	for _, id := range seeds {
		visited[id] = true
	}

	var reached []string
	frontier := append([]string(nil), seeds...)
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		for _, target := range g.entails[next] {
			if visited[target] {
				continue
			}
			visited[target] = true
			reached = append(reached, target)
			frontier = append(frontier, target)
		}
	}
	return reached
}

// RequiredJourney returns the journey a guideline depends on, if any.
func (g *RelationshipGraph) RequiredJourney(guidelineID string) (string, bool) {
	j, ok := g.dependsOn[guidelineID]
	return j, ok
}

// Suppressors returns the guidelines that win over the given one when both
// match, in declaration order.
func (g *RelationshipGraph) Suppressors(guidelineID string) []string {
	return g.suppressor[guidelineID]
}
