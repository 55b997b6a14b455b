package domain

// RelationshipKind categorizes directed links between guidelines, or between
// a guideline and a journey.
type RelationshipKind string

const (
	// Entailment: when Source is active, Target activates too, whether or
	// not its own condition matched. Entailment chains may be cyclic.
	Entailment RelationshipKind = "entailment"

	// Dependency: Source (a guideline) is only eligible while Target (a
	// journey) is active.
	Dependency RelationshipKind = "dependency"

	// Prioritization: when Source and Target both match and their actions
	// conflict, Source wins and Target's action is suppressed.
	Prioritization RelationshipKind = "prioritization"
)

// Relationship is one directed edge of the static relationship graph.
type Relationship struct {
	Kind   RelationshipKind `json:"kind" yaml:"kind" mapstructure:"kind"`
	Source string           `json:"source" yaml:"source" mapstructure:"source"`
	Target string           `json:"target" yaml:"target" mapstructure:"target"`
}
