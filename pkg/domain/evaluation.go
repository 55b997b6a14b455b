package domain

// Evaluation is the verdict of the external condition evaluator. The engine
// branches only on these fields, never on condition text.
type Evaluation struct {
	Matched    bool    `json:"matched"`
	Confidence float64 `json:"confidence,omitempty"`
}

// ExtractionQuery asks the evaluation backend for candidate values of one
// tool parameter, drawn from explicit customer statements.
type ExtractionQuery struct {
	Tool      string        `json:"tool"`
	Parameter ToolParameter `json:"parameter"`
}

// ArgumentCandidate is one possible value for a parameter, tagged with
// provenance so the planner can detect staleness and ambiguity.
type ArgumentCandidate struct {
	Value any `json:"value"`

	// Offset is the transcript offset of the customer statement the value
	// was drawn from.
	Offset int64 `json:"offset"`

	// Request distinguishes independent customer requests within a single
	// turn (e.g. two transfers asked for at once). Candidates sharing a
	// request index but holding different values are mutually inconsistent,
	// an ambiguity the planner refuses to resolve by guessing.
	Request int `json:"request,omitempty"`
}

// GenerationConstraints bound what the generation backend may say.
type GenerationConstraints struct {
	// Guidelines are the actions the reply must follow.
	Guidelines []string

	// StepDescription is the active journey step's instruction, if any.
	StepDescription string

	// Facts are the only data points the reply may assert: context
	// variables, tool results, and identity fields.
	Facts map[string]any

	// Seed optionally carries the closest template for fluid-fallback
	// generation.
	Seed string

	// MissingParams lists required tool parameters the reply should ask
	// the customer for.
	MissingParams []string

	// AbortedJourneys names procedures the customer abandoned this turn;
	// the reply must state they cannot proceed.
	AbortedJourneys []string
}
