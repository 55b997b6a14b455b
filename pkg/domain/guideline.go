package domain

// Intention distinguishes what a guideline's condition is checked against.
type Intention string

const (
	// IntentionCustomer conditions are evaluated against the transcript
	// (what the customer said).
	IntentionCustomer Intention = "customer"

	// IntentionAgent conditions are evaluated against the candidate reply
	// direction chosen this iteration (what the agent intends to do).
	IntentionAgent Intention = "agent"
)

// Guideline is an operator-authored condition→action rule. Condition and
// Action are natural-language text; the engine never branches on their
// content, only on evaluator verdicts.
type Guideline struct {
	ID        string    `json:"id" yaml:"id" mapstructure:"id"`
	Condition string    `json:"condition" yaml:"condition" mapstructure:"condition"`
	Action    string    `json:"action" yaml:"action" mapstructure:"action"`
	Intention Intention `json:"intention,omitempty" yaml:"intention,omitempty" mapstructure:"intention"`
	Priority  int       `json:"priority,omitempty" yaml:"priority,omitempty" mapstructure:"priority"`

	// ToolAssociations couple this guideline to tools whose invocation its
	// action may require.
	ToolAssociations []ToolAssociation `json:"tools,omitempty" yaml:"tools,omitempty" mapstructure:"tools"`

	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty" mapstructure:"tags"`
}

// ToolAssociation references a tool by qualified name and optionally pins
// argument values the guideline itself supplies.
type ToolAssociation struct {
	// Tool is the qualified "{namespace}:{id}" tool name.
	Tool string `json:"tool" yaml:"tool" mapstructure:"tool"`

	// FixedArgs are values dictated by the guideline, used as the lowest
	// rung of the argument resolution order.
	FixedArgs map[string]any `json:"fixed_args,omitempty" yaml:"fixed_args,omitempty" mapstructure:"fixed_args"`
}
