package domain

// FieldSource names the single allowed origin of a template or fragment
// slot's value.
type FieldSource string

const (
	// FieldStandard binds to a built-in identity field: "agent_name" or
	// "customer_name".
	FieldStandard FieldSource = "standard"

	// FieldVariable binds to a context variable by key.
	FieldVariable FieldSource = "variable"

	// FieldToolResult binds to a field of a tool result from this turn.
	FieldToolResult FieldSource = "tool_result"

	// FieldGenerative lets the generator infer text for the slot, without
	// introducing facts outside the allowed sources.
	FieldGenerative FieldSource = "generative"

	// FieldInvalidParam echoes a tool's rejected input verbatim, for
	// transparent error messaging.
	FieldInvalidParam FieldSource = "invalid_param"
)

// FieldSlot declares one substitutable slot of a canned response or
// fragment.
type FieldSlot struct {
	Name   string      `json:"name" yaml:"name" mapstructure:"name"`
	Source FieldSource `json:"source" yaml:"source" mapstructure:"source"`

	// Ref selects within the source: the standard field name, the variable
	// key, or the "{tool}.{field}" path of a tool-result value.
	Ref string `json:"ref,omitempty" yaml:"ref,omitempty" mapstructure:"ref"`
}

// CannedResponse is a pre-authored reply template used by strict
// composition. Slots appear in the template as "{name}".
type CannedResponse struct {
	ID       string      `json:"id" yaml:"id" mapstructure:"id"`
	Template string      `json:"template" yaml:"template" mapstructure:"template"`
	Fields   []FieldSlot `json:"fields,omitempty" yaml:"fields,omitempty" mapstructure:"fields"`
	Tags     []string    `json:"tags,omitempty" yaml:"tags,omitempty" mapstructure:"tags"`
}

// Fragment is a small composable text unit used by assembly composition.
// Fragments with data slots are only usable when corroborated by an actual
// tool result.
type Fragment struct {
	ID    string      `json:"id" yaml:"id" mapstructure:"id"`
	Text  string      `json:"text" yaml:"text" mapstructure:"text"`
	Slots []FieldSlot `json:"slots,omitempty" yaml:"slots,omitempty" mapstructure:"slots"`
}
