package domain

// VariableScope is where a context variable applies.
type VariableScope string

const (
	ScopeCustomer VariableScope = "customer"
	ScopeTag      VariableScope = "tag"
	ScopeGlobal   VariableScope = "global"
)

// ContextVariable is a read-only key/value input to turn processing.
type ContextVariable struct {
	Key   string        `json:"key" yaml:"key" mapstructure:"key"`
	Scope VariableScope `json:"scope" yaml:"scope" mapstructure:"scope"`
	Value any           `json:"value" yaml:"value" mapstructure:"value"`
}

// Term is one glossary entry included in the turn snapshot.
type Term struct {
	Name        string `json:"name" yaml:"name" mapstructure:"name"`
	Description string `json:"description" yaml:"description" mapstructure:"description"`
}
