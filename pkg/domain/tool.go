package domain

import (
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

// DefaultPrecedence is assigned to parameters that do not declare one.
// Lower values are asked for first when information is missing.
const DefaultPrecedence = 100

// ToolParameter describes one input of a tool.
type ToolParameter struct {
	Name        string   `json:"name" yaml:"name" mapstructure:"name"`
	Type        string   `json:"type" yaml:"type" mapstructure:"type"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
	Required    bool     `json:"required,omitempty" yaml:"required,omitempty" mapstructure:"required"`
	Enum        []string `json:"enum,omitempty" yaml:"enum,omitempty" mapstructure:"enum"`

	// Precedence orders parameters when several are missing: only the
	// lowest-precedence group is surfaced to the customer at once.
	Precedence int `json:"precedence,omitempty" yaml:"precedence,omitempty" mapstructure:"precedence"`
}

// EffectivePrecedence returns the declared precedence, or DefaultPrecedence
// when unset.
func (p ToolParameter) EffectivePrecedence() int {
	if p.Precedence == 0 {
		return DefaultPrecedence
	}
	return p.Precedence
}

// Tool declares a callable side-effect. Tools from different backends may
// share an ID; the qualified "{namespace}:{id}" name disambiguates them.
type Tool struct {
	ID          string          `json:"id" yaml:"id" mapstructure:"id"`
	Namespace   string          `json:"namespace" yaml:"namespace" mapstructure:"namespace"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
	Parameters  []ToolParameter `json:"parameters,omitempty" yaml:"parameters,omitempty" mapstructure:"parameters"`
}

// QualifiedName returns "{namespace}:{id}".
func (t Tool) QualifiedName() string {
	return t.Namespace + ":" + t.ID
}

// Parameter looks up a parameter by name.
func (t Tool) Parameter(name string) (ToolParameter, bool) {
	for _, p := range t.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ToolParameter{}, false
}

// Schema builds an OpenAPI object schema for the tool's parameters, used to
// validate resolved arguments before a call is planned.
func (t Tool) Schema() *openapi3.Schema {
	schema := openapi3.NewObjectSchema()
	for _, p := range t.Parameters {
		var prop *openapi3.Schema
		switch p.Type {
		case "integer":
			prop = openapi3.NewIntegerSchema()
		case "number":
			prop = openapi3.NewFloat64Schema()
		case "boolean":
			prop = openapi3.NewBoolSchema()
		default:
			prop = openapi3.NewStringSchema()
		}
		for _, e := range p.Enum {
			prop.Enum = append(prop.Enum, e)
		}
		schema = schema.WithProperty(p.Name, prop)
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	return schema
}

// ValidateArgs checks resolved arguments against the parameter schema.
// A schema-invalid value is treated by the planner as unresolved, never
// passed through to an invocation.
func (t Tool) ValidateArgs(args map[string]any) error {
	if err := t.Schema().VisitJSON(args); err != nil {
		return fmt.Errorf("arguments for %s rejected by schema: %w", t.QualifiedName(), err)
	}
	return nil
}

// ToolCallRecord is the append-only record of one planned call and its
// outcome. Records share the correlation ID of the turn that produced them.
type ToolCallRecord struct {
	ToolID        string         `json:"tool_id"`
	Arguments     map[string]any `json:"arguments"`
	Result        any            `json:"result,omitempty"`
	Error         string         `json:"error,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// Failed reports whether the invocation errored.
func (r ToolCallRecord) Failed() bool {
	return r.Error != ""
}
