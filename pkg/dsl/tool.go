package dsl

import "github.com/aretw0/tiller/pkg/domain"

// ToolBuilder provides a fluent API for declaring a tool.
type ToolBuilder struct {
	tool    domain.Tool
	builder *Builder
}

// Describe sets the tool's description.
func (t *ToolBuilder) Describe(description string) *ToolBuilder {
	t.tool.Description = description
	return t
}

// Param declares a parameter of the given type ("string", "number",
// "integer", "boolean").
func (t *ToolBuilder) Param(name, paramType string) *ParamBuilder {
	t.tool.Parameters = append(t.tool.Parameters, domain.ToolParameter{
		Name: name,
		Type: paramType,
	})
	return &ParamBuilder{tool: t, index: len(t.tool.Parameters) - 1}
}

// And returns to the pack builder for chaining.
func (t *ToolBuilder) And() *Builder {
	return t.builder
}

// ParamBuilder configures the parameter it was created for.
type ParamBuilder struct {
	tool  *ToolBuilder
	index int
}

func (p *ParamBuilder) param() *domain.ToolParameter {
	return &p.tool.tool.Parameters[p.index]
}

// Describe sets the parameter's description.
func (p *ParamBuilder) Describe(description string) *ParamBuilder {
	p.param().Description = description
	return p
}

// Required marks the parameter as required.
func (p *ParamBuilder) Required() *ParamBuilder {
	p.param().Required = true
	return p
}

// Precedence sets the ask-the-customer ordering group.
func (p *ParamBuilder) Precedence(precedence int) *ParamBuilder {
	p.param().Precedence = precedence
	return p
}

// Enum restricts the parameter to the given values.
func (p *ParamBuilder) Enum(values ...string) *ParamBuilder {
	p.param().Enum = append(p.param().Enum, values...)
	return p
}

// Param declares the next parameter of the same tool.
func (p *ParamBuilder) Param(name, paramType string) *ParamBuilder {
	return p.tool.Param(name, paramType)
}

// And returns to the pack builder for chaining.
func (p *ParamBuilder) And() *Builder {
	return p.tool.builder
}
