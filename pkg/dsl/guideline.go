package dsl

import "github.com/aretw0/tiller/pkg/domain"

// GuidelineBuilder provides a fluent API for configuring a guideline.
type GuidelineBuilder struct {
	guideline domain.Guideline
	builder   *Builder
}

// When sets the natural-language condition.
func (g *GuidelineBuilder) When(condition string) *GuidelineBuilder {
	g.guideline.Condition = condition
	g.guideline.Intention = domain.IntentionCustomer
	return g
}

// WhenAbout makes the condition an agent-intention one, checked against the
// candidate reply direction instead of the transcript.
func (g *GuidelineBuilder) WhenAbout(condition string) *GuidelineBuilder {
	g.guideline.Condition = condition
	g.guideline.Intention = domain.IntentionAgent
	return g
}

// Then sets the action the reply must follow when the condition matches.
func (g *GuidelineBuilder) Then(action string) *GuidelineBuilder {
	g.guideline.Action = action
	return g
}

// Priority orders the guideline among active ones; higher wins.
func (g *GuidelineBuilder) Priority(p int) *GuidelineBuilder {
	g.guideline.Priority = p
	return g
}

// Use couples the guideline to a tool by qualified "{namespace}:{id}" name.
func (g *GuidelineBuilder) Use(tool string, fixedArgs map[string]any) *GuidelineBuilder {
	g.guideline.ToolAssociations = append(g.guideline.ToolAssociations, domain.ToolAssociation{
		Tool:      tool,
		FixedArgs: fixedArgs,
	})
	return g
}

// Tags attaches tags to the guideline.
func (g *GuidelineBuilder) Tags(tags ...string) *GuidelineBuilder {
	g.guideline.Tags = append(g.guideline.Tags, tags...)
	return g
}

// And returns to the pack builder for chaining.
func (g *GuidelineBuilder) And() *Builder {
	return g.builder
}
