package dsl

import "github.com/aretw0/tiller/pkg/domain"

// JourneyBuilder provides a fluent API for configuring a journey.
type JourneyBuilder struct {
	journey domain.Journey
	builder *Builder
}

// Entry sets the journey's natural-language entry condition.
func (j *JourneyBuilder) Entry(condition string) *JourneyBuilder {
	j.journey.EntryCondition = condition
	return j
}

// Step appends a step. Indices follow declaration order.
func (j *JourneyBuilder) Step(description string) *StepBuilder {
	j.journey.Steps = append(j.journey.Steps, domain.Step{Description: description})
	return &StepBuilder{journey: j, index: len(j.journey.Steps) - 1}
}

// And returns to the pack builder for chaining.
func (j *JourneyBuilder) And() *Builder {
	return j.builder
}

// StepBuilder configures the step it was created for.
type StepBuilder struct {
	journey *JourneyBuilder
	index   int
}

// Tools names the qualified tools this step may call.
func (s *StepBuilder) Tools(refs ...string) *StepBuilder {
	step := &s.journey.journey.Steps[s.index]
	step.ToolRefs = append(step.ToolRefs, refs...)
	return s
}

// OnlyIf gates the step on an applicability condition.
func (s *StepBuilder) OnlyIf(condition string) *StepBuilder {
	s.journey.journey.Steps[s.index].Applicability = condition
	return s
}

// Step appends the next step of the same journey.
func (s *StepBuilder) Step(description string) *StepBuilder {
	return s.journey.Step(description)
}

// And returns to the pack builder for chaining.
func (s *StepBuilder) And() *Builder {
	return s.journey.builder
}
