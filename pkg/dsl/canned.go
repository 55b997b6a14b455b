package dsl

import "github.com/aretw0/tiller/pkg/domain"

// CannedBuilder provides a fluent API for configuring a reply template.
type CannedBuilder struct {
	canned  domain.CannedResponse
	builder *Builder
}

// Slot binds a "{name}" placeholder of the template to a value source.
func (c *CannedBuilder) Slot(name string, source domain.FieldSource, ref string) *CannedBuilder {
	c.canned.Fields = append(c.canned.Fields, domain.FieldSlot{
		Name:   name,
		Source: source,
		Ref:    ref,
	})
	return c
}

// Tags attaches tags to the template.
func (c *CannedBuilder) Tags(tags ...string) *CannedBuilder {
	c.canned.Tags = append(c.canned.Tags, tags...)
	return c
}

// And returns to the pack builder for chaining.
func (c *CannedBuilder) And() *Builder {
	return c.builder
}

// FragmentBuilder provides a fluent API for configuring a fragment.
type FragmentBuilder struct {
	fragment domain.Fragment
	builder  *Builder
}

// Slot binds a "{name}" placeholder of the fragment to a value source.
func (f *FragmentBuilder) Slot(name string, source domain.FieldSource, ref string) *FragmentBuilder {
	f.fragment.Slots = append(f.fragment.Slots, domain.FieldSlot{
		Name:   name,
		Source: source,
		Ref:    ref,
	})
	return f
}

// And returns to the pack builder for chaining.
func (f *FragmentBuilder) And() *Builder {
	return f.builder
}
