package dsl

import (
	"fmt"

	"github.com/aretw0/tiller/pkg/domain"
	"github.com/aretw0/tiller/pkg/pack"
)

// Builder manages the pack construction.
type Builder struct {
	name      string
	agentName string
	mode      domain.CompositionMode

	guidelines []*GuidelineBuilder
	journeys   []*JourneyBuilder
	tools      []*ToolBuilder
	canned     []*CannedBuilder
	fragments  []*FragmentBuilder

	relationships []domain.Relationship
	variables     []domain.ContextVariable
	glossary      []domain.Term
}

// New creates a new pack builder.
func New(name string) *Builder {
	return &Builder{name: name}
}

// Agent sets the agent's display name.
func (b *Builder) Agent(name string) *Builder {
	b.agentName = name
	return b
}

// Mode sets the pack's composition mode.
func (b *Builder) Mode(mode domain.CompositionMode) *Builder {
	b.mode = mode
	return b
}

// Variable adds a global context variable.
func (b *Builder) Variable(key string, value any) *Builder {
	b.variables = append(b.variables, domain.ContextVariable{
		Key:   key,
		Scope: domain.ScopeGlobal,
		Value: value,
	})
	return b
}

// Term adds a glossary entry.
func (b *Builder) Term(name, description string) *Builder {
	b.glossary = append(b.glossary, domain.Term{Name: name, Description: description})
	return b
}

// Guideline creates a new guideline in the pack.
// If the guideline already exists, it returns the existing builder.
func (b *Builder) Guideline(id string) *GuidelineBuilder {
	for _, gb := range b.guidelines {
		if gb.guideline.ID == id {
			return gb
		}
	}
	gb := &GuidelineBuilder{
		guideline: domain.Guideline{ID: id},
		builder:   b,
	}
	b.guidelines = append(b.guidelines, gb)
	return gb
}

// Journey creates a new journey in the pack.
func (b *Builder) Journey(id, title string) *JourneyBuilder {
	for _, jb := range b.journeys {
		if jb.journey.ID == id {
			return jb
		}
	}
	jb := &JourneyBuilder{
		journey: domain.Journey{ID: id, Title: title},
		builder: b,
	}
	b.journeys = append(b.journeys, jb)
	return jb
}

// Tool declares a tool under a namespace.
func (b *Builder) Tool(namespace, id string) *ToolBuilder {
	for _, tb := range b.tools {
		if tb.tool.Namespace == namespace && tb.tool.ID == id {
			return tb
		}
	}
	tb := &ToolBuilder{
		tool:    domain.Tool{ID: id, Namespace: namespace},
		builder: b,
	}
	b.tools = append(b.tools, tb)
	return tb
}

// Canned adds a reply template for strict composition.
func (b *Builder) Canned(id, template string) *CannedBuilder {
	cb := &CannedBuilder{
		canned:  domain.CannedResponse{ID: id, Template: template},
		builder: b,
	}
	b.canned = append(b.canned, cb)
	return cb
}

// Fragment adds a composable text unit for composited replies.
func (b *Builder) Fragment(id, text string) *FragmentBuilder {
	fb := &FragmentBuilder{
		fragment: domain.Fragment{ID: id, Text: text},
		builder:  b,
	}
	b.fragments = append(b.fragments, fb)
	return fb
}

// Entails links two guidelines: activating source also activates target.
func (b *Builder) Entails(source, target string) *Builder {
	b.relationships = append(b.relationships, domain.Relationship{
		Kind:   domain.Entailment,
		Source: source,
		Target: target,
	})
	return b
}

// DependsOn gates a guideline on a journey being active.
func (b *Builder) DependsOn(guideline, journey string) *Builder {
	b.relationships = append(b.relationships, domain.Relationship{
		Kind:   domain.Dependency,
		Source: guideline,
		Target: journey,
	})
	return b
}

// Prioritizes makes winner suppress loser when both match.
func (b *Builder) Prioritizes(winner, loser string) *Builder {
	b.relationships = append(b.relationships, domain.Relationship{
		Kind:   domain.Prioritization,
		Source: winner,
		Target: loser,
	})
	return b
}

// Build compiles and validates the pack.
func (b *Builder) Build() (*pack.Pack, error) {
	p := &pack.Pack{
		Name:          b.name,
		AgentName:     b.agentName,
		Mode:          b.mode,
		Relationships: b.relationships,
		Variables:     b.variables,
		Glossary:      b.glossary,
	}
	for _, gb := range b.guidelines {
		p.Guidelines = append(p.Guidelines, gb.guideline)
	}
	for _, jb := range b.journeys {
		journey := jb.journey
		for i := range journey.Steps {
			journey.Steps[i].Index = i
		}
		p.Journeys = append(p.Journeys, journey)
	}
	for _, tb := range b.tools {
		p.Tools = append(p.Tools, tb.tool)
	}
	for _, cb := range b.canned {
		p.Canned = append(p.Canned, cb.canned)
	}
	for _, fb := range b.fragments {
		p.Fragments = append(p.Fragments, fb.fragment)
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("failed to build pack: %w", err)
	}
	return p, nil
}
