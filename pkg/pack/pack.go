// Package pack loads and validates behavior packs: the operator-authored
// YAML documents declaring guidelines, journeys, relationships, tools, and
// response templates for one agent.
package pack

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/tiller/pkg/domain"
)

// Pack is one complete behavior pack.
type Pack struct {
	Name      string                 `mapstructure:"name"`
	AgentName string                 `mapstructure:"agent_name"`
	Mode      domain.CompositionMode `mapstructure:"mode"`

	Guidelines    []domain.Guideline       `mapstructure:"guidelines"`
	Journeys      []domain.Journey         `mapstructure:"journeys"`
	Relationships []domain.Relationship    `mapstructure:"relationships"`
	Tools         []domain.Tool            `mapstructure:"tools"`
	Canned        []domain.CannedResponse  `mapstructure:"canned_responses"`
	Fragments     []domain.Fragment        `mapstructure:"fragments"`
	Variables     []domain.ContextVariable `mapstructure:"variables"`
	Glossary      []domain.Term            `mapstructure:"glossary"`
}

// Load reads and validates a pack from a YAML file.
func Load(path string) (*Pack, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pack: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads and validates a pack from YAML.
func Decode(r io.Reader) (*Pack, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read pack: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid pack YAML: %w", err)
	}

	pack := &Pack{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      pack,
		ErrorUnused: true, // a typoed key is a pack bug, not noise
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("invalid pack structure: %w", err)
	}

	if err := pack.Validate(); err != nil {
		return nil, err
	}
	return pack, nil
}

// Validate checks referential integrity: every relationship endpoint, tool
// association, and slot reference must resolve within the pack.
func (p *Pack) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if p.Mode != "" {
		switch p.Mode {
		case domain.ModeFluid, domain.ModeStrict, domain.ModeFluidFallback, domain.ModeComposited:
		default:
			fail("unknown composition mode %q", p.Mode)
		}
	}

	guidelines := make(map[string]bool, len(p.Guidelines))
	for i, g := range p.Guidelines {
		switch {
		case g.ID == "":
			fail("guidelines[%d]: missing id", i)
		case guidelines[g.ID]:
			fail("duplicate guideline id %q", g.ID)
		default:
			guidelines[g.ID] = true
		}
		if g.Condition == "" {
			fail("guideline %q: missing condition", g.ID)
		}
		if g.Intention != "" && g.Intention != domain.IntentionCustomer && g.Intention != domain.IntentionAgent {
			fail("guideline %q: unknown intention %q", g.ID, g.Intention)
		}
	}

	journeys := make(map[string]bool, len(p.Journeys))
	for i, j := range p.Journeys {
		switch {
		case j.ID == "":
			fail("journeys[%d]: missing id", i)
		case journeys[j.ID]:
			fail("duplicate journey id %q", j.ID)
		default:
			journeys[j.ID] = true
		}
		if j.EntryCondition == "" {
			fail("journey %q: missing entry_condition", j.ID)
		}
		if len(j.Steps) == 0 {
			fail("journey %q: no steps", j.ID)
		}
		for k, step := range j.Steps {
			if step.Index != k {
				fail("journey %q: step %d declares index %d", j.ID, k, step.Index)
			}
			if step.Description == "" {
				fail("journey %q: step %d missing description", j.ID, k)
			}
		}
	}

	tools := make(map[string]bool, len(p.Tools))
	for i, tool := range p.Tools {
		name := tool.QualifiedName()
		switch {
		case tool.ID == "" || tool.Namespace == "":
			fail("tools[%d]: id and namespace are required", i)
		case tools[name]:
			fail("duplicate tool %q", name)
		default:
			tools[name] = true
		}
		if !strings.Contains(name, ":") || strings.Count(name, ":") > 1 {
			fail("tool %q: namespace and id must not contain ':'", name)
		}
	}

	for _, g := range p.Guidelines {
		for _, assoc := range g.ToolAssociations {
			if !tools[assoc.Tool] {
				fail("guideline %q references unknown tool %q", g.ID, assoc.Tool)
			}
		}
	}
	for _, j := range p.Journeys {
		for _, step := range j.Steps {
			for _, ref := range step.ToolRefs {
				if !tools[ref] {
					fail("journey %q step %d references unknown tool %q", j.ID, step.Index, ref)
				}
			}
		}
	}

	for i, rel := range p.Relationships {
		switch rel.Kind {
		case domain.Entailment, domain.Prioritization:
			if !guidelines[rel.Source] {
				fail("relationships[%d]: unknown source guideline %q", i, rel.Source)
			}
			if !guidelines[rel.Target] {
				fail("relationships[%d]: unknown target guideline %q", i, rel.Target)
			}
		case domain.Dependency:
			if !guidelines[rel.Source] {
				fail("relationships[%d]: unknown source guideline %q", i, rel.Source)
			}
			if !journeys[rel.Target] {
				fail("relationships[%d]: unknown target journey %q", i, rel.Target)
			}
		default:
			fail("relationships[%d]: unknown kind %q", i, rel.Kind)
		}
	}

	variables := make(map[string]bool, len(p.Variables))
	for _, v := range p.Variables {
		variables[v.Key] = true
	}
	validateSlots(&errs, "canned response", cannedSlots(p.Canned), variables)
	validateSlots(&errs, "fragment", fragmentSlots(p.Fragments), variables)

	return errors.Join(errs...)
}

type namedSlots struct {
	owner string
	slots []domain.FieldSlot
}

func cannedSlots(canned []domain.CannedResponse) []namedSlots {
	out := make([]namedSlots, len(canned))
	for i, c := range canned {
		out[i] = namedSlots{owner: c.ID, slots: c.Fields}
	}
	return out
}

func fragmentSlots(fragments []domain.Fragment) []namedSlots {
	out := make([]namedSlots, len(fragments))
	for i, f := range fragments {
		out[i] = namedSlots{owner: f.ID, slots: f.Slots}
	}
	return out
}

func validateSlots(errs *[]error, kind string, owners []namedSlots, variables map[string]bool) {
	for _, owner := range owners {
		for _, slot := range owner.slots {
			switch slot.Source {
			case domain.FieldStandard:
				if slot.Ref != "agent_name" && slot.Ref != "customer_name" {
					*errs = append(*errs, fmt.Errorf("%s %q: slot %q: unknown standard field %q",
						kind, owner.owner, slot.Name, slot.Ref))
				}
			case domain.FieldVariable:
				if !variables[slot.Ref] {
					*errs = append(*errs, fmt.Errorf("%s %q: slot %q: unknown variable %q",
						kind, owner.owner, slot.Name, slot.Ref))
				}
			case domain.FieldToolResult:
				if !strings.Contains(slot.Ref, ".") {
					*errs = append(*errs, fmt.Errorf("%s %q: slot %q: tool_result ref %q is not {tool}.{field}",
						kind, owner.owner, slot.Name, slot.Ref))
				}
			case domain.FieldGenerative, domain.FieldInvalidParam:
			default:
				*errs = append(*errs, fmt.Errorf("%s %q: slot %q: unknown source %q",
					kind, owner.owner, slot.Name, slot.Source))
			}
		}
	}
}
