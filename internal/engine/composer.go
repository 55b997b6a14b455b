package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aretw0/tiller/internal/metrics"
	"github.com/aretw0/tiller/pkg/domain"
	"github.com/aretw0/tiller/pkg/ports"
)

// Composition is the composer's terminal output: either reply text or the
// distinguished no-match signal, never both, never neither.
type Composition struct {
	Text    string
	NoMatch bool
}

// Composer selects a composition strategy and produces the final message.
type Composer struct {
	cfg       Config
	evaluator ports.Evaluator
	generator ports.Generator
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewComposer builds a composer over the configured templates and
// fragments.
func NewComposer(cfg Config, evaluator ports.Evaluator, generator ports.Generator, logger *slog.Logger, m *metrics.Metrics) *Composer {
	return &Composer{
		cfg:       cfg,
		evaluator: evaluator,
		generator: generator,
		logger:    logger,
		metrics:   m,
	}
}

// Compose produces the turn's reply under the snapshot's composition mode.
// results are the tool call records produced this turn; they are the only
// tool data the reply may assert.
func (c *Composer) Compose(ctx context.Context, snap *domain.Snapshot, set *ActiveSet, plan *Plan, results []domain.ToolCallRecord) (Composition, error) {
	c.metrics.CountComposition(string(snap.Mode))

	switch snap.Mode {
	case domain.ModeStrict:
		return c.composeStrict(ctx, snap, set, plan, results)
	case domain.ModeFluidFallback:
		return c.composeFluidFallback(ctx, snap, set, plan, results)
	case domain.ModeComposited:
		return c.composeComposited(ctx, snap, set, plan, results)
	default:
		return c.composeFluid(ctx, snap, set, plan, results, "")
	}
}

// composeFluid generates freely, constrained to the active guidelines, the
// journey step, and the facts actually present in context and tool
// results. seed optionally carries the closest template for fallback
// generation.
func (c *Composer) composeFluid(ctx context.Context, snap *domain.Snapshot, set *ActiveSet, plan *Plan, results []domain.ToolCallRecord, seed string) (Composition, error) {
	constraints := domain.GenerationConstraints{
		Guidelines: set.Actions(),
		Facts:      c.facts(snap, results),
		Seed:       seed,
	}
	if journey, ok := set.ActiveJourney(); ok {
		constraints.StepDescription = journey.Step.Description
	}
	for _, j := range set.Journeys {
		if j.State.Status == domain.JourneyAborted {
			constraints.AbortedJourneys = append(constraints.AbortedJourneys, j.Journey.Title)
		}
	}
	for _, missing := range plan.Missing {
		for _, param := range missing.Params {
			constraints.MissingParams = append(constraints.MissingParams, param.Name)
		}
	}

	text, err := c.generator.Generate(ctx, snap, constraints)
	if err != nil {
		return Composition{}, fmt.Errorf("generation failed: %w", err)
	}
	return Composition{Text: text}, nil
}

// composeStrict selects one pre-authored template whose meaning fully
// satisfies the active guidelines. When none qualifies the outcome is the
// distinguished no-match, not a fabricated reply.
func (c *Composer) composeStrict(ctx context.Context, snap *domain.Snapshot, set *ActiveSet, plan *Plan, results []domain.ToolCallRecord) (Composition, error) {
	winner, _, err := c.selectTemplate(ctx, snap, set, plan, results)
	if err != nil {
		return Composition{}, err
	}
	if winner == nil {
		return Composition{NoMatch: true}, nil
	}

	text, err := c.bindSlots(ctx, snap, winner.Template, winner.Fields, plan, results)
	if err != nil {
		// A template whose slots cannot be corroborated does not qualify
		// after all.
		c.logger.Debug("template slot binding failed", "template", winner.ID, "err", err)
		return Composition{NoMatch: true}, nil
	}
	return Composition{Text: text}, nil
}

// composeFluidFallback attempts strict selection first; a partial best
// match seeds fluid generation instead of producing a no-match.
func (c *Composer) composeFluidFallback(ctx context.Context, snap *domain.Snapshot, set *ActiveSet, plan *Plan, results []domain.ToolCallRecord) (Composition, error) {
	winner, closest, err := c.selectTemplate(ctx, snap, set, plan, results)
	if err != nil {
		return Composition{}, err
	}
	if winner != nil {
		text, bindErr := c.bindSlots(ctx, snap, winner.Template, winner.Fields, plan, results)
		if bindErr == nil {
			return Composition{Text: text}, nil
		}
		closest = winner
	}

	seed := ""
	if closest != nil {
		seed = closest.Template
	}
	return c.composeFluid(ctx, snap, set, plan, results, seed)
}

// composeComposited assembles the reply from fragments. A fragment whose
// data slots are not corroborated by an actual tool result is excluded even
// when relevant.
func (c *Composer) composeComposited(ctx context.Context, snap *domain.Snapshot, set *ActiveSet, plan *Plan, results []domain.ToolCallRecord) (Composition, error) {
	var parts []string
	for _, fragment := range c.cfg.Fragments {
		eval, err := c.evaluator.Evaluate(ctx, fragmentRelevantCondition(fragment), snap)
		if err != nil {
			c.logger.Warn("fragment relevance evaluation failed", "fragment", fragment.ID, "err", err)
			continue
		}
		if !eval.Matched {
			continue
		}
		if !c.corroborated(fragment, results) {
			continue
		}

		text, err := c.bindSlots(ctx, snap, fragment.Text, fragment.Slots, plan, results)
		if err != nil {
			continue
		}
		parts = append(parts, text)
	}

	if len(parts) == 0 {
		return c.composeFluid(ctx, snap, set, plan, results, "")
	}
	return Composition{Text: strings.Join(parts, " ")}, nil
}

// selectTemplate scores every canned response and returns the full-match
// winner (highest confidence, declaration order on ties) plus the closest
// partial match for fallback seeding.
func (c *Composer) selectTemplate(ctx context.Context, snap *domain.Snapshot, set *ActiveSet, plan *Plan, results []domain.ToolCallRecord) (winner, closest *domain.CannedResponse, err error) {
	bestConfidence := -1.0
	closestConfidence := 0.0

	for i := range c.cfg.Canned {
		canned := &c.cfg.Canned[i]
		eval, evalErr := c.evaluator.Evaluate(ctx, templateSatisfiesCondition(*canned, set), snap)
		if evalErr != nil {
			return nil, nil, fmt.Errorf("template selection failed: %w", evalErr)
		}
		if eval.Matched && eval.Confidence > bestConfidence {
			winner = canned
			bestConfidence = eval.Confidence
		}
		if !eval.Matched && eval.Confidence > closestConfidence {
			closest = canned
			closestConfidence = eval.Confidence
		}
	}
	return winner, closest, nil
}

// corroborated reports whether every tool-result slot of the fragment is
// backed by an actual result from this turn.
func (c *Composer) corroborated(fragment domain.Fragment, results []domain.ToolCallRecord) bool {
	for _, slot := range fragment.Slots {
		if slot.Source != domain.FieldToolResult {
			continue
		}
		if _, ok := resultField(results, slot.Ref); !ok {
			return false
		}
	}
	return true
}

// bindSlots substitutes every "{name}" slot from its single declared
// source. An unbindable non-generative slot fails the whole binding; the
// reply never carries a tool-derived value without its corroborating
// result.
func (c *Composer) bindSlots(ctx context.Context, snap *domain.Snapshot, template string, slots []domain.FieldSlot, plan *Plan, results []domain.ToolCallRecord) (string, error) {
	text := template
	for _, slot := range slots {
		value, err := c.resolveSlot(ctx, snap, slot, plan, results)
		if err != nil {
			return "", err
		}
		text = strings.ReplaceAll(text, "{"+slot.Name+"}", value)
	}
	return text, nil
}

func (c *Composer) resolveSlot(ctx context.Context, snap *domain.Snapshot, slot domain.FieldSlot, plan *Plan, results []domain.ToolCallRecord) (string, error) {
	switch slot.Source {
	case domain.FieldStandard:
		switch slot.Ref {
		case "agent_name":
			return snap.AgentName, nil
		case "customer_name":
			return snap.CustomerName, nil
		}
		return "", fmt.Errorf("unknown standard field %q", slot.Ref)

	case domain.FieldVariable:
		value, ok := snap.Variable(slot.Ref)
		if !ok {
			return "", fmt.Errorf("context variable %q not set", slot.Ref)
		}
		return fmt.Sprint(value), nil

	case domain.FieldToolResult:
		value, ok := resultField(results, slot.Ref)
		if !ok {
			return "", fmt.Errorf("no corroborating tool result for %q", slot.Ref)
		}
		return fmt.Sprint(value), nil

	case domain.FieldGenerative:
		// The generator may phrase the slot but not introduce facts
		// beyond the allowed sources.
		text, err := c.generator.Generate(ctx, snap, domain.GenerationConstraints{
			Facts: c.facts(snap, results),
			Seed:  slot.Name,
		})
		if err != nil {
			return "", fmt.Errorf("generative slot %q failed: %w", slot.Name, err)
		}
		return text, nil

	case domain.FieldInvalidParam:
		for _, invalid := range plan.Invalid {
			if invalid.Param == slot.Ref {
				// Echo the rejected input verbatim.
				return fmt.Sprint(invalid.Value), nil
			}
		}
		return "", fmt.Errorf("no rejected value for parameter %q", slot.Ref)
	}
	return "", fmt.Errorf("unknown slot source %q", slot.Source)
}

// facts gathers everything the reply is allowed to assert: identities,
// context variables, and this turn's successful tool result fields.
func (c *Composer) facts(snap *domain.Snapshot, results []domain.ToolCallRecord) map[string]any {
	facts := map[string]any{
		"agent_name":    snap.AgentName,
		"customer_name": snap.CustomerName,
	}
	for _, v := range snap.Variables {
		facts[v.Key] = v.Value
	}
	for _, rec := range results {
		if rec.Failed() {
			continue
		}
		if fields, ok := rec.Result.(map[string]any); ok {
			for name, value := range fields {
				facts[rec.ToolID+"."+name] = value
			}
		}
	}
	return facts
}

// resultField resolves a "{tool}.{field}" reference against this turn's
// successful records. The tool part is the qualified name, so the field is
// everything after the last dot.
func resultField(results []domain.ToolCallRecord, ref string) (any, bool) {
	idx := strings.LastIndex(ref, ".")
	if idx < 0 {
		return nil, false
	}
	toolID, field := ref[:idx], ref[idx+1:]

	for i := len(results) - 1; i >= 0; i-- {
		rec := results[i]
		if rec.ToolID != toolID || rec.Failed() {
			continue
		}
		if fields, ok := rec.Result.(map[string]any); ok {
			if value, ok := fields[field]; ok {
				return value, true
			}
		}
	}
	return nil, false
}

func templateSatisfiesCondition(canned domain.CannedResponse, set *ActiveSet) string {
	return fmt.Sprintf(
		"the response template %q (%s) fully satisfies the pending instructions: %s",
		canned.ID, canned.Template, strings.Join(set.Actions(), "; "),
	)
}

func fragmentRelevantCondition(fragment domain.Fragment) string {
	return fmt.Sprintf(
		"the fragment %q (%s) belongs in the reply to the customer's last message",
		fragment.ID, fragment.Text,
	)
}
