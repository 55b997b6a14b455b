package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/aretw0/tiller/pkg/domain"
	"github.com/aretw0/tiller/pkg/ports"
)

// PlannedCall is a fully resolved call ready for dispatch.
type PlannedCall struct {
	Tool      domain.Tool
	Arguments map[string]any
}

// MissingInfo reports the parameters blocking a call, already reduced to
// the lowest-precedence group so the customer is not flooded with
// questions.
type MissingInfo struct {
	Tool   domain.Tool
	Params []domain.ToolParameter
}

// InvalidParam records a value the tool's schema rejected, surfaced
// verbatim by invalid-parameter echo slots.
type InvalidParam struct {
	Tool   string
	Param  string
	Value  any
	Reason string
}

// Plan is the planner's output for one iteration: zero or more calls, each
// fully resolved, plus everything that was explicitly deferred.
type Plan struct {
	Calls   []PlannedCall
	Missing []MissingInfo
	Invalid []InvalidParam
}

// Planner infers tool arguments and decides whether to call, skip, or
// re-call. A call is only ever emitted with every required argument
// resolved to a concrete, schema-valid, unambiguous value.
type Planner struct {
	tools     map[string]domain.Tool
	evaluator ports.Evaluator
	logger    *slog.Logger
}

// NewPlanner builds a planner over the tool registry.
func NewPlanner(tools map[string]domain.Tool, evaluator ports.Evaluator, logger *slog.Logger) *Planner {
	return &Planner{tools: tools, evaluator: evaluator, logger: logger}
}

// Plan resolves arguments for every tool association in the active set.
//
// Resolution order per parameter: explicit customer statements (latest
// first), then context variables, then prior tool results, then
// guideline-fixed values. Identical resolved calls are deduplicated, both
// within the plan and against prior successful records; a prior record
// whose arguments differ from the fresh resolution is stale and the call is
// re-issued.
func (p *Planner) Plan(ctx context.Context, snap *domain.Snapshot, set *ActiveSet) (*Plan, error) {
	plan := &Plan{}
	seen := make(map[string]bool)

	for _, assoc := range set.ToolAssociations() {
		tool, ok := p.tools[assoc.Tool]
		if !ok {
			p.logger.Warn("tool association references unknown tool", "tool", assoc.Tool)
			continue
		}
		if err := p.planAssociation(ctx, snap, tool, assoc, plan, seen); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// requestArgs is the argument resolution of one independent customer
// request.
type requestArgs struct {
	values  map[string]any
	missing []domain.ToolParameter
}

func (p *Planner) planAssociation(ctx context.Context, snap *domain.Snapshot, tool domain.Tool, assoc domain.ToolAssociation, plan *Plan, seen map[string]bool) error {
	// Customer-sourced candidates per parameter, fetched once.
	candidates := make(map[string][]domain.ArgumentCandidate, len(tool.Parameters))
	requests := 1
	for _, param := range tool.Parameters {
		found, err := p.evaluator.Extract(ctx, domain.ExtractionQuery{
			Tool:      tool.QualifiedName(),
			Parameter: param,
		}, snap)
		if err != nil {
			// Recoverable: the parameter is simply not resolvable from
			// the transcript this iteration.
			p.logger.Warn("argument extraction failed",
				"tool", tool.QualifiedName(), "param", param.Name, "err", err)
			continue
		}
		candidates[param.Name] = found
		for _, c := range found {
			if c.Request+1 > requests {
				requests = c.Request + 1
			}
		}
	}

	// Multiple distinct requests in one turn each produce an independent
	// call.
	for r := 0; r < requests; r++ {
		args := p.resolveRequest(snap, tool, assoc, candidates, r, plan)

		if len(args.missing) > 0 {
			plan.Missing = append(plan.Missing, MissingInfo{
				Tool:   tool,
				Params: lowestPrecedenceGroup(args.missing),
			})
			continue
		}

		if priorRecordMatches(snap, tool, args.values) {
			// The latest customer input resolves to exactly the call we
			// already made; reuse the record instead of re-calling.
			continue
		}

		key := callKey(tool.QualifiedName(), args.values)
		if seen[key] {
			continue
		}
		seen[key] = true

		plan.Calls = append(plan.Calls, PlannedCall{Tool: tool, Arguments: args.values})
	}
	return nil
}

// resolveRequest resolves every parameter for one request index.
func (p *Planner) resolveRequest(snap *domain.Snapshot, tool domain.Tool, assoc domain.ToolAssociation, candidates map[string][]domain.ArgumentCandidate, request int, plan *Plan) requestArgs {
	args := requestArgs{values: make(map[string]any)}

	for _, param := range tool.Parameters {
		value, ok, ambiguous := customerValue(candidates[param.Name], request)
		if ambiguous {
			// Mutually inconsistent values in the same turn: never
			// resolved by guessing.
			p.logger.Debug("ambiguous argument, refusing to guess",
				"tool", tool.QualifiedName(), "param", param.Name)
			if param.Required {
				args.missing = append(args.missing, param)
			}
			continue
		}
		if !ok {
			value, ok = snap.Variable(param.Name)
		}
		if !ok {
			value, ok = priorResultValue(snap, param.Name)
		}
		if !ok {
			value, ok = assoc.FixedArgs[param.Name]
		}
		if !ok {
			if param.Required {
				args.missing = append(args.missing, param)
			}
			continue
		}

		if err := validateParam(tool, param, value); err != nil {
			plan.Invalid = append(plan.Invalid, InvalidParam{
				Tool:   tool.QualifiedName(),
				Param:  param.Name,
				Value:  value,
				Reason: err.Error(),
			})
			if param.Required {
				args.missing = append(args.missing, param)
			}
			continue
		}
		args.values[param.Name] = value
	}
	return args
}

// customerValue picks the latest-offset candidate of one request.
// Candidates of the same request carrying different values are mutually
// inconsistent (e.g. a range instead of one figure).
func customerValue(candidates []domain.ArgumentCandidate, request int) (value any, ok, ambiguous bool) {
	var best *domain.ArgumentCandidate
	for i := range candidates {
		c := candidates[i]
		if c.Request != request {
			continue
		}
		if best == nil || c.Offset > best.Offset {
			ok = true
			best = &candidates[i]
			continue
		}
		if c.Offset == best.Offset && !sameValue(c.Value, best.Value) {
			return nil, false, true
		}
	}
	if best == nil {
		return nil, false, false
	}
	return best.Value, true, false
}

// priorResultValue searches prior tool results, newest first, for a field
// named like the parameter.
func priorResultValue(snap *domain.Snapshot, name string) (any, bool) {
	for i := len(snap.ToolRecords) - 1; i >= 0; i-- {
		rec := snap.ToolRecords[i]
		if rec.Failed() {
			continue
		}
		fields, ok := rec.Result.(map[string]any)
		if !ok {
			continue
		}
		if value, ok := fields[name]; ok {
			return value, true
		}
	}
	return nil, false
}

// priorRecordMatches reports whether a prior successful record of this tool
// already carries exactly the freshly resolved arguments. A record with
// different arguments is stale: newer customer input contradicted it, and
// the planner re-issues the call rather than reusing it.
func priorRecordMatches(snap *domain.Snapshot, tool domain.Tool, args map[string]any) bool {
	key := callKey(tool.QualifiedName(), args)
	for _, rec := range snap.ToolRecords {
		if rec.Failed() {
			continue
		}
		if callKey(rec.ToolID, rec.Arguments) == key {
			return true
		}
	}
	return false
}

// validateParam checks one value against the parameter's schema property.
func validateParam(tool domain.Tool, param domain.ToolParameter, value any) error {
	schema := tool.Schema()
	prop, ok := schema.Properties[param.Name]
	if !ok || prop.Value == nil {
		return nil
	}
	return prop.Value.VisitJSON(value)
}

// lowestPrecedenceGroup reduces missing parameters to the group that should
// be asked for first.
func lowestPrecedenceGroup(missing []domain.ToolParameter) []domain.ToolParameter {
	min := missing[0].EffectivePrecedence()
	for _, p := range missing[1:] {
		if p.EffectivePrecedence() < min {
			min = p.EffectivePrecedence()
		}
	}
	var group []domain.ToolParameter
	for _, p := range missing {
		if p.EffectivePrecedence() == min {
			group = append(group, p)
		}
	}
	sort.SliceStable(group, func(i, j int) bool { return group[i].Name < group[j].Name })
	return group
}

// callKey canonicalizes a call for dedup comparison. encoding/json sorts
// map keys, so equal argument maps produce equal keys.
func callKey(tool string, args map[string]any) string {
	data, err := json.Marshal(args)
	if err != nil {
		return tool + "|unmarshalable"
	}
	return tool + "|" + string(data)
}

func sameValue(a, b any) bool {
	da, errA := json.Marshal(a)
	db, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(da) == string(db)
}
