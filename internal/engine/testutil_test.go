package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/tiller/pkg/domain"
)

// scriptedEvaluator is a deterministic stand-in for the NL evaluation
// backend. Verdicts are keyed by condition substring; the longest matching
// key wins so specific scripts shadow broad ones.
type scriptedEvaluator struct {
	mu          sync.Mutex
	verdicts    map[string]domain.Evaluation
	extractions map[string][]domain.ArgumentCandidate
	failures    map[string]int // substring -> remaining failures
	evaluated   []string
}

func newScriptedEvaluator() *scriptedEvaluator {
	return &scriptedEvaluator{
		verdicts:    make(map[string]domain.Evaluation),
		extractions: make(map[string][]domain.ArgumentCandidate),
		failures:    make(map[string]int),
	}
}

func (e *scriptedEvaluator) match(key string) {
	e.verdicts[key] = domain.Evaluation{Matched: true, Confidence: 1}
}

func (e *scriptedEvaluator) noMatch(key string) {
	e.verdicts[key] = domain.Evaluation{Matched: false}
}

func (e *scriptedEvaluator) score(key string, matched bool, confidence float64) {
	e.verdicts[key] = domain.Evaluation{Matched: matched, Confidence: confidence}
}

func (e *scriptedEvaluator) failOnce(key string) {
	e.failures[key] = 1
}

func (e *scriptedEvaluator) failAlways(key string) {
	e.failures[key] = 1 << 20
}

func (e *scriptedEvaluator) extract(tool, param string, candidates ...domain.ArgumentCandidate) {
	e.extractions[tool+"|"+param] = candidates
}

func (e *scriptedEvaluator) Evaluate(ctx context.Context, condition string, snap *domain.Snapshot) (domain.Evaluation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evaluated = append(e.evaluated, condition)

	for key, remaining := range e.failures {
		if remaining > 0 && strings.Contains(condition, key) {
			e.failures[key] = remaining - 1
			return domain.Evaluation{}, fmt.Errorf("scripted backend failure for %q", key)
		}
	}

	keys := make([]string, 0, len(e.verdicts))
	for key := range e.verdicts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	for _, key := range keys {
		if strings.Contains(condition, key) {
			return e.verdicts[key], nil
		}
	}
	return domain.Evaluation{Matched: false}, nil
}

func (e *scriptedEvaluator) Extract(ctx context.Context, query domain.ExtractionQuery, snap *domain.Snapshot) ([]domain.ArgumentCandidate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.extractions[query.Tool+"|"+query.Parameter.Name], nil
}

// evaluationCount reports how many evaluations mention the key.
func (e *scriptedEvaluator) evaluationCount(key string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, condition := range e.evaluated {
		if strings.Contains(condition, key) {
			n++
		}
	}
	return n
}

// scriptedGenerator echoes its constraints so tests can assert what the
// reply was allowed to say.
type scriptedGenerator struct {
	mu    sync.Mutex
	text  string
	err   error
	calls []domain.GenerationConstraints
}

func (g *scriptedGenerator) Generate(ctx context.Context, snap *domain.Snapshot, constraints domain.GenerationConstraints) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, constraints)
	if g.err != nil {
		return "", g.err
	}
	if g.text != "" {
		return g.text, nil
	}
	var parts []string
	if constraints.StepDescription != "" {
		parts = append(parts, "step:"+constraints.StepDescription)
	}
	if len(constraints.Guidelines) > 0 {
		parts = append(parts, "guidelines:"+strings.Join(constraints.Guidelines, ","))
	}
	if len(constraints.MissingParams) > 0 {
		parts = append(parts, "missing:"+strings.Join(constraints.MissingParams, ","))
	}
	if len(constraints.AbortedJourneys) > 0 {
		parts = append(parts, "aborted:"+strings.Join(constraints.AbortedJourneys, ","))
	}
	if constraints.Seed != "" {
		parts = append(parts, "seed:"+constraints.Seed)
	}
	if len(parts) == 0 {
		return "ok", nil
	}
	return strings.Join(parts, " "), nil
}

func (g *scriptedGenerator) lastConstraints() domain.GenerationConstraints {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.calls) == 0 {
		return domain.GenerationConstraints{}
	}
	return g.calls[len(g.calls)-1]
}

// scriptedInvoker runs in-test tool implementations keyed by qualified
// name.
type scriptedInvoker struct {
	mu    sync.Mutex
	tools map[string]func(args map[string]any) (any, error)
	calls []domain.ToolCallRecord
}

func newScriptedInvoker() *scriptedInvoker {
	return &scriptedInvoker{tools: make(map[string]func(args map[string]any) (any, error))}
}

func (inv *scriptedInvoker) register(name string, fn func(args map[string]any) (any, error)) {
	inv.tools[name] = fn
}

func (inv *scriptedInvoker) Invoke(ctx context.Context, qualifiedName string, args map[string]any) (any, error) {
	inv.mu.Lock()
	fn, ok := inv.tools[qualifiedName]
	inv.calls = append(inv.calls, domain.ToolCallRecord{ToolID: qualifiedName, Arguments: args})
	inv.mu.Unlock()
	if !ok {
		return nil, domain.ErrToolNotFound
	}
	return fn(args)
}

func (inv *scriptedInvoker) callCount() int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return len(inv.calls)
}

// customerSays builds a snapshot whose transcript holds the given customer
// messages at offsets 1..n.
func customerSays(messages ...string) *domain.Snapshot {
	snap := &domain.Snapshot{
		SessionID: "test-session",
		AgentName: "Astra",
		Mode:      domain.ModeFluid,
	}
	for i, text := range messages {
		snap.Transcript = append(snap.Transcript, domain.Event{
			ID:     fmt.Sprintf("msg-%d", i+1),
			Offset: int64(i + 1),
			Kind:   domain.EventMessage,
			Source: domain.SourceCustomer,
			Data:   domain.MessageData{Text: text},
		})
	}
	return snap
}
