package engine

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aretw0/tiller/internal/metrics"
	"github.com/aretw0/tiller/pkg/domain"
	"github.com/aretw0/tiller/pkg/ports"
)

// evalConcurrency bounds how many condition evaluations are in flight at
// once; evaluations are I/O-bound calls to the external backend.
const evalConcurrency = 8

// Matcher decides which guidelines are active and where each journey
// stands. It is stateless; all inputs arrive per call.
type Matcher struct {
	cfg       Config
	graph     *RelationshipGraph
	evaluator ports.Evaluator
	logger    *slog.Logger
	metrics   *metrics.Metrics

	declIndex map[string]int
	byID      map[string]domain.Guideline

	hasAgentIntention bool
}

// NewMatcher builds a matcher over the configured guideline and journey
// sets.
func NewMatcher(cfg Config, graph *RelationshipGraph, evaluator ports.Evaluator, logger *slog.Logger, m *metrics.Metrics) *Matcher {
	declIndex := make(map[string]int, len(cfg.Guidelines))
	byID := make(map[string]domain.Guideline, len(cfg.Guidelines))
	hasAgentIntention := false
	for i, g := range cfg.Guidelines {
		declIndex[g.ID] = i
		byID[g.ID] = g
		if g.Intention == domain.IntentionAgent {
			hasAgentIntention = true
		}
	}
	return &Matcher{
		cfg:               cfg,
		graph:             graph,
		evaluator:         evaluator,
		logger:            logger,
		metrics:           m,
		declIndex:         declIndex,
		byID:              byID,
		hasAgentIntention: hasAgentIntention,
	}
}

// HasAgentIntention reports whether any configured guideline fires on the
// agent's intended direction rather than on customer input. Those guidelines
// can only be evaluated once a candidate direction exists.
func (m *Matcher) HasAgentIntention() bool {
	return m.hasAgentIntention
}

// Match runs one matching iteration: journey activation and step
// derivation, then guideline evaluation, dependency filtering, entailment
// expansion, and prioritization resolution.
//
// states is the turn's working clone of the session's journey states; the
// matcher mutates it, and the orchestrator commits it only after
// composition succeeds. direction is the candidate reply direction for
// agent-intention guidelines ("" before one exists).
func (m *Matcher) Match(ctx context.Context, snap *domain.Snapshot, states map[string]*domain.JourneyState, direction string) (*ActiveSet, error) {
	set := &ActiveSet{}

	if err := m.matchJourneys(ctx, snap, states, set); err != nil {
		return nil, err
	}

	matched, err := m.matchGuidelines(ctx, snap, states, direction, set)
	if err != nil {
		return nil, err
	}

	matched = m.expandEntailments(states, matched, set)
	active := resolvePrioritization(m.graph, m.declIndex, matched, set)

	// Deterministic output order: priority descending, then declaration
	// order.
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Priority != active[j].Priority {
			return active[i].Priority > active[j].Priority
		}
		return m.declIndex[active[i].ID] < m.declIndex[active[j].ID]
	})
	set.Guidelines = active
	return set, nil
}

// matchGuidelines evaluates every eligible guideline condition concurrently
// and returns the matched ones in declaration order.
func (m *Matcher) matchGuidelines(ctx context.Context, snap *domain.Snapshot, states map[string]*domain.JourneyState, direction string, set *ActiveSet) ([]domain.Guideline, error) {
	type verdict struct {
		eval domain.Evaluation
		err  error
		skip bool
	}
	verdicts := make([]verdict, len(m.cfg.Guidelines))

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(evalConcurrency)

	for i, g := range m.cfg.Guidelines {
		// Dependency-filtered guidelines are not evaluated at all while
		// their journey is inactive.
		if journeyID, ok := m.graph.RequiredJourney(g.ID); ok {
			if !journeyActive(states, journeyID) {
				verdicts[i].skip = true
				set.Audit = append(set.Audit, AuditEntry{
					GuidelineID: g.ID,
					Reason:      AuditJourneyInactive,
					Detail:      journeyID,
				})
				continue
			}
		}

		// Agent-intention guidelines fire on what the agent intends to do
		// this turn; without a candidate direction there is nothing to
		// check yet.
		if g.Intention == domain.IntentionAgent && direction == "" {
			verdicts[i].skip = true
			continue
		}

		i, g := i, g
		grp.Go(func() error {
			view := snap
			if g.Intention == domain.IntentionAgent {
				view = snap.WithDirection(direction)
			}
			verdicts[i].eval, verdicts[i].err = m.evaluate(gctx, g.Condition, view)
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var matched []domain.Guideline
	for i, g := range m.cfg.Guidelines {
		v := verdicts[i]
		switch {
		case v.skip:
		case v.err != nil:
			// Deferred, not dropped: the next iteration retries it, and
			// the audit trail records the miss.
			set.Degraded = true
			set.Audit = append(set.Audit, AuditEntry{
				GuidelineID: g.ID,
				Reason:      AuditDeferred,
				Detail:      v.err.Error(),
			})
			m.logger.Warn("guideline evaluation failed, deferring",
				"guideline", g.ID, "err", v.err)
		case v.eval.Matched:
			matched = append(matched, g)
		}
	}
	return matched, nil
}

// expandEntailments adds guidelines reached transitively over entailment
// edges. The graph may be cyclic; traversal is visited-set bounded.
// Dependency filtering applies to entailed guidelines too.
func (m *Matcher) expandEntailments(states map[string]*domain.JourneyState, matched []domain.Guideline, set *ActiveSet) []domain.Guideline {
	seeds := make([]string, len(matched))
	for i, g := range matched {
		seeds[i] = g.ID
	}

	for _, id := range m.graph.TransitiveEntailments(seeds) {
		g, ok := m.byID[id]
		if !ok {
			continue
		}
		if journeyID, depends := m.graph.RequiredJourney(id); depends && !journeyActive(states, journeyID) {
			set.Audit = append(set.Audit, AuditEntry{
				GuidelineID: id,
				Reason:      AuditJourneyInactive,
				Detail:      journeyID,
			})
			continue
		}
		set.Audit = append(set.Audit, AuditEntry{GuidelineID: id, Reason: AuditEntailed})
		matched = append(matched, g)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return m.declIndex[matched[i].ID] < m.declIndex[matched[j].ID]
	})
	return matched
}

func journeyActive(states map[string]*domain.JourneyState, journeyID string) bool {
	state, ok := states[journeyID]
	return ok && state.Status == domain.JourneyActive
}

// evaluate calls the external evaluator with a single retry on failure.
// Timeouts and backend errors are recoverable: the caller defers the
// guideline rather than failing the turn.
func (m *Matcher) evaluate(ctx context.Context, condition string, snap *domain.Snapshot) (domain.Evaluation, error) {
	m.metrics.CountEvaluation()
	eval, err := m.evaluator.Evaluate(ctx, condition, snap)
	if err == nil || ctx.Err() != nil {
		return eval, err
	}

	select {
	case <-ctx.Done():
		return domain.Evaluation{}, ctx.Err()
	case <-time.After(evalRetryBackoff):
	}

	m.metrics.CountEvaluation()
	return m.evaluator.Evaluate(ctx, condition, snap)
}

// evalRetryBackoff is the pause before the single evaluator retry.
const evalRetryBackoff = 50 * time.Millisecond
