package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aretw0/tiller/pkg/domain"
)

// invokeConcurrency bounds how many planned calls are dispatched at once.
const invokeConcurrency = 4

// degradedReply is the best-effort text used when even the generation
// backend is unavailable. It asserts no facts; a status error accompanies
// it so the failure is never silent.
const degradedReply = "I'm sorry, I can't complete that request right now. Please try again in a moment."

// ProcessTurn runs the bounded iterate-match-call-recheck loop for one
// customer turn and appends the resulting events. It is the single entry
// point used by the surrounding application layer.
//
// A completed, non-cancelled turn appends exactly one message event or
// exactly one no-match event. Cancellation before composition commits
// yields ErrTurnCancelled and no message event; calls already dispatched
// still complete and are recorded for audit.
func ProcessTurn(ctx context.Context, p *Processor, sessionID string, opts TurnOptions) error {
	return p.ProcessTurn(ctx, sessionID, opts)
}

// ProcessTurn implements the turn state machine:
// Received → Matching → Planning → AwaitingToolResults → Recomposing(≤N) →
// Composing → Done | Cancelled.
func (p *Processor) ProcessTurn(ctx context.Context, sessionID string, opts TurnOptions) error {
	start := time.Now()
	correlationID := uuid.NewString()

	// Status events must reach the log even while the turn's context is
	// being cancelled.
	emitCtx := context.WithoutCancel(ctx)

	// The snapshot read doubles as the session existence check: the store
	// creates sessions on first append, so emitting a status against an
	// unknown session would fabricate it.
	snap, err := p.assembleSnapshot(ctx, sessionID, opts)
	if err != nil {
		if !errors.Is(err, domain.ErrSessionNotFound) {
			p.emitStatus(emitCtx, sessionID, correlationID, domain.StatusError, "failed to assemble context")
		}
		p.metrics.CountTurn("error")
		return err
	}

	// Received.
	p.emitStatus(emitCtx, sessionID, correlationID, domain.StatusAcknowledging, "")

	states, err := p.journeys.LoadStates(ctx, sessionID)
	if err != nil {
		p.emitStatus(emitCtx, sessionID, correlationID, domain.StatusError, "failed to load journey state")
		p.metrics.CountTurn("error")
		return fmt.Errorf("failed to load journey states: %w", err)
	}

	set := &ActiveSet{}
	plan := &Plan{}
	var newRecords []domain.ToolCallRecord
	direction := ""
	agentChecked := false
	degraded := false
	iterations := 0

	for i := 0; i < p.cfg.MaxIterations; i++ {
		if ctx.Err() != nil {
			return p.cancelTurn(emitCtx, sessionID, correlationID, newRecords, start, iterations)
		}
		iterations++
		p.emitStatus(emitCtx, sessionID, correlationID, domain.StatusProcessing, "")

		// Matching. A pass with a non-empty direction covers the
		// agent-intention guidelines.
		agentChecked = agentChecked || direction != ""
		matchedSet, err := p.matcher.Match(ctx, snap, states, direction)
		if err != nil {
			if ctx.Err() != nil {
				return p.cancelTurn(emitCtx, sessionID, correlationID, newRecords, start, iterations)
			}
			// Oracle failure after retry: degrade to the best reply the
			// current set allows rather than dropping the turn.
			p.logger.Warn("matching degraded", "session", sessionID, "err", err)
			degraded = true
			break
		}
		set = matchedSet
		degraded = degraded || set.Degraded
		direction = p.candidateDirection(set)

		// Planning.
		plan, err = p.planner.Plan(ctx, snap, set)
		if err != nil {
			if ctx.Err() != nil {
				return p.cancelTurn(emitCtx, sessionID, correlationID, newRecords, start, iterations)
			}
			p.logger.Warn("planning degraded", "session", sessionID, "err", err)
			degraded = true
			plan = &Plan{}
			break
		}
		if len(plan.Calls) == 0 {
			// Agent-intention guidelines fire on the candidate direction,
			// which only exists after a first pass. When the direction just
			// surfaced, run one supplementary match so those conditions are
			// checked before composing.
			if direction != "" && !agentChecked && p.matcher.HasAgentIntention() {
				continue
			}
			break
		}

		if ctx.Err() != nil {
			return p.cancelTurn(emitCtx, sessionID, correlationID, newRecords, start, iterations)
		}

		// AwaitingToolResults. Dispatched calls run to completion for
		// audit even if the turn is cancelled meanwhile.
		records := p.executeCalls(ctx, plan.Calls, correlationID)
		newRecords = append(newRecords, records...)
		snap.ToolRecords = append(snap.ToolRecords, records...)

		// Recomposing: the next iteration re-matches against the fresh
		// results; if the active set does not change materially the
		// planner emits nothing new and the loop settles.
		p.logger.Debug("iteration executed tool calls",
			"session", sessionID,
			"iteration", iterations,
			"calls", len(records),
			"active_set", set.Fingerprint(),
		)
	}

	if ctx.Err() != nil {
		return p.cancelTurn(emitCtx, sessionID, correlationID, newRecords, start, iterations)
	}

	// Composing.
	p.emitStatus(emitCtx, sessionID, correlationID, domain.StatusTyping, "")
	comp, err := p.composer.Compose(ctx, snap, set, plan, newRecords)
	if err != nil {
		if ctx.Err() != nil {
			return p.cancelTurn(emitCtx, sessionID, correlationID, newRecords, start, iterations)
		}
		p.logger.Error("composition failed, degrading", "session", sessionID, "err", err)
		degraded = true
		comp = Composition{Text: degradedReply}
	}

	// Last cancellation point before commit.
	if ctx.Err() != nil {
		return p.cancelTurn(emitCtx, sessionID, correlationID, newRecords, start, iterations)
	}

	// Tool call events are persisted before the message that may
	// reference their results, sharing the turn's correlation ID.
	if err := p.appendToolRecords(emitCtx, sessionID, correlationID, newRecords); err != nil {
		p.emitStatus(emitCtx, sessionID, correlationID, domain.StatusError, "failed to persist tool calls")
		p.metrics.CountTurn("error")
		return err
	}

	message := domain.Event{
		ID:            uuid.NewString(),
		Kind:          domain.EventMessage,
		Source:        domain.SourceAgent,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
		Data: domain.MessageData{
			Text:        comp.Text,
			NoMatch:     comp.NoMatch,
			Participant: p.cfg.AgentName,
		},
	}
	if _, err := p.sessions.Append(emitCtx, sessionID, message); err != nil {
		p.emitStatus(emitCtx, sessionID, correlationID, domain.StatusError, "failed to persist message")
		p.metrics.CountTurn("error")
		return fmt.Errorf("failed to append message: %w", err)
	}

	// Journey state is committed only after composition succeeded; a
	// failed turn never moves a step pointer.
	if err := p.journeys.SaveStates(emitCtx, sessionID, states); err != nil {
		p.emitStatus(emitCtx, sessionID, correlationID, domain.StatusError, "failed to commit journey state")
		p.metrics.CountTurn("error")
		return fmt.Errorf("failed to commit journey states: %w", err)
	}

	if degraded {
		p.emitStatus(emitCtx, sessionID, correlationID, domain.StatusError, "turn degraded")
	}
	p.emitStatus(emitCtx, sessionID, correlationID, domain.StatusReady, "")

	outcome := "replied"
	if comp.NoMatch {
		outcome = "no_match"
	}
	p.metrics.CountTurn(outcome)
	p.metrics.ObserveTurn(time.Since(start).Seconds(), iterations)
	return nil
}

// cancelTurn discards the in-flight reply: the already-dispatched tool
// calls are persisted for audit, the cancelling/ready statuses are
// emitted, and no message event is produced. Cancellation is a defined
// terminal state; ErrTurnCancelled lets callers distinguish it without
// treating it as a failure.
func (p *Processor) cancelTurn(emitCtx context.Context, sessionID, correlationID string, records []domain.ToolCallRecord, start time.Time, iterations int) error {
	p.emitStatus(emitCtx, sessionID, correlationID, domain.StatusCancelling, "")
	if err := p.appendToolRecords(emitCtx, sessionID, correlationID, records); err != nil {
		p.logger.Warn("failed to persist tool records of cancelled turn", "session", sessionID, "err", err)
	}
	p.emitStatus(emitCtx, sessionID, correlationID, domain.StatusReady, "")

	p.metrics.CountTurn("cancelled")
	p.metrics.ObserveTurn(time.Since(start).Seconds(), iterations)
	return domain.ErrTurnCancelled
}

// candidateDirection derives the tentative reply direction agent-intention
// guidelines are checked against: the active journey step's instruction
// when inside a journey, otherwise the highest-priority active actions.
func (p *Processor) candidateDirection(set *ActiveSet) string {
	if journey, ok := set.ActiveJourney(); ok {
		return journey.Step.Description
	}
	if len(set.Guidelines) > 0 {
		return set.Guidelines[0].Action
	}
	return ""
}

// executeCalls dispatches the planned calls concurrently. Invocation
// failures become records, not turn failures; the composer falls back to
// its missing-data branch for anything that errored.
func (p *Processor) executeCalls(ctx context.Context, calls []PlannedCall, correlationID string) []domain.ToolCallRecord {
	// Dispatched calls are allowed to complete even when the turn's
	// context is cancelled mid-flight; their results simply go unused.
	callCtx := context.WithoutCancel(ctx)

	records := make([]domain.ToolCallRecord, len(calls))
	grp := new(errgroup.Group)
	grp.SetLimit(invokeConcurrency)

	for i, call := range calls {
		i, call := i, call
		grp.Go(func() error {
			rec := domain.ToolCallRecord{
				ToolID:        call.Tool.QualifiedName(),
				Arguments:     call.Arguments,
				CorrelationID: correlationID,
			}
			result, err := p.invoker.Invoke(callCtx, rec.ToolID, call.Arguments)
			if err != nil {
				rec.Error = err.Error()
			} else {
				rec.Result = result
			}
			p.metrics.CountToolCall(rec.Failed())
			records[i] = rec
			return nil
		})
	}
	_ = grp.Wait()
	return records
}

// appendToolRecords persists the turn's call batch as a single tool_call
// event. A turn emits at most one such batch.
func (p *Processor) appendToolRecords(ctx context.Context, sessionID, correlationID string, records []domain.ToolCallRecord) error {
	if len(records) == 0 {
		return nil
	}
	event := domain.Event{
		ID:            uuid.NewString(),
		Kind:          domain.EventToolCall,
		Source:        domain.SourceSystem,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
		Data:          domain.ToolCallData{Calls: records},
	}
	if _, err := p.sessions.Append(ctx, sessionID, event); err != nil {
		return fmt.Errorf("failed to append tool call batch: %w", err)
	}
	return nil
}

func (p *Processor) emitStatus(ctx context.Context, sessionID, correlationID string, status domain.Status, detail string) {
	event := domain.Event{
		ID:            uuid.NewString(),
		Kind:          domain.EventStatus,
		Source:        domain.SourceSystem,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
		Data:          domain.StatusData{Status: status, Detail: detail},
	}
	if _, err := p.sessions.Append(ctx, sessionID, event); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Warn("failed to emit status event",
			"session", sessionID, "status", string(status), "err", err)
	}
}
