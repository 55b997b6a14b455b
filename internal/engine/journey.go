package engine

import (
	"context"
	"fmt"

	"github.com/aretw0/tiller/pkg/domain"
)

// matchJourneys activates dormant journeys whose entry condition matches
// and re-derives the current step of journeys that are already active.
func (m *Matcher) matchJourneys(ctx context.Context, snap *domain.Snapshot, states map[string]*domain.JourneyState, set *ActiveSet) error {
	for _, journey := range m.cfg.Journeys {
		state, ok := states[journey.ID]
		if !ok {
			// Exactly one state per (session, journey), created lazily.
			state = domain.NewJourneyState(journey.ID)
			states[journey.ID] = state
		}

		switch state.Status {
		case domain.JourneyDormant:
			eval, err := m.evaluate(ctx, journey.EntryCondition, snap)
			if err != nil {
				set.Degraded = true
				m.logger.Warn("journey entry evaluation failed",
					"journey", journey.ID, "err", err)
				continue
			}
			if !eval.Matched {
				continue
			}
			state.Status = domain.JourneyActive

		case domain.JourneyActive:
			aborted, err := m.journeyAborted(ctx, snap, journey)
			if err != nil {
				set.Degraded = true
			} else if aborted {
				state.Status = domain.JourneyAborted
				set.Journeys = append(set.Journeys, JourneyActivation{Journey: journey, State: state})
				continue
			}

		default:
			// Completed and aborted journeys stay terminal for the
			// session's lifetime.
			continue
		}

		step, completed, err := m.deriveStep(ctx, snap, journey, state)
		if err != nil {
			return err
		}
		if completed {
			state.Status = domain.JourneyCompleted
			set.Journeys = append(set.Journeys, JourneyActivation{Journey: journey, State: state})
			continue
		}

		state.Visit(step)
		set.Journeys = append(set.Journeys, JourneyActivation{
			Journey: journey,
			State:   state,
			Step:    journey.Steps[step],
		})
	}
	return nil
}

// deriveStep re-derives the current step from the transcript instead of
// blindly incrementing: the chosen step is the conversation's frontier,
// the latest step, with every applicable predecessor fulfilled, whose own
// required information is not yet present. Information supplied early moves
// the frontier forward (skipping); information withdrawn or changed moves
// it backward (backtracking). The visited path records every move and never
// forgets.
func (m *Matcher) deriveStep(ctx context.Context, snap *domain.Snapshot, journey domain.Journey, state *domain.JourneyState) (int, bool, error) {
	for i, step := range journey.Steps {
		if step.Applicability != "" {
			eval, err := m.evaluate(ctx, step.Applicability, snap)
			if err != nil {
				return 0, false, fmt.Errorf("step applicability evaluation failed: %w", err)
			}
			if !eval.Matched {
				continue
			}
		}

		eval, err := m.evaluate(ctx, stepFulfilledCondition(journey, step), snap)
		if err != nil {
			return 0, false, fmt.Errorf("step fulfillment evaluation failed: %w", err)
		}
		if !eval.Matched {
			return i, false, nil
		}
	}
	// Every applicable step is fulfilled.
	return 0, true, nil
}

// journeyAborted checks whether the customer has refused to continue the
// procedure. An aborted journey never resumes.
func (m *Matcher) journeyAborted(ctx context.Context, snap *domain.Snapshot, journey domain.Journey) (bool, error) {
	eval, err := m.evaluate(ctx, abortCondition(journey), snap)
	if err != nil {
		return false, err
	}
	return eval.Matched, nil
}

// The engine builds predicate text for the evaluation backend but never
// branches on it; tests script the oracle against these exact strings.

func stepFulfilledCondition(journey domain.Journey, step domain.Step) string {
	return fmt.Sprintf(
		"the requirement of step %d (%s) of the %q procedure is already fulfilled in the conversation",
		step.Index, step.Description, journey.Title,
	)
}

func abortCondition(journey domain.Journey) string {
	return fmt.Sprintf(
		"the customer refuses to continue with the %q procedure",
		journey.Title,
	)
}
