package engine

import (
	"sort"
	"strconv"
	"strings"

	"github.com/aretw0/tiller/pkg/domain"
)

// JourneyActivation couples a journey with the session's (cloned, un-
// committed) state and the step the matcher derived for this iteration.
type JourneyActivation struct {
	Journey domain.Journey
	State   *domain.JourneyState

	// Step is the derived current step. Meaningless unless the state is
	// active.
	Step domain.Step
}

// AuditReason classifies why a guideline appears in the audit trail rather
// than the active set.
type AuditReason string

const (
	AuditSuppressed       AuditReason = "suppressed"       // lost a prioritization conflict
	AuditJourneyInactive  AuditReason = "journey_inactive" // dependency target not active
	AuditDeferred         AuditReason = "deferred"         // evaluation failed, retried next iteration
	AuditEntailed         AuditReason = "entailed"         // activated transitively, not by own condition
)

// AuditEntry records a matching decision that did not (or not only) result
// in a plain activation. Matched-but-unreconciled guidelines are never
// silently dropped.
type AuditEntry struct {
	GuidelineID string
	Reason      AuditReason
	Detail      string
}

// ActiveSet is the matcher's output for one iteration: the guidelines whose
// actions the reply must follow and the journey activations in effect.
type ActiveSet struct {
	Guidelines []domain.Guideline
	Journeys   []JourneyActivation
	Audit      []AuditEntry

	// Degraded reports that at least one evaluation failed even after
	// retry. The orchestrator emits a status error alongside the
	// best-effort reply instead of dropping the turn.
	Degraded bool
}

// ActiveJourney returns the first active journey activation, if any. The
// composer follows the active step's instruction.
func (s *ActiveSet) ActiveJourney() (JourneyActivation, bool) {
	for _, j := range s.Journeys {
		if j.State.Status == domain.JourneyActive {
			return j, true
		}
	}
	return JourneyActivation{}, false
}

// Fingerprint summarizes the set's material content. The orchestrator
// re-runs matching only while new tool results keep changing it.
func (s *ActiveSet) Fingerprint() string {
	parts := make([]string, 0, len(s.Guidelines)+len(s.Journeys))
	for _, g := range s.Guidelines {
		parts = append(parts, "g:"+g.ID)
	}
	for _, j := range s.Journeys {
		parts = append(parts, "j:"+j.Journey.ID+"@"+strconv.Itoa(j.State.CurrentStep)+":"+string(j.State.Status))
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

// ToolAssociations gathers the tool work implied by the set: guideline
// associations first, then the active journey step's tool references.
func (s *ActiveSet) ToolAssociations() []domain.ToolAssociation {
	var out []domain.ToolAssociation
	for _, g := range s.Guidelines {
		out = append(out, g.ToolAssociations...)
	}
	for _, j := range s.Journeys {
		if j.State.Status != domain.JourneyActive {
			continue
		}
		for _, ref := range j.Step.ToolRefs {
			out = append(out, domain.ToolAssociation{Tool: ref})
		}
	}
	return out
}

// Actions lists the active guideline actions in declaration order, for
// generation constraints.
func (s *ActiveSet) Actions() []string {
	actions := make([]string, 0, len(s.Guidelines))
	for _, g := range s.Guidelines {
		actions = append(actions, g.Action)
	}
	return actions
}
