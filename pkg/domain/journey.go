package domain

// Journey is a multi-step conversational procedure. A session enters a
// journey when its entry condition matches, then moves along the steps
// (forward, backward, or skipping) as the conversation justifies.
type Journey struct {
	ID             string `json:"id" yaml:"id" mapstructure:"id"`
	Title          string `json:"title" yaml:"title" mapstructure:"title"`
	EntryCondition string `json:"entry_condition" yaml:"entry_condition" mapstructure:"entry_condition"`
	Steps          []Step `json:"steps" yaml:"steps" mapstructure:"steps"`
}

// Step is one stage of a journey.
type Step struct {
	Index       int      `json:"index" yaml:"index" mapstructure:"index"`
	Description string   `json:"description" yaml:"description" mapstructure:"description"`
	ToolRefs    []string `json:"tools,omitempty" yaml:"tools,omitempty" mapstructure:"tools"`

	// Applicability is an optional condition gating whether the step still
	// makes sense at this point of the conversation. Empty means always
	// applicable.
	Applicability string `json:"applicability,omitempty" yaml:"applicability,omitempty" mapstructure:"applicability"`
}

// JourneyStatus is the lifecycle of a JourneyState.
type JourneyStatus string

const (
	JourneyDormant   JourneyStatus = "dormant"
	JourneyActive    JourneyStatus = "active"
	JourneyCompleted JourneyStatus = "completed"
	JourneyAborted   JourneyStatus = "aborted"
)

// JourneyState tracks where one session stands inside one journey. There is
// exactly one per (session, journey); it is created lazily on first match
// and lives until the session is deleted.
type JourneyState struct {
	JourneyID string        `json:"journey_id"`
	Status    JourneyStatus `json:"status"`

	// CurrentStep is the index of the step the agent should act on next.
	CurrentStep int `json:"current_step"`

	// VisitedPath records every step the session has pointed at, in visit
	// order. It is append-only: re-pointing CurrentStep backward appends a
	// new entry rather than rewriting history. Skip detection depends on
	// this never forgetting an index.
	VisitedPath []int `json:"visited_path"`
}

// NewJourneyState creates a dormant state for a journey.
func NewJourneyState(journeyID string) *JourneyState {
	return &JourneyState{
		JourneyID: journeyID,
		Status:    JourneyDormant,
	}
}

// Visit re-points CurrentStep, appending to the visited path. Appending is
// unconditional for a changed step; a repeated visit to the current step is
// not duplicated.
func (s *JourneyState) Visit(step int) {
	if n := len(s.VisitedPath); n > 0 && s.VisitedPath[n-1] == step {
		s.CurrentStep = step
		return
	}
	s.VisitedPath = append(s.VisitedPath, step)
	s.CurrentStep = step
}

// Visited reports whether the session has ever pointed at the step.
func (s *JourneyState) Visited(step int) bool {
	for _, v := range s.VisitedPath {
		if v == step {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Turn processing mutates only clones, committing
// them after composition succeeds.
func (s *JourneyState) Clone() *JourneyState {
	cp := *s
	cp.VisitedPath = append([]int(nil), s.VisitedPath...)
	return &cp
}
