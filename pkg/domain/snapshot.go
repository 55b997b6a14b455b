package domain

// CompositionMode selects the reply composition strategy for a turn. It is
// always passed explicitly in the turn configuration, never held as ambient
// state.
type CompositionMode string

const (
	// ModeFluid generates freely, constrained to active guidelines and
	// available data.
	ModeFluid CompositionMode = "fluid"

	// ModeStrict selects one pre-authored template or emits a no-match.
	ModeStrict CompositionMode = "strict"

	// ModeFluidFallback attempts strict selection, falling back to fluid
	// generation seeded by the closest template.
	ModeFluidFallback CompositionMode = "fluid_fallback"

	// ModeComposited assembles the reply from corroborated fragments.
	ModeComposited CompositionMode = "composited"
)

// Snapshot is the immutable view of session state assembled once per turn.
// Everything the matcher, planner, and composer read comes from here.
type Snapshot struct {
	SessionID string

	// Transcript holds the session's message events in offset order,
	// including the customer message that triggered the turn.
	Transcript []Event

	// Variables are the context variables in scope for this session.
	Variables []ContextVariable

	// Glossary lists domain terms available to the generation backend.
	Glossary []Term

	// Tags attached to the session's customer.
	Tags []string

	// ToolRecords are all prior tool call records of the session, oldest
	// first.
	ToolRecords []ToolCallRecord

	AgentName    string
	CustomerName string

	Mode CompositionMode

	// CandidateDirection is the tentative reply direction chosen this
	// iteration. Agent-intention guideline conditions are evaluated
	// against it rather than the transcript. Empty on the first
	// iteration, before any direction exists.
	CandidateDirection string
}

// WithDirection returns a shallow copy carrying a candidate direction.
func (s *Snapshot) WithDirection(direction string) *Snapshot {
	cp := *s
	cp.CandidateDirection = direction
	return &cp
}

// Variable returns the value of a context variable by key.
func (s *Snapshot) Variable(key string) (any, bool) {
	for _, v := range s.Variables {
		if v.Key == key {
			return v.Value, true
		}
	}
	return nil, false
}

// LastCustomerOffset returns the offset of the most recent customer message,
// or -1 when the transcript holds none.
func (s *Snapshot) LastCustomerOffset() int64 {
	for i := len(s.Transcript) - 1; i >= 0; i-- {
		if s.Transcript[i].Source == SourceCustomer && s.Transcript[i].Kind == EventMessage {
			return s.Transcript[i].Offset
		}
	}
	return -1
}
