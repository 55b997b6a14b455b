package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/tiller/internal/logging"
	"github.com/aretw0/tiller/pkg/adapters/memory"
	"github.com/aretw0/tiller/pkg/domain"
)

type turnFixture struct {
	processor *Processor
	store     *memory.Store
	eval      *scriptedEvaluator
	gen       *scriptedGenerator
	invoker   *scriptedInvoker
}

func newTurnFixture(t *testing.T, cfg Config) *turnFixture {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	f := &turnFixture{
		store:   memory.NewStore(),
		eval:    newScriptedEvaluator(),
		gen:     &scriptedGenerator{},
		invoker: newScriptedInvoker(),
	}
	f.processor = NewProcessor(cfg, f.eval, f.gen, f.invoker, f.store, f.store)
	return f
}

func (f *turnFixture) say(t *testing.T, sessionID, text string) {
	t.Helper()
	_, err := f.store.Append(context.Background(), sessionID, domain.Event{
		ID:        "customer-" + text,
		Kind:      domain.EventMessage,
		Source:    domain.SourceCustomer,
		Timestamp: time.Now().UTC(),
		Data:      domain.MessageData{Text: text},
	})
	require.NoError(t, err)
}

func (f *turnFixture) events(t *testing.T, sessionID string) []domain.Event {
	t.Helper()
	events, err := f.store.Read(context.Background(), sessionID, 0)
	require.NoError(t, err)
	return events
}

func eventsOfKind(events []domain.Event, kind domain.EventKind) []domain.Event {
	var out []domain.Event
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func statusSequence(events []domain.Event) []domain.Status {
	var out []domain.Status
	for _, ev := range eventsOfKind(events, domain.EventStatus) {
		if data, ok := ev.Data.(domain.StatusData); ok {
			out = append(out, data.Status)
		}
	}
	return out
}

func TestProcessTurnAppendsExactlyOneReply(t *testing.T) {
	f := newTurnFixture(t, Config{
		AgentName: "Astra",
		Guidelines: []domain.Guideline{
			{ID: "greet", Condition: "the customer greets", Action: "greet back"},
		},
	})
	f.eval.match("the customer greets")
	f.say(t, "s1", "hello there")

	require.NoError(t, f.processor.ProcessTurn(context.Background(), "s1", TurnOptions{}))

	messages := eventsOfKind(f.events(t, "s1"), domain.EventMessage)
	var agentMessages []domain.Event
	for _, ev := range messages {
		if ev.Source == domain.SourceAgent {
			agentMessages = append(agentMessages, ev)
		}
	}
	require.Len(t, agentMessages, 1)

	data, ok := agentMessages[0].Data.(domain.MessageData)
	require.True(t, ok)
	assert.False(t, data.NoMatch)
	assert.NotEmpty(t, data.Text)
	assert.Equal(t, "Astra", data.Participant)
	assert.NotEmpty(t, agentMessages[0].CorrelationID)
}

func TestProcessTurnStatusSequence(t *testing.T) {
	f := newTurnFixture(t, Config{AgentName: "Astra"})
	f.say(t, "s1", "hello")

	require.NoError(t, f.processor.ProcessTurn(context.Background(), "s1", TurnOptions{}))

	sequence := statusSequence(f.events(t, "s1"))
	assert.Equal(t, []domain.Status{
		domain.StatusAcknowledging,
		domain.StatusProcessing,
		domain.StatusTyping,
		domain.StatusReady,
	}, sequence)
}

func TestProcessTurnExecutesToolsBeforeReplying(t *testing.T) {
	f := newTurnFixture(t, Config{
		AgentName: "Astra",
		Guidelines: []domain.Guideline{{
			ID: "weather", Condition: "the customer asks about the weather",
			Action:           "report the current weather",
			ToolAssociations: []domain.ToolAssociation{{Tool: "weather:lookup", FixedArgs: map[string]any{"city": "Lisbon"}}},
		}},
		Tools: []domain.Tool{{
			ID: "lookup", Namespace: "weather",
			Parameters: []domain.ToolParameter{{Name: "city", Type: "string", Required: true}},
		}},
	})
	f.eval.match("the customer asks about the weather")
	f.invoker.register("weather:lookup", func(args map[string]any) (any, error) {
		return map[string]any{"temp_c": 21.0}, nil
	})
	f.say(t, "s1", "what's the weather?")

	require.NoError(t, f.processor.ProcessTurn(context.Background(), "s1", TurnOptions{}))
	assert.Equal(t, 1, f.invoker.callCount(), "settled plan re-issues nothing")

	events := f.events(t, "s1")
	batches := eventsOfKind(events, domain.EventToolCall)
	require.Len(t, batches, 1, "one tool_call batch per turn")

	data, ok := batches[0].Data.(domain.ToolCallData)
	require.True(t, ok)
	require.Len(t, data.Calls, 1)
	assert.Equal(t, "weather:lookup", data.Calls[0].ToolID)
	assert.Equal(t, map[string]any{"city": "Lisbon"}, data.Calls[0].Arguments)

	// The batch precedes the message that quotes its results, under the
	// same correlation ID.
	var message domain.Event
	for _, ev := range events {
		if ev.Kind == domain.EventMessage && ev.Source == domain.SourceAgent {
			message = ev
		}
	}
	assert.Less(t, batches[0].Offset, message.Offset)
	assert.Equal(t, batches[0].CorrelationID, message.CorrelationID)

	// This turn's results are facts the reply may assert.
	assert.Equal(t, 21.0, f.gen.lastConstraints().Facts["weather:lookup.temp_c"])
}

func TestProcessTurnToolFailureBecomesRecordNotError(t *testing.T) {
	f := newTurnFixture(t, Config{
		AgentName: "Astra",
		Guidelines: []domain.Guideline{{
			ID: "weather", Condition: "the customer asks about the weather",
			ToolAssociations: []domain.ToolAssociation{{Tool: "weather:lookup", FixedArgs: map[string]any{"city": "Lisbon"}}},
		}},
		Tools: []domain.Tool{{
			ID: "lookup", Namespace: "weather",
			Parameters: []domain.ToolParameter{{Name: "city", Type: "string", Required: true}},
		}},
	})
	f.eval.match("the customer asks about the weather")
	f.invoker.register("weather:lookup", func(args map[string]any) (any, error) {
		return nil, assert.AnError
	})
	f.say(t, "s1", "what's the weather?")

	require.NoError(t, f.processor.ProcessTurn(context.Background(), "s1", TurnOptions{}))

	events := f.events(t, "s1")
	batches := eventsOfKind(events, domain.EventToolCall)
	require.Len(t, batches, 1)
	data := batches[0].Data.(domain.ToolCallData)
	require.NotEmpty(t, data.Calls)
	assert.True(t, data.Calls[0].Failed())

	// The reply still goes out, asserting nothing from the failed call.
	require.Len(t, eventsOfKind(events, domain.EventMessage), 2)
	assert.NotContains(t, f.gen.lastConstraints().Facts, "weather:lookup.temp_c")
}

func TestProcessTurnSuppressedActionNeverReachesReply(t *testing.T) {
	f := newTurnFixture(t, Config{
		AgentName: "Astra",
		Guidelines: []domain.Guideline{
			{ID: "discount", Condition: "the customer asks for a deal", Action: "offer a discount"},
			{ID: "no-promos", Condition: "promotions are paused", Action: "decline promotions politely"},
		},
		Relationships: []domain.Relationship{
			{Kind: domain.Prioritization, Source: "no-promos", Target: "discount"},
		},
	})
	f.eval.match("the customer asks for a deal")
	f.eval.match("promotions are paused")
	f.say(t, "s1", "got any deals?")

	require.NoError(t, f.processor.ProcessTurn(context.Background(), "s1", TurnOptions{}))

	constraints := f.gen.lastConstraints()
	assert.Equal(t, []string{"decline promotions politely"}, constraints.Guidelines)
}

func TestProcessTurnStrictNoMatchStillReplies(t *testing.T) {
	f := newTurnFixture(t, Config{
		AgentName: "Astra",
		Mode:      domain.ModeStrict,
		Canned: []domain.CannedResponse{
			{ID: "greeting", Template: "Hello! How can I help?"},
		},
	})
	f.say(t, "s1", "explain quantum entanglement")

	require.NoError(t, f.processor.ProcessTurn(context.Background(), "s1", TurnOptions{}))

	messages := eventsOfKind(f.events(t, "s1"), domain.EventMessage)
	require.Len(t, messages, 2)
	data := messages[1].Data.(domain.MessageData)
	assert.True(t, data.NoMatch)
	assert.Empty(t, data.Text)
}

func TestProcessTurnCancelledBeforeComposition(t *testing.T) {
	f := newTurnFixture(t, Config{AgentName: "Astra"})
	f.say(t, "s1", "hello")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.processor.ProcessTurn(ctx, "s1", TurnOptions{})
	require.ErrorIs(t, err, domain.ErrTurnCancelled)

	events := f.events(t, "s1")
	messages := eventsOfKind(events, domain.EventMessage)
	require.Len(t, messages, 1, "only the customer message, no reply")
	assert.Equal(t, domain.SourceCustomer, messages[0].Source)

	sequence := statusSequence(events)
	assert.Contains(t, sequence, domain.StatusCancelling)
	assert.Equal(t, domain.StatusReady, sequence[len(sequence)-1])
}

func TestProcessTurnCommitsJourneyStateAfterReply(t *testing.T) {
	f := newTurnFixture(t, Config{
		AgentName: "Astra",
		Journeys:  []domain.Journey{resetPasswordJourney()},
	})
	f.eval.match("wants to reset their password")
	f.say(t, "s1", "I need to reset my password")

	require.NoError(t, f.processor.ProcessTurn(context.Background(), "s1", TurnOptions{}))

	states, err := f.store.LoadStates(context.Background(), "s1")
	require.NoError(t, err)
	state := states["reset-password"]
	require.NotNil(t, state)
	assert.Equal(t, domain.JourneyActive, state.Status)
	assert.Equal(t, []int{0}, state.VisitedPath)
}

func TestProcessTurnCancelledTurnCommitsNothing(t *testing.T) {
	f := newTurnFixture(t, Config{
		AgentName: "Astra",
		Journeys:  []domain.Journey{resetPasswordJourney()},
	})
	f.eval.match("wants to reset their password")
	f.say(t, "s1", "I need to reset my password")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, f.processor.ProcessTurn(ctx, "s1", TurnOptions{}), domain.ErrTurnCancelled)

	states, err := f.store.LoadStates(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, states, "journey state is only committed after composition")
}

func TestProcessTurnDegradesWhenGenerationFails(t *testing.T) {
	f := newTurnFixture(t, Config{AgentName: "Astra"})
	f.gen.err = assert.AnError
	f.say(t, "s1", "hello")

	require.NoError(t, f.processor.ProcessTurn(context.Background(), "s1", TurnOptions{}))

	events := f.events(t, "s1")
	messages := eventsOfKind(events, domain.EventMessage)
	require.Len(t, messages, 2)
	data := messages[1].Data.(domain.MessageData)
	assert.Equal(t, degradedReply, data.Text)

	var sawError bool
	for _, ev := range eventsOfKind(events, domain.EventStatus) {
		if d, ok := ev.Data.(domain.StatusData); ok && d.Status == domain.StatusError {
			sawError = true
		}
	}
	assert.True(t, sawError, "degraded turns are never silent")
}

func TestProcessTurnUnknownSessionFails(t *testing.T) {
	f := newTurnFixture(t, Config{AgentName: "Astra"})
	err := f.processor.ProcessTurn(context.Background(), "missing", TurnOptions{})
	require.ErrorIs(t, err, domain.ErrSessionNotFound)

	// The failed turn must not have fabricated the session through a
	// status emit.
	_, err = f.store.Read(context.Background(), "missing", 0)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestProcessTurnAgentIntentionConstrainsReply(t *testing.T) {
	f := newTurnFixture(t, Config{
		AgentName: "Astra",
		Guidelines: []domain.Guideline{
			{ID: "pricing", Condition: "the customer asks about pricing", Action: "quote the enterprise price"},
			{
				ID: "discount-note", Intention: domain.IntentionAgent,
				Condition: "the agent is about to share pricing",
				Action:    "mention the volume discount policy",
			},
		},
	})
	f.eval.match("the customer asks about pricing")
	f.eval.match("the agent is about to share pricing")
	f.say(t, "s1", "how much is the enterprise plan?")

	require.NoError(t, f.processor.ProcessTurn(context.Background(), "s1", TurnOptions{}))

	// The agent-directed condition is evaluated once the candidate
	// direction exists, even though the turn plans no tool calls.
	assert.Equal(t, 1, f.eval.evaluationCount("the agent is about to share pricing"))
	assert.Equal(t, []string{
		"quote the enterprise price",
		"mention the volume discount policy",
	}, f.gen.lastConstraints().Guidelines)
}

func TestProcessTurnAgentIntentionSkippedWithoutDirection(t *testing.T) {
	f := newTurnFixture(t, Config{
		AgentName: "Astra",
		Guidelines: []domain.Guideline{{
			ID: "discount-note", Intention: domain.IntentionAgent,
			Condition: "the agent is about to share pricing",
			Action:    "mention the volume discount policy",
		}},
	})
	f.eval.match("the agent is about to share pricing")
	f.say(t, "s1", "hello")

	require.NoError(t, f.processor.ProcessTurn(context.Background(), "s1", TurnOptions{}))

	// Nothing matched, so no direction ever existed to check against.
	assert.Equal(t, 0, f.eval.evaluationCount("the agent is about to share pricing"))
	assert.Empty(t, f.gen.lastConstraints().Guidelines)
}

func TestProcessTurnModeOverride(t *testing.T) {
	f := newTurnFixture(t, Config{
		AgentName: "Astra",
		Mode:      domain.ModeFluid,
		Canned: []domain.CannedResponse{
			{ID: "greeting", Template: "Hello! How can I help?"},
		},
	})
	f.eval.score(`template "greeting"`, true, 1)
	f.say(t, "s1", "hi")

	require.NoError(t, f.processor.ProcessTurn(context.Background(), "s1", TurnOptions{Mode: domain.ModeStrict}))

	messages := eventsOfKind(f.events(t, "s1"), domain.EventMessage)
	require.Len(t, messages, 2)
	assert.Equal(t, "Hello! How can I help?", messages[1].Data.(domain.MessageData).Text)
	assert.Empty(t, f.gen.calls)
}
