package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/tiller/internal/logging"
	"github.com/aretw0/tiller/pkg/domain"
)

func newTestComposer(cfg Config, eval *scriptedEvaluator, gen *scriptedGenerator) *Composer {
	return NewComposer(cfg, eval, gen, logging.NewNop(), nil)
}

func strictSnap(messages ...string) *domain.Snapshot {
	snap := customerSays(messages...)
	snap.Mode = domain.ModeStrict
	return snap
}

func TestComposeFluidCarriesConstraints(t *testing.T) {
	eval := newScriptedEvaluator()
	gen := &scriptedGenerator{}
	c := newTestComposer(Config{}, eval, gen)

	set := &ActiveSet{
		Guidelines: []domain.Guideline{
			{ID: "greet", Action: "greet warmly"},
			{ID: "brand", Action: "mention the brand name"},
		},
		Journeys: []JourneyActivation{{
			Journey: resetPasswordJourney(),
			State:   &domain.JourneyState{JourneyID: "reset-password", Status: domain.JourneyActive, CurrentStep: 1},
			Step:    resetPasswordJourney().Steps[1],
		}},
	}
	plan := &Plan{Missing: []MissingInfo{{
		Tool:   transferTool(),
		Params: []domain.ToolParameter{{Name: "recipient"}},
	}}}

	out, err := c.Compose(context.Background(), customerSays("hi"), set, plan, nil)
	require.NoError(t, err)
	assert.False(t, out.NoMatch)

	constraints := gen.lastConstraints()
	assert.Equal(t, []string{"greet warmly", "mention the brand name"}, constraints.Guidelines)
	assert.Equal(t, "ask for the registered email", constraints.StepDescription)
	assert.Equal(t, []string{"recipient"}, constraints.MissingParams)
}

func TestComposeFluidMentionsAbortedJourney(t *testing.T) {
	eval := newScriptedEvaluator()
	gen := &scriptedGenerator{}
	c := newTestComposer(Config{}, eval, gen)

	set := &ActiveSet{Journeys: []JourneyActivation{{
		Journey: resetPasswordJourney(),
		State:   &domain.JourneyState{JourneyID: "reset-password", Status: domain.JourneyAborted},
	}}}

	_, err := c.Compose(context.Background(), customerSays("stop"), set, &Plan{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Reset Password"}, gen.lastConstraints().AbortedJourneys)
}

func TestComposeFluidExposesToolResultFacts(t *testing.T) {
	eval := newScriptedEvaluator()
	gen := &scriptedGenerator{}
	c := newTestComposer(Config{}, eval, gen)

	results := []domain.ToolCallRecord{
		{ToolID: "weather:lookup", Result: map[string]any{"temp_c": 21}},
		{ToolID: "weather:forecast", Error: "timeout"},
	}

	_, err := c.Compose(context.Background(), customerSays("weather?"), &ActiveSet{}, &Plan{}, results)
	require.NoError(t, err)

	facts := gen.lastConstraints().Facts
	assert.Equal(t, 21, facts["weather:lookup.temp_c"])
	// Failed calls contribute nothing the reply may assert.
	for key := range facts {
		assert.NotContains(t, key, "forecast")
	}
}

func TestComposeStrictSelectsQualifyingTemplate(t *testing.T) {
	eval := newScriptedEvaluator()
	eval.score(`template "hours"`, true, 0.9)
	eval.score(`template "greeting"`, true, 0.4)
	gen := &scriptedGenerator{}

	cfg := Config{Canned: []domain.CannedResponse{
		{ID: "greeting", Template: "Hello! How can I help?"},
		{ID: "hours", Template: "We are open 9 to 5 on weekdays."},
	}}
	c := newTestComposer(cfg, eval, gen)

	out, err := c.Compose(context.Background(), strictSnap("when are you open?"), &ActiveSet{}, &Plan{}, nil)
	require.NoError(t, err)
	assert.False(t, out.NoMatch)
	assert.Equal(t, "We are open 9 to 5 on weekdays.", out.Text)
}

func TestComposeStrictEmitsNoMatch(t *testing.T) {
	eval := newScriptedEvaluator()
	gen := &scriptedGenerator{}

	cfg := Config{Canned: []domain.CannedResponse{
		{ID: "greeting", Template: "Hello! How can I help?"},
	}}
	c := newTestComposer(cfg, eval, gen)

	out, err := c.Compose(context.Background(), strictSnap("explain quantum entanglement"), &ActiveSet{}, &Plan{}, nil)
	require.NoError(t, err)
	assert.True(t, out.NoMatch)
	assert.Empty(t, out.Text)
}

func TestComposeStrictBindsSlots(t *testing.T) {
	eval := newScriptedEvaluator()
	eval.score(`template "balance"`, true, 1)
	gen := &scriptedGenerator{}

	cfg := Config{Canned: []domain.CannedResponse{{
		ID:       "balance",
		Template: "Hi {name}, your balance is {balance}.",
		Fields: []domain.FieldSlot{
			{Name: "name", Source: domain.FieldStandard, Ref: "customer_name"},
			{Name: "balance", Source: domain.FieldToolResult, Ref: "bank:get_balance.balance"},
		},
	}}}
	c := newTestComposer(cfg, eval, gen)

	snap := strictSnap("what's my balance?")
	snap.CustomerName = "Dana"
	results := []domain.ToolCallRecord{{
		ToolID: "bank:get_balance",
		Result: map[string]any{"balance": "$128.40"},
	}}

	out, err := c.Compose(context.Background(), snap, &ActiveSet{}, &Plan{}, results)
	require.NoError(t, err)
	assert.Equal(t, "Hi Dana, your balance is $128.40.", out.Text)
}

func TestComposeStrictUncorroboratedSlotMeansNoMatch(t *testing.T) {
	// The template quotes a tool result that was never produced this turn.
	eval := newScriptedEvaluator()
	eval.score(`template "balance"`, true, 1)
	gen := &scriptedGenerator{}

	cfg := Config{Canned: []domain.CannedResponse{{
		ID:       "balance",
		Template: "Your balance is {balance}.",
		Fields: []domain.FieldSlot{
			{Name: "balance", Source: domain.FieldToolResult, Ref: "bank:get_balance.balance"},
		},
	}}}
	c := newTestComposer(cfg, eval, gen)

	out, err := c.Compose(context.Background(), strictSnap("what's my balance?"), &ActiveSet{}, &Plan{}, nil)
	require.NoError(t, err)
	assert.True(t, out.NoMatch)
}

func TestComposeStrictEchoesInvalidParam(t *testing.T) {
	eval := newScriptedEvaluator()
	eval.score(`template "bad-priority"`, true, 1)
	gen := &scriptedGenerator{}

	cfg := Config{Canned: []domain.CannedResponse{{
		ID:       "bad-priority",
		Template: `I can't use "{given}" as a priority; try low or high.`,
		Fields: []domain.FieldSlot{
			{Name: "given", Source: domain.FieldInvalidParam, Ref: "level"},
		},
	}}}
	c := newTestComposer(cfg, eval, gen)

	plan := &Plan{Invalid: []InvalidParam{{
		Tool: "support:set_priority", Param: "level", Value: "urgent", Reason: "not in enum",
	}}}

	out, err := c.Compose(context.Background(), strictSnap("mark it urgent"), &ActiveSet{}, plan, nil)
	require.NoError(t, err)
	assert.Equal(t, `I can't use "urgent" as a priority; try low or high.`, out.Text)
}

func TestComposeFluidFallbackSeedsClosestTemplate(t *testing.T) {
	eval := newScriptedEvaluator()
	eval.score(`template "hours"`, false, 0.7)
	eval.score(`template "greeting"`, false, 0.2)
	gen := &scriptedGenerator{}

	cfg := Config{Canned: []domain.CannedResponse{
		{ID: "greeting", Template: "Hello! How can I help?"},
		{ID: "hours", Template: "We are open 9 to 5 on weekdays."},
	}}
	c := newTestComposer(cfg, eval, gen)

	snap := customerSays("are you open on Saturday?")
	snap.Mode = domain.ModeFluidFallback

	out, err := c.Compose(context.Background(), snap, &ActiveSet{}, &Plan{}, nil)
	require.NoError(t, err)
	assert.False(t, out.NoMatch)
	assert.Equal(t, "We are open 9 to 5 on weekdays.", gen.lastConstraints().Seed)
}

func TestComposeFluidFallbackPrefersFullMatch(t *testing.T) {
	eval := newScriptedEvaluator()
	eval.score(`template "hours"`, true, 0.9)
	gen := &scriptedGenerator{}

	cfg := Config{Canned: []domain.CannedResponse{
		{ID: "hours", Template: "We are open 9 to 5 on weekdays."},
	}}
	c := newTestComposer(cfg, eval, gen)

	snap := customerSays("when are you open?")
	snap.Mode = domain.ModeFluidFallback

	out, err := c.Compose(context.Background(), snap, &ActiveSet{}, &Plan{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "We are open 9 to 5 on weekdays.", out.Text)
	assert.Empty(t, gen.calls, "a qualifying template needs no generation")
}

func TestComposeCompositedJoinsCorroboratedFragments(t *testing.T) {
	eval := newScriptedEvaluator()
	eval.match(`fragment "temp"`)
	eval.match(`fragment "wind"`)
	gen := &scriptedGenerator{}

	cfg := Config{Fragments: []domain.Fragment{
		{ID: "temp", Text: "It is {t} degrees.", Slots: []domain.FieldSlot{
			{Name: "t", Source: domain.FieldToolResult, Ref: "weather:lookup.temp_c"},
		}},
		{ID: "wind", Text: "Winds at {w} km/h.", Slots: []domain.FieldSlot{
			{Name: "w", Source: domain.FieldToolResult, Ref: "weather:lookup.wind_kmh"},
		}},
	}}
	c := newTestComposer(cfg, eval, gen)

	snap := customerSays("what's the weather?")
	snap.Mode = domain.ModeComposited
	results := []domain.ToolCallRecord{{
		ToolID: "weather:lookup",
		Result: map[string]any{"temp_c": 21, "wind_kmh": 14},
	}}

	out, err := c.Compose(context.Background(), snap, &ActiveSet{}, &Plan{}, results)
	require.NoError(t, err)
	assert.Equal(t, "It is 21 degrees. Winds at 14 km/h.", out.Text)
}

func TestComposeCompositedExcludesUncorroboratedFragment(t *testing.T) {
	eval := newScriptedEvaluator()
	eval.match(`fragment "temp"`)
	eval.match(`fragment "forecast"`)
	gen := &scriptedGenerator{}

	cfg := Config{Fragments: []domain.Fragment{
		{ID: "temp", Text: "It is {t} degrees.", Slots: []domain.FieldSlot{
			{Name: "t", Source: domain.FieldToolResult, Ref: "weather:lookup.temp_c"},
		}},
		{ID: "forecast", Text: "Tomorrow: {f}.", Slots: []domain.FieldSlot{
			{Name: "f", Source: domain.FieldToolResult, Ref: "weather:forecast.summary"},
		}},
	}}
	c := newTestComposer(cfg, eval, gen)

	snap := customerSays("what's the weather?")
	snap.Mode = domain.ModeComposited
	results := []domain.ToolCallRecord{{
		ToolID: "weather:lookup",
		Result: map[string]any{"temp_c": 21},
	}}

	out, err := c.Compose(context.Background(), snap, &ActiveSet{}, &Plan{}, results)
	require.NoError(t, err)
	assert.Equal(t, "It is 21 degrees.", out.Text)
}

func TestComposeCompositedFallsBackToFluid(t *testing.T) {
	eval := newScriptedEvaluator()
	gen := &scriptedGenerator{text: "generated instead"}

	cfg := Config{Fragments: []domain.Fragment{
		{ID: "temp", Text: "It is {t} degrees."},
	}}
	c := newTestComposer(cfg, eval, gen)

	snap := customerSays("tell me a joke")
	snap.Mode = domain.ModeComposited

	out, err := c.Compose(context.Background(), snap, &ActiveSet{}, &Plan{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "generated instead", out.Text)
}
