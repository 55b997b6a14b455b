package tiller_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/tiller"
	"github.com/aretw0/tiller/pkg/domain"
	"github.com/aretw0/tiller/pkg/pack"
	"github.com/aretw0/tiller/pkg/registry"
)

// stubEvaluator matches conditions containing any scripted fragment.
type stubEvaluator struct {
	matching []string
}

func (e *stubEvaluator) Evaluate(ctx context.Context, condition string, snap *domain.Snapshot) (domain.Evaluation, error) {
	for _, fragment := range e.matching {
		if strings.Contains(condition, fragment) {
			return domain.Evaluation{Matched: true, Confidence: 1}, nil
		}
	}
	return domain.Evaluation{}, nil
}

func (e *stubEvaluator) Extract(ctx context.Context, query domain.ExtractionQuery, snap *domain.Snapshot) ([]domain.ArgumentCandidate, error) {
	return nil, nil
}

type stubGenerator struct{ text string }

func (g *stubGenerator) Generate(ctx context.Context, snap *domain.Snapshot, constraints domain.GenerationConstraints) (string, error) {
	return g.text, nil
}

const testPack = `
name: demo
agent_name: Astra
mode: fluid
guidelines:
  - id: greet
    condition: the customer greets
    action: greet back warmly
`

func loadTestPack(t *testing.T) *pack.Pack {
	t.Helper()
	p, err := pack.Decode(strings.NewReader(testPack))
	require.NoError(t, err)
	return p
}

func TestEngineSendProducesReply(t *testing.T) {
	eng, err := tiller.New(loadTestPack(t),
		&stubEvaluator{matching: []string{"the customer greets"}},
		&stubGenerator{text: "Hello! Great to see you."},
		registry.NewRegistry(),
	)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, eng.Send(ctx, "s1", "hi there", tiller.TurnOptions{}))

	events, err := eng.Events(ctx, "s1", 0)
	require.NoError(t, err)

	var reply *domain.MessageData
	for _, ev := range events {
		if ev.Kind == domain.EventMessage && ev.Source == domain.SourceAgent {
			data := ev.Data.(domain.MessageData)
			reply = &data
		}
	}
	require.NotNil(t, reply)
	assert.Equal(t, "Hello! Great to see you.", reply.Text)
	assert.Equal(t, "Astra", reply.Participant)
}

func TestEngineEventsFromOffset(t *testing.T) {
	eng, err := tiller.New(loadTestPack(t),
		&stubEvaluator{}, &stubGenerator{text: "ok"}, registry.NewRegistry())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, eng.Send(ctx, "s1", "first", tiller.TurnOptions{}))

	all, err := eng.Events(ctx, "s1", 0)
	require.NoError(t, err)
	require.NotEmpty(t, all)
	lastOffset := all[len(all)-1].Offset

	require.NoError(t, eng.Send(ctx, "s1", "second", tiller.TurnOptions{}))

	fresh, err := eng.Events(ctx, "s1", lastOffset+1)
	require.NoError(t, err)
	require.NotEmpty(t, fresh)
	for _, ev := range fresh {
		assert.Greater(t, ev.Offset, lastOffset)
	}
}

func TestEngineDeleteSession(t *testing.T) {
	eng, err := tiller.New(loadTestPack(t),
		&stubEvaluator{}, &stubGenerator{text: "ok"}, registry.NewRegistry())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, eng.Send(ctx, "s1", "hello", tiller.TurnOptions{}))
	require.NoError(t, eng.DeleteSession(ctx, "s1"))

	_, err = eng.Events(ctx, "s1", 0)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestEngineRejectsInvalidPack(t *testing.T) {
	p := loadTestPack(t)
	p.Guidelines[0].ToolAssociations = []domain.ToolAssociation{{Tool: "nope:missing"}}

	_, err := tiller.New(p, &stubEvaluator{}, &stubGenerator{}, registry.NewRegistry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid behavior pack")
}

func TestRunnerChatLoop(t *testing.T) {
	eng, err := tiller.New(loadTestPack(t),
		&stubEvaluator{matching: []string{"the customer greets"}},
		&stubGenerator{text: "Hello!"},
		registry.NewRegistry(),
	)
	require.NoError(t, err)

	var out strings.Builder
	runner := tiller.NewRunner()
	runner.Input = strings.NewReader("hi\nexit\n")
	runner.Output = &out
	runner.Headless = true

	require.NoError(t, runner.Run(context.Background(), eng, "chat-1"))
	assert.Contains(t, out.String(), "Hello!")
	assert.Contains(t, out.String(), "Bye!")
}
