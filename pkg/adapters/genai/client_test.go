package genai

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/tiller/pkg/domain"
)

func TestCoerceValue(t *testing.T) {
	tests := []struct {
		raw       string
		paramType string
		want      any
	}{
		{"42.5", "number", 42.5},
		{"42", "integer", int64(42)},
		{"true", "boolean", true},
		{"lisbon", "string", "lisbon"},
		// Unparseable values pass through so schema validation can name
		// the offending input.
		{"around fifty", "number", "around fifty"},
		{"3.5", "integer", "3.5"},
		{"yep", "boolean", "yep"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, coerceValue(tt.raw, tt.paramType), "%s as %s", tt.raw, tt.paramType)
	}
}

func TestWriteSnapshotRendersStoredTranscript(t *testing.T) {
	snap := &domain.Snapshot{
		AgentName:          "Astra",
		CandidateDirection: "quote the enterprise price",
		Variables: []domain.ContextVariable{
			{Key: "plan", Scope: domain.ScopeCustomer, Value: "enterprise"},
		},
		Transcript: []domain.Event{
			{
				Offset: 1, Kind: domain.EventMessage, Source: domain.SourceCustomer,
				Data: domain.MessageData{Text: "how much is it?"},
			},
			{
				// Events read back from a JSON store carry generic maps.
				Offset: 2, Kind: domain.EventMessage, Source: domain.SourceAgent,
				Data: map[string]any{"text": "Let me check.", "participant": "Astra"},
			},
		},
	}

	var sb strings.Builder
	writeSnapshot(&sb, snap)
	prompt := sb.String()

	assert.Contains(t, prompt, "- plan: enterprise")
	assert.Contains(t, prompt, "The agent is about to: quote the enterprise price")
	assert.Contains(t, prompt, "[1] Customer: how much is it?")
	assert.Contains(t, prompt, "[2] Agent: Let me check.")
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestCloseIsSafe(t *testing.T) {
	c := &Client{}
	require.NoError(t, c.Close())
}
