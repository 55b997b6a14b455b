package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/tiller/pkg/domain"
)

// assembleSnapshot builds the immutable per-turn view of the session:
// transcript, tool records, context variables, glossary, and identities.
// Nothing downstream reads the stores again during the turn.
func (p *Processor) assembleSnapshot(ctx context.Context, sessionID string, opts TurnOptions) (*domain.Snapshot, error) {
	events, err := p.sessions.Read(ctx, sessionID, 0)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read session log: %w", err)
	}

	snap := &domain.Snapshot{
		SessionID:    sessionID,
		Glossary:     p.cfg.Glossary,
		AgentName:    p.cfg.AgentName,
		CustomerName: opts.CustomerName,
		Mode:         p.cfg.Mode,
	}
	if opts.Mode != "" {
		snap.Mode = opts.Mode
	}

	// Static variables first, then per-turn customer-scope ones so they
	// shadow on key collision.
	snap.Variables = append(snap.Variables, p.cfg.Variables...)
	snap.Variables = append(snap.Variables, opts.Variables...)

	for _, ev := range events {
		switch ev.Kind {
		case domain.EventMessage:
			snap.Transcript = append(snap.Transcript, ev)
		case domain.EventToolCall:
			if data, ok := toolCallData(ev.Data); ok {
				snap.ToolRecords = append(snap.ToolRecords, data.Calls...)
			}
		}
	}
	return snap, nil
}

// toolCallData recovers a ToolCallData payload from an event. Events read
// back from JSON stores carry generic maps, so both shapes are accepted.
func toolCallData(data any) (domain.ToolCallData, bool) {
	switch v := data.(type) {
	case domain.ToolCallData:
		return v, true
	case *domain.ToolCallData:
		return *v, true
	case map[string]any:
		raw, ok := v["calls"].([]any)
		if !ok {
			return domain.ToolCallData{}, false
		}
		var out domain.ToolCallData
		for _, item := range raw {
			call, ok := item.(map[string]any)
			if !ok {
				continue
			}
			rec := domain.ToolCallRecord{}
			rec.ToolID, _ = call["tool_id"].(string)
			rec.Arguments, _ = call["arguments"].(map[string]any)
			rec.Result = call["result"]
			rec.Error, _ = call["error"].(string)
			rec.CorrelationID, _ = call["correlation_id"].(string)
			out.Calls = append(out.Calls, rec)
		}
		return out, true
	}
	return domain.ToolCallData{}, false
}
