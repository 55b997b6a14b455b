package middleware

import (
	"context"
	"regexp"

	"github.com/aretw0/tiller/pkg/domain"
	"github.com/aretw0/tiller/pkg/ports"
)

type piiMiddleware struct {
	next        ports.SessionStore
	textPattern *regexp.Regexp
	keyPatterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that scrubs persisted events.
// Message text matching textPattern is replaced with "***"; tool call
// arguments and result fields whose keys match keyPatterns are masked
// wholesale. The in-memory event handed to the engine is never touched.
func NewPIIMiddleware(textPattern string, keyPatternStrings []string) Middleware {
	var text *regexp.Regexp
	if textPattern != "" {
		text = regexp.MustCompile(textPattern)
	}
	keys := make([]*regexp.Regexp, len(keyPatternStrings))
	for i, p := range keyPatternStrings {
		keys[i] = regexp.MustCompile(p)
	}
	return func(next ports.SessionStore) ports.SessionStore {
		return &piiMiddleware{next: next, textPattern: text, keyPatterns: keys}
	}
}

func (m *piiMiddleware) Append(ctx context.Context, sessionID string, event domain.Event) (int64, error) {
	switch data := event.Data.(type) {
	case domain.MessageData:
		if m.textPattern != nil {
			data.Text = m.textPattern.ReplaceAllString(data.Text, "***")
			event.Data = data
		}
	case domain.ToolCallData:
		// Deep clone to avoid side effects on the in-memory event used by
		// the engine.
		cloned := domain.ToolCallData{Calls: make([]domain.ToolCallRecord, len(data.Calls))}
		copy(cloned.Calls, data.Calls)
		for i, call := range cloned.Calls {
			cloned.Calls[i].Arguments = deepCopyMap(call.Arguments)
			maskMap(cloned.Calls[i].Arguments, m.keyPatterns)
			if resultMap, ok := call.Result.(map[string]any); ok {
				masked := deepCopyMap(resultMap)
				maskMap(masked, m.keyPatterns)
				cloned.Calls[i].Result = masked
			}
		}
		event.Data = cloned
	}

	return m.next.Append(ctx, sessionID, event)
}

func (m *piiMiddleware) Read(ctx context.Context, sessionID string, minOffset int64) ([]domain.Event, error) {
	return m.next.Read(ctx, sessionID, minOffset)
}

func (m *piiMiddleware) Delete(ctx context.Context, sessionID string) error {
	return m.next.Delete(ctx, sessionID)
}

// Helpers

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		// Handle nested maps
		if subMap, ok := v.(map[string]any); ok {
			out[k] = deepCopyMap(subMap)
		} else {
			out[k] = v // shallow copy of value
		}
	}
	return out
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		// Check key against patterns
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = "***"
				break
			}
		}

		// Recurse if map
		if subMap, ok := v.(map[string]any); ok {
			maskMap(subMap, patterns)
		}
	}
}
