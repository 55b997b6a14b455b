package ports

import (
	"context"
)

// ToolInvoker executes planned tool calls. The engine only plans calls and
// consumes results; execution may be in-process (pkg/registry) or remote
// (pkg/adapters/mcp).
type ToolInvoker interface {
	// Invoke runs the tool identified by its qualified "{namespace}:{id}"
	// name. A tool-level failure is returned as an error; the engine
	// records it on the call record rather than failing the turn.
	Invoke(ctx context.Context, qualifiedName string, args map[string]any) (any, error)
}
