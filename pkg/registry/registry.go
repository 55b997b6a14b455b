package registry

import (
	"context"
	"sync"

	"github.com/aretw0/tiller/pkg/domain"
)

// ToolFunction defines the signature for a tool implementation.
// It receives a context and a map of arguments, and returns a result or error.
type ToolFunction func(ctx context.Context, args map[string]any) (any, error)

// Registry is an in-process tool invoker: tools are plain Go functions
// registered under their qualified "{namespace}:{id}" name. It implements
// ports.ToolInvoker.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]ToolFunction
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]ToolFunction),
	}
}

// Register adds a tool to the registry.
// If a tool with the same name exists, it is overwritten.
func (r *Registry) Register(qualifiedName string, fn ToolFunction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[qualifiedName] = fn
}

// Invoke looks up a tool by qualified name and executes it.
func (r *Registry) Invoke(ctx context.Context, qualifiedName string, args map[string]any) (any, error) {
	r.mu.RLock()
	fn, ok := r.tools[qualifiedName]
	r.mu.RUnlock()

	if !ok {
		return nil, domain.ErrToolNotFound
	}

	return fn(ctx, args)
}
