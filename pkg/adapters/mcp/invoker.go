package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/aretw0/tiller"
	"github.com/aretw0/tiller/pkg/domain"
)

// Invoker is a ports.ToolInvoker that executes tools on remote MCP servers.
// Each tool namespace maps to one connected server; the tool's bare ID is
// the MCP tool name on that server.
type Invoker struct {
	mu      sync.RWMutex
	clients map[string]*client.Client
	logger  *slog.Logger
}

// NewInvoker creates an Invoker with no connections. Register servers with
// ConnectStdio or ConnectSSE before processing turns.
func NewInvoker(logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		clients: make(map[string]*client.Client),
		logger:  logger,
	}
}

// ConnectStdio launches command as a child process and binds its MCP tools
// to the given namespace.
func (inv *Invoker) ConnectStdio(ctx context.Context, namespace, command string, env []string, args ...string) error {
	c, err := client.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return fmt.Errorf("start mcp server for %q: %w", namespace, err)
	}
	return inv.register(ctx, namespace, c)
}

// ConnectSSE binds the MCP server at baseURL to the given namespace.
func (inv *Invoker) ConnectSSE(ctx context.Context, namespace, baseURL string) error {
	c, err := client.NewSSEMCPClient(baseURL)
	if err != nil {
		return fmt.Errorf("connect mcp server for %q: %w", namespace, err)
	}
	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("start mcp transport for %q: %w", namespace, err)
	}
	return inv.register(ctx, namespace, c)
}

func (inv *Invoker) register(ctx context.Context, namespace string, c *client.Client) error {
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "tiller",
		Version: strings.TrimSpace(tiller.Version),
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return fmt.Errorf("initialize mcp server for %q: %w", namespace, err)
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()
	if old, ok := inv.clients[namespace]; ok {
		old.Close()
	}
	inv.clients[namespace] = c
	inv.logger.Info("MCP namespace connected", "namespace", namespace)
	return nil
}

// Invoke implements ports.ToolInvoker.
func (inv *Invoker) Invoke(ctx context.Context, qualifiedName string, args map[string]any) (any, error) {
	namespace, toolID, ok := strings.Cut(qualifiedName, ":")
	if !ok {
		return nil, fmt.Errorf("%w: %q has no namespace", domain.ErrToolNotFound, qualifiedName)
	}

	inv.mu.RLock()
	c, ok := inv.clients[namespace]
	inv.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no MCP server for namespace %q", domain.ErrToolNotFound, namespace)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = toolID
	req.Params.Arguments = args

	res, err := c.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call %q: %w", qualifiedName, err)
	}
	if res.IsError {
		return nil, fmt.Errorf("tool %q failed: %s", qualifiedName, flattenText(res.Content))
	}

	if res.StructuredContent != nil {
		return res.StructuredContent, nil
	}

	// Plain text results: decode JSON payloads so parameter resolution can
	// read result fields, otherwise pass the text through.
	text := flattenText(res.Content)
	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err == nil {
		return decoded, nil
	}
	return text, nil
}

// Close shuts down every connected server.
func (inv *Invoker) Close() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	var firstErr error
	for namespace, c := range inv.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close mcp server for %q: %w", namespace, err)
		}
		delete(inv.clients, namespace)
	}
	return firstErr
}

func flattenText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
