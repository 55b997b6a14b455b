package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aretw0/tiller"
	"github.com/aretw0/tiller/pkg/domain"
)

// ChatResponse aligns with the HTTP API schema and provides a unified
// structure across adapters.
type ChatResponse struct {
	Reply      string `json:"reply" jsonschema_description:"The agent's reply text"`
	NoMatch    bool   `json:"no_match" jsonschema_description:"True when no authored template satisfied the turn"`
	Cancelled  bool   `json:"cancelled" jsonschema_description:"True when the turn was cancelled before a reply"`
	LastOffset int64  `json:"last_offset" jsonschema_description:"Offset of the last event of the session"`
}

// Engine defines the interface required by the MCP server to interact with Tiller.
type Engine interface {
	Send(ctx context.Context, sessionID, text string, opts tiller.TurnOptions) error
	Events(ctx context.Context, sessionID string, minOffset int64) ([]domain.Event, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// Server wraps the Tiller Engine and exposes it as an MCP Server, so MCP
// hosts can drive sessions as tools.
type Server struct {
	engine    Engine
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP Server instance.
func NewServer(engine Engine) *Server {
	s := &Server{
		engine:    engine,
		mcpServer: server.NewMCPServer("tiller-mcp", strings.TrimSpace(tiller.Version)),
	}
	s.registerTools()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	// Start the SSE server
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)

	go func() {
		slog.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		// Create a timeout context for the graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		fmt.Println("\nShutdown signal received, shutting down server...")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("CORS Middleware", "method", r.Method, "path", r.URL.Path)
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, Baggage, Sentry-Trace")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	// TOOL: send_message
	sendTool := mcp.NewTool("send_message",
		mcp.WithDescription("Send a customer message to a session and process the turn to completion."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("The session to send to; created on first use")),
		mcp.WithString("message", mcp.Required(), mcp.Description("The customer's message text")),
		mcp.WithString("customer_name", mcp.Description("Display name of the customer (optional)")),
		mcp.WithString("mode", mcp.Description("Composition mode override: fluid, strict, fluid_fallback, or composited (optional)")),
		mcp.WithOutputSchema[ChatResponse](),
	)
	s.mcpServer.AddTool(sendTool, mcp.NewStructuredToolHandler(s.handleSendMessage))

	// TOOL: get_events
	s.mcpServer.AddTool(mcp.NewTool("get_events",
		mcp.WithDescription("Read a session's event log from an offset. Returns messages, tool calls, and statuses."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("The session to read")),
		mcp.WithNumber("from_offset", mcp.Description("Minimum event offset, inclusive (default 0)")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := request.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		fromOffset := request.GetFloat("from_offset", 0)

		events, err := s.engine.Events(ctx, sessionID, int64(fromOffset))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("read failed: %v", err)), nil
		}
		jsonBytes, _ := json.Marshal(events)
		return mcp.NewToolResultText(string(jsonBytes)), nil
	})

	// TOOL: delete_session
	s.mcpServer.AddTool(mcp.NewTool("delete_session",
		mcp.WithDescription("Delete a session's event log and journey state."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("The session to delete")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := request.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := s.engine.DeleteSession(ctx, sessionID); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("delete failed: %v", err)), nil
		}
		return mcp.NewToolResultText("deleted"), nil
	})
}

// Handler methods for structured tools

func (s *Server) handleSendMessage(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (ChatResponse, error) {
	sessionID, _ := args["session_id"].(string)
	message, _ := args["message"].(string)
	if sessionID == "" || message == "" {
		return ChatResponse{}, fmt.Errorf("session_id and message are required")
	}

	opts := tiller.TurnOptions{}
	if name, ok := args["customer_name"].(string); ok {
		opts.CustomerName = name
	}
	if mode, ok := args["mode"].(string); ok && mode != "" {
		opts.Mode = domain.CompositionMode(mode)
	}

	err := s.engine.Send(ctx, sessionID, message, opts)
	cancelled := errors.Is(err, domain.ErrTurnCancelled)
	if err != nil && !cancelled {
		return ChatResponse{}, fmt.Errorf("turn failed: %w", err)
	}

	events, err := s.engine.Events(ctx, sessionID, 0)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("read failed: %w", err)
	}

	resp := ChatResponse{Cancelled: cancelled}
	for _, ev := range events {
		if ev.Offset > resp.LastOffset {
			resp.LastOffset = ev.Offset
		}
		if ev.Kind != domain.EventMessage || ev.Source != domain.SourceAgent {
			continue
		}
		if data, ok := domain.AsMessageData(ev.Data); ok {
			resp.Reply = data.Text
			resp.NoMatch = data.NoMatch
		}
	}
	return resp, nil
}
