// Package httpapi serves sessions over a JSON HTTP API, with per-session
// SSE streams for new events.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/tiller"
	"github.com/aretw0/tiller/pkg/domain"
)

// Engine defines the interface for the Tiller turn-processing core.
type Engine interface {
	StartSession(ctx context.Context, sessionID string) error
	Send(ctx context.Context, sessionID, text string, opts tiller.TurnOptions) error
	Events(ctx context.Context, sessionID string, minOffset int64) ([]domain.Event, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// Server routes session requests to the engine.
type Server struct {
	Engine  Engine
	Streams *StreamManager

	mu       sync.Mutex
	inFlight map[string]map[*turnHandle]struct{}
}

type turnHandle struct {
	cancel context.CancelFunc
}

// NewHandler creates a new HTTP handler for the engine. A non-nil gatherer
// additionally mounts /metrics.
func NewHandler(engine Engine, gatherer prometheus.Gatherer) http.Handler {
	server := &Server{
		Engine:   engine,
		Streams:  NewStreamManager(),
		inFlight: make(map[string]map[*turnHandle]struct{}),
	}
	r := chi.NewRouter()

	r.Get("/health", server.GetHealth)
	r.Get("/info", server.GetInfo)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Post("/sessions", server.CreateSession)
	r.Post("/sessions/{sessionID}/messages", server.PostMessage)
	r.Post("/sessions/{sessionID}/cancel", server.CancelTurn)
	r.Get("/sessions/{sessionID}/events", server.GetEvents)
	r.Get("/sessions/{sessionID}/stream", server.StreamEvents)
	r.Delete("/sessions/{sessionID}", server.DeleteSession)

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Custom-Header")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

// MessageRequest is the body of POST /sessions/{id}/messages.
type MessageRequest struct {
	Message      string         `json:"message"`
	CustomerName string         `json:"customer_name,omitempty"`
	Mode         string         `json:"mode,omitempty"`
	Variables    map[string]any `json:"variables,omitempty"`
}

// MessageResponse reports the outcome of a processed turn.
type MessageResponse struct {
	Reply      string `json:"reply"`
	NoMatch    bool   `json:"no_match"`
	Cancelled  bool   `json:"cancelled"`
	LastOffset int64  `json:"last_offset"`
}

// CreateSession handles the POST /sessions request.
func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	var body CreateSessionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			slog.Warn("CreateSession: Invalid request body", "error", err)
			return
		}
	}
	if body.SessionID == "" {
		body.SessionID = uuid.NewString()
	}

	if err := s.Engine.StartSession(r.Context(), body.SessionID); err != nil {
		http.Error(w, fmt.Sprintf("Start error: %v", err), http.StatusInternalServerError)
		slog.Error("CreateSession failed", "error", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"session_id": body.SessionID})
}

// PostMessage handles the POST /sessions/{sessionID}/messages request. It
// processes the turn to completion before responding; clients wanting
// statuses as they happen subscribe to the session stream.
func (s *Server) PostMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var body MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		slog.Warn("PostMessage: Invalid request body", "error", err)
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		http.Error(w, "Message must not be empty", http.StatusBadRequest)
		return
	}

	before, err := s.Engine.Events(r.Context(), sessionID, 0)
	if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		http.Error(w, fmt.Sprintf("Read error: %v", err), http.StatusInternalServerError)
		slog.Error("PostMessage: event read failed", "error", err)
		return
	}
	var sinceOffset int64
	for _, ev := range before {
		if ev.Offset >= sinceOffset {
			sinceOffset = ev.Offset + 1
		}
	}

	opts := tiller.TurnOptions{
		CustomerName: body.CustomerName,
		Mode:         domain.CompositionMode(body.Mode),
	}
	for key, value := range body.Variables {
		opts.Variables = append(opts.Variables, domain.ContextVariable{
			Key:   key,
			Scope: domain.ScopeCustomer,
			Value: value,
		})
	}

	turnCtx, release := s.registerTurn(r.Context(), sessionID)
	err = s.Engine.Send(turnCtx, sessionID, body.Message, opts)
	release()
	cancelled := errors.Is(err, domain.ErrTurnCancelled)
	if err != nil && !cancelled {
		if errors.Is(err, domain.ErrSessionNotFound) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Turn error: %v", err), http.StatusInternalServerError)
		slog.Error("PostMessage: turn failed", "error", err, "session_id", sessionID)
		return
	}

	// context.WithoutCancel: the turn already committed, so the read and
	// broadcast must not be lost to a client disconnect.
	events, err := s.Engine.Events(context.WithoutCancel(r.Context()), sessionID, sinceOffset)
	if err != nil {
		http.Error(w, fmt.Sprintf("Read error: %v", err), http.StatusInternalServerError)
		slog.Error("PostMessage: event read failed", "error", err)
		return
	}

	resp := MessageResponse{Cancelled: cancelled, LastOffset: sinceOffset - 1}
	for _, ev := range events {
		if ev.Offset > resp.LastOffset {
			resp.LastOffset = ev.Offset
		}
		if bytes, err := json.Marshal(ev); err == nil {
			s.Streams.Broadcast(sessionID, string(bytes))
		}
		if ev.Kind != domain.EventMessage || ev.Source != domain.SourceAgent {
			continue
		}
		if data, ok := domain.AsMessageData(ev.Data); ok {
			resp.Reply = data.Text
			resp.NoMatch = data.NoMatch
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("PostMessage response encode failed", "error", err)
	}
}

// registerTurn makes an in-flight turn cancellable through CancelTurn. The
// returned release must be called once the turn finishes.
func (s *Server) registerTurn(ctx context.Context, sessionID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	handle := &turnHandle{cancel: cancel}

	s.mu.Lock()
	if s.inFlight[sessionID] == nil {
		s.inFlight[sessionID] = make(map[*turnHandle]struct{})
	}
	s.inFlight[sessionID][handle] = struct{}{}
	s.mu.Unlock()

	return ctx, func() {
		cancel()
		s.mu.Lock()
		delete(s.inFlight[sessionID], handle)
		if len(s.inFlight[sessionID]) == 0 {
			delete(s.inFlight, sessionID)
		}
		s.mu.Unlock()
	}
}

// CancelTurn handles the POST /sessions/{sessionID}/cancel request. It
// cancels every turn currently in flight for the session; the cancelled
// PostMessage responds with "cancelled": true once the engine unwinds.
func (s *Server) CancelTurn(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	s.mu.Lock()
	handles := s.inFlight[sessionID]
	count := len(handles)
	for handle := range handles {
		handle.cancel()
	}
	s.mu.Unlock()

	if count == 0 {
		http.Error(w, "No turn in flight", http.StatusNotFound)
		return
	}

	slog.Info("CancelTurn: cancelling in-flight turns", "session_id", sessionID, "count", count)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]bool{"cancelling": true})
}

// GetEvents handles the GET /sessions/{sessionID}/events request.
func (s *Server) GetEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var minOffset int64
	if raw := r.URL.Query().Get("min_offset"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "Invalid min_offset", http.StatusBadRequest)
			return
		}
		minOffset = parsed
	}

	events, err := s.Engine.Events(r.Context(), sessionID, minOffset)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Read error: %v", err), http.StatusInternalServerError)
		slog.Error("GetEvents failed", "error", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(events); err != nil {
		slog.Error("GetEvents response encode failed", "error", err)
	}
}

// DeleteSession handles the DELETE /sessions/{sessionID} request.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.Engine.DeleteSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Delete error: %v", err), http.StatusInternalServerError)
		slog.Error("DeleteSession failed", "error", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "ok"}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{
		"app":     "tiller-http",
		"version": strings.TrimSpace(tiller.Version),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// StreamManager handles active SSE connections
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- string]struct{} // SessionID -> Set of Channels
}

func NewStreamManager() *StreamManager {
	return &StreamManager{
		subscribers: make(map[string]map[chan<- string]struct{}),
	}
}

func (sm *StreamManager) Subscribe(sessionID string) (chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, 10)
	if _, ok := sm.subscribers[sessionID]; !ok {
		sm.subscribers[sessionID] = make(map[chan<- string]struct{})
	}
	sm.subscribers[sessionID][ch] = struct{}{}

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if subs, ok := sm.subscribers[sessionID]; ok {
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, sessionID)
			}
		}
	}
}

func (sm *StreamManager) Broadcast(sessionID string, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if subs, ok := sm.subscribers[sessionID]; ok {
		for ch := range subs {
			select {
			case ch <- msg:
			default:
				// Drop message if channel is full (slow client)
				slog.Warn("SSE: Client buffer full, dropping message", "session_id", sessionID)
			}
		}
	}
}

// StreamEvents handles the GET /sessions/{sessionID}/stream request (SSE).
// Each processed turn's new events are pushed as they are committed.
func (s *Server) StreamEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		slog.Error("StreamEvents: Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	slog.Info("SSE: Subscribing to Session Updates", "session_id", sessionID)

	ch, cancel := s.Streams.Subscribe(sessionID)
	defer cancel()

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	// Parse 'kinds' filter
	var kindList []string
	if raw := r.URL.Query().Get("kinds"); raw != "" {
		kindList = strings.Split(raw, ",")
	}

	for {
		select {
		case <-r.Context().Done():
			slog.Info("SSE Client Disconnected")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if len(kindList) > 0 {
				var ev struct {
					Kind string `json:"kind"`
				}
				if err := json.Unmarshal([]byte(msg), &ev); err == nil {
					keep := false
					for _, kind := range kindList {
						if strings.TrimSpace(kind) == ev.Kind {
							keep = true
						}
					}
					if !keep {
						continue
					}
				}
			}

			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}
