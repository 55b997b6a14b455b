package tiller

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/tiller/internal/engine"
	"github.com/aretw0/tiller/internal/logging"
	"github.com/aretw0/tiller/internal/metrics"
	"github.com/aretw0/tiller/pkg/adapters/memory"
	"github.com/aretw0/tiller/pkg/domain"
	"github.com/aretw0/tiller/pkg/pack"
	"github.com/aretw0/tiller/pkg/ports"
	"github.com/aretw0/tiller/pkg/session"
)

// Version is the library version reported by servers and CLIs.
var Version = "0.1.0"

// Engine is the high-level entry point for the Tiller library.
// It wraps the turn processor and the session manager and provides a
// simplified API for consumers.
type Engine struct {
	processor *engine.Processor
	manager   *session.Manager
	sessions  ports.SessionStore
	journeys  ports.JourneyStateStore
	locker    ports.DistributedLocker
	logger    *slog.Logger
	metrics   *metrics.Metrics

	maxIterations int
	mode          domain.CompositionMode
	Name          string
}

// TurnOptions configures a single turn.
type TurnOptions struct {
	// CustomerName is the display name of the customer, usable in replies.
	CustomerName string

	// Mode overrides the pack's composition mode for this turn.
	Mode domain.CompositionMode

	// Variables adds customer-scoped context variables for this turn.
	Variables []domain.ContextVariable
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithSessionStore injects a custom event log store. Defaults to an
// in-memory store.
func WithSessionStore(store ports.SessionStore) Option {
	return func(e *Engine) {
		e.sessions = store
	}
}

// WithJourneyStateStore injects a custom journey state store. Defaults to
// an in-memory store.
func WithJourneyStateStore(store ports.JourneyStateStore) Option {
	return func(e *Engine) {
		e.journeys = store
	}
}

// WithLocker enables distributed session locking across replicas.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(e *Engine) {
		e.locker = locker
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics registers the engine's Prometheus collectors on the given
// registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(e *Engine) {
		e.metrics = metrics.New(reg)
	}
}

// WithMaxIterations bounds the match-call-recheck loop per turn.
func WithMaxIterations(n int) Option {
	return func(e *Engine) {
		e.maxIterations = n
	}
}

// WithMode overrides the pack's default composition mode.
func WithMode(mode domain.CompositionMode) Option {
	return func(e *Engine) {
		e.mode = mode
	}
}

// New initializes a new Tiller Engine from a validated behavior pack and
// the three external collaborators: the condition evaluator, the reply
// generator, and the tool invoker.
func New(p *pack.Pack, evaluator ports.Evaluator, generator ports.Generator, invoker ports.ToolInvoker, opts ...Option) (*Engine, error) {
	if p == nil {
		return nil, fmt.Errorf("behavior pack is required")
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid behavior pack: %w", err)
	}
	if evaluator == nil || generator == nil {
		return nil, fmt.Errorf("evaluator and generator are required")
	}

	eng := &Engine{Name: p.Name}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.logger == nil {
		eng.logger = logging.NewNop()
	}
	if eng.Name != "" {
		eng.logger = eng.logger.With("pack", eng.Name)
	}
	if eng.sessions == nil || eng.journeys == nil {
		store := memory.NewStore()
		if eng.sessions == nil {
			eng.sessions = store
		}
		if eng.journeys == nil {
			eng.journeys = store
		}
	}

	mode := p.Mode
	if eng.mode != "" {
		mode = eng.mode
	}

	eng.processor = engine.NewProcessor(engine.Config{
		Guidelines:    p.Guidelines,
		Journeys:      p.Journeys,
		Relationships: p.Relationships,
		Tools:         p.Tools,
		Canned:        p.Canned,
		Fragments:     p.Fragments,
		Variables:     p.Variables,
		Glossary:      p.Glossary,
		AgentName:     p.AgentName,
		Mode:          mode,
		MaxIterations: eng.maxIterations,
		Logger:        eng.logger,
		Metrics:       eng.metrics,
	}, evaluator, generator, invoker, eng.sessions, eng.journeys)

	managerOpts := []session.Option{session.WithLogger(eng.logger)}
	if eng.locker != nil {
		managerOpts = append(managerOpts, session.WithLocker(eng.locker))
	}
	eng.manager = session.NewManager(eng.sessions, eng.journeys, managerOpts...)

	return eng, nil
}

// StartSession creates an empty session. Starting an existing session is a
// no-op.
func (e *Engine) StartSession(ctx context.Context, sessionID string) error {
	return e.manager.Start(ctx, sessionID)
}

// Send appends one customer message and processes the resulting turn to
// completion. Turns of the same session are serialized; cancelling ctx
// cancels the turn cooperatively and yields domain.ErrTurnCancelled.
func (e *Engine) Send(ctx context.Context, sessionID, text string, opts TurnOptions) error {
	if _, err := e.manager.AppendCustomerMessage(ctx, sessionID, opts.CustomerName, text); err != nil {
		return fmt.Errorf("failed to append customer message: %w", err)
	}
	return e.ProcessTurn(ctx, sessionID, opts)
}

// ProcessTurn runs one turn over the session's current transcript, without
// appending a new customer message first. Useful when messages are appended
// out of band (e.g. over HTTP) and processing is triggered separately.
func (e *Engine) ProcessTurn(ctx context.Context, sessionID string, opts TurnOptions) error {
	return e.manager.WithLock(ctx, sessionID, func(ctx context.Context) error {
		return e.processor.ProcessTurn(ctx, sessionID, engine.TurnOptions{
			Variables:    opts.Variables,
			CustomerName: opts.CustomerName,
			Mode:         opts.Mode,
		})
	})
}

// Events reads the session's event log from minOffset onward. Polling with
// the last seen offset plus one yields exactly the new events.
func (e *Engine) Events(ctx context.Context, sessionID string, minOffset int64) ([]domain.Event, error) {
	return e.manager.History(ctx, sessionID, minOffset)
}

// DeleteSession removes the session's event log and journey states.
func (e *Engine) DeleteSession(ctx context.Context, sessionID string) error {
	return e.manager.Delete(ctx, sessionID)
}
