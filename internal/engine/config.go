package engine

import (
	"log/slog"

	"github.com/aretw0/tiller/internal/logging"
	"github.com/aretw0/tiller/internal/metrics"
	"github.com/aretw0/tiller/pkg/domain"
	"github.com/aretw0/tiller/pkg/ports"
)

// DefaultMaxIterations bounds the match→plan→recheck loop so tool results
// that keep surfacing new guidelines cannot spin a turn forever.
const DefaultMaxIterations = 3

// Config carries the static behavior pack plus the engine's collaborators.
// It is read-only after construction; per-turn settings travel in
// TurnOptions.
type Config struct {
	Guidelines    []domain.Guideline
	Journeys      []domain.Journey
	Relationships []domain.Relationship
	Tools         []domain.Tool
	Canned        []domain.CannedResponse
	Fragments     []domain.Fragment

	// Variables in global or tag scope, merged into every snapshot.
	Variables []domain.ContextVariable

	Glossary []domain.Term

	AgentName string

	// Mode is the default composition mode; TurnOptions may override it.
	Mode domain.CompositionMode

	MaxIterations int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// TurnOptions configures a single ProcessTurn call.
type TurnOptions struct {
	// Variables adds customer-scoped context variables for this turn.
	Variables []domain.ContextVariable

	CustomerName string

	// Mode overrides the engine's composition mode when non-empty. The
	// mode is always threaded explicitly, never kept as ambient state.
	Mode domain.CompositionMode
}

// Processor wires the engine components for one deployment. It holds no
// per-session mutable state; everything per-turn lives on the stack of
// ProcessTurn.
type Processor struct {
	cfg       Config
	graph     *RelationshipGraph
	tools     map[string]domain.Tool
	evaluator ports.Evaluator
	generator ports.Generator
	invoker   ports.ToolInvoker
	sessions  ports.SessionStore
	journeys  ports.JourneyStateStore
	logger    *slog.Logger
	metrics   *metrics.Metrics

	matcher  *Matcher
	planner  *Planner
	composer *Composer
}

// NewProcessor validates the configuration and builds the engine core.
func NewProcessor(
	cfg Config,
	evaluator ports.Evaluator,
	generator ports.Generator,
	invoker ports.ToolInvoker,
	sessions ports.SessionStore,
	journeys ports.JourneyStateStore,
) *Processor {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Mode == "" {
		cfg.Mode = domain.ModeFluid
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}

	graph := NewRelationshipGraph(cfg.Relationships)

	tools := make(map[string]domain.Tool, len(cfg.Tools))
	for _, tool := range cfg.Tools {
		tools[tool.QualifiedName()] = tool
	}

	p := &Processor{
		cfg:       cfg,
		graph:     graph,
		tools:     tools,
		evaluator: evaluator,
		generator: generator,
		invoker:   invoker,
		sessions:  sessions,
		journeys:  journeys,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
	p.matcher = NewMatcher(cfg, graph, evaluator, cfg.Logger, cfg.Metrics)
	p.planner = NewPlanner(tools, evaluator, cfg.Logger)
	p.composer = NewComposer(cfg, evaluator, generator, cfg.Logger, cfg.Metrics)
	return p
}
