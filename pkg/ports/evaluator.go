package ports

import (
	"context"

	"github.com/aretw0/tiller/pkg/domain"
)

// Evaluator is the natural-language condition evaluation backend.
// Implementations may be remote and slow; the engine bounds and retries
// calls, and dispatches independent evaluations concurrently.
type Evaluator interface {
	// Evaluate checks a natural-language predicate against the snapshot.
	Evaluate(ctx context.Context, condition string, snap *domain.Snapshot) (domain.Evaluation, error)

	// Extract returns candidate values for a tool parameter drawn from
	// explicit customer statements, each tagged with the transcript offset
	// it came from. An empty slice means the customer never supplied the
	// value.
	Extract(ctx context.Context, query domain.ExtractionQuery, snap *domain.Snapshot) ([]domain.ArgumentCandidate, error)
}

// Generator is the free-text generation backend.
type Generator interface {
	// Generate produces reply text under the given constraints. The engine
	// never asserts facts beyond constraints.Facts.
	Generate(ctx context.Context, snap *domain.Snapshot, constraints domain.GenerationConstraints) (string, error)
}
