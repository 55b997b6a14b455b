package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing, so instrumentation stays optional.
type Metrics struct {
	TurnsTotal       *prometheus.CounterVec
	TurnDuration     prometheus.Histogram
	Evaluations      prometheus.Counter
	ToolCalls        *prometheus.CounterVec
	Compositions     *prometheus.CounterVec
	MatchIterations  prometheus.Histogram
}

// New creates the collectors and registers them on the registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tiller_turns_total",
				Help: "Processed turns by outcome (replied, no_match, cancelled, error).",
			},
			[]string{"outcome"},
		),
		TurnDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tiller_turn_duration_seconds",
				Help:    "Wall time of ProcessTurn.",
				Buckets: prometheus.DefBuckets,
			},
		),
		Evaluations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tiller_evaluations_total",
				Help: "Calls to the condition evaluation backend.",
			},
		),
		ToolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tiller_tool_calls_total",
				Help: "Executed tool calls by result (ok, error).",
			},
			[]string{"result"},
		),
		Compositions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tiller_compositions_total",
				Help: "Composed replies by mode.",
			},
			[]string{"mode"},
		),
		MatchIterations: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tiller_match_iterations",
				Help:    "Match/plan iterations per turn.",
				Buckets: []float64{1, 2, 3, 4, 5},
			},
		),
	}
	reg.MustRegister(
		m.TurnsTotal,
		m.TurnDuration,
		m.Evaluations,
		m.ToolCalls,
		m.Compositions,
		m.MatchIterations,
	)
	return m
}

// CountTurn records a turn outcome. Safe on nil.
func (m *Metrics) CountTurn(outcome string) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
}

// CountEvaluation records one evaluator call. Safe on nil.
func (m *Metrics) CountEvaluation() {
	if m == nil {
		return
	}
	m.Evaluations.Inc()
}

// CountToolCall records one executed call. Safe on nil.
func (m *Metrics) CountToolCall(failed bool) {
	if m == nil {
		return
	}
	if failed {
		m.ToolCalls.WithLabelValues("error").Inc()
		return
	}
	m.ToolCalls.WithLabelValues("ok").Inc()
}

// CountComposition records a composed reply by mode. Safe on nil.
func (m *Metrics) CountComposition(mode string) {
	if m == nil {
		return
	}
	m.Compositions.WithLabelValues(mode).Inc()
}

// ObserveTurn records turn duration and iteration count. Safe on nil.
func (m *Metrics) ObserveTurn(seconds float64, iterations int) {
	if m == nil {
		return
	}
	m.TurnDuration.Observe(seconds)
	m.MatchIterations.Observe(float64(iterations))
}
