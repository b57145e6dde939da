// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing, so wiring is optional in tests.
type Metrics struct {
	SessionsProcessed    prometheus.Counter
	Decisions            *prometheus.CounterVec
	PhaseTransitions     *prometheus.CounterVec
	PersistenceFallbacks prometheus.Counter
	IndexSize            *prometheus.GaugeVec
}

// New registers the engine collectors with reg and returns them.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bridge",
			Name:      "sessions_processed_total",
			Help:      "Behavioral session batches processed.",
		}),
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Name:      "decisions_total",
			Help:      "Authentication decisions by outcome.",
		}, []string{"decision"}),
		PhaseTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Name:      "phase_transitions_total",
			Help:      "Learning-phase promotions by target phase.",
		}, []string{"to_phase"}),
		PersistenceFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bridge",
			Name:      "persistence_fallbacks_total",
			Help:      "Writes that fell back to in-memory storage after repository failures.",
		}),
		IndexSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bridge",
			Name:      "index_vectors",
			Help:      "Vectors resident per similarity index.",
		}, []string{"kind"}),
	}
}

// ObserveDecision records one processed session and its decision.
func (m *Metrics) ObserveDecision(decision string) {
	if m == nil {
		return
	}
	m.SessionsProcessed.Inc()
	m.Decisions.WithLabelValues(decision).Inc()
}

// ObservePhaseTransition records a promotion to phase.
func (m *Metrics) ObservePhaseTransition(phase string) {
	if m == nil {
		return
	}
	m.PhaseTransitions.WithLabelValues(phase).Inc()
}

// ObserveFallback records a persistence fallback.
func (m *Metrics) ObserveFallback() {
	if m == nil {
		return
	}
	m.PersistenceFallbacks.Inc()
}

// SetIndexSize records the current cardinality of one similarity index.
func (m *Metrics) SetIndexSize(kind string, n int) {
	if m == nil {
		return
	}
	m.IndexSize.WithLabelValues(kind).Set(float64(n))
}
