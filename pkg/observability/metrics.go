package observability

import (
	"context"
	"net/http"

	"github.com/aretw0/journey/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	Transitions   *prometheus.CounterVec
	Interventions *prometheus.CounterVec
	Intents       *prometheus.CounterVec
	Rejections    *prometheus.CounterVec
	Latency       *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg uses a fresh registry, which keeps tests and multiple engines apart.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "journey_transitions_total",
				Help: "Applied state transitions by trigger and resulting status.",
			},
			[]string{"trigger", "status"},
		),
		Interventions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "journey_interventions_total",
				Help: "Intervention requests by type and status.",
			},
			[]string{"type", "status"},
		),
		Intents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "journey_intents_total",
				Help: "Resolved user utterances by command.",
			},
			[]string{"command"},
		),
		Rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "journey_rejections_total",
				Help: "Operations rejected without a state change, by error code.",
			},
			[]string{"code"},
		),
		Latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "journey_transition_duration_seconds",
				Help:    "Time spent applying and persisting one transition.",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"trigger"},
		),
		gatherer: reg,
	}
	reg.MustRegister(m.Transitions, m.Interventions, m.Intents, m.Rejections, m.Latency)
	return m
}

// Hooks returns lifecycle hooks that record into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTransition: func(ctx context.Context, e *domain.TransitionEvent) {
			m.Transitions.WithLabelValues(e.Trigger, string(e.To)).Inc()
			m.Latency.WithLabelValues(e.Trigger).Observe(e.Duration.Seconds())
		},
		OnIntervention: func(ctx context.Context, iv *domain.Intervention) {
			m.Interventions.WithLabelValues(string(iv.Type), string(iv.Status)).Inc()
		},
		OnIntent: func(ctx context.Context, sessionID string, r domain.ResolvedIntent) {
			m.Intents.WithLabelValues(string(r.Command)).Inc()
		},
		OnRejected: func(ctx context.Context, sessionID string, err error) {
			m.Rejections.WithLabelValues(domain.ErrorCode(err)).Inc()
		},
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
