// Package metrics exposes verification progress as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dev/bravebird/uiverify/pkg/models"
	"dev/bravebird/uiverify/pkg/verify"
)

const namespace = "uiverify"

// Recorder counts step and scenario outcomes and poll attempts. It plugs
// into the runner as both verify.Hooks and verify.AttemptObserver.
type Recorder struct {
	steps        *prometheus.CounterVec
	scenarios    *prometheus.CounterVec
	pollAttempts *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	gatherer     prometheus.Gatherer
}

var (
	_ verify.Hooks           = (*Recorder)(nil)
	_ verify.AttemptObserver = (*Recorder)(nil)
)

// NewRecorder registers the metrics with reg. A nil reg uses a fresh
// registry, which keeps tests and multiple recorders independent.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Recorder{
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_outcomes_total",
			Help:      "Executed steps by kind and status.",
		}, []string{"kind", "status"}),
		scenarios: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scenarios_total",
			Help:      "Finished scenarios by terminal status.",
		}, []string{"status"}),
		pollAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_attempts_total",
			Help:      "Condition evaluations made while polling, by whether the condition held.",
		}, []string{"holds"}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Time spent per step, including waits.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"kind"}),
		gatherer: reg,
	}
}

// StepFinished implements verify.Hooks
func (r *Recorder) StepFinished(_ string, o models.StepOutcome) {
	r.steps.WithLabelValues(string(o.Kind), string(o.Status)).Inc()
	r.stepDuration.WithLabelValues(string(o.Kind)).Observe(o.Duration.Seconds())
}

// ScenarioFinished implements verify.Hooks
func (r *Recorder) ScenarioFinished(res models.ScenarioResult) {
	r.scenarios.WithLabelValues(string(res.Status)).Inc()
}

// PollAttempt implements verify.AttemptObserver
func (r *Recorder) PollAttempt(holds bool) {
	label := "false"
	if holds {
		label = "true"
	}
	r.pollAttempts.WithLabelValues(label).Inc()
}

// Handler serves the recorder's registry in the Prometheus text format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
