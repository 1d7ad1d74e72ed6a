// Package metrics exposes MarketPulse counters and gauges for Prometheus.
// All methods are safe to call on a nil *Registry, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every MarketPulse collector on a private registry.
type Registry struct {
	reg *prometheus.Registry

	Analyses       *prometheus.CounterVec
	Predictions    *prometheus.CounterVec
	SubjectScore   *prometheus.GaugeVec
	BreakerState   *prometheus.GaugeVec
	StepDuration   *prometheus.HistogramVec
	EventsIngested prometheus.Counter
}

// New creates a Registry with all collectors registered.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		Analyses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_analyses_total",
				Help: "Impact analyses stored, by outcome and fallback reason",
			},
			[]string{"outcome", "reason"},
		),
		Predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_predictions_total",
				Help: "Source predictions appended, by source",
			},
			[]string{"source"},
		),
		SubjectScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketpulse_subject_score",
				Help: "Latest aggregate sentiment score per subject (0 to 100)",
			},
			[]string{"subject"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketpulse_breaker_state",
				Help: "Producer circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),
		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketpulse_step_duration_seconds",
				Help:    "Duration of each pipeline step in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
			[]string{"step", "result"},
		),
		EventsIngested: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "marketpulse_events_ingested_total",
				Help: "New events stored by collection runs",
			},
		),
	}

	r.reg.MustRegister(
		r.Analyses,
		r.Predictions,
		r.SubjectScore,
		r.BreakerState,
		r.StepDuration,
		r.EventsIngested,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObserveAnalysis counts one stored analysis. An empty reason means the
// producer's output was accepted.
func (r *Registry) ObserveAnalysis(reason string) {
	if r == nil {
		return
	}
	outcome := "ok"
	if reason != "" {
		outcome = "fallback"
	}
	r.Analyses.WithLabelValues(outcome, reason).Inc()
}

// ObservePrediction counts an appended prediction and records the subject's
// new score.
func (r *Registry) ObservePrediction(source, subject string, score float64) {
	if r == nil {
		return
	}
	r.Predictions.WithLabelValues(source).Inc()
	r.SubjectScore.WithLabelValues(subject).Set(score)
}

// SetScore records a subject's score after a refresh.
func (r *Registry) SetScore(subject string, score float64) {
	if r == nil {
		return
	}
	r.SubjectScore.WithLabelValues(subject).Set(score)
}

// SetBreakerState records a breaker transition. Unknown states map to open.
func (r *Registry) SetBreakerState(name, state string) {
	if r == nil {
		return
	}
	v := 2.0
	switch state {
	case "closed":
		v = 0
	case "half-open":
		v = 1
	}
	r.BreakerState.WithLabelValues(name).Set(v)
}

// ObserveStep records how long a pipeline step took.
func (r *Registry) ObserveStep(step string, d time.Duration, err error) {
	if r == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	r.StepDuration.WithLabelValues(step, result).Observe(d.Seconds())
}

// AddEvents counts newly ingested events.
func (r *Registry) AddEvents(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.EventsIngested.Add(float64(n))
}
