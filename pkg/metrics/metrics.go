// Package metrics exports run and step outcomes to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ormasoftchile/intentrun/pkg/kernel/engine"
)

const namespace = "intentrun"

// Observer implements engine.Observer by updating Prometheus collectors.
type Observer struct {
	steps        *prometheus.CounterVec
	fallbacks    *prometheus.CounterVec
	attempts     *prometheus.HistogramVec
	stepDuration *prometheus.HistogramVec
	runs         *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
}

// New registers the intentrun collectors on reg (the default registerer
// when nil). Collectors already registered by an earlier call are reused.
func New(reg prometheus.Registerer) (*Observer, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &Observer{
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Executed steps by terminal status and path used.",
		}, []string{"spec", "status", "path"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Steps that switched to their fallback path.",
		}, []string{"spec", "path"}),
		attempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_attempts",
			Help:      "Attempts consumed per executed step.",
			Buckets:   []float64{1, 2, 3, 5, 8},
		}, []string{"spec"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time per step.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"spec", "status"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed runs by run status.",
		}, []string{"spec", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time per run.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"spec"}),
	}
	var err error
	if o.steps, err = register(reg, o.steps); err != nil {
		return nil, err
	}
	if o.fallbacks, err = register(reg, o.fallbacks); err != nil {
		return nil, err
	}
	if o.attempts, err = register(reg, o.attempts); err != nil {
		return nil, err
	}
	if o.stepDuration, err = register(reg, o.stepDuration); err != nil {
		return nil, err
	}
	if o.runs, err = register(reg, o.runs); err != nil {
		return nil, err
	}
	if o.runDuration, err = register(reg, o.runDuration); err != nil {
		return nil, err
	}
	return o, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register collector: %w", err)
	}
	return c, nil
}

// StepCompleted records one step outcome. The cancellation pseudo-outcome
// is counted under its status but carries no attempts.
func (o *Observer) StepCompleted(spec string, out engine.Outcome) {
	if o == nil {
		return
	}
	o.steps.WithLabelValues(spec, string(out.Status), string(out.PathUsed)).Inc()
	if out.FallbackOccurred {
		o.fallbacks.WithLabelValues(spec, string(out.PathUsed)).Inc()
	}
	if out.Attempts > 0 {
		o.attempts.WithLabelValues(spec).Observe(float64(out.Attempts))
	}
	o.stepDuration.WithLabelValues(spec, string(out.Status)).Observe(out.Duration.Seconds())
}

// RunCompleted records the run status and duration.
func (o *Observer) RunCompleted(spec string, r *engine.RunResult) {
	if o == nil || r == nil {
		return
	}
	o.runs.WithLabelValues(spec, r.Status).Inc()
	o.runDuration.WithLabelValues(spec).Observe(r.Duration.Seconds())
}

// Handler serves the metrics gathered by g (the default gatherer when nil).
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

var _ engine.Observer = (*Observer)(nil)
