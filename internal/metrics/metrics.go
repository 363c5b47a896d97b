// Package metrics defines the Prometheus collectors the pipeline exposes
// for its three worker stages: pool occupancy, queue depth, state
// transitions, and circuit breaker health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "integration_pipeline"
)

// Metrics holds every collector the pipeline registers. Built once per
// process and passed down to whichever components emit measurements.
type Metrics struct {
	WorkerPoolSize      *prometheus.GaugeVec
	WorkersBusy         *prometheus.GaugeVec
	WorkersIdle         *prometheus.GaugeVec
	JobsProcessed       *prometheus.CounterVec
	JobDuration         *prometheus.HistogramVec
	QueueDepth          *prometheus.GaugeVec
	StateTransitions    *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec
	SweeperPromotions   *prometheus.CounterVec
}

// New creates and registers the pipeline's collectors against reg. Pass
// prometheus.DefaultRegisterer to expose them on the default /metrics
// handler an operator wires up outside this module.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		WorkerPoolSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "worker_pool_size", Help: "Configured size of a stage's worker pool.",
		}, []string{"stage"}),
		WorkersBusy: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "workers_busy", Help: "Workers currently processing a unit.",
		}, []string{"stage"}),
		WorkersIdle: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "workers_idle", Help: "Workers available to accept work.",
		}, []string{"stage"}),
		JobsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_processed_total", Help: "Units dispatched, labeled by stage and outcome.",
		}, []string{"stage", "outcome"}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "job_duration_seconds", Help: "Handler execution time per stage.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"stage"}),
		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_depth", Help: "Pending entries in a stage's stream, sampled on demand.",
		}, []string{"stage"}),
		StateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "state_transitions_total", Help: "Entity state transitions, labeled by entity and resulting state.",
		}, []string{"entity", "state"}),
		CircuitBreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "circuit_breaker_state", Help: "0=closed, 1=open, 2=half-open.",
		}, []string{"stage"}),
		SweeperPromotions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sweeper_promotions_total", Help: "Delayed entities promoted back to PENDING, labeled by entity.",
		}, []string{"entity"}),
	}
}

// RecordJob records one handler invocation's outcome and duration for stage.
func (m *Metrics) RecordJob(stage, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.JobsProcessed.WithLabelValues(stage, outcome).Inc()
	m.JobDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// SetPoolStats reports a stage's current pool occupancy.
func (m *Metrics) SetPoolStats(stage string, size, busy, idle int) {
	if m == nil {
		return
	}
	m.WorkerPoolSize.WithLabelValues(stage).Set(float64(size))
	m.WorkersBusy.WithLabelValues(stage).Set(float64(busy))
	m.WorkersIdle.WithLabelValues(stage).Set(float64(idle))
}

// RecordTransition records an entity reaching a new state.
func (m *Metrics) RecordTransition(entity, state string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(entity, state).Inc()
}

// SetCircuitBreakerState reports a stage breaker's current numeric state.
func (m *Metrics) SetCircuitBreakerState(stage string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(stage).Set(float64(state))
}

// RecordPromotion records a delayed entity being promoted back to PENDING.
func (m *Metrics) RecordPromotion(entity string) {
	if m == nil {
		return
	}
	m.SweeperPromotions.WithLabelValues(entity).Inc()
}
