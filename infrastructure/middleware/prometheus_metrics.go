// Package middleware provides the Prometheus implementation of the
// operational metrics collector shared by the LLM middleware chain and the
// optimization loop.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Mehul-Gupta-SMH/PromptProp/infrastructure/llm"
	"github.com/Mehul-Gupta-SMH/PromptProp/internal/ports"
)

// Metric names routed to dedicated vectors. Anything else falls through to
// the generic operation, gauge and value vectors.
const (
	MetricJuryScore      = ports.MetricJuryScore
	MetricIterationScore = ports.MetricIterationScore
	MetricStageTokens    = ports.MetricStageTokens
)

// PrometheusMetrics implements the MetricsCollector interface using Prometheus.
// It covers provider calls (latency, outcomes, tokens, breaker state) and
// optimization progress (stage latency, jury scores, iteration scores).
type PrometheusMetrics struct {
	llmLatency     *prometheus.HistogramVec
	llmRequests    *prometheus.CounterVec
	llmTokens      *prometheus.CounterVec
	breakerState   *prometheus.GaugeVec
	breakerEvents  *prometheus.CounterVec
	stageLatency   *prometheus.HistogramVec
	stageTokens    *prometheus.CounterVec
	juryScores     *prometheus.HistogramVec
	iterationScore *prometheus.GaugeVec
	operations     *prometheus.CounterVec
	values         *prometheus.HistogramVec
	systemGauges   *prometheus.GaugeVec
}

// NewPrometheusMetrics creates a PrometheusMetrics instance and registers all
// metrics with reg. A nil reg registers with the default registry.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		llmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    llm.MetricLLMLatency,
				Help:    "Latency of generation calls per provider and model.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
			},
			[]string{"provider", "model", "status"},
		),
		llmRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: llm.MetricLLMRequests,
				Help: "Generation calls per provider, model and outcome.",
			},
			[]string{"provider", "model", "status"},
		),
		llmTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: llm.MetricLLMTokens,
				Help: "Tokens consumed by generation calls.",
			},
			[]string{"provider", "model", "token_type"},
		),
		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "llm_circuit_breaker_state",
				Help: "Circuit breaker state per provider (0 closed, 1 open, 2 half open).",
			},
			[]string{"provider"},
		),
		breakerEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_circuit_breaker_events_total",
				Help: "Circuit breaker outcomes per provider.",
			},
			[]string{"provider", "event"},
		),
		stageLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "optimizer_stage_duration_seconds",
				Help:    "Duration of optimization stages.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		stageTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricStageTokens,
				Help: "Tokens consumed per optimization stage.",
			},
			[]string{"stage"},
		),
		juryScores: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricJuryScore,
				Help:    "Distribution of jury scores.",
				Buckets: prometheus.LinearBuckets(10, 10, 10),
			},
			[]string{"jury"},
		),
		iterationScore: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricIterationScore,
				Help: "Average score of the latest iteration per experiment.",
			},
			[]string{"experiment_id"},
		),
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptprop_operations_total",
				Help: "Total number of operations by outcome.",
			},
			[]string{"operation", "status"},
		),
		values: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "promptprop_values",
				Help:    "Observed values of ad hoc histograms.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"metric"},
		),
		systemGauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "promptprop_state",
				Help: "Current state values of the service.",
			},
			[]string{"metric"},
		),
	}
}

// RecordLatency records the duration of an optimization stage.
func (pm *PrometheusMetrics) RecordLatency(operation string, duration time.Duration, _ map[string]string) {
	pm.stageLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCounter increments the counter named by metric.
func (pm *PrometheusMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	switch metric {
	case llm.MetricLLMRequests:
		pm.llmRequests.WithLabelValues(labels["provider"], labels["model"], labels["status"]).Add(value)
	case llm.MetricLLMTokens:
		pm.llmTokens.WithLabelValues(labels["provider"], labels["model"], labels["token_type"]).Add(value)
	case MetricStageTokens:
		pm.stageTokens.WithLabelValues(labels["stage"]).Add(value)
	default:
		status, ok := labels["status"]
		if !ok || status == "" {
			status = "success"
		}
		pm.operations.WithLabelValues(metric, status).Add(value)
	}
}

// RecordGauge sets the gauge named by metric.
func (pm *PrometheusMetrics) RecordGauge(metric string, value float64, labels map[string]string) {
	switch metric {
	case MetricIterationScore:
		pm.iterationScore.WithLabelValues(labels["experiment_id"]).Set(value)
	default:
		pm.systemGauges.WithLabelValues(metric).Set(value)
	}
}

// RecordHistogram observes value in the histogram named by metric.
func (pm *PrometheusMetrics) RecordHistogram(metric string, value float64, labels map[string]string) {
	switch metric {
	case llm.MetricLLMLatency:
		pm.llmLatency.WithLabelValues(labels["provider"], labels["model"], labels["status"]).Observe(value)
	case MetricJuryScore:
		pm.juryScores.WithLabelValues(labels["jury"]).Observe(value)
	default:
		pm.values.WithLabelValues(metric).Observe(value)
	}
}

// CircuitBreaker returns a breaker metrics sink labelled by provider.
func (pm *PrometheusMetrics) CircuitBreaker() llm.CircuitBreakerMetrics {
	return &breakerMetrics{pm: pm}
}

// breakerMetrics adapts PrometheusMetrics to llm.CircuitBreakerMetrics.
type breakerMetrics struct {
	pm *PrometheusMetrics
}

func (b *breakerMetrics) RecordState(provider string, state llm.CircuitBreakerState) {
	b.pm.breakerState.WithLabelValues(provider).Set(float64(state))
}

func (b *breakerMetrics) RecordTrip(provider string) {
	b.pm.breakerEvents.WithLabelValues(provider, "rejected").Inc()
}

func (b *breakerMetrics) RecordSuccess(provider string) {
	b.pm.breakerEvents.WithLabelValues(provider, "success").Inc()
}

func (b *breakerMetrics) RecordFailure(provider string) {
	b.pm.breakerEvents.WithLabelValues(provider, "failure").Inc()
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
