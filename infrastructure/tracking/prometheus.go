package tracking

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/domain"
	"github.com/Mehul-Gupta-SMH/PromptProp/internal/ports"
)

// Prometheus exposes the latest iteration's metrics as gauges labelled by run
// group, and accumulates tokens per stage.
type Prometheus struct {
	metrics    *prometheus.GaugeVec
	iterations *prometheus.GaugeVec
	tokens     *prometheus.CounterVec
}

var _ ports.Tracker = (*Prometheus)(nil)

// NewPrometheus registers the tracking metrics with reg. A nil reg uses the
// default registry.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Prometheus{
		metrics: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "promptprop_iteration_metric",
				Help: "Metric values of the latest tracked iteration.",
			},
			[]string{"run_group", "metric"},
		),
		iterations: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "promptprop_iteration_number",
				Help: "Number of the latest tracked iteration.",
			},
			[]string{"run_group"},
		),
		tokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptprop_tracked_tokens_total",
				Help: "Tokens consumed by tracked iterations per stage.",
			},
			[]string{"run_group", "stage"},
		),
	}
}

// Register updates the gauges. Prometheus assigns no run id.
func (t *Prometheus) Register(_ context.Context, rec ports.TrackingRecord) (string, error) {
	for _, key := range domain.MetricKeys {
		if v, ok := rec.Metrics[key]; ok {
			t.metrics.WithLabelValues(rec.RunGroup, key).Set(v)
		}
	}
	t.iterations.WithLabelValues(rec.RunGroup).Set(float64(rec.Iteration))

	t.tokens.WithLabelValues(rec.RunGroup, "inference").Add(float64(rec.TokenUsage.Inference))
	t.tokens.WithLabelValues(rec.RunGroup, "jury").Add(float64(rec.TokenUsage.Jury))
	t.tokens.WithLabelValues(rec.RunGroup, "refinement").Add(float64(rec.TokenUsage.Refinement))
	return "", nil
}
