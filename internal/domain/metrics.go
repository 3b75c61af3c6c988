package domain

import (
	"math"
	"strings"

	"golang.org/x/text/cases"
)

// Iteration metric names.
const (
	MetricAverageScore    = "average_score"
	MetricPassRate        = "pass_rate"
	MetricTotalCases      = "total_cases"
	MetricAccuracy        = "accuracy"
	MetricPrecision       = "precision"
	MetricRecall          = "recall"
	MetricDirectness      = "directness"
	MetricFormatAdherence = "format_adherence"
	MetricConsistency     = "consistency"
	MetricRelevance       = "relevance"
)

// MetricKeys lists every iteration metric in reporting order.
var MetricKeys = []string{
	MetricAverageScore,
	MetricPassRate,
	MetricTotalCases,
	MetricAccuracy,
	MetricPrecision,
	MetricRecall,
	MetricDirectness,
	MetricFormatAdherence,
	MetricConsistency,
	MetricRelevance,
}

// formatKeywords mark jury reasoning that complains about output shape.
var formatKeywords = []string{"format", "structure", "layout", "template", "schema"}

// IterationMetrics is the flat set of named metrics for one iteration.
type IterationMetrics map[string]float64

// ComputeMetrics reduces the scored rows of one iteration to the ten
// iteration metrics. It returns an empty map for empty input.
//
// Every row is a positive example that requires a passing answer, so
// accuracy, precision and recall all equal the pass rate. Consistency is
// 1 - pstdev/100 and is not clamped.
func ComputeMetrics(rows []RowResult, passThreshold float64) IterationMetrics {
	metrics := make(IterationMetrics, len(MetricKeys))
	if len(rows) == 0 {
		return metrics
	}

	n := float64(len(rows))
	fold := cases.Fold()

	var sum float64
	var passed, formatIssues int
	for _, r := range rows {
		sum += r.Score
		if r.Score >= passThreshold {
			passed++
		}
		reasoning := fold.String(r.Reasoning)
		for _, kw := range formatKeywords {
			if strings.Contains(reasoning, kw) {
				formatIssues++
				break
			}
		}
	}
	mean := sum / n

	var variance float64
	for _, r := range rows {
		d := r.Score - mean
		variance += d * d
	}
	stdev := math.Sqrt(variance / n)

	passRate := Round(float64(passed)/n, 4)
	normalized := Round(Round(mean, 4)/100, 4)

	metrics[MetricAverageScore] = Round(mean, 2)
	metrics[MetricPassRate] = passRate
	metrics[MetricTotalCases] = n
	metrics[MetricAccuracy] = passRate
	metrics[MetricPrecision] = passRate
	metrics[MetricRecall] = passRate
	metrics[MetricDirectness] = normalized
	metrics[MetricFormatAdherence] = Round(1-float64(formatIssues)/n, 4)
	metrics[MetricConsistency] = Round(1-stdev/100, 4)
	metrics[MetricRelevance] = normalized

	return metrics
}

// MeanScore returns the arithmetic mean of scores, or 0 when empty.
func MeanScore(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
