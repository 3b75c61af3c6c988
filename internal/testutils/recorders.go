package testutils

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/ports"
)

// RecordingTracker implements ports.Tracker by keeping every record.
type RecordingTracker struct {
	mu      sync.Mutex
	records []ports.TrackingRecord
	// Err is returned from every Register call when set.
	Err error
}

var _ ports.Tracker = (*RecordingTracker)(nil)

// Register implements ports.Tracker. Run ids are "run-{n}".
func (r *RecordingTracker) Register(_ context.Context, rec ports.TrackingRecord) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	if r.Err != nil {
		return "", r.Err
	}
	return fmt.Sprintf("run-%d", len(r.records)), nil
}

// Records returns a copy of the registered records.
func (r *RecordingTracker) Records() []ports.TrackingRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ports.TrackingRecord, len(r.records))
	copy(out, r.records)
	return out
}

// MetricCall is one call captured by MetricsRecorder.
type MetricCall struct {
	Kind   string
	Name   string
	Value  float64
	Labels map[string]string
}

// MetricsRecorder implements ports.MetricsCollector in memory.
type MetricsRecorder struct {
	mu    sync.Mutex
	calls []MetricCall
}

var _ ports.MetricsCollector = (*MetricsRecorder)(nil)

func (m *MetricsRecorder) add(kind, name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MetricCall{Kind: kind, Name: name, Value: value, Labels: labels})
}

// RecordLatency implements ports.MetricsCollector.
func (m *MetricsRecorder) RecordLatency(operation string, d time.Duration, labels map[string]string) {
	m.add("latency", operation, d.Seconds(), labels)
}

// RecordCounter implements ports.MetricsCollector.
func (m *MetricsRecorder) RecordCounter(metric string, value float64, labels map[string]string) {
	m.add("counter", metric, value, labels)
}

// RecordGauge implements ports.MetricsCollector.
func (m *MetricsRecorder) RecordGauge(metric string, value float64, labels map[string]string) {
	m.add("gauge", metric, value, labels)
}

// RecordHistogram implements ports.MetricsCollector.
func (m *MetricsRecorder) RecordHistogram(metric string, value float64, labels map[string]string) {
	m.add("histogram", metric, value, labels)
}

// Calls returns the captured calls named name.
func (m *MetricsRecorder) Calls(name string) []MetricCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MetricCall
	for _, c := range m.calls {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Sum adds up the values of every call named name.
func (m *MetricsRecorder) Sum(name string) float64 {
	var total float64
	for _, c := range m.Calls(name) {
		total += c.Value
	}
	return total
}
