// Package tracking implements experiment-tracking sinks for per-iteration
// metrics: an InfluxDB time series, Prometheus gauges, structured logs, and a
// fan-out that writes to several of them.
package tracking

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/ports"
)

// Supported backend names.
const (
	BackendInflux     = "influx"
	BackendPrometheus = "prometheus"
	BackendLog        = "log"
)

// RunLabel returns the label of an iteration's run when the record carries
// none.
func RunLabel(rec ports.TrackingRecord) string {
	if rec.RunLabel != "" {
		return rec.RunLabel
	}
	return fmt.Sprintf("iteration-%d", rec.Iteration)
}

// Multi fans a record out to several trackers. The returned run id is the
// first non-empty id; errors of individual sinks are joined.
type Multi struct {
	trackers []ports.Tracker
}

var _ ports.Tracker = (*Multi)(nil)

// NewMulti creates a fan-out tracker.
func NewMulti(trackers ...ports.Tracker) *Multi {
	return &Multi{trackers: trackers}
}

// Register forwards rec to every tracker, even when an earlier one fails.
func (m *Multi) Register(ctx context.Context, rec ports.TrackingRecord) (string, error) {
	var (
		runID string
		errs  []error
	)
	for _, t := range m.trackers {
		id, err := t.Register(ctx, rec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if runID == "" {
			runID = id
		}
	}
	return runID, errors.Join(errs...)
}

// Noop discards every record.
type Noop struct{}

// Register implements ports.Tracker.
func (Noop) Register(context.Context, ports.TrackingRecord) (string, error) { return "", nil }
