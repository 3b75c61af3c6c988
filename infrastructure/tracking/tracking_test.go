package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/domain"
	"github.com/Mehul-Gupta-SMH/PromptProp/internal/ports"
)

func sampleRecord() ports.TrackingRecord {
	return ports.TrackingRecord{
		RunGroup:   "exp-123",
		Iteration:  2,
		PromptText: "You are a classifier.",
		Metrics: domain.IterationMetrics{
			domain.MetricAverageScore: 87.5,
			domain.MetricPassRate:     0.5,
		},
		TokenUsage: domain.TokenCounters{Inference: 100, Jury: 300, Refinement: 50, Total: 450},
	}
}

func TestRunLabel(t *testing.T) {
	rec := sampleRecord()
	assert.Equal(t, "iteration-2", RunLabel(rec))

	rec.RunLabel = "baseline"
	assert.Equal(t, "baseline", RunLabel(rec))
}

func TestInflux_Register(t *testing.T) {
	var (
		mu   sync.Mutex
		body string
		path string
		org  string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		body, path, org = string(data), r.URL.Path, r.URL.Query().Get("org")
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	tracker, err := NewInflux(InfluxConfig{URL: server.URL, Token: "t", Org: "promptprop", Bucket: "iterations"}, nil)
	require.NoError(t, err)
	defer tracker.Close()
	tracker.now = func() time.Time { return time.Unix(1700000000, 0) }

	runID, err := tracker.Register(context.Background(), sampleRecord())
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/api/v2/write", path)
	assert.Equal(t, "promptprop", org)
	assert.True(t, strings.HasPrefix(body, measurement+","), "Line protocol should start with the measurement")
	assert.Contains(t, body, "run_group=exp-123")
	assert.Contains(t, body, "run_label=iteration-2")
	assert.Contains(t, body, "run_id="+runID)
	assert.Contains(t, body, "average_score=87.5")
	assert.Contains(t, body, "tokens_total=450i")
	assert.NotContains(t, body, "consistency=", "Absent metrics should not be written")
}

func TestInflux_RegisterFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code": "unauthorized", "message": "unauthorized access"}`))
	}))
	defer server.Close()

	tracker, err := NewInflux(InfluxConfig{URL: server.URL, Org: "o", Bucket: "b"}, nil)
	require.NoError(t, err)
	defer tracker.Close()

	runID, err := tracker.Register(context.Background(), sampleRecord())
	assert.Empty(t, runID)

	var trackErr *ports.TrackingError
	require.ErrorAs(t, err, &trackErr)
	assert.Equal(t, BackendInflux, trackErr.Backend)
	assert.ErrorIs(t, err, ports.ErrTrackingUnavailable)
}

func TestNewInflux_RequiresLocation(t *testing.T) {
	_, err := NewInflux(InfluxConfig{URL: "http://localhost:8086"}, nil)
	assert.ErrorIs(t, err, ports.ErrConfigNotFound)
}

func TestPrometheus_Register(t *testing.T) {
	tracker := NewPrometheus(prometheus.NewRegistry())

	runID, err := tracker.Register(context.Background(), sampleRecord())
	require.NoError(t, err)
	assert.Empty(t, runID)

	assert.Equal(t, 87.5, testutil.ToFloat64(tracker.metrics.WithLabelValues("exp-123", domain.MetricAverageScore)))
	assert.Equal(t, 0.5, testutil.ToFloat64(tracker.metrics.WithLabelValues("exp-123", domain.MetricPassRate)))
	assert.Equal(t, 2.0, testutil.ToFloat64(tracker.iterations.WithLabelValues("exp-123")))

	_, err = tracker.Register(context.Background(), sampleRecord())
	require.NoError(t, err)
	assert.Equal(t, 600.0, testutil.ToFloat64(tracker.tokens.WithLabelValues("exp-123", "jury")), "Tokens should accumulate")
}

func TestLog_Register(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewLog(slog.New(slog.NewJSONHandler(&buf, nil)))

	runID, err := tracker.Register(context.Background(), sampleRecord())
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "iteration tracked", entry["msg"])
	assert.Equal(t, runID, entry["run_id"])
	assert.Equal(t, "iteration-2", entry["run_label"])

	metrics, ok := entry["metrics"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 87.5, metrics[domain.MetricAverageScore])
}

type stubTracker struct {
	id    string
	err   error
	calls int
}

func (s *stubTracker) Register(context.Context, ports.TrackingRecord) (string, error) {
	s.calls++
	return s.id, s.err
}

func TestMulti_Register(t *testing.T) {
	failing := &stubTracker{err: errors.New("sink down")}
	anonymous := &stubTracker{}
	named := &stubTracker{id: "run-1"}
	later := &stubTracker{id: "run-2"}

	multi := NewMulti(failing, anonymous, named, later)
	runID, err := multi.Register(context.Background(), sampleRecord())

	assert.Equal(t, "run-1", runID, "First non-empty id wins")
	assert.ErrorContains(t, err, "sink down")
	for _, s := range []*stubTracker{failing, anonymous, named, later} {
		assert.Equal(t, 1, s.calls, "Every sink should be called")
	}
}

func TestNoop_Register(t *testing.T) {
	runID, err := Noop{}.Register(context.Background(), sampleRecord())
	assert.NoError(t, err)
	assert.Empty(t, runID)
}
