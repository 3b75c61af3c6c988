package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/domain"
	"github.com/Mehul-Gupta-SMH/PromptProp/internal/ports"
)

// measurement is the InfluxDB measurement iterations are written to.
const measurement = "prompt_iterations"

// InfluxConfig locates the InfluxDB bucket iterations are written to.
type InfluxConfig struct {
	URL     string        `yaml:"url" env:"INFLUXDB_URL"`
	Token   string        `yaml:"token" env:"INFLUXDB_TOKEN"`
	Org     string        `yaml:"org" env:"INFLUXDB_ORG"`
	Bucket  string        `yaml:"bucket" env:"INFLUXDB_BUCKET"`
	Timeout time.Duration `yaml:"timeout"`
}

// Influx writes one point per iteration. Each point is tagged with the run
// group, run label and a generated run id; metrics and token counters are
// fields.
type Influx struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
	logger *slog.Logger
	now    func() time.Time
}

var _ ports.Tracker = (*Influx)(nil)

// NewInflux creates an InfluxDB tracker. It does not contact the server.
func NewInflux(cfg InfluxConfig, logger *slog.Logger) (*Influx, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: influx url, org and bucket are required", ports.ErrConfigNotFound)
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := influxdb2.DefaultOptions()
	if cfg.Timeout > 0 {
		opts.SetHTTPRequestTimeout(uint(cfg.Timeout.Seconds()))
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	return &Influx{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		logger: logger,
		now:    time.Now,
	}, nil
}

// Register writes rec as one point and returns the generated run id.
func (t *Influx) Register(ctx context.Context, rec ports.TrackingRecord) (string, error) {
	runID := uuid.NewString()

	p := influxdb2.NewPointWithMeasurement(measurement).
		AddTag("run_group", rec.RunGroup).
		AddTag("run_label", RunLabel(rec)).
		AddTag("run_id", runID).
		AddField("iteration", rec.Iteration).
		AddField("prompt_length", len(rec.PromptText)).
		AddField("tokens_inference", rec.TokenUsage.Inference).
		AddField("tokens_jury", rec.TokenUsage.Jury).
		AddField("tokens_refinement", rec.TokenUsage.Refinement).
		AddField("tokens_total", rec.TokenUsage.Total).
		SetTime(t.now())

	for _, key := range domain.MetricKeys {
		if v, ok := rec.Metrics[key]; ok {
			p.AddField(key, v)
		}
	}

	if err := t.writer.WritePoint(ctx, p); err != nil {
		return "", ports.NewTrackingError(BackendInflux, errors.Join(ports.ErrTrackingUnavailable, err))
	}

	t.logger.Debug("iteration tracked", "backend", BackendInflux, "run_id", runID, "iteration", rec.Iteration)
	return runID, nil
}

// Ping reports whether the server is reachable.
func (t *Influx) Ping(ctx context.Context) error {
	ok, err := t.client.Ping(ctx)
	if err != nil {
		return ports.NewTrackingError(BackendInflux, err)
	}
	if !ok {
		return ports.NewTrackingError(BackendInflux, ports.ErrTrackingUnavailable)
	}
	return nil
}

// Close releases the client's resources.
func (t *Influx) Close() {
	t.client.Close()
}
