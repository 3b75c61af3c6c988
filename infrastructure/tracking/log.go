package tracking

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/domain"
	"github.com/Mehul-Gupta-SMH/PromptProp/internal/ports"
)

// Log writes each iteration as one structured log record.
type Log struct {
	logger *slog.Logger
}

var _ ports.Tracker = (*Log)(nil)

// NewLog creates a log tracker. A nil logger uses slog.Default().
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// Register logs rec and returns a generated run id.
func (t *Log) Register(ctx context.Context, rec ports.TrackingRecord) (string, error) {
	runID := uuid.NewString()

	metrics := make([]any, 0, len(domain.MetricKeys))
	for _, key := range domain.MetricKeys {
		if v, ok := rec.Metrics[key]; ok {
			metrics = append(metrics, slog.Float64(key, v))
		}
	}

	t.logger.LogAttrs(ctx, slog.LevelInfo, "iteration tracked",
		slog.String("run_id", runID),
		slog.String("run_group", rec.RunGroup),
		slog.String("run_label", RunLabel(rec)),
		slog.Int("iteration", rec.Iteration),
		slog.Int("prompt_length", len(rec.PromptText)),
		slog.Group("metrics", metrics...),
		slog.Group("tokens",
			slog.Int("inference", rec.TokenUsage.Inference),
			slog.Int("jury", rec.TokenUsage.Jury),
			slog.Int("refinement", rec.TokenUsage.Refinement),
			slog.Int("total", rec.TokenUsage.Total),
		),
	)
	return runID, nil
}
