package ports

import (
	"context"
	"time"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/domain"
)

// Message roles understood by every provider adapter.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Response formats a generation request can demand.
const (
	ResponseFormatText = ""
	ResponseFormatJSON = "json_object"
)

// Message is one entry of a chat-style prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest describes one text-generation call.
type GenerateRequest struct {
	// Model is a provider-qualified model id such as "openai/gpt-4o".
	Model    string
	Messages []Message
	// Settings carries sampling parameters; nil means provider defaults.
	Settings *domain.ModelSettings
	// ResponseFormat constrains the output; ResponseFormatJSON asks for a
	// single JSON object where the provider supports it.
	ResponseFormat string
}

// GenerateResponse is the result of a successful generation call.
type GenerateResponse struct {
	Content string
	Model   string
	Usage   domain.TokenUsage
}

// Generator is the text-generation capability shared by every pipeline
// stage. Failures are reported as *domain.GenerationError.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
}

// ModelLister enumerates the models a configured provider offers.
type ModelLister interface {
	// ConfiguredProviders returns the providers whose credentials are set.
	ConfiguredProviders() []string

	// ListModels returns the raw model ids of one provider, unprefixed.
	ListModels(ctx context.Context, provider string) ([]string, error)
}

// ExperimentStore persists experiments and every entity they own.
// Implementations must make SaveRowResult atomic and DeleteExperiment
// cascading.
type ExperimentStore interface {
	CreateExperiment(ctx context.Context, exp *domain.Experiment) error
	// CreateExperimentBundle stores exp with its rows and jury panel
	// atomically, binding rows and members to exp.
	CreateExperimentBundle(ctx context.Context, exp *domain.Experiment, rows []domain.DatasetRow, members []domain.JuryMember) error
	GetExperiment(ctx context.Context, id string) (*domain.Experiment, error)
	ListExperiments(ctx context.Context) ([]domain.Experiment, error)
	UpdateExperiment(ctx context.Context, exp *domain.Experiment) error
	DeleteExperiment(ctx context.Context, id string) error

	AddDatasetRows(ctx context.Context, rows []domain.DatasetRow) error
	// ListDatasetRows returns rows in creation order. An empty split returns
	// every row.
	ListDatasetRows(ctx context.Context, experimentID string, split domain.Split) ([]domain.DatasetRow, error)

	AddJuryMembers(ctx context.Context, members []domain.JuryMember) error
	ListJuryMembers(ctx context.Context, experimentID string) ([]domain.JuryMember, error)

	CreatePromptVersion(ctx context.Context, pv *domain.PromptVersion) error
	UpdatePromptVersion(ctx context.Context, pv *domain.PromptVersion) error
	// ListPromptVersions returns versions ordered by iteration number.
	ListPromptVersions(ctx context.Context, experimentID string) ([]domain.PromptVersion, error)

	// SaveRowResult persists one iteration result together with its jury
	// evaluations. Either all of them are written or none.
	SaveRowResult(ctx context.Context, result *domain.IterationResult, evals []domain.JuryEvaluation) error
	ListIterationResults(ctx context.Context, promptVersionID string) ([]domain.IterationResult, error)
	ListJuryEvaluations(ctx context.Context, iterationResultID string) ([]domain.JuryEvaluation, error)
}

// TrackingRecord is the per-iteration payload sent to a tracking sink.
type TrackingRecord struct {
	// RunGroup groups the runs of one experiment.
	RunGroup   string
	Metrics    domain.IterationMetrics
	Iteration  int
	PromptText string
	TokenUsage domain.TokenCounters
	RunLabel   string
}

// Tracker records iteration metrics in an external experiment-tracking
// system. Callers treat every error as non-fatal.
type Tracker interface {
	// Register stores one iteration and returns the run id assigned by the
	// sink, or an empty id when the sink does not assign one.
	Register(ctx context.Context, rec TrackingRecord) (string, error)
}

// Metric names recorded by the optimization loop.
const (
	MetricJuryScore      = "jury_score"
	MetricIterationScore = "iteration_average_score"
	MetricStageTokens    = "stage_tokens_total"
)

// MetricsCollector defines the interface for collecting operational metrics.
// Implementations should integrate with observability platforms like
// Prometheus or OpenTelemetry.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	// The labels map provides additional context for the metric.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram.
	// This is useful for tracking distributions like jury scores.
	RecordHistogram(metric string, value float64, labels map[string]string)
}
