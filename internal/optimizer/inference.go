package optimizer

import (
	"context"
	"fmt"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/domain"
	"github.com/Mehul-Gupta-SMH/PromptProp/internal/ports"
)

// Inference defaults.
const (
	DefaultRunnerTemperature = 0.7
	EmptyInferenceOutput     = "No response generated."
)

// InferenceStage runs the candidate prompt against one dataset row.
type InferenceStage struct {
	gen ports.Generator
}

// NewInferenceStage creates an InferenceStage that calls gen.
func NewInferenceStage(gen ports.Generator) *InferenceStage {
	return &InferenceStage{gen: gen}
}

// Infer produces the runner's answer to row under prompt. Generation errors
// are returned unchanged.
func (s *InferenceStage) Infer(
	ctx context.Context,
	runner domain.RunnerConfig,
	task, prompt string,
	row domain.DatasetRow,
) (string, domain.TokenUsage, error) {
	resp, err := s.gen.Generate(ctx, ports.GenerateRequest{
		Model: domain.ResolveModelID(runner.Model),
		Messages: []ports.Message{
			{Role: ports.RoleUser, Content: InferenceMessage(task, prompt, row.Query)},
		},
		Settings: runnerSettings(runner.Settings),
	})
	if err != nil {
		return "", domain.TokenUsage{}, err
	}

	output := resp.Content
	if output == "" {
		output = EmptyInferenceOutput
	}
	return output, resp.Usage, nil
}

// InferenceMessage renders the single user message sent to the runner.
func InferenceMessage(task, prompt, query string) string {
	return fmt.Sprintf("Task Context: %s\n\nInstruction: %s\n\nInput: %s", task, prompt, query)
}

// runnerSettings forwards temperature, top_p and top_k when the runner has
// settings at all. The token cap is not forwarded.
func runnerSettings(s *domain.ModelSettings) *domain.ModelSettings {
	if s.IsZero() {
		return nil
	}
	out := s.WithTemperatureDefault(DefaultRunnerTemperature)
	out.MaxTokens = nil
	return &out
}
