package optimizer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/domain"
	"github.com/Mehul-Gupta-SMH/PromptProp/internal/ports"
)

// Refinement defaults and fallbacks.
const (
	DefaultRefineModel       = "gemini/gemini-3-pro-preview"
	DefaultRefineTemperature = 0.2

	RefineFailedExplanation = "Failed to refine."
	NoRefinementExplanation = "All test cases passed. No refinement needed."
	NoFailuresDelta         = "No failures to analyze."

	failureSeparator = "\n---\n"
)

// Refinement is the refiner's rewrite of a prompt.
type Refinement struct {
	Explanation    string
	RefinedPrompt  string
	DeltaReasoning string
	Usage          domain.TokenUsage
	// EditDistance and Similarity compare the refined prompt with the
	// prompt it replaces.
	EditDistance int
	Similarity   float64
	// Degraded is set when the refiner's output could not be parsed and the
	// prompt was kept unchanged.
	Degraded bool
}

// Meta returns the refinement metadata stored on the prompt version.
func (r Refinement) Meta() *domain.RefinementMeta {
	return &domain.RefinementMeta{
		DeltaReasoning: r.DeltaReasoning,
		EditDistance:   r.EditDistance,
		Similarity:     r.Similarity,
	}
}

// RefinementStage rewrites a prompt from aggregated failure critiques.
type RefinementStage struct {
	gen          ports.Generator
	defaultModel string
}

// NewRefinementStage creates a RefinementStage. An empty defaultModel means
// DefaultRefineModel.
func NewRefinementStage(gen ports.Generator, defaultModel string) *RefinementStage {
	if defaultModel == "" {
		defaultModel = DefaultRefineModel
	}
	return &RefinementStage{gen: gen, defaultModel: defaultModel}
}

// Refine asks the manager model, or the default refiner, for a new prompt.
// Generation errors are returned; unparseable output keeps prompt unchanged.
func (s *RefinementStage) Refine(
	ctx context.Context,
	task, prompt, failures string,
	manager *domain.ManagerConfig,
) (Refinement, error) {
	model := s.defaultModel
	var settings *domain.ModelSettings
	if manager != nil {
		if manager.Model != "" {
			model = manager.Model
		}
		settings = manager.Settings
	}
	resolved := settings.WithTemperatureDefault(DefaultRefineTemperature)
	resolved.MaxTokens = nil

	resp, err := s.gen.Generate(ctx, ports.GenerateRequest{
		Model: domain.ResolveModelID(model),
		Messages: []ports.Message{
			{Role: ports.RoleSystem, Content: rewriterPrompt},
			{Role: ports.RoleUser, Content: RefinementMessage(task, prompt, failures)},
		},
		Settings:       &resolved,
		ResponseFormat: ports.ResponseFormatJSON,
	})
	if err != nil {
		return Refinement{}, err
	}

	ref, ok := parseRefinement(resp.Content, prompt)
	if !ok {
		return Refinement{
			Explanation:    RefineFailedExplanation,
			RefinedPrompt:  prompt,
			DeltaReasoning: noneText,
			Similarity:     1,
			Degraded:       true,
		}, nil
	}
	ref.Usage = resp.Usage
	ref.EditDistance, ref.Similarity = PromptDistance(prompt, ref.RefinedPrompt)
	return ref, nil
}

// RefinementMessage renders the user message sent to the refiner.
func RefinementMessage(task, prompt, failures string) string {
	return fmt.Sprintf("TASK: %s\n\n", task) +
		fmt.Sprintf("CURRENT PROMPT:\n\"\"\"\n%s\n\"\"\"\n\n", prompt) +
		fmt.Sprintf("CRITIQUE FROM FAILED TEST CASES (BACK-PROPAGATED ERROR):\n%s\n\n", failures) +
		`Return a JSON object with exactly three keys: "explanation" (string), ` +
		`"refinedPrompt" (string), "deltaReasoning" (string).`
}

type refineReply struct {
	Explanation    *string `json:"explanation"`
	RefinedPrompt  *string `json:"refinedPrompt"`
	DeltaReasoning *string `json:"deltaReasoning"`
}

// parseRefinement decodes the refiner output. Absent keys fall back to the
// failure explanation, the unchanged prompt and "None".
func parseRefinement(content, prompt string) (Refinement, bool) {
	raw := extractJSON(content)
	if raw == "" {
		return Refinement{}, false
	}
	var reply refineReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return Refinement{}, false
	}

	ref := Refinement{
		Explanation:    RefineFailedExplanation,
		RefinedPrompt:  prompt,
		DeltaReasoning: noneText,
	}
	if reply.Explanation != nil {
		ref.Explanation = *reply.Explanation
	}
	if reply.RefinedPrompt != nil && *reply.RefinedPrompt != "" {
		ref.RefinedPrompt = *reply.RefinedPrompt
	}
	if reply.DeltaReasoning != nil {
		ref.DeltaReasoning = *reply.DeltaReasoning
	}
	return ref, true
}

// PromptDistance returns the Levenshtein distance between two prompts and a
// similarity in [0,1] normalized by the longer prompt's rune count.
func PromptDistance(before, after string) (int, float64) {
	dist := levenshtein.ComputeDistance(before, after)
	longest := max(utf8.RuneCountInString(before), utf8.RuneCountInString(after))
	if longest == 0 {
		return dist, 1
	}
	return dist, domain.Round(1-float64(dist)/float64(longest), 4)
}

// FailedRow is one row that scored below the pass threshold.
type FailedRow struct {
	Query          string
	ExpectedOutput string
	ActualOutput   string
	Critique       string
	Score          float64
}

// FormatFailures renders every row scoring below passThreshold as a critique
// block. Blocks are separated by a "---" line. It returns "" when no row
// fails.
func FormatFailures(rows []FailedRow, passThreshold float64) string {
	blocks := make([]string, 0, len(rows))
	for _, r := range rows {
		if r.Score >= passThreshold {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("Query: %s\nExpected: %s\nActual: %s\nCritique: %s",
			r.Query, r.ExpectedOutput, r.ActualOutput, r.Critique))
	}
	return strings.Join(blocks, failureSeparator)
}
