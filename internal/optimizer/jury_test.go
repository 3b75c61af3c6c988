package optimizer

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/domain"
	"github.com/Mehul-Gupta-SMH/PromptProp/internal/ports"
	"github.com/Mehul-Gupta-SMH/PromptProp/internal/testutils"
)

var juryRow = domain.DatasetRow{
	ID:             "row-1",
	Query:          "Capital of France?",
	ExpectedOutput: "Paris",
	HardNegatives:  "Lyon",
}

func TestJuryStage_Evaluate(t *testing.T) {
	gen := testutils.NewMockGenerator().
		AddResponse(testutils.MockResponse{Model: "gpt-judge", Response: testutils.JuryJSON(90, "correct"), Usage: testutils.Usage(20, 10)}).
		AddResponse(testutils.MockResponse{Model: "claude-judge", Response: "```json\n{\"score\": 70}\n```", Usage: testutils.Usage(5, 5)}).
		AddResponse(testutils.MockResponse{Model: "gemini-judge", Response: "I refuse to answer in JSON", Usage: testutils.Usage(8, 8)})

	members := []domain.JuryMemberConfig{
		{ID: "j1", Name: "strict", Model: "gpt-judge"},
		{ID: "j2", Name: "lenient", Model: "claude-judge", Settings: &domain.ModelSettings{Temperature: ptr(0.5)}},
		{ID: "j3", Name: "broken", Model: "gemini-judge"},
	}

	verdicts, err := NewJuryStage(gen, 0).Evaluate(context.Background(), members, "Geography", juryRow, "Paris")
	require.NoError(t, err)
	require.Len(t, verdicts, 3)

	assert.Equal(t, domain.JuryVerdict{
		JuryMemberID: "j1", JuryName: "strict", Score: 90, Reasoning: "correct",
		Usage: testutils.Usage(20, 10),
	}, verdicts[0])

	assert.Equal(t, 70.0, verdicts[1].Score)
	assert.Equal(t, JuryMissingReasoning, verdicts[1].Reasoning)
	assert.False(t, verdicts[1].Degraded)

	assert.Equal(t, "broken", verdicts[2].JuryName)
	assert.Zero(t, verdicts[2].Score)
	assert.Equal(t, JuryParseErrorReasoning, verdicts[2].Reasoning)
	assert.Equal(t, domain.TokenUsage{}, verdicts[2].Usage, "Fallback records zero usage")
	assert.True(t, verdicts[2].Degraded)

	avg, feedback := ReducePanel(verdicts)
	assert.InDelta(t, 160.0/3, avg, 1e-9, "Degraded score counts toward the mean")
	assert.Equal(t,
		"[strict]: correct\n[lenient]: No reasoning provided.\n[broken]: Error parsing jury response.",
		feedback)

	for _, call := range gen.Calls() {
		assert.Equal(t, ports.ResponseFormatJSON, call.ResponseFormat)
		require.Len(t, call.Messages, 2)
		assert.Equal(t, juryPrompt, call.Messages[0].Content)
		require.NotNil(t, call.Settings)
		require.NotNil(t, call.Settings.Temperature)
		if call.Model == "anthropic/claude-judge" {
			assert.Equal(t, 0.5, *call.Settings.Temperature)
		} else {
			assert.Zero(t, *call.Settings.Temperature, "Jury temperature defaults to 0")
		}
	}
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name         string
		content      string
		wantScore    float64
		wantDegraded bool
	}{
		{name: "number", content: `{"score": 85, "reasoning": "ok"}`, wantScore: 85},
		{name: "numeric string", content: `{"score": "85", "reasoning": "ok"}`, wantScore: 85},
		{name: "padded numeric string", content: `{"score": " 72.5 ", "reasoning": "ok"}`, wantScore: 72.5},
		{name: "word", content: `{"score": "high", "reasoning": "ok"}`, wantDegraded: true},
		{name: "not finite", content: `{"score": "NaN", "reasoning": "ok"}`, wantDegraded: true},
		{name: "null", content: `{"score": null, "reasoning": "ok"}`, wantDegraded: true},
		{name: "missing", content: `{"reasoning": "ok"}`, wantDegraded: true},
	}

	member := domain.JuryMemberConfig{ID: "j1", Name: "strict"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseVerdict(member, ports.GenerateResponse{Content: tt.content})
			assert.Equal(t, tt.wantDegraded, got.Degraded)
			assert.Equal(t, tt.wantScore, got.Score)
			if tt.wantDegraded {
				assert.Equal(t, JuryParseErrorReasoning, got.Reasoning)
			} else {
				assert.Equal(t, "ok", got.Reasoning)
			}
		})
	}
}

func TestJuryMessage(t *testing.T) {
	msg := JuryMessage("Geography", juryRow, "Paris")

	assert.True(t, strings.HasPrefix(msg, "TASK CONTEXT: Geography\nUSER QUERY: Capital of France?\nEXPECTED OUTPUT: Paris\n"))
	assert.Contains(t, msg, "SOFT NEGATIVES: None\n")
	assert.Contains(t, msg, "HARD NEGATIVES: Lyon\n\n")
	assert.Contains(t, msg, "AI OUTPUT TO EVALUATE:\n\"\"\"\nParis\n\"\"\"")
	assert.Contains(t, msg, "If it hits a hard negative, score below 40.")
}

func TestJuryStage_FirstGenerationErrorIsFatal(t *testing.T) {
	genErr := domain.NewGenerationError("openai/gpt-judge", domain.GenerationRateLimit, errors.New("429"))
	gen := testutils.NewMockGenerator().
		AddResponse(testutils.MockResponse{Model: "gpt-judge", Err: genErr}).
		AddResponse(testutils.MockResponse{Model: "claude-judge", Response: testutils.JuryJSON(50, "ok"), Delay: time.Second})

	members := []domain.JuryMemberConfig{
		{Name: "a", Model: "gpt-judge"},
		{Name: "b", Model: "claude-judge"},
	}

	start := time.Now()
	verdicts, err := NewJuryStage(gen, 0).Evaluate(context.Background(), members, "t", juryRow, "out")

	assert.Nil(t, verdicts)
	var got *domain.GenerationError
	require.True(t, errors.As(err, &got))
	assert.Equal(t, domain.GenerationRateLimit, got.Kind)
	assert.Less(t, time.Since(start), 900*time.Millisecond, "Slow member should be cancelled")
}

func TestJuryStage_EmptyPanel(t *testing.T) {
	gen := testutils.NewMockGenerator()

	verdicts, err := NewJuryStage(gen, 0).Evaluate(context.Background(), nil, "t", juryRow, "out")
	require.NoError(t, err)
	assert.Empty(t, verdicts)
	assert.Zero(t, gen.CallCount())

	avg, feedback := ReducePanel(verdicts)
	assert.Zero(t, avg)
	assert.Empty(t, feedback)
}

// countingGenerator tracks the peak number of concurrent calls.
type countingGenerator struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (c *countingGenerator) Generate(ctx context.Context, _ ports.GenerateRequest) (ports.GenerateResponse, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	select {
	case <-time.After(20 * time.Millisecond):
	case <-ctx.Done():
		return ports.GenerateResponse{}, ctx.Err()
	}
	return ports.GenerateResponse{Content: testutils.JuryJSON(80, "fine")}, nil
}

func TestJuryStage_ConcurrencyLimit(t *testing.T) {
	tests := []struct {
		name     string
		limit    int
		wantPeak int32
	}{
		{name: "unbounded fans out fully", limit: 0, wantPeak: 4},
		{name: "limit bounds fan-out", limit: 2, wantPeak: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &countingGenerator{}
			members := make([]domain.JuryMemberConfig, 4)
			for i := range members {
				members[i] = domain.JuryMemberConfig{Name: "j", Model: "gpt-judge"}
			}

			verdicts, err := NewJuryStage(gen, tt.limit).Evaluate(context.Background(), members, "t", juryRow, "out")
			require.NoError(t, err)
			assert.Len(t, verdicts, 4)
			assert.LessOrEqual(t, gen.peak.Load(), tt.wantPeak)
			if tt.limit > 0 {
				assert.Equal(t, tt.wantPeak, gen.peak.Load())
			}
		})
	}
}
