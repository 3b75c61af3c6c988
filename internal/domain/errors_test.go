package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerationError(t *testing.T) {
	base := errors.New("upstream said no")

	tests := []struct {
		name    string
		kind    GenerationKind
		wantMsg string
	}{
		{
			name:    "authentication",
			kind:    GenerationAuthentication,
			wantMsg: "Authentication failed for openai/gpt-4o. Check API key.",
		},
		{
			name:    "rate limit",
			kind:    GenerationRateLimit,
			wantMsg: "Rate limit exceeded for openai/gpt-4o.",
		},
		{
			name:    "bad request",
			kind:    GenerationBadRequest,
			wantMsg: "Invalid request to openai/gpt-4o: upstream said no",
		},
		{
			name:    "other",
			kind:    GenerationOther,
			wantMsg: "LLM call failed: upstream said no",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewGenerationError("openai/gpt-4o", tt.kind, base)

			assert.Equal(t, tt.wantMsg, err.Error())
			assert.True(t, errors.Is(err, base), "Should unwrap to provider error")
		})
	}
}

func TestStageError(t *testing.T) {
	t.Run("row scoped", func(t *testing.T) {
		cause := NewGenerationError("gemini/gemini-2.5-flash", GenerationRateLimit, errors.New("429"))
		err := NewRowStageError(StageInference, 2, 3, cause)

		assert.Equal(t, StageInference, err.Stage)
		assert.Equal(t, 2, err.Iteration)
		require.NotNil(t, err.RowIndex)
		assert.Equal(t, 3, *err.RowIndex)
		assert.Contains(t, err.Error(), "stage inference, iteration 2, row 3")

		var genErr *GenerationError
		require.True(t, errors.As(err, &genErr), "Should expose the generation error")
		assert.Equal(t, GenerationRateLimit, genErr.Kind)
	})

	t.Run("setup has no position", func(t *testing.T) {
		err := NewStageError(StageSetup, 0, NewNotFoundError("Experiment", "abc"))

		assert.Nil(t, err.RowIndex)
		assert.Equal(t, "stage setup: Experiment abc not found.", err.Error())
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestInvalidInputError(t *testing.T) {
	err := NewInvalidInputError("missing fields", "taskDescription", "dataset")

	assert.Equal(t, "missing fields", err.Error())
	assert.Equal(t, []string{"taskDescription", "dataset"}, err.Fields)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestValidationError(t *testing.T) {
	t.Run("single error", func(t *testing.T) {
		err := NewValidationError("OptimizeRequest")
		err.AddError("maxIterations must be between 1 and 20")

		assert.Equal(t, "validation error for OptimizeRequest: maxIterations must be between 1 and 20", err.Error())
		assert.True(t, err.HasErrors(), "Should have errors")
		assert.Len(t, err.Errors, 1, "Should have one error")
	})

	t.Run("multiple errors", func(t *testing.T) {
		err := NewValidationError("Config")
		err.AddError("port out of range")
		err.AddError("unknown tracking backend")

		assert.Contains(t, err.Error(), "validation errors for Config")
		assert.Len(t, err.Errors, 2, "Should have two errors")
	})

	t.Run("no errors", func(t *testing.T) {
		err := NewValidationError("Config")

		assert.False(t, err.HasErrors(), "Should not have errors")
		assert.Empty(t, err.Errors, "Errors slice should be empty")
	})
}
