package domain

import (
	"errors"
	"fmt"
)

// Common domain errors that can occur during optimization.
var (
	// ErrNotFound is wrapped by NotFoundError and returned by stores for
	// missing entities.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is wrapped by InvalidInputError.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidConfiguration indicates that configuration is invalid or incomplete.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// Stage names the pipeline stage an error or event belongs to.
type Stage string

// Pipeline stages reported in terminal error events.
const (
	StageSetup      Stage = "setup"
	StageInference  Stage = "inference"
	StageJury       Stage = "jury"
	StageRefinement Stage = "refinement"
	StageUnknown    Stage = "unknown"
)

// InvalidInputError reports a request that is missing required fields.
type InvalidInputError struct {
	// Fields lists the missing or invalid request fields.
	Fields  []string
	Message string
}

// Error implements the error interface for InvalidInputError.
func (e *InvalidInputError) Error() string { return e.Message }

// Unwrap returns ErrInvalidInput so callers can match with errors.Is.
func (e *InvalidInputError) Unwrap() error { return ErrInvalidInput }

// NewInvalidInputError creates a new InvalidInputError.
func NewInvalidInputError(message string, fields ...string) *InvalidInputError {
	return &InvalidInputError{Fields: fields, Message: message}
}

// NotFoundError reports a reference to an entity that does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface for NotFoundError.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found.", e.Entity, e.ID)
}

// Unwrap returns ErrNotFound so callers can match with errors.Is.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// GenerationKind classifies a failed generation call.
type GenerationKind string

// Generation failure classes.
const (
	GenerationAuthentication GenerationKind = "authentication"
	GenerationRateLimit      GenerationKind = "rate_limit"
	GenerationBadRequest     GenerationKind = "bad_request"
	GenerationOther          GenerationKind = "other"
)

// GenerationError is a classified failure of the generation capability.
// It is always fatal to the run that encounters it.
type GenerationError struct {
	Model string
	Kind  GenerationKind
	Err   error
}

// Error implements the error interface for GenerationError.
func (e *GenerationError) Error() string {
	switch e.Kind {
	case GenerationAuthentication:
		return fmt.Sprintf("Authentication failed for %s. Check API key.", e.Model)
	case GenerationRateLimit:
		return fmt.Sprintf("Rate limit exceeded for %s.", e.Model)
	case GenerationBadRequest:
		return fmt.Sprintf("Invalid request to %s: %v", e.Model, e.Err)
	default:
		return fmt.Sprintf("LLM call failed: %v", e.Err)
	}
}

// Unwrap returns the underlying provider error.
func (e *GenerationError) Unwrap() error { return e.Err }

// NewGenerationError creates a new GenerationError.
func NewGenerationError(model string, kind GenerationKind, err error) *GenerationError {
	return &GenerationError{Model: model, Kind: kind, Err: err}
}

// StageError tags a fatal error with the pipeline position at which the run
// aborted. Iteration is zero and RowIndex nil when not applicable.
type StageError struct {
	Stage     Stage
	Iteration int
	RowIndex  *int
	Err       error
}

// Error implements the error interface for StageError.
func (e *StageError) Error() string {
	msg := fmt.Sprintf("stage %s", e.Stage)
	if e.Iteration > 0 {
		msg += fmt.Sprintf(", iteration %d", e.Iteration)
	}
	if e.RowIndex != nil {
		msg += fmt.Sprintf(", row %d", *e.RowIndex)
	}
	return msg + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error { return e.Err }

// NewStageError creates a StageError without row context.
func NewStageError(stage Stage, iteration int, err error) *StageError {
	return &StageError{Stage: stage, Iteration: iteration, Err: err}
}

// NewRowStageError creates a StageError for a failure on a specific row.
func NewRowStageError(stage Stage, iteration, rowIndex int, err error) *StageError {
	return &StageError{Stage: stage, Iteration: iteration, RowIndex: &rowIndex, Err: err}
}

// ValidationError represents an error that occurred during validation.
// It can contain multiple validation failures.
type ValidationError struct {
	// Entity is the name of the entity that failed validation.
	Entity string

	// Errors contains the list of validation error messages.
	Errors []string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Entity, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Entity, e.Errors)
}

// AddError adds a new error message to the validation error.
func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// NewValidationError creates a new ValidationError for the given entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{
		Entity: entity,
		Errors: make([]string, 0),
	}
}
