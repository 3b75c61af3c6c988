// Package domain contains the core entities of the prompt optimization engine:
// experiments and their owned records, the typed records exchanged between
// pipeline stages, the error taxonomy, and the pure functions (model-id
// resolution, metric aggregation) that every stage shares.
package domain

import "time"

// Split tags a dataset row with the partition it belongs to.
type Split string

// Supported dataset splits.
const (
	SplitTrain Split = "train"
	SplitVal   Split = "val"
	SplitTest  Split = "test"
)

// Valid reports whether s is one of the known splits.
func (s Split) Valid() bool {
	switch s {
	case SplitTrain, SplitVal, SplitTest:
		return true
	default:
		return false
	}
}

// Experiment is the identity of one optimization run and the owner of its
// dataset, jury panel and prompt history.
type Experiment struct {
	ID              string       `json:"id"`
	Name            string       `json:"name,omitempty"`
	TaskDescription string       `json:"taskDescription"`
	BasePrompt      string       `json:"basePrompt"`
	RunnerModel     RunnerConfig `json:"runnerModel"`
	// IsComplete flips to true exactly once, when the loop exits normally.
	IsComplete bool      `json:"isComplete"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// DatasetRow is one labeled example. Rows are immutable once created.
type DatasetRow struct {
	ID             string    `json:"id"`
	ExperimentID   string    `json:"experimentId"`
	Split          Split     `json:"split"`
	Query          string    `json:"query"`
	ExpectedOutput string    `json:"expectedOutput"`
	SoftNegatives  string    `json:"softNegatives,omitempty"`
	HardNegatives  string    `json:"hardNegatives,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// JuryMember is one evaluator definition, immutable for the duration of a run.
type JuryMember struct {
	ID           string         `json:"id"`
	ExperimentID string         `json:"experimentId"`
	Name         string         `json:"name"`
	Provider     string         `json:"provider"`
	Model        string         `json:"model"`
	Settings     *ModelSettings `json:"settings,omitempty"`
}

// Config returns the stage-boundary view of the member.
func (j JuryMember) Config() JuryMemberConfig {
	return JuryMemberConfig{
		ID:       j.ID,
		Name:     j.Name,
		Provider: j.Provider,
		Model:    j.Model,
		Settings: j.Settings,
	}
}

// RefinementMeta records how a prompt was rewritten after its iteration.
type RefinementMeta struct {
	DeltaReasoning string `json:"deltaReasoning"`
	// EditDistance is the Levenshtein distance between this version's prompt
	// and the refined prompt that replaced it.
	EditDistance int     `json:"editDistance"`
	Similarity   float64 `json:"similarity"`
}

// PromptVersion is the candidate prompt of one iteration.
// AverageScore is set once all rows are scored; the refinement fields are set
// only when refinement ran after the iteration.
type PromptVersion struct {
	ID                 string          `json:"id"`
	ExperimentID       string          `json:"experimentId"`
	IterationNumber    int             `json:"iterationNumber"`
	PromptText         string          `json:"promptText"`
	AverageScore       *float64        `json:"averageScore,omitempty"`
	RefinementFeedback string          `json:"refinementFeedback,omitempty"`
	RefinementMeta     *RefinementMeta `json:"refinementMeta,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
}

// IterationResult pairs one prompt version with one dataset row.
type IterationResult struct {
	ID               string    `json:"id"`
	PromptVersionID  string    `json:"promptVersionId"`
	DatasetRowID     string    `json:"datasetRowId"`
	ActualOutput     string    `json:"actualOutput"`
	AverageScore     *float64  `json:"averageScore,omitempty"`
	CombinedFeedback string    `json:"combinedFeedback"`
	CreatedAt        time.Time `json:"createdAt"`
}

// JuryEvaluation is one jury member's verdict on one iteration result.
type JuryEvaluation struct {
	ID                string  `json:"id"`
	IterationResultID string  `json:"iterationResultId"`
	JuryMemberID      string  `json:"juryMemberId"`
	JuryName          string  `json:"juryName"`
	Score             float64 `json:"score"`
	Reasoning         string  `json:"reasoning"`
}
