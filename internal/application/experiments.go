package application

import (
	"context"
	"fmt"
	"time"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/domain"
	"github.com/Mehul-Gupta-SMH/PromptProp/internal/ports"
)

// Default and maximum page sizes of experiment listings.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// ExperimentSummary is the listing view of an experiment. Scores are nil
// until an iteration has been scored.
type ExperimentSummary struct {
	ID              string    `json:"id"`
	Name            string    `json:"name,omitempty"`
	TaskDescription string    `json:"taskDescription"`
	IterationCount  int       `json:"iterationCount"`
	BestScore       *float64  `json:"bestScore"`
	FinalScore      *float64  `json:"finalScore"`
	DatasetSize     int       `json:"datasetSize"`
	IsComplete      bool      `json:"isComplete"`
	CreatedAt       time.Time `json:"createdAt"`
}

// ExperimentPage is one page of summaries plus the unpaginated total.
type ExperimentPage struct {
	Experiments []ExperimentSummary `json:"experiments"`
	Total       int                 `json:"total"`
}

// ResultDetail is an iteration result with its jury evaluations.
type ResultDetail struct {
	domain.IterationResult
	JuryEvaluations []domain.JuryEvaluation `json:"juryEvaluations"`
}

// PromptVersionDetail is a prompt version with its row results.
type PromptVersionDetail struct {
	domain.PromptVersion
	Results []ResultDetail `json:"results"`
}

// ExperimentDetail is the full nested history of an experiment.
type ExperimentDetail struct {
	domain.Experiment
	JuryMembers    []domain.JuryMember   `json:"juryMembers"`
	DatasetRows    []domain.DatasetRow   `json:"datasetRows"`
	PromptVersions []PromptVersionDetail `json:"promptVersions"`
}

// ExperimentService reads and deletes experiment history.
type ExperimentService struct {
	store ports.ExperimentStore
}

// NewExperimentService creates an ExperimentService.
func NewExperimentService(store ports.ExperimentStore) *ExperimentService {
	return &ExperimentService{store: store}
}

// List returns summaries newest first. A non-positive limit means
// DefaultPageLimit; larger limits are capped at MaxPageLimit.
func (s *ExperimentService) List(ctx context.Context, limit, offset int) (*ExperimentPage, error) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	limit = min(limit, MaxPageLimit)
	offset = max(offset, 0)

	exps, err := s.store.ListExperiments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}

	page := &ExperimentPage{Experiments: []ExperimentSummary{}, Total: len(exps)}
	if offset >= len(exps) {
		return page, nil
	}
	end := min(offset+limit, len(exps))

	for _, exp := range exps[offset:end] {
		summary, err := s.summarize(ctx, exp)
		if err != nil {
			return nil, err
		}
		page.Experiments = append(page.Experiments, summary)
	}
	return page, nil
}

func (s *ExperimentService) summarize(ctx context.Context, exp domain.Experiment) (ExperimentSummary, error) {
	versions, err := s.store.ListPromptVersions(ctx, exp.ID)
	if err != nil {
		return ExperimentSummary{}, fmt.Errorf("list prompt versions of %s: %w", exp.ID, err)
	}
	rows, err := s.store.ListDatasetRows(ctx, exp.ID, "")
	if err != nil {
		return ExperimentSummary{}, fmt.Errorf("list dataset rows of %s: %w", exp.ID, err)
	}

	summary := ExperimentSummary{
		ID:              exp.ID,
		Name:            exp.Name,
		TaskDescription: exp.TaskDescription,
		IterationCount:  len(versions),
		DatasetSize:     len(rows),
		IsComplete:      exp.IsComplete,
		CreatedAt:       exp.CreatedAt,
	}
	for _, pv := range versions {
		if pv.AverageScore == nil {
			continue
		}
		score := *pv.AverageScore
		if summary.BestScore == nil || score > *summary.BestScore {
			summary.BestScore = &score
		}
		summary.FinalScore = &score
	}
	return summary, nil
}

// Get returns the nested history of one experiment.
func (s *ExperimentService) Get(ctx context.Context, id string) (*ExperimentDetail, error) {
	exp, err := s.store.GetExperiment(ctx, id)
	if err != nil {
		return nil, err
	}

	jury, err := s.store.ListJuryMembers(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list jury members: %w", err)
	}
	rows, err := s.store.ListDatasetRows(ctx, id, "")
	if err != nil {
		return nil, fmt.Errorf("list dataset rows: %w", err)
	}
	versions, err := s.store.ListPromptVersions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list prompt versions: %w", err)
	}

	detail := &ExperimentDetail{
		Experiment:     *exp,
		JuryMembers:    nonNil(jury),
		DatasetRows:    nonNil(rows),
		PromptVersions: make([]PromptVersionDetail, 0, len(versions)),
	}
	for _, pv := range versions {
		results, err := s.store.ListIterationResults(ctx, pv.ID)
		if err != nil {
			return nil, fmt.Errorf("list results of iteration %d: %w", pv.IterationNumber, err)
		}

		pvd := PromptVersionDetail{PromptVersion: pv, Results: make([]ResultDetail, 0, len(results))}
		for _, r := range results {
			evals, err := s.store.ListJuryEvaluations(ctx, r.ID)
			if err != nil {
				return nil, fmt.Errorf("list evaluations of result %s: %w", r.ID, err)
			}
			pvd.Results = append(pvd.Results, ResultDetail{IterationResult: r, JuryEvaluations: nonNil(evals)})
		}
		detail.PromptVersions = append(detail.PromptVersions, pvd)
	}
	return detail, nil
}

// Delete removes an experiment and everything it owns.
func (s *ExperimentService) Delete(ctx context.Context, id string) error {
	return s.store.DeleteExperiment(ctx, id)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
