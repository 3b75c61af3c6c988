package optimizer

import (
	"context"
	"fmt"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/domain"
	"github.com/Mehul-Gupta-SMH/PromptProp/internal/ports"
)

// ResolvedInputs is everything a run needs once its experiment exists.
type ResolvedInputs struct {
	ExperimentID    string
	TaskDescription string
	BasePrompt      string
	Rows            []domain.DatasetRow
	Jury            []domain.JuryMember
	Runner          domain.RunnerConfig
	// PriorIterations is the number of prompt versions already stored for
	// a resumed experiment. New versions are numbered after them.
	PriorIterations int
}

// Resolver turns an OptimizeRequest into persisted inputs. Inline requests
// create a new experiment; requests naming an experiment load it read-only.
type Resolver struct {
	store ports.ExperimentStore
}

// NewResolver creates a Resolver backed by store.
func NewResolver(store ports.ExperimentStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve loads or creates the inputs of req.
func (r *Resolver) Resolve(ctx context.Context, req *OptimizeRequest) (*ResolvedInputs, error) {
	if req.ExperimentID != "" {
		return r.load(ctx, req.ExperimentID)
	}
	return r.create(ctx, req)
}

func (r *Resolver) load(ctx context.Context, id string) (*ResolvedInputs, error) {
	exp, err := r.store.GetExperiment(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := r.store.ListDatasetRows(ctx, id, domain.SplitTrain)
	if err != nil {
		return nil, fmt.Errorf("load training rows: %w", err)
	}
	if len(rows) == 0 {
		if rows, err = r.store.ListDatasetRows(ctx, id, ""); err != nil {
			return nil, fmt.Errorf("load dataset rows: %w", err)
		}
	}

	jury, err := r.store.ListJuryMembers(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load jury members: %w", err)
	}

	versions, err := r.store.ListPromptVersions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load prompt history: %w", err)
	}

	return &ResolvedInputs{
		ExperimentID:    exp.ID,
		TaskDescription: exp.TaskDescription,
		BasePrompt:      exp.BasePrompt,
		Rows:            rows,
		Jury:            jury,
		Runner:          exp.RunnerModel,
		PriorIterations: len(versions),
	}, nil
}

func (r *Resolver) create(ctx context.Context, req *OptimizeRequest) (*ResolvedInputs, error) {
	if missing := missingInlineFields(req); len(missing) > 0 {
		return nil, domain.NewInvalidInputError(
			"Inline mode requires taskDescription, basePrompt, dataset, juryMembers, and runnerModel.",
			missing...,
		)
	}

	runner := *req.RunnerModel
	if runner.Provider == "" {
		runner.Provider = domain.ProviderGemini
	}

	exp := &domain.Experiment{
		TaskDescription: req.TaskDescription,
		BasePrompt:      req.BasePrompt,
		RunnerModel:     runner,
	}
	rows := make([]domain.DatasetRow, len(req.Dataset))
	for i, in := range req.Dataset {
		rows[i] = domain.DatasetRow{
			Split:          domain.SplitTrain,
			Query:          in.Query,
			ExpectedOutput: in.ExpectedOutput,
			SoftNegatives:  in.SoftNegatives,
			HardNegatives:  in.HardNegatives,
		}
	}

	jury := make([]domain.JuryMember, len(req.JuryMembers))
	for i, in := range req.JuryMembers {
		provider := in.Provider
		if provider == "" {
			provider = domain.ProviderGemini
		}
		jury[i] = domain.JuryMember{
			Name:     in.Name,
			Provider: provider,
			Model:    in.Model,
			Settings: in.Settings,
		}
	}
	if err := r.store.CreateExperimentBundle(ctx, exp, rows, jury); err != nil {
		return nil, fmt.Errorf("create experiment: %w", err)
	}

	return &ResolvedInputs{
		ExperimentID:    exp.ID,
		TaskDescription: exp.TaskDescription,
		BasePrompt:      exp.BasePrompt,
		Rows:            rows,
		Jury:            jury,
		Runner:          runner,
	}, nil
}

func missingInlineFields(req *OptimizeRequest) []string {
	var missing []string
	if req.TaskDescription == "" {
		missing = append(missing, "taskDescription")
	}
	if req.BasePrompt == "" {
		missing = append(missing, "basePrompt")
	}
	if len(req.Dataset) == 0 {
		missing = append(missing, "dataset")
	}
	if len(req.JuryMembers) == 0 {
		missing = append(missing, "juryMembers")
	}
	if req.RunnerModel == nil || req.RunnerModel.Model == "" {
		missing = append(missing, "runnerModel")
	}
	return missing
}
