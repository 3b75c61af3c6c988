package optimizer

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/domain"
)

// Loop option defaults.
const (
	DefaultMaxIterations        = 5
	DefaultConvergenceThreshold = 0.2
	DefaultPassThreshold        = 90.0
	DefaultPerfectScore         = 98.0
)

// DatasetRowInput is one inline dataset row of an OptimizeRequest.
type DatasetRowInput struct {
	Query          string `json:"query"`
	ExpectedOutput string `json:"expectedOutput"`
	SoftNegatives  string `json:"softNegatives,omitempty"`
	HardNegatives  string `json:"hardNegatives,omitempty"`
}

// JuryMemberInput is one inline jury member of an OptimizeRequest.
type JuryMemberInput struct {
	Name     string                `json:"name" validate:"required"`
	Provider string                `json:"provider,omitempty"`
	Model    string                `json:"model" validate:"required"`
	Settings *domain.ModelSettings `json:"settings,omitempty"`
}

// OptimizeRequest starts an optimization run, either from inline inputs or
// from a stored experiment when ExperimentID is set. Unset loop options take
// their defaults.
type OptimizeRequest struct {
	TaskDescription string                `json:"taskDescription,omitempty"`
	BasePrompt      string                `json:"basePrompt,omitempty"`
	Dataset         []DatasetRowInput     `json:"dataset,omitempty"`
	JuryMembers     []JuryMemberInput     `json:"juryMembers,omitempty" validate:"dive"`
	RunnerModel     *domain.RunnerConfig  `json:"runnerModel,omitempty"`
	ManagerModel    *domain.ManagerConfig `json:"managerModel,omitempty"`

	ExperimentID string `json:"experimentId,omitempty"`

	MaxIterations        *int     `json:"maxIterations,omitempty"`
	ConvergenceThreshold *float64 `json:"convergenceThreshold,omitempty"`
	PassThreshold        *float64 `json:"passThreshold,omitempty"`
	PerfectScore         *float64 `json:"perfectScore,omitempty"`
}

// Options are the resolved loop bounds of a request.
type Options struct {
	MaxIterations        int     `validate:"min=1,max=20"`
	ConvergenceThreshold float64 `validate:"gte=0"`
	PassThreshold        float64 `validate:"gte=0,lte=100"`
	PerfectScore         float64 `validate:"gte=0,lte=100"`
}

var validate = validator.New()

// Options applies defaults and validates the loop bounds together with the
// shape of any inline inputs. Failures are *domain.ValidationError.
func (r *OptimizeRequest) Options() (Options, error) {
	opts := Options{
		MaxIterations:        DefaultMaxIterations,
		ConvergenceThreshold: DefaultConvergenceThreshold,
		PassThreshold:        DefaultPassThreshold,
		PerfectScore:         DefaultPerfectScore,
	}
	if r.MaxIterations != nil {
		opts.MaxIterations = *r.MaxIterations
	}
	if r.ConvergenceThreshold != nil {
		opts.ConvergenceThreshold = *r.ConvergenceThreshold
	}
	if r.PassThreshold != nil {
		opts.PassThreshold = *r.PassThreshold
	}
	if r.PerfectScore != nil {
		opts.PerfectScore = *r.PerfectScore
	}

	verr := domain.NewValidationError("OptimizeRequest")
	collect(verr, validate.Struct(opts))
	collect(verr, validate.Struct(r))
	if verr.HasErrors() {
		return Options{}, verr
	}
	return opts, nil
}

// collect appends validator failures to verr as readable messages.
func collect(verr *domain.ValidationError, err error) {
	if err == nil {
		return
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.AddError(err.Error())
		return
	}
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			verr.AddError(fmt.Sprintf("%s failed %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
		} else {
			verr.AddError(fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
	}
}
