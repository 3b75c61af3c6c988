package domain

// ModelSettings holds the sampling parameters forwarded to the generation
// capability. Nil fields mean "use the stage or provider default".
type ModelSettings struct {
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty" validate:"omitempty,min=0,max=2"`
	TopP        *float64 `json:"topP,omitempty" yaml:"top_p,omitempty" validate:"omitempty,min=0,max=1"`
	TopK        *int     `json:"topK,omitempty" yaml:"top_k,omitempty" validate:"omitempty,min=1"`
	MaxTokens   *int     `json:"maxTokens,omitempty" yaml:"max_tokens,omitempty" validate:"omitempty,min=1"`
}

// IsZero reports whether no parameter is set.
func (s *ModelSettings) IsZero() bool {
	return s == nil || (s.Temperature == nil && s.TopP == nil && s.TopK == nil && s.MaxTokens == nil)
}

// WithTemperatureDefault returns a copy of s whose temperature falls back to
// def when unset. The receiver may be nil.
func (s *ModelSettings) WithTemperatureDefault(def float64) ModelSettings {
	var out ModelSettings
	if s != nil {
		out = *s
	}
	if out.Temperature == nil {
		t := def
		out.Temperature = &t
	}
	return out
}

// RunnerConfig describes the model that produces candidate answers.
type RunnerConfig struct {
	Provider string         `json:"provider" validate:"omitempty"`
	Model    string         `json:"model" validate:"required"`
	Settings *ModelSettings `json:"settings,omitempty"`
}

// JuryMemberConfig is the stage-boundary view of one evaluator.
type JuryMemberConfig struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name" validate:"required"`
	Provider string         `json:"provider"`
	Model    string         `json:"model" validate:"required"`
	Settings *ModelSettings `json:"settings,omitempty"`
}

// ManagerConfig selects the refiner model. An empty Model means the default.
type ManagerConfig struct {
	Model    string         `json:"model"`
	Settings *ModelSettings `json:"settings,omitempty"`
}

// TokenUsage is the usage reported by one generation call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// TokenCounters accumulates total tokens per pipeline stage.
type TokenCounters struct {
	Inference  int `json:"inference"`
	Jury       int `json:"jury"`
	Refinement int `json:"refinement"`
	Total      int `json:"total"`
}

// AddInference records inference tokens and keeps Total in step.
func (c *TokenCounters) AddInference(n int) { c.Inference += n; c.Total += n }

// AddJury records jury tokens and keeps Total in step.
func (c *TokenCounters) AddJury(n int) { c.Jury += n; c.Total += n }

// AddRefinement records refinement tokens and keeps Total in step.
func (c *TokenCounters) AddRefinement(n int) { c.Refinement += n; c.Total += n }

// JuryVerdict is one member's contribution to a row's score. Degraded marks a
// deterministic fallback produced when the member's output could not be parsed.
type JuryVerdict struct {
	JuryMemberID string     `json:"juryMemberId,omitempty"`
	JuryName     string     `json:"juryName"`
	Score        float64    `json:"score"`
	Reasoning    string     `json:"reasoning"`
	Usage        TokenUsage `json:"tokenUsage"`
	Degraded     bool       `json:"-"`
}

// RowResult is the metrics aggregator's view of one scored row.
type RowResult struct {
	Score     float64
	Reasoning string
}
