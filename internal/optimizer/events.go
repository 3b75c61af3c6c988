package optimizer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/domain"
)

// Progress event names, in the order a run emits them.
const (
	EventStart             = "start"
	EventIterationStart    = "iteration_start"
	EventInferenceResult   = "inference_result"
	EventJuryResult        = "jury_result"
	EventIterationComplete = "iteration_complete"
	EventRefinement        = "refinement"
	EventComplete          = "complete"
	EventError             = "error"
)

// Event is one named progress notification. Data is one of the *Event
// payload structs below.
type Event struct {
	Name string
	Data any
}

// Emitter delivers progress events to an observer. An error stops the run.
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, ev Event) error

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, ev Event) error { return f(ctx, ev) }

// StartEvent is emitted once inputs are resolved.
type StartEvent struct {
	ExperimentID  string `json:"experimentId"`
	TotalRows     int    `json:"totalRows"`
	TotalJury     int    `json:"totalJury"`
	MaxIterations int    `json:"maxIterations"`
}

// IterationStartEvent opens iteration Iteration.
type IterationStartEvent struct {
	Iteration       int    `json:"iteration"`
	PromptText      string `json:"promptText"`
	PromptVersionID string `json:"promptVersionId"`
}

// InferenceResultEvent carries the runner output for one row.
type InferenceResultEvent struct {
	Iteration    int               `json:"iteration"`
	RowIndex     int               `json:"rowIndex"`
	RowID        string            `json:"rowId"`
	ActualOutput string            `json:"actualOutput"`
	TokenUsage   domain.TokenUsage `json:"tokenUsage"`
}

// JuryScore is one member's verdict as reported to observers.
type JuryScore struct {
	JuryName  string  `json:"juryName"`
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
}

// JuryResultEvent carries the reduced panel verdict for one row.
type JuryResultEvent struct {
	Iteration    int         `json:"iteration"`
	RowIndex     int         `json:"rowIndex"`
	RowID        string      `json:"rowId"`
	Scores       []JuryScore `json:"scores"`
	AverageScore float64     `json:"averageScore"`
}

// RowSummary is one row's outcome inside IterationCompleteEvent.
type RowSummary struct {
	RowID            string      `json:"rowId"`
	ActualOutput     string      `json:"actualOutput"`
	Scores           []JuryScore `json:"scores"`
	AverageScore     float64     `json:"averageScore"`
	CombinedFeedback string      `json:"combinedFeedback"`
}

// IterationCompleteEvent closes an iteration. TrackingRunID is null when the
// tracking sink assigned no id or failed.
type IterationCompleteEvent struct {
	Iteration        int                     `json:"iteration"`
	AverageScore     float64                 `json:"averageScore"`
	Metrics          domain.IterationMetrics `json:"metrics"`
	TrackingRunID    *string                 `json:"trackingRunId"`
	Converged        bool                    `json:"converged"`
	Results          []RowSummary            `json:"results"`
	IterationTokens  domain.TokenCounters    `json:"iterationTokens"`
	CumulativeTokens domain.TokenCounters    `json:"cumulativeTokens"`
}

// RefinementEvent reports the prompt carried into the next iteration. The
// token fields are absent when no refiner call was made.
type RefinementEvent struct {
	Iteration        int                   `json:"iteration"`
	Explanation      string                `json:"explanation"`
	RefinedPrompt    string                `json:"refinedPrompt"`
	DeltaReasoning   string                `json:"deltaReasoning"`
	TokenUsage       *domain.TokenUsage    `json:"tokenUsage,omitempty"`
	CumulativeTokens *domain.TokenCounters `json:"cumulativeTokens,omitempty"`
}

// CompleteEvent terminates a successful run.
type CompleteEvent struct {
	ExperimentID    string               `json:"experimentId"`
	FinalScore      float64              `json:"finalScore"`
	FinalPrompt     string               `json:"finalPrompt"`
	TotalIterations int                  `json:"totalIterations"`
	TotalTokens     domain.TokenCounters `json:"totalTokens"`
}

// ErrorEvent terminates a failed run.
type ErrorEvent struct {
	Stage     domain.Stage `json:"stage"`
	Message   string       `json:"message"`
	Iteration *int         `json:"iteration,omitempty"`
	RowIndex  *int         `json:"rowIndex,omitempty"`
}

// NewErrorEvent builds the terminal event for err. Errors without a stage
// tag are reported as stage "unknown".
func NewErrorEvent(err error) ErrorEvent {
	stageErr, ok := asStageError(err)
	if !ok {
		return ErrorEvent{Stage: domain.StageUnknown, Message: err.Error()}
	}
	ev := ErrorEvent{
		Stage:    stageErr.Stage,
		Message:  stageErr.Err.Error(),
		RowIndex: stageErr.RowIndex,
	}
	if stageErr.Iteration > 0 {
		it := stageErr.Iteration
		ev.Iteration = &it
	}
	return ev
}

// JSONLinesEmitter writes one {"event": name, "data": payload} object per
// line.
type JSONLinesEmitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLinesEmitter creates a JSONLinesEmitter writing to w.
func NewJSONLinesEmitter(w io.Writer) *JSONLinesEmitter {
	return &JSONLinesEmitter{enc: json.NewEncoder(w)}
}

// Emit implements Emitter.
func (e *JSONLinesEmitter) Emit(_ context.Context, ev Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	line := struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{Event: ev.Name, Data: ev.Data}
	if err := e.enc.Encode(line); err != nil {
		return fmt.Errorf("write %s event: %w", ev.Name, err)
	}
	return nil
}

// Recorder keeps every emitted event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Emitter.
func (r *Recorder) Emit(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Names returns the recorded event names in order.
func (r *Recorder) Names() []string {
	events := r.Events()
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.Name
	}
	return names
}

// Last returns the most recent event, or false when none was recorded.
func (r *Recorder) Last() (Event, bool) {
	events := r.Events()
	if len(events) == 0 {
		return Event{}, false
	}
	return events[len(events)-1], true
}

// Filter returns the payloads of every event named name.
func (r *Recorder) Filter(name string) []any {
	var out []any
	for _, ev := range r.Events() {
		if ev.Name == name {
			out = append(out, ev.Data)
		}
	}
	return out
}
