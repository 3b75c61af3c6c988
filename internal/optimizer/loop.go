// Package optimizer implements iterative prompt optimization: a candidate
// prompt is run over a dataset, every output is scored by a jury panel, the
// scores are aggregated, and a refiner rewrites the prompt from the failing
// rows until the score converges or the iteration cap is reached.
//
// Rows are processed sequentially. Within a row the jury panel fans out
// concurrently and the row advances only after every member returned.
// Progress is reported through an Emitter in strict causal order.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/domain"
	"github.com/Mehul-Gupta-SMH/PromptProp/internal/ports"
)

const tracerName = "github.com/Mehul-Gupta-SMH/PromptProp/internal/optimizer"

// Operation names reported to the metrics collector.
const (
	OpInference  = "optimizer.inference"
	OpJury       = "optimizer.jury"
	OpRefinement = "optimizer.refinement"
	OpIteration  = "optimizer.iteration"
	MetricRuns   = "optimization_runs"
)

// LoopConfig wires a Loop to its collaborators. Generator and Store are
// required.
type LoopConfig struct {
	Generator ports.Generator
	Store     ports.ExperimentStore
	// Tracker receives per-iteration metrics. Nil disables tracking.
	Tracker ports.Tracker
	// Metrics receives operational metrics. Nil disables them.
	Metrics ports.MetricsCollector
	Logger  *slog.Logger
	// JuryConcurrency caps concurrent member calls per row. Zero means no cap.
	JuryConcurrency int
	// RefineModel replaces DefaultRefineModel when set.
	RefineModel string
}

// Loop runs optimization requests. It holds no per-run state and is safe for
// concurrent use.
type Loop struct {
	resolver  *Resolver
	inference *InferenceStage
	jury      *JuryStage
	refiner   *RefinementStage
	store     ports.ExperimentStore
	tracker   ports.Tracker
	metrics   ports.MetricsCollector
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewLoop creates a Loop from cfg.
func NewLoop(cfg LoopConfig) (*Loop, error) {
	if cfg.Generator == nil {
		return nil, fmt.Errorf("optimizer: generator is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("optimizer: store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	return &Loop{
		resolver:  NewResolver(cfg.Store),
		inference: NewInferenceStage(cfg.Generator),
		jury:      NewJuryStage(cfg.Generator, cfg.JuryConcurrency),
		refiner:   NewRefinementStage(cfg.Generator, cfg.RefineModel),
		store:     cfg.Store,
		tracker:   cfg.Tracker,
		metrics:   metrics,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
	}, nil
}

// Summary is the outcome of a completed run.
type Summary struct {
	ExperimentID    string
	FinalScore      float64
	FinalPrompt     string
	TotalIterations int
	TotalTokens     domain.TokenCounters
	Converged       bool
}

// runState is the mutable state of one run.
type runState struct {
	in     *ResolvedInputs
	opts   Options
	panel  []domain.JuryMemberConfig
	prompt string
	prev   float64
	total  domain.TokenCounters
}

// iterationOutcome is what the loop needs from a finished iteration.
type iterationOutcome struct {
	version   *domain.PromptVersion
	average   float64
	converged bool
	failed    []FailedRow
}

// emitError marks a failure of the emitter itself. No error event is sent
// for it.
type emitError struct {
	event string
	err   error
}

func (e *emitError) Error() string { return fmt.Sprintf("emit %s: %v", e.event, e.err) }
func (e *emitError) Unwrap() error { return e.err }

// Run executes req and reports progress to em. On failure the terminal error
// event is emitted and the returned error is a *domain.StageError, unless
// the emitter itself failed.
func (l *Loop) Run(ctx context.Context, req *OptimizeRequest, em Emitter) (*Summary, error) {
	ctx, span := l.tracer.Start(ctx, "optimizer.run")
	defer span.End()

	summary, err := l.run(ctx, req, em)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		l.metrics.RecordCounter(MetricRuns, 1, map[string]string{"status": "error"})

		var ee *emitError
		if !errors.As(err, &ee) {
			l.logger.ErrorContext(ctx, "optimization failed", "error", err)
			if emitErr := em.Emit(ctx, Event{Name: EventError, Data: NewErrorEvent(err)}); emitErr != nil {
				l.logger.WarnContext(ctx, "failed to emit error event", "error", emitErr)
			}
		}
		return nil, err
	}

	span.SetAttributes(
		attribute.String("experiment.id", summary.ExperimentID),
		attribute.Int("optimizer.iterations", summary.TotalIterations),
		attribute.Float64("optimizer.final_score", summary.FinalScore),
	)
	l.metrics.RecordCounter(MetricRuns, 1, map[string]string{"status": "success"})
	return summary, nil
}

func (l *Loop) run(ctx context.Context, req *OptimizeRequest, em Emitter) (*Summary, error) {
	opts, err := req.Options()
	if err != nil {
		return nil, domain.NewStageError(domain.StageSetup, 0, err)
	}

	in, err := l.resolver.Resolve(ctx, req)
	if err != nil {
		return nil, domain.NewStageError(domain.StageSetup, 0, err)
	}

	st := &runState{
		in:     in,
		opts:   opts,
		panel:  make([]domain.JuryMemberConfig, len(in.Jury)),
		prompt: in.BasePrompt,
		prev:   -1,
	}
	for i, m := range in.Jury {
		st.panel[i] = m.Config()
	}

	l.logger.InfoContext(ctx, "optimization started",
		"experiment_id", in.ExperimentID,
		"rows", len(in.Rows),
		"jury", len(in.Jury),
		"max_iterations", opts.MaxIterations,
	)

	if err := l.emit(ctx, em, EventStart, StartEvent{
		ExperimentID:  in.ExperimentID,
		TotalRows:     len(in.Rows),
		TotalJury:     len(in.Jury),
		MaxIterations: opts.MaxIterations,
	}); err != nil {
		return nil, err
	}

	var (
		iteration int
		outcome   *iterationOutcome
	)
	for iteration = 1; iteration <= opts.MaxIterations; iteration++ {
		outcome, err = l.iterate(ctx, st, iteration, em)
		if err != nil {
			return nil, err
		}
		if outcome.converged || iteration == opts.MaxIterations {
			break
		}
		if err := l.refine(ctx, st, iteration, outcome, req.ManagerModel, em); err != nil {
			return nil, err
		}
		st.prev = outcome.average
	}

	if err := l.markComplete(ctx, in.ExperimentID); err != nil {
		return nil, domain.NewStageError(domain.StageUnknown, iteration, err)
	}

	summary := &Summary{
		ExperimentID:    in.ExperimentID,
		FinalScore:      domain.Round(outcome.average, 2),
		FinalPrompt:     st.prompt,
		TotalIterations: iteration,
		TotalTokens:     st.total,
		Converged:       outcome.converged,
	}

	l.logger.InfoContext(ctx, "optimization complete",
		"experiment_id", in.ExperimentID,
		"iterations", iteration,
		"final_score", summary.FinalScore,
		"converged", summary.Converged,
		"total_tokens", st.total.Total,
	)

	if err := l.emit(ctx, em, EventComplete, CompleteEvent{
		ExperimentID:    summary.ExperimentID,
		FinalScore:      summary.FinalScore,
		FinalPrompt:     summary.FinalPrompt,
		TotalIterations: summary.TotalIterations,
		TotalTokens:     summary.TotalTokens,
	}); err != nil {
		return nil, err
	}
	return summary, nil
}

// iterate runs every row through inference and the jury, then aggregates,
// tracks and scores the iteration.
func (l *Loop) iterate(ctx context.Context, st *runState, k int, em Emitter) (*iterationOutcome, error) {
	ctx, span := l.tracer.Start(ctx, "optimizer.iteration", trace.WithAttributes(
		attribute.Int("optimizer.iteration", k),
		attribute.String("experiment.id", st.in.ExperimentID),
	))
	defer span.End()
	started := time.Now()

	pv := &domain.PromptVersion{
		ExperimentID:    st.in.ExperimentID,
		IterationNumber: st.in.PriorIterations + k,
		PromptText:      st.prompt,
	}
	if err := l.store.CreatePromptVersion(ctx, pv); err != nil {
		return nil, domain.NewStageError(domain.StageUnknown, k, err)
	}

	if err := l.emit(ctx, em, EventIterationStart, IterationStartEvent{
		Iteration:       k,
		PromptText:      st.prompt,
		PromptVersionID: pv.ID,
	}); err != nil {
		return nil, err
	}

	var iterTokens domain.TokenCounters
	rows := st.in.Rows
	summaries := make([]RowSummary, 0, len(rows))
	scored := make([]domain.RowResult, 0, len(rows))
	averages := make([]float64, 0, len(rows))
	failed := make([]FailedRow, 0, len(rows))

	for i, row := range rows {
		inferStart := time.Now()
		output, usage, err := l.inference.Infer(ctx, st.in.Runner, st.in.TaskDescription, st.prompt, row)
		l.metrics.RecordLatency(OpInference, time.Since(inferStart), nil)
		if err != nil {
			return nil, domain.NewRowStageError(domain.StageInference, k, i, err)
		}
		iterTokens.AddInference(usage.TotalTokens)
		st.total.AddInference(usage.TotalTokens)
		l.recordTokens(domain.StageInference, usage.TotalTokens)

		if err := l.emit(ctx, em, EventInferenceResult, InferenceResultEvent{
			Iteration:    k,
			RowIndex:     i,
			RowID:        row.ID,
			ActualOutput: output,
			TokenUsage:   usage,
		}); err != nil {
			return nil, err
		}

		juryStart := time.Now()
		verdicts, err := l.jury.Evaluate(ctx, st.panel, st.in.TaskDescription, row, output)
		l.metrics.RecordLatency(OpJury, time.Since(juryStart), nil)
		if err != nil {
			return nil, domain.NewRowStageError(domain.StageJury, k, i, err)
		}

		var juryTokens int
		scores := make([]JuryScore, len(verdicts))
		evals := make([]domain.JuryEvaluation, len(verdicts))
		for j, v := range verdicts {
			juryTokens += v.Usage.TotalTokens
			scores[j] = JuryScore{JuryName: v.JuryName, Score: v.Score, Reasoning: v.Reasoning}
			evals[j] = domain.JuryEvaluation{
				JuryMemberID: v.JuryMemberID,
				JuryName:     v.JuryName,
				Score:        v.Score,
				Reasoning:    v.Reasoning,
			}
			l.metrics.RecordHistogram(ports.MetricJuryScore, v.Score, map[string]string{"jury": v.JuryName})
			if v.Degraded {
				l.logger.WarnContext(ctx, "jury response could not be parsed",
					"jury", v.JuryName, "iteration", k, "row_index", i)
			}
		}
		iterTokens.AddJury(juryTokens)
		st.total.AddJury(juryTokens)
		l.recordTokens(domain.StageJury, juryTokens)

		rowAvg, feedback := ReducePanel(verdicts)
		result := &domain.IterationResult{
			PromptVersionID:  pv.ID,
			DatasetRowID:     row.ID,
			ActualOutput:     output,
			CombinedFeedback: feedback,
		}
		if len(verdicts) > 0 {
			result.AverageScore = &rowAvg
		}
		if err := l.store.SaveRowResult(ctx, result, evals); err != nil {
			return nil, domain.NewRowStageError(domain.StageUnknown, k, i, err)
		}

		if err := l.emit(ctx, em, EventJuryResult, JuryResultEvent{
			Iteration:    k,
			RowIndex:     i,
			RowID:        row.ID,
			Scores:       scores,
			AverageScore: rowAvg,
		}); err != nil {
			return nil, err
		}

		summaries = append(summaries, RowSummary{
			RowID:            row.ID,
			ActualOutput:     output,
			Scores:           scores,
			AverageScore:     rowAvg,
			CombinedFeedback: feedback,
		})
		scored = append(scored, domain.RowResult{Score: rowAvg, Reasoning: feedback})
		averages = append(averages, rowAvg)
		failed = append(failed, FailedRow{
			Query:          row.Query,
			ExpectedOutput: row.ExpectedOutput,
			ActualOutput:   output,
			Critique:       feedback,
			Score:          rowAvg,
		})
	}

	average := domain.MeanScore(averages)
	metrics := domain.ComputeMetrics(scored, st.opts.PassThreshold)

	runID := l.track(ctx, ports.TrackingRecord{
		RunGroup:   st.in.ExperimentID,
		Metrics:    metrics,
		Iteration:  k,
		PromptText: st.prompt,
		TokenUsage: iterTokens,
		RunLabel:   fmt.Sprintf("iteration-%d", k),
	})

	pv.AverageScore = &average
	if err := l.store.UpdatePromptVersion(ctx, pv); err != nil {
		return nil, domain.NewStageError(domain.StageUnknown, k, err)
	}

	converged := Converged(average, st.prev, st.opts)
	l.metrics.RecordGauge(ports.MetricIterationScore, average, map[string]string{"experiment_id": st.in.ExperimentID})
	l.metrics.RecordLatency(OpIteration, time.Since(started), nil)
	span.SetAttributes(
		attribute.Float64("optimizer.average_score", average),
		attribute.Bool("optimizer.converged", converged),
	)

	l.logger.InfoContext(ctx, "iteration complete",
		"experiment_id", st.in.ExperimentID,
		"iteration", k,
		"average_score", domain.Round(average, 2),
		"converged", converged,
		"tokens", iterTokens.Total,
	)

	var trackingID *string
	if runID != "" {
		trackingID = &runID
	}
	if err := l.emit(ctx, em, EventIterationComplete, IterationCompleteEvent{
		Iteration:        k,
		AverageScore:     domain.Round(average, 2),
		Metrics:          metrics,
		TrackingRunID:    trackingID,
		Converged:        converged,
		Results:          summaries,
		IterationTokens:  iterTokens,
		CumulativeTokens: st.total,
	}); err != nil {
		return nil, err
	}

	return &iterationOutcome{
		version:   pv,
		average:   average,
		converged: converged,
		failed:    failed,
	}, nil
}

// refine rewrites the prompt from the failing rows of iteration k. When no
// row failed the prompt is kept and no refiner call is made.
func (l *Loop) refine(
	ctx context.Context,
	st *runState,
	k int,
	outcome *iterationOutcome,
	manager *domain.ManagerConfig,
	em Emitter,
) error {
	failures := FormatFailures(outcome.failed, st.opts.PassThreshold)
	if failures == "" {
		return l.emit(ctx, em, EventRefinement, RefinementEvent{
			Iteration:      k,
			Explanation:    NoRefinementExplanation,
			RefinedPrompt:  st.prompt,
			DeltaReasoning: NoFailuresDelta,
		})
	}

	ctx, span := l.tracer.Start(ctx, "optimizer.refinement", trace.WithAttributes(
		attribute.Int("optimizer.iteration", k),
	))
	defer span.End()

	started := time.Now()
	ref, err := l.refiner.Refine(ctx, st.in.TaskDescription, st.prompt, failures, manager)
	l.metrics.RecordLatency(OpRefinement, time.Since(started), nil)
	if err != nil {
		span.RecordError(err)
		return domain.NewStageError(domain.StageRefinement, k, err)
	}
	if ref.Degraded {
		l.logger.WarnContext(ctx, "refiner response could not be parsed; keeping prompt", "iteration", k)
	}
	st.total.AddRefinement(ref.Usage.TotalTokens)
	l.recordTokens(domain.StageRefinement, ref.Usage.TotalTokens)
	span.SetAttributes(
		attribute.Int("refinement.edit_distance", ref.EditDistance),
		attribute.Float64("refinement.similarity", ref.Similarity),
	)

	outcome.version.RefinementFeedback = ref.Explanation
	outcome.version.RefinementMeta = ref.Meta()
	if err := l.store.UpdatePromptVersion(ctx, outcome.version); err != nil {
		return domain.NewStageError(domain.StageUnknown, k, err)
	}

	usage := ref.Usage
	cumulative := st.total
	if err := l.emit(ctx, em, EventRefinement, RefinementEvent{
		Iteration:        k,
		Explanation:      ref.Explanation,
		RefinedPrompt:    ref.RefinedPrompt,
		DeltaReasoning:   ref.DeltaReasoning,
		TokenUsage:       &usage,
		CumulativeTokens: &cumulative,
	}); err != nil {
		return err
	}

	st.prompt = ref.RefinedPrompt
	return nil
}

// Converged reports whether a run stops after an iteration averaging avg.
// prev is negative before the first iteration has completed.
func Converged(avg, prev float64, opts Options) bool {
	if avg >= opts.PerfectScore {
		return true
	}
	return prev >= 0 && math.Abs(avg-prev) < opts.ConvergenceThreshold
}

func (l *Loop) markComplete(ctx context.Context, experimentID string) error {
	exp, err := l.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return err
	}
	exp.IsComplete = true
	return l.store.UpdateExperiment(ctx, exp)
}

// track registers one iteration with the tracking sink. Failures are logged
// and yield an empty run id.
func (l *Loop) track(ctx context.Context, rec ports.TrackingRecord) string {
	if l.tracker == nil {
		return ""
	}
	runID, err := l.tracker.Register(ctx, rec)
	if err != nil {
		l.logger.WarnContext(ctx, "failed to track iteration",
			"experiment_id", rec.RunGroup, "iteration", rec.Iteration, "error", err)
		return ""
	}
	return runID
}

func (l *Loop) recordTokens(stage domain.Stage, n int) {
	if n > 0 {
		l.metrics.RecordCounter(ports.MetricStageTokens, float64(n), map[string]string{"stage": string(stage)})
	}
}

func (l *Loop) emit(ctx context.Context, em Emitter, name string, data any) error {
	if err := em.Emit(ctx, Event{Name: name, Data: data}); err != nil {
		return &emitError{event: name, err: err}
	}
	return nil
}

func asStageError(err error) (*domain.StageError, bool) {
	var stageErr *domain.StageError
	ok := errors.As(err, &stageErr)
	return stageErr, ok
}

type noopMetrics struct{}

func (noopMetrics) RecordLatency(string, time.Duration, map[string]string) {}
func (noopMetrics) RecordCounter(string, float64, map[string]string)       {}
func (noopMetrics) RecordGauge(string, float64, map[string]string)         {}
func (noopMetrics) RecordHistogram(string, float64, map[string]string)     {}
