package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/logging"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/report"
)

// StageSpec is one configured stage: its dependencies and its ordered
// backend candidates.
type StageSpec struct {
	ID         core.StageID
	DependsOn  []core.StageID
	Candidates []*Adapter
}

// FanIn reports whether the stage waits for other stages.
func (s StageSpec) FanIn() bool {
	return len(s.DependsOn) > 0
}

// NewStageSpec wraps backends into adapters for a stage. Stages with
// dependencies require a synthesis block in every result.
func NewStageSpec(id core.StageID, dependsOn []core.StageID, timeout time.Duration, backends []core.Backend, logger *logging.Logger) StageSpec {
	opts := []AdapterOption{WithAdapterTimeout(timeout)}
	if logger != nil {
		opts = append(opts, WithAdapterLogger(logger))
	}
	if len(dependsOn) > 0 {
		opts = append(opts, WithRequireSynthesis())
	}
	spec := StageSpec{ID: id, DependsOn: dependsOn}
	for _, b := range backends {
		spec.Candidates = append(spec.Candidates, NewAdapter(id, b, opts...))
	}
	return spec
}

// Engine runs the stage graph for an event and produces a report.
//
// Stages of one level start together; the next level starts only when every
// stage of the previous one is terminal. A stage that depends on others runs
// even when all of them failed, on its own deadline detached from the run's.
type Engine struct {
	specs            map[core.StageID]StageSpec
	plan             *StagePlan
	selector         *Selector
	timeout          time.Duration
	synthesisTimeout time.Duration
	reportStage      core.StageID
	metrics          *Metrics
	logger           *logging.Logger
	now              func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRunTimeout bounds the analysis stages of a run.
func WithRunTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.timeout = d
	}
}

// WithSynthesisTimeout bounds each dependent stage.
func WithSynthesisTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.synthesisTimeout = d
	}
}

// WithReportStage names the stage whose synthesis becomes the report.
func WithReportStage(id core.StageID) EngineOption {
	return func(e *Engine) {
		e.reportStage = id
	}
}

// WithEngineMetrics records run and stage metrics.
func WithEngineMetrics(m *Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithEngineLogger sets the logger.
func WithEngineLogger(l *logging.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithEngineClock replaces time.Now.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine validates the stage graph and returns an engine.
func NewEngine(specs []StageSpec, selector *Selector, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		specs:            make(map[core.StageID]StageSpec, len(specs)),
		selector:         selector,
		timeout:          3 * time.Minute,
		synthesisTimeout: 90 * time.Second,
		reportStage:      core.StageSynthesis,
		logger:           logging.NewNop(),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.selector == nil {
		e.selector = NewSelector(WithSelectorLogger(e.logger))
	}

	g := NewStageGraph()
	for _, s := range specs {
		if err := g.AddStage(s.ID); err != nil {
			return nil, err
		}
		if len(s.Candidates) == 0 {
			return nil, core.ErrValidation(core.CodeNoCandidates, fmt.Sprintf("stage %s has no backends", s.ID))
		}
		e.specs[s.ID] = s
	}
	for _, s := range specs {
		for _, dep := range s.DependsOn {
			if err := g.AddDependency(s.ID, dep); err != nil {
				return nil, err
			}
		}
	}
	plan, err := g.Build()
	if err != nil {
		return nil, err
	}
	if _, ok := e.specs[e.reportStage]; !ok {
		return nil, core.ErrValidation(core.CodeUnknownStage, fmt.Sprintf("report stage %s is not configured", e.reportStage))
	}
	e.plan = plan
	return e, nil
}

// Plan returns the leveled stage graph.
func (e *Engine) Plan() *StagePlan {
	return e.plan
}

// Run executes the pipeline for an event. It fails only for an invalid
// event; stage failures are recorded in the run and its report.
func (e *Engine) Run(ctx context.Context, event core.Event) (*core.PipelineRun, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	run := &core.PipelineRun{
		ID:          uuid.NewString(),
		EventKey:    event.Key,
		InputDigest: core.ContentHash(event.Input),
		Stages:      make(map[core.StageID]*core.StageResult, len(e.specs)),
		StartedAt:   e.now(),
	}
	for id := range e.specs {
		run.Stages[id] = &core.StageResult{Stage: id, Status: core.StageStatusPending}
	}

	logger := e.logger.WithRun(run.ID).WithEvent(event.Key)
	logger.Info("pipeline run started", "stages", len(e.specs), "input_bytes", len(event.Input))

	analysisCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		analysisCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	for _, level := range e.plan.Levels {
		var wg sync.WaitGroup
		for _, id := range level {
			spec := e.specs[id]
			sr := run.Stages[id]

			if !spec.FanIn() && !event.Selected(id) {
				sr.Status = core.StageStatusSkipped
				logger.Debug("stage not selected", "stage", id)
				continue
			}

			input := event.Input
			stageCtx, cancel := analysisCtx, context.CancelFunc(func() {})
			if spec.FanIn() {
				input = e.synthesisInput(event.Input, run, spec.DependsOn)
				stageCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), e.synthesisTimeout)
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer cancel()
				e.runStage(stageCtx, spec, sr, input, logger)
			}()
		}
		wg.Wait()
	}

	run.Report = e.buildReport(run, event, logger)
	run.FinishedAt = e.now()
	e.metrics.RunFinished(run.Report, run.FinishedAt.Sub(run.StartedAt))

	logger.Info("pipeline run finished",
		"status", run.Report.Status,
		"confidence", run.Report.Confidence,
		"degraded", run.Report.Degraded,
		"duration", run.FinishedAt.Sub(run.StartedAt))
	return run, nil
}

func (e *Engine) runStage(ctx context.Context, spec StageSpec, sr *core.StageResult, input string, logger *logging.Logger) {
	log := logger.WithStage(string(spec.ID))
	sr.Status = core.StageStatusRunning
	sr.StartedAt = e.now()

	sel, err := e.selector.Select(ctx, spec.ID, spec.Candidates, input)
	sr.FinishedAt = e.now()

	if err != nil {
		sr.Status = core.StageStatusFailed
		sr.Err = err
		sr.Error = err.Error()
		var chain *ChainExhaustedError
		if errors.As(err, &chain) {
			sr.Attempts = chain.Attempts
		}
		log.Warn("stage failed", "error", err, "duration", sr.Duration())
	} else {
		sr.Status = core.StageStatusSuccess
		sr.Backend = sel.Backend
		sr.FromCache = sel.FromCache
		sr.Result = sel.Result
		sr.Attempts = sel.Attempts
		log.Info("stage finished",
			"backend", sel.Backend,
			"from_cache", sel.FromCache,
			"issues", sel.Result.TotalIssues,
			"duration", sr.Duration())
	}
	e.metrics.StageFinished(sr)
}

// synthesisInput encodes the finished dependencies of a stage. The encoding
// carries no timings or cache flags, so identical outcomes give identical
// bytes and the synthesis call stays cacheable.
func (e *Engine) synthesisInput(input string, run *core.PipelineRun, deps []core.StageID) string {
	ids := append([]core.StageID{}, deps...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	in := core.SynthesisInput{Input: input, Stages: make([]core.StageOutcome, 0, len(ids))}
	for _, id := range ids {
		in.Stages = append(in.Stages, run.Stages[id].Outcome())
	}
	data, err := json.Marshal(in)
	if err != nil {
		// Result types are plain data; this only fails on a programming error.
		panic(fmt.Sprintf("encoding synthesis input: %v", err))
	}
	return string(data)
}

// analysisOutcomes returns every stage other than the report stage, in
// stage order.
func (e *Engine) analysisOutcomes(run *core.PipelineRun) []core.StageOutcome {
	out := make([]core.StageOutcome, 0, len(run.Stages))
	for _, id := range e.plan.Order {
		if id == e.reportStage {
			continue
		}
		out = append(out, run.Stages[id].Outcome())
	}
	return out
}

func (e *Engine) buildReport(run *core.PipelineRun, event core.Event, logger *logging.Logger) *core.Report {
	outcomes := e.analysisOutcomes(run)
	assessment := core.Assess(outcomes)

	rep := &core.Report{
		RunID:          run.ID,
		EventKey:       event.Key,
		Revision:       event.Revision,
		Status:         assessment.Status,
		Confidence:     assessment.Confidence,
		Recommendation: assessment.Recommendation,
		GeneratedAt:    e.now(),
	}

	sr := run.Stages[e.reportStage]
	if sr.Status == core.StageStatusSuccess && sr.Result != nil && sr.Result.Synthesis != nil {
		rep.Body = sr.Result.Synthesis.Comment
		return rep
	}

	reason := "synthesis produced no result"
	if sr.Error != "" {
		reason = sr.Error
	}
	logger.Warn("synthesis degraded, using fallback report", "reason", reason)

	rep.Degraded = true
	rep.Body = report.RenderDegraded(report.Data{
		EventKey:   event.Key,
		Input:      event.Input,
		Stages:     outcomes,
		Assessment: assessment,
	}, reason)
	return rep
}
