package processors

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"meetingSummarize/core"
	"meetingSummarize/logger"
)

// Policy decides what the engine does after a stage fails.
type Policy string

const (
	// BestEffort runs every stage regardless of earlier failures.
	BestEffort Policy = "best_effort"
	// SkipOnFailedDependency skips stages whose required inputs did not succeed.
	SkipOnFailedDependency Policy = "skip_on_failed_dependency"
	// FailFast stops the run at the first fatal outcome.
	FailFast Policy = "fail_fast"
)

// ParsePolicy validates a policy name; empty means BestEffort.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case "":
		return BestEffort, nil
	case BestEffort, SkipOnFailedDependency, FailFast:
		return p, nil
	default:
		return "", fmt.Errorf("unknown pipeline policy %q", s)
	}
}

// Dependencies are the collaborators the engine calls into.
type Dependencies struct {
	Transcriber core.TranscriptionProvider
	Diarizer    core.DiarizationProvider
	Context     core.ContextProvider
	Summarizer  core.Summarizer
	Extractor   core.ActionItemExtractor
	Store       core.PersistenceStore
}

type engineOptions struct {
	policy         Policy
	parallel       bool
	minSpeakers    int
	maxSpeakers    int
	retrievalLimit int
	threshold      float64
	detailLevel    core.DetailLevel
}

type Option func(*engineOptions)

func WithPolicy(p Policy) Option { return func(o *engineOptions) { o.policy = p } }

// WithParallelBranches lets independent stages of one run execute concurrently.
func WithParallelBranches(on bool) Option { return func(o *engineOptions) { o.parallel = on } }

func WithSpeakerBounds(minSpeakers, maxSpeakers int) Option {
	return func(o *engineOptions) { o.minSpeakers, o.maxSpeakers = minSpeakers, maxSpeakers }
}

func WithRetrieval(limit int, threshold float64) Option {
	return func(o *engineOptions) { o.retrievalLimit, o.threshold = limit, threshold }
}

func WithDetailLevel(l core.DetailLevel) Option { return func(o *engineOptions) { o.detailLevel = l } }

// WorkflowEngine runs the meeting pipeline over one PipelineState per call.
// It holds no per-run state, so Process may be called concurrently.
type WorkflowEngine struct {
	stages []Stage
	groups [][]int
	opts   engineOptions
}

// NewWorkflowEngine wires the seven stages over deps.
func NewWorkflowEngine(deps Dependencies, opts ...Option) *WorkflowEngine {
	o := engineOptions{
		policy:         BestEffort,
		minSpeakers:    1,
		maxSpeakers:    10,
		retrievalLimit: 5,
		threshold:      0.7,
		detailLevel:    core.DetailAll,
	}
	for _, opt := range opts {
		opt(&o)
	}
	stages := []Stage{
		TranscribeStage(deps.Transcriber),
		DiarizeStage(deps.Diarizer, o.minSpeakers, o.maxSpeakers),
		MergeStage(),
		RetrieveContextStage(deps.Context, o.retrievalLimit, o.threshold),
		SummarizeStage(deps.Summarizer, o.detailLevel),
		ExtractActionsStage(deps.Extractor),
		PersistStage(deps.Store),
	}
	return newEngine(stages, o)
}

func newEngine(stages []Stage, o engineOptions) *WorkflowEngine {
	e := &WorkflowEngine{stages: stages, opts: o}
	if o.parallel {
		e.groups = planGroups(stages)
	} else {
		e.groups = make([][]int, len(stages))
		for i := range stages {
			e.groups[i] = []int{i}
		}
	}
	return e
}

// planGroups splits the stage list into runs of consecutive stages that do not
// depend on each other. Groups execute in order; members of one group may run
// concurrently and are folded back in list order.
func planGroups(stages []Stage) [][]int {
	var groups [][]int
	var current []int
	inCurrent := map[string]bool{}
	for i, st := range stages {
		conflict := false
		for _, dep := range st.dependsOn() {
			if inCurrent[dep] {
				conflict = true
				break
			}
		}
		if conflict && len(current) > 0 {
			groups = append(groups, current)
			current, inCurrent = nil, map[string]bool{}
		}
		current = append(current, i)
		inCurrent[st.Name] = true
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

// Process runs every stage for one meeting and returns the terminal state.
// Failures are reported through State.Error and State.Stages, never returned.
func (e *WorkflowEngine) Process(ctx context.Context, meetingID, audioRef string, metadata map[string]any) core.PipelineState {
	ctx = logger.WithFields(ctx, "meeting_id", meetingID)
	started := time.Now()
	logger.Info(ctx, "pipeline started", "audio_ref", audioRef, "policy", string(e.opts.policy), "parallel", e.opts.parallel)

	state := core.NewPipelineState(meetingID, audioRef, metadata)
	outcomes := make(map[string]core.Outcome, len(e.stages))
	halted := false

	for _, group := range e.groups {
		if halted {
			for _, i := range group {
				state = e.skip(ctx, state, outcomes, e.stages[i], "run halted after fatal failure")
			}
			continue
		}

		var runnable []int
		for _, i := range group {
			if reason, ok := e.blocked(e.stages[i], outcomes); ok {
				state = e.skip(ctx, state, outcomes, e.stages[i], reason)
				continue
			}
			runnable = append(runnable, i)
		}

		if len(runnable) == 1 || !e.opts.parallel {
			for _, i := range runnable {
				next, out, rep := e.runStage(ctx, e.stages[i], state)
				state = next.WithReport(rep)
				outcomes[e.stages[i].Name] = out
			}
		} else {
			state = e.runGroup(ctx, state, runnable, outcomes)
		}

		if e.opts.policy == FailFast {
			for _, i := range runnable {
				if outcomes[e.stages[i].Name].Kind == core.OutcomeFatal {
					halted = true
				}
			}
		}
	}

	logger.Info(ctx, "pipeline finished", "status", string(state.Status), "error", state.Error, "elapsed", time.Since(started))
	return state
}

// runGroup executes independent stages against the same snapshot and folds
// their results in list order, so the state matches a sequential run.
func (e *WorkflowEngine) runGroup(ctx context.Context, base core.PipelineState, idx []int, outcomes map[string]core.Outcome) core.PipelineState {
	type result struct {
		state  core.PipelineState
		out    core.Outcome
		report core.StageReport
	}
	results := make([]result, len(idx))

	var g errgroup.Group
	for n, i := range idx {
		g.Go(func() error {
			next, out, rep := e.runStage(ctx, e.stages[i], base)
			results[n] = result{next, out, rep}
			return nil
		})
	}
	_ = g.Wait()

	state := base
	halted := false
	for n, i := range idx {
		st, r := e.stages[i], results[n]
		// A sequential FailFast run would never have started the later members.
		if halted {
			state = e.skip(ctx, state, outcomes, st, "run halted after fatal failure")
			continue
		}
		if e.opts.policy == FailFast && r.out.Kind == core.OutcomeFatal {
			halted = true
		}
		state = state.Adopt(r.state, st.Produces)
		switch {
		case r.out.Kind == core.OutcomeSuccess:
			state = state.WithStatus(r.state.Status)
		case r.out.Failed():
			state = state.WithError(r.state.Error)
		}
		state = state.WithReport(r.report)
		outcomes[st.Name] = r.out
	}
	return state
}

// runStage shields the run from a panicking collaborator.
func (e *WorkflowEngine) runStage(ctx context.Context, st Stage, s core.PipelineState) (next core.PipelineState, out core.Outcome, rep core.StageReport) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic in stage %s: %v", st.Name, r)
			logger.Error(ctx, "stage panicked", "stage", st.Name, "panic", r, "stack", string(debug.Stack()))
			msg := fmt.Sprintf("%s failed: %v", st.Name, err)
			next, out = s.WithError(msg), core.Fatal(err)
			rep = core.StageReport{Name: st.Name, Outcome: out.Kind, Error: err.Error()}
		}
	}()
	return timed(ctx, st, s)
}

// blocked reports whether the policy forbids running st.
func (e *WorkflowEngine) blocked(st Stage, outcomes map[string]core.Outcome) (string, bool) {
	if e.opts.policy != SkipOnFailedDependency {
		return "", false
	}
	for _, dep := range st.Requires {
		if out, ok := outcomes[dep]; ok && out.Kind != core.OutcomeSuccess {
			return fmt.Sprintf("required stage %s did not succeed", dep), true
		}
	}
	return "", false
}

func (e *WorkflowEngine) skip(ctx context.Context, s core.PipelineState, outcomes map[string]core.Outcome, st Stage, reason string) core.PipelineState {
	logger.Warn(ctx, "stage skipped", "stage", st.Name, "reason", reason)
	outcomes[st.Name] = core.Skipped()
	return s.WithReport(core.StageReport{Name: st.Name, Outcome: core.OutcomeSkipped, Error: reason})
}
