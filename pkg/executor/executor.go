// Package executor runs tasks. TaskExecutor drives the deliberate
// spec-plan-simulate-act-critique-synthesize state machine with bounded
// recovery; DirectExecutor (direct.go) is the tight reactive alternative.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ampere-run/ampere/pkg/budget"
	"github.com/ampere-run/ampere/pkg/llms"
	"github.com/ampere-run/ampere/pkg/model"
	"github.com/ampere-run/ampere/pkg/planner"
	"github.com/ampere-run/ampere/pkg/router"
	"github.com/ampere-run/ampere/pkg/simulator"
	"github.com/ampere-run/ampere/pkg/task"
	"github.com/ampere-run/ampere/pkg/tools"
	"github.com/ampere-run/ampere/pkg/trace"
)

// Phase is a state of the execution state machine.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSpec       Phase = "spec"
	PhasePlan       Phase = "plan"
	PhaseSimulate   Phase = "simulate"
	PhaseAct        Phase = "act"
	PhaseCritique   Phase = "critique"
	PhaseCheckpoint Phase = "checkpoint"
	PhaseSynthesize Phase = "synthesize"
	PhaseRecover    Phase = "recover"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

// Progress is delivered to the host on every phase transition.
type Progress struct {
	Phase      string       `json:"phase"`
	StepIndex  int          `json:"step_index,omitempty"`
	TotalSteps int          `json:"total_steps,omitempty"`
	Usage      budget.Usage `json:"usage"`
}

// ProgressFunc receives progress updates.
type ProgressFunc func(Progress)

// Options tunes the task executor.
type Options struct {
	// MaxReplanDepth bounds recovery replans. Default 2.
	MaxReplanDepth int

	// RecoverConfidence is the critique score below which a failed plan
	// triggers recovery. Default 0.5.
	RecoverConfidence float64

	// CheckpointDrift is the drift severity at which a checkpoint emits a
	// recovery instead of continuing. Default 0.8.
	CheckpointDrift float64

	OnProgress ProgressFunc
}

func (o *Options) setDefaults() {
	if o.MaxReplanDepth == 0 {
		o.MaxReplanDepth = 2
	}
	if o.RecoverConfidence == 0 {
		o.RecoverConfidence = 0.5
	}
	if o.CheckpointDrift == 0 {
		o.CheckpointDrift = 0.8
	}
}

// TaskExecutor orchestrates the deliberate execution loop. It owns the
// task's envelope and trace spans; collaborators are wired by composition at
// construction time.
type TaskExecutor struct {
	planner *planner.Planner
	sim     *simulator.Simulator
	tools   *tools.Registry
	caller  *model.Caller
	router  *router.Router
	tracer  *trace.Logger
	logger  *slog.Logger
	opts    Options
}

// NewTaskExecutor wires a task executor.
func NewTaskExecutor(pl *planner.Planner, sim *simulator.Simulator, registry *tools.Registry, caller *model.Caller, rt *router.Router, tracer *trace.Logger, logger *slog.Logger, opts Options) *TaskExecutor {
	opts.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskExecutor{
		planner: pl,
		sim:     sim,
		tools:   registry,
		caller:  caller,
		router:  rt,
		tracer:  tracer,
		logger:  logger,
		opts:    opts,
	}
}

// run carries the mutable state of one execution.
type run struct {
	task    task.Task
	env     *budget.Envelope
	traceID string

	spec        *task.Spec
	complexity  float64
	plan        *task.Plan
	simulation  *task.SimulationReport
	stepResults []task.StepResult
	critique    *planner.Critique
	answer      string

	replansUsed int
	phase       Phase
}

// Execute runs the task to a terminal result. It never returns an uncaught
// error: every terminal path yields a Result with status, error, budget
// usage, and trace populated.
func (e *TaskExecutor) Execute(ctx context.Context, t task.Task, env *budget.Envelope) *task.Result {
	traceID := uuid.NewString()
	_ = e.tracer.CreateTrace(traceID, t.ID, env.Limits())

	r := &run{
		task:    t,
		env:     env,
		traceID: traceID,
		phase:   PhaseIdle,
	}

	e.transition(r, PhaseSpec)

	for {
		switch r.phase {
		case PhaseSpec:
			e.emitProgress(r, "specifying", 0, 0)
			if done := e.runSpec(ctx, r); done != nil {
				return done
			}
			e.transition(r, PhasePlan)

		case PhasePlan:
			e.emitProgress(r, "planning", 0, 0)
			if done := e.runPlan(ctx, r); done != nil {
				return done
			}
			e.transition(r, PhaseSimulate)

		case PhaseSimulate:
			e.emitProgress(r, "simulating", 0, 0)
			e.runSimulate(r)
			if len(r.plan.Steps) == 0 {
				e.transition(r, PhaseSynthesize)
			} else {
				e.transition(r, PhaseAct)
			}

		case PhaseAct:
			if done := e.runAct(ctx, r); done != nil {
				return done
			}
			// runAct transitions to critique or recover itself.

		case PhaseCritique:
			e.emitProgress(r, "critiquing", 0, 0)
			if done := e.runCritique(ctx, r); done != nil {
				return done
			}

		case PhaseRecover:
			if done := e.runRecover(r); done != nil {
				return done
			}

		case PhaseSynthesize:
			e.emitProgress(r, "synthesizing", 0, 0)
			if done := e.runSynthesize(ctx, r); done != nil {
				return done
			}
			e.transition(r, PhaseDone)

		case PhaseDone:
			return e.finish(ctx, r, task.StatusCompleted, "")

		default:
			return e.finish(ctx, r, task.StatusFailed, fmt.Sprintf("unexpected phase '%s'", r.phase))
		}
	}
}

func (e *TaskExecutor) transition(r *run, next Phase) {
	_ = e.tracer.LogEvent(r.traceID, trace.EventStateTransition, map[string]any{
		"from": string(r.phase),
		"to":   string(next),
	})
	e.logger.Debug("state transition", "task", r.task.ID, "from", string(r.phase), "to", string(next))
	r.phase = next
}

func (e *TaskExecutor) emitProgress(r *run, phase string, stepIndex, totalSteps int) {
	if e.opts.OnProgress == nil {
		return
	}
	e.opts.OnProgress(Progress{
		Phase:      phase,
		StepIndex:  stepIndex,
		TotalSteps: totalSteps,
		Usage:      r.env.Usage(),
	})
}

// ============================================================================
// PHASES
// ============================================================================

func (e *TaskExecutor) runSpec(ctx context.Context, r *run) *task.Result {
	spanID, _ := e.tracer.StartSpan(r.traceID, "spec", nil)
	defer func() { _ = e.tracer.EndSpan(r.traceID, spanID) }()

	spec, err := e.planner.Specify(ctx, r.task, r.env, r.traceID)
	if err != nil {
		return e.failOn(ctx, r, err, "spec generation failed")
	}
	r.spec = spec
	return nil
}

func (e *TaskExecutor) runPlan(ctx context.Context, r *run) *task.Result {
	spanID, _ := e.tracer.StartSpan(r.traceID, "plan", nil)
	defer func() { _ = e.tracer.EndSpan(r.traceID, spanID) }()

	if r.complexity == 0 {
		complexity, err := e.planner.ClassifyComplexity(ctx, r.task, r.env, r.traceID)
		if err != nil {
			return e.failOn(ctx, r, err, "complexity classification failed")
		}
		r.complexity = complexity
	}

	plan, err := e.planner.BuildPlan(ctx, r.task, r.complexity, r.env, r.traceID)
	if err != nil {
		return e.failOn(ctx, r, err, "plan generation failed")
	}
	// Unknown tools are not fatal here; simulation drops those steps before
	// anything executes.

	e.planner.AnnotateStrategies(r.task, plan)
	for _, step := range plan.Steps {
		if step.Strategy != nil {
			_ = e.tracer.LogEvent(r.traceID, trace.EventStrategySelected, map[string]any{
				"step_index": step.Index,
				"primary":    step.Strategy.Primary,
				"reason":     step.Strategy.Reason,
			})
		}
	}

	r.plan = plan
	return nil
}

func (e *TaskExecutor) runSimulate(r *run) {
	spanID, _ := e.tracer.StartSpan(r.traceID, "simulate", nil)
	defer func() { _ = e.tracer.EndSpan(r.traceID, spanID) }()

	report := e.sim.Simulate(r.plan)
	_ = e.tracer.LogEvent(r.traceID, trace.EventSimulationResult, map[string]any{
		"valid":  report.Valid,
		"issues": len(report.Issues),
	})

	r.simulation = report
	r.plan = simulator.Prune(r.plan, report)
}

func (e *TaskExecutor) runAct(ctx context.Context, r *run) *task.Result {
	spanID, _ := e.tracer.StartSpan(r.traceID, "act", nil)
	defer func() { _ = e.tracer.EndSpan(r.traceID, spanID) }()

	total := len(r.plan.Steps)
	interval := checkpointInterval(total)

	for i, step := range r.plan.Steps {
		if err := ctx.Err(); err != nil {
			return e.failOn(ctx, r, err, "execution cancelled")
		}
		if err := r.env.CheckBudget(); err != nil {
			return e.failOn(ctx, r, err, "budget exhausted during execution")
		}

		if interval > 0 && i > 0 && i%interval == 0 {
			if recovered := e.runCheckpoint(r, i, total); recovered {
				return nil
			}
		}

		e.emitProgress(r, "executing", i, total)

		if err := r.env.DeductToolCall(); err != nil {
			return e.failOn(ctx, r, err, "budget exhausted during execution")
		}

		sr := e.executeStep(ctx, r, step)
		r.stepResults = append(r.stepResults, sr)

		if !sr.Success {
			e.transition(r, PhaseCritique)
			return nil
		}
	}

	e.transition(r, PhaseCritique)
	return nil
}

// checkpointInterval returns the step interval for goal checkpoints: every
// ceil(n/3) steps, floored at 3, only for plans of length >= 4.
func checkpointInterval(totalSteps int) int {
	if totalSteps < 4 {
		return 0
	}
	interval := (totalSteps + 2) / 3
	if interval < 3 {
		interval = 3
	}
	return interval
}

// runCheckpoint assesses drift at a checkpoint. Returns true when drift is
// severe enough to divert into recovery.
func (e *TaskExecutor) runCheckpoint(r *run, stepIndex, total int) bool {
	e.transition(r, PhaseCheckpoint)

	failures := 0
	for _, sr := range r.stepResults {
		if !sr.Success {
			failures++
		}
	}
	drift := 0.0
	if len(r.stepResults) > 0 {
		drift = float64(failures) / float64(len(r.stepResults))
	}
	onTrack := drift < e.opts.CheckpointDrift

	data := map[string]any{
		"step_index":  stepIndex,
		"total_steps": total,
		"on_track":    onTrack,
	}
	if !onTrack {
		data["drift"] = drift
	}
	_ = e.tracer.LogEvent(r.traceID, trace.EventGoalCheckpoint, data)

	if !onTrack {
		e.transition(r, PhaseRecover)
		return true
	}
	e.transition(r, PhaseAct)
	return false
}

func (e *TaskExecutor) executeStep(ctx context.Context, r *run, step task.PlanStep) task.StepResult {
	spanID, _ := e.tracer.StartSpan(r.traceID, fmt.Sprintf("step-%d", step.Index), map[string]any{
		"tool": step.ToolName,
	})
	defer func() { _ = e.tracer.EndSpan(r.traceID, spanID) }()

	result, invokeErr := e.tools.Invoke(ctx, tools.Invocation{
		ToolName: step.ToolName,
		Input:    step.ToolArgs,
	})

	_ = e.tracer.LogEvent(r.traceID, trace.EventToolInvocation, map[string]any{
		"tool":    step.ToolName,
		"success": result.Success,
	})

	sr := task.StepResult{
		StepIndex: step.Index,
		ToolName:  step.ToolName,
		ToolArgs:  step.ToolArgs,
		Output:    result.Output,
		Success:   result.Success,
		Duration:  result.Duration,
	}
	if !result.Success {
		sr.Error = result.Error
		if invokeErr != nil {
			sr.Error = invokeErr.Error()
		}
	}
	return sr
}

func (e *TaskExecutor) runCritique(ctx context.Context, r *run) *task.Result {
	spanID, _ := e.tracer.StartSpan(r.traceID, "critique", nil)
	defer func() { _ = e.tracer.EndSpan(r.traceID, spanID) }()

	critique, err := e.planner.CritiquePlan(ctx, r.plan, r.stepResults, r.env, r.traceID)
	if err != nil {
		if errors.Is(err, budget.ErrExhausted) {
			return e.failOn(ctx, r, err, "budget exhausted during critique")
		}
		// A failed critique call is not fatal; proceed with no confidences.
		e.logger.Warn("critique failed", "task", r.task.ID, "error", err)
		critique = &planner.Critique{Overall: e.opts.RecoverConfidence}
	}
	r.critique = critique

	for i := range r.stepResults {
		if i < len(critique.StepConfidences) {
			confidence := critique.StepConfidences[i]
			r.stepResults[i].Confidence = &confidence
		}
	}

	anyFailed := false
	for _, sr := range r.stepResults {
		if !sr.Success {
			anyFailed = true
			break
		}
	}

	if anyFailed && critique.Overall < e.opts.RecoverConfidence && r.replansUsed < e.opts.MaxReplanDepth {
		e.transition(r, PhaseRecover)
		return nil
	}
	if anyFailed && critique.Overall < e.opts.RecoverConfidence {
		// Replans exhausted.
		return e.finish(ctx, r, task.StatusFailed, "plan failed and replan budget is exhausted")
	}

	e.transition(r, PhaseSynthesize)
	return nil
}

func (e *TaskExecutor) runRecover(r *run) *task.Result {
	if r.replansUsed >= e.opts.MaxReplanDepth {
		return e.finish(context.Background(), r, task.StatusFailed, "replan budget exhausted")
	}
	r.replansUsed++

	_ = e.tracer.LogEvent(r.traceID, trace.EventReplan, map[string]any{
		"attempt": r.replansUsed,
		"max":     e.opts.MaxReplanDepth,
	})
	e.logger.Info("recovering via replan", "task", r.task.ID, "attempt", r.replansUsed)

	e.transition(r, PhasePlan)
	return nil
}

func (e *TaskExecutor) runSynthesize(ctx context.Context, r *run) *task.Result {
	spanID, _ := e.tracer.StartSpan(r.traceID, "synthesize", nil)
	defer func() { _ = e.tracer.EndSpan(r.traceID, spanID) }()

	history := CompressResults(r.stepResults)
	goal := r.task.Description
	if r.spec != nil {
		goal = r.spec.Goal
	}

	resp, _, err := e.caller.Call(ctx, r.env, model.Request{
		Purpose: router.PurposeSynthesize,
		System:  "You write the final answer for a completed agent task. Be direct and factual.",
		Messages: []llms.Message{
			{Role: "user", Content: fmt.Sprintf("Goal: %s\n\nStep results:\n%s\n\nWrite the final answer.", goal, history)},
		},
		TraceID: r.traceID,
	})
	if err != nil {
		return e.failOn(ctx, r, err, "synthesis failed")
	}

	r.answer = resp.Content
	return nil
}

// ============================================================================
// TERMINATION
// ============================================================================

func (e *TaskExecutor) failOn(ctx context.Context, r *run, err error, msg string) *task.Result {
	if errors.Is(err, budget.ErrExhausted) {
		_ = e.tracer.LogEvent(r.traceID, trace.EventBudgetExhausted, map[string]any{"error": err.Error()})
		return e.finish(ctx, r, task.StatusBudgetExhausted, err.Error())
	}

	_ = e.tracer.LogEvent(r.traceID, trace.EventError, map[string]any{
		"context": msg,
		"error":   err.Error(),
	})
	return e.finish(ctx, r, task.StatusFailed, fmt.Sprintf("%s: %v", msg, err))
}

func (e *TaskExecutor) finish(ctx context.Context, r *run, status task.Status, errMsg string) *task.Result {
	if status != task.StatusCompleted {
		e.transition(r, PhaseFailed)
	}

	result := &task.Result{
		ID:          uuid.NewString(),
		TaskID:      r.task.ID,
		TraceID:     r.traceID,
		Status:      status,
		Spec:        r.spec,
		Plan:        r.plan,
		StepResults: r.stepResults,
		Answer:      r.answer,
		Error:       errMsg,
		Simulation:  r.simulation,
		BudgetUsed:  r.env.Usage(),
		CompletedAt: time.Now(),
	}

	if status == task.StatusCompleted && r.spec != nil {
		result.CriteriaResults = evaluateCriteria(ctx, e.tools, r.spec, r.stepResults, r.answer)
	}

	if snapshot, err := e.tracer.GetTrace(r.traceID, r.env.Usage()); err == nil {
		result.Trace = snapshot
	}
	e.tracer.DeleteTrace(r.traceID)

	return result
}
