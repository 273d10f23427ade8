// Package planner builds task specs, classifies complexity, generates and
// validates execution plans, annotates steps with interaction strategies,
// and critiques executed plans.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ampere-run/ampere/pkg/budget"
	"github.com/ampere-run/ampere/pkg/llms"
	"github.com/ampere-run/ampere/pkg/model"
	"github.com/ampere-run/ampere/pkg/router"
	"github.com/ampere-run/ampere/pkg/task"
	"github.com/ampere-run/ampere/pkg/tools"
	"github.com/ampere-run/ampere/pkg/trace"
)

// ErrPlanValidation is the sentinel for unparseable or invalid plan output.
var ErrPlanValidation = errors.New("plan validation failed")

// Planner drives the specification, planning, and critique calls.
type Planner struct {
	caller *model.Caller
	router *router.Router
	tools  *tools.Registry
	tracer *trace.Logger
	logger *slog.Logger
}

// New wires a planner from its collaborators.
func New(caller *model.Caller, rt *router.Router, registry *tools.Registry, tracer *trace.Logger, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		caller: caller,
		router: rt,
		tools:  registry,
		tracer: tracer,
		logger: logger,
	}
}

// ============================================================================
// SPECIFICATION
// ============================================================================

const specifySystemPrompt = `You turn a user task into a precise specification.
Respond with JSON only: {"goal": string, "constraints": [string],
"successCriteria": [{"description": string, "type": "file_exists"|"output_contains"|"tool_succeeded"|"page_state"|"custom", "check": object}]}`

type specPayload struct {
	Goal            string `json:"goal"`
	Constraints     []string
	SuccessCriteria []struct {
		Description string         `json:"description"`
		Type        string         `json:"type"`
		Check       map[string]any `json:"check"`
	} `json:"successCriteria"`
}

// Specify produces a task spec. On unparseable model output it falls back to
// a minimal spec; the returned spec always has at least one success
// criterion.
func (p *Planner) Specify(ctx context.Context, t task.Task, env *budget.Envelope, traceID string) (*task.Spec, error) {
	resp, _, err := p.caller.Call(ctx, env, model.Request{
		Purpose: router.PurposeClassify,
		System:  specifySystemPrompt,
		Messages: []llms.Message{
			{Role: "user", Content: fmt.Sprintf("Task: %s", t.Description)},
		},
		TraceID: traceID,
	})
	if err != nil {
		return nil, err
	}

	spec := p.parseSpec(t, resp.Content)

	if p.tracer != nil && traceID != "" {
		_ = p.tracer.LogEvent(traceID, trace.EventSpecGenerated, map[string]any{
			"goal":     spec.Goal,
			"criteria": len(spec.SuccessCriteria),
		})
	}
	return spec, nil
}

func (p *Planner) parseSpec(t task.Task, content string) *task.Spec {
	var payload specPayload
	if err := llms.ParseJSONResponse(content, &payload); err != nil || payload.Goal == "" {
		p.logger.Debug("spec parse failed, using fallback", "task", t.ID)
		return fallbackSpec(t)
	}

	spec := &task.Spec{
		Goal:        payload.Goal,
		Constraints: payload.Constraints,
	}
	for _, c := range payload.SuccessCriteria {
		spec.SuccessCriteria = append(spec.SuccessCriteria, task.SuccessCriterion{
			Description: c.Description,
			Type:        task.CriterionType(c.Type),
			Check:       c.Check,
		})
	}
	if len(spec.SuccessCriteria) == 0 {
		spec.SuccessCriteria = fallbackSpec(t).SuccessCriteria
	}
	return spec
}

func fallbackSpec(t task.Task) *task.Spec {
	return &task.Spec{
		Goal:        t.Description,
		Constraints: []string{},
		SuccessCriteria: []task.SuccessCriterion{
			{
				Description: "Task completed successfully",
				Type:        task.CriterionToolSucceeded,
				Check:       map[string]any{},
			},
		},
	}
}

// ============================================================================
// COMPLEXITY
// ============================================================================

const classifySystemPrompt = `You estimate how complex a task is for an autonomous agent.
Respond with JSON only: {"complexity": number between 0 and 1}`

// ClassifyComplexity combines a model score with the deterministic
// action-intent classifier; the final complexity is the maximum of the two.
func (p *Planner) ClassifyComplexity(ctx context.Context, t task.Task, env *budget.Envelope, traceID string) (float64, error) {
	resp, _, err := p.caller.Call(ctx, env, model.Request{
		Purpose: router.PurposeClassify,
		System:  classifySystemPrompt,
		Messages: []llms.Message{
			{Role: "user", Content: t.Description},
		},
		TraceID: traceID,
	})
	if err != nil {
		return 0, err
	}

	modelScore := 0.5
	var payload struct {
		Complexity *float64 `json:"complexity"`
	}
	if err := llms.ParseJSONResponse(resp.Content, &payload); err == nil && payload.Complexity != nil {
		modelScore = clamp01(*payload.Complexity)
	}

	return max(modelScore, ActionIntent(t.Description)), nil
}

// ============================================================================
// PLAN GENERATION
// ============================================================================

const planSystemPrompt = `You plan tool-mediated steps for an autonomous agent.
Available tools:
%s
Respond with JSON only: {"steps": [{"description": string, "toolName": string, "toolArgs": object}]}.
Return {"steps": []} when the task needs no tools.`

type planPayload struct {
	Steps []struct {
		Description string         `json:"description"`
		ToolName    string         `json:"toolName"`
		ToolArgs    map[string]any `json:"toolArgs"`
	} `json:"steps"`
}

// BuildPlan generates an execution plan. An empty plan is valid for pure
// knowledge tasks, but when the action-intent classifier is positive an
// empty first attempt escalates once to the LLM tier and regenerates.
func (p *Planner) BuildPlan(ctx context.Context, t task.Task, complexity float64, env *budget.Envelope, traceID string) (*task.Plan, error) {
	plan, err := p.generatePlan(ctx, t, complexity, env, traceID, nil)
	if err != nil {
		return nil, err
	}

	if len(plan.Steps) == 0 && ActionIntent(t.Description) > 0 && env.CanAffordEscalation() {
		decision, escErr := p.router.Escalate(env, "action task produced an empty plan")
		if escErr == nil {
			if p.tracer != nil && traceID != "" {
				_ = p.tracer.LogEvent(traceID, trace.EventEscalation, map[string]any{
					"reason": "empty plan for action task",
					"model":  decision.Model,
				})
			}
			plan, err = p.generatePlan(ctx, t, 1.0, env, traceID, decision)
			if err != nil {
				return nil, err
			}
		}
	}

	return plan, nil
}

func (p *Planner) generatePlan(ctx context.Context, t task.Task, complexity float64, env *budget.Envelope, traceID string, decision *router.Decision) (*task.Plan, error) {
	descriptions := p.tools.GetToolDescriptions()
	var listing strings.Builder
	for _, d := range descriptions {
		fmt.Fprintf(&listing, "- %s: %s\n", d.Name, d.Description)
	}

	resp, _, err := p.caller.Call(ctx, env, model.Request{
		Purpose: router.PurposePlan,
		System:  fmt.Sprintf(planSystemPrompt, listing.String()),
		Messages: []llms.Message{
			{Role: "user", Content: t.Description},
		},
		Context:  &router.Context{Complexity: &complexity},
		TraceID:  traceID,
		Decision: decision,
	})
	if err != nil {
		return nil, err
	}

	var payload planPayload
	if err := llms.ParseJSONResponse(resp.Content, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanValidation, err)
	}

	plan := &task.Plan{TaskID: t.ID, Complexity: complexity}
	for i, s := range payload.Steps {
		plan.Steps = append(plan.Steps, task.PlanStep{
			Index:       i,
			Description: s.Description,
			ToolName:    s.ToolName,
			ToolArgs:    s.ToolArgs,
		})
	}
	return plan, nil
}

// ValidatePlan checks that every step names a registered tool and that step
// indices are unique. Empty plans are legal.
func (p *Planner) ValidatePlan(plan *task.Plan) error {
	seen := make(map[int]bool, len(plan.Steps))
	for _, step := range plan.Steps {
		if seen[step.Index] {
			return fmt.Errorf("%w: duplicate step index %d", ErrPlanValidation, step.Index)
		}
		seen[step.Index] = true

		if !p.tools.Has(step.ToolName) {
			return fmt.Errorf("%w: step %d references unknown tool '%s'", ErrPlanValidation, step.Index, step.ToolName)
		}
	}
	return nil
}

// ============================================================================
// STRATEGY ANNOTATION
// ============================================================================

// isBrowserTool reports whether a tool name carries the browser_ prefix that
// marks browser actions.
func isBrowserTool(name string) bool {
	return strings.HasPrefix(name, "browser_")
}

// AnnotateStrategies attaches an interaction strategy to every browser-family
// step, derived from task-description keywords. Non-browser steps get none.
func (p *Planner) AnnotateStrategies(t task.Task, plan *task.Plan) {
	lowered := strings.ToLower(t.Description)

	primary := "dom"
	reason := "default DOM interaction"
	switch {
	case strings.Contains(lowered, "visual") || strings.Contains(lowered, "screenshot") || strings.Contains(lowered, "looks like"):
		primary = "vision"
		reason = "task asks about visual appearance"
	case strings.Contains(lowered, "api") || strings.Contains(lowered, "fetch") || strings.Contains(lowered, "endpoint"):
		primary = "api"
		reason = "task references an API"
	}

	var fallback []string
	for _, candidate := range []string{"dom", "vision", "api"} {
		if candidate != primary {
			fallback = append(fallback, candidate)
		}
	}

	for i := range plan.Steps {
		if !isBrowserTool(plan.Steps[i].ToolName) {
			continue
		}
		plan.Steps[i].Strategy = &task.StepStrategy{
			Primary:       primary,
			FallbackChain: fallback,
			Reason:        reason,
		}
	}
}

// ============================================================================
// CRITIQUE
// ============================================================================

// Critique is a post-execution assessment of an executed plan.
type Critique struct {
	Overall         float64   `json:"overall"`
	StepConfidences []float64 `json:"step_confidences"`
	Issues          []string  `json:"issues,omitempty"`
}

const critiqueSystemPrompt = `You assess how well an executed plan achieved its task.
Respond with JSON only: {"overall": number 0..1, "stepConfidences": [number 0..1], "issues": [string]}`

// defaultStepConfidence is used when the model omits a step's confidence.
const defaultStepConfidence = 0.7

// failureDecayFactor discounts confidence of steps after a failed one.
const failureDecayFactor = 0.8

// CritiquePlan asks the verification tier to score the executed plan. Steps
// following a failed step have their confidence decayed, and a
// confidence_update event records the adjustment.
func (p *Planner) CritiquePlan(ctx context.Context, plan *task.Plan, stepResults []task.StepResult, env *budget.Envelope, traceID string) (*Critique, error) {
	var summary strings.Builder
	for _, sr := range stepResults {
		status := "ok"
		if !sr.Success {
			status = "FAILED: " + sr.Error
		}
		fmt.Fprintf(&summary, "step %d (%s): %s\n", sr.StepIndex, sr.ToolName, status)
	}

	resp, _, err := p.caller.Call(ctx, env, model.Request{
		Purpose: router.PurposeVerify,
		System:  critiqueSystemPrompt,
		Messages: []llms.Message{
			{Role: "user", Content: summary.String()},
		},
		TraceID: traceID,
	})
	if err != nil {
		return nil, err
	}

	critique := &Critique{Overall: defaultStepConfidence}
	var payload struct {
		Overall         *float64  `json:"overall"`
		StepConfidences []float64 `json:"stepConfidences"`
		Issues          []string  `json:"issues"`
	}
	if parseErr := llms.ParseJSONResponse(resp.Content, &payload); parseErr == nil {
		if payload.Overall != nil {
			critique.Overall = clamp01(*payload.Overall)
		}
		critique.StepConfidences = payload.StepConfidences
		critique.Issues = payload.Issues
	}

	// Pad or trim to one confidence per executed step.
	for len(critique.StepConfidences) < len(stepResults) {
		critique.StepConfidences = append(critique.StepConfidences, defaultStepConfidence)
	}
	critique.StepConfidences = critique.StepConfidences[:len(stepResults)]

	failed := false
	for i, sr := range stepResults {
		if failed {
			decayed := critique.StepConfidences[i] * failureDecayFactor
			critique.StepConfidences[i] = decayed
			if p.tracer != nil && traceID != "" {
				_ = p.tracer.LogEvent(traceID, trace.EventConfidenceUpdate, map[string]any{
					"step_index": sr.StepIndex,
					"confidence": decayed,
					"reason":     "prior step failure",
				})
			}
		}
		if !sr.Success {
			failed = true
		}
	}

	if p.tracer != nil && traceID != "" {
		_ = p.tracer.LogEvent(traceID, trace.EventPlanCritique, map[string]any{
			"overall": critique.Overall,
			"issues":  len(critique.Issues),
		})
	}
	return critique, nil
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
