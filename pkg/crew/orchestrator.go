package crew

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/ampere-run/ampere/pkg/budget"
	"github.com/ampere-run/ampere/pkg/executor"
	"github.com/ampere-run/ampere/pkg/llms"
	"github.com/ampere-run/ampere/pkg/model"
	"github.com/ampere-run/ampere/pkg/planner"
	"github.com/ampere-run/ampere/pkg/router"
	"github.com/ampere-run/ampere/pkg/simulator"
	"github.com/ampere-run/ampere/pkg/task"
	"github.com/ampere-run/ampere/pkg/tools"
	"github.com/ampere-run/ampere/pkg/trace"
)

// Orchestrator drives crews. It exclusively owns per-agent sub-envelopes and
// the blackboard of each execution.
type Orchestrator struct {
	caller *model.Caller
	router *router.Router
	tools  *tools.Registry
	tracer *trace.Logger
	logger *slog.Logger

	directOpts executor.DirectOptions
	execOpts   executor.Options
}

// NewOrchestrator wires a crew orchestrator.
func NewOrchestrator(caller *model.Caller, rt *router.Router, registry *tools.Registry, tracer *trace.Logger, logger *slog.Logger, directOpts executor.DirectOptions, execOpts executor.Options) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		caller:     caller,
		router:     rt,
		tools:      registry,
		tracer:     tracer,
		logger:     logger,
		directOpts: directOpts,
		execOpts:   execOpts,
	}
}

// EventFunc observes crew execution; may be nil.
type EventFunc func(StreamEvent)

// ExecuteCrew runs a crew to a terminal result. Invalid crews terminate with
// status failed before any agent executes.
func (o *Orchestrator) ExecuteCrew(ctx context.Context, def Definition, t task.Task, env *budget.Envelope, onEvent EventFunc) *Result {
	if err := def.Validate(); err != nil {
		return &Result{
			CrewName: def.Name,
			Status:   task.StatusFailed,
			Error:    err.Error(),
			Usage:    env.Usage(),
		}
	}

	board := NewBlackboard()

	var agentResults []AgentResult
	var crewErr string

	switch def.Strategy {
	case StrategySequential:
		agentResults = o.runSequential(ctx, def, t, env, board, onEvent)
	case StrategyParallel:
		agentResults, crewErr = o.runParallel(ctx, def, t, env, board, onEvent)
	case StrategyGraph:
		agentResults = o.runGraph(ctx, def, t, env, board, onEvent)
	case StrategyHierarchical:
		agentResults, crewErr = o.runHierarchical(ctx, def, t, env, board, onEvent)
	}

	result := &Result{
		CrewName:     def.Name,
		AgentResults: agentResults,
		Usage:        env.Usage(),
		Error:        crewErr,
	}

	result.Status = task.StatusFailed
	for _, ar := range agentResults {
		if ar.Status == task.StatusCompleted {
			result.Status = task.StatusCompleted
			break
		}
	}
	if result.Status == task.StatusFailed && result.Error == "" {
		result.Error = "no agent completed"
	}

	result.Output = aggregate(def.Aggregation, agentResults)

	if onEvent != nil {
		onEvent(StreamEvent{Type: EventCrewComplete, CrewResult: result})
	}
	return result
}

// ExecuteCrewStream runs the crew in a goroutine and yields typed events.
// The channel closes after the crew-complete event.
func (o *Orchestrator) ExecuteCrewStream(ctx context.Context, def Definition, t task.Task, env *budget.Envelope) <-chan StreamEvent {
	events := make(chan StreamEvent, len(def.Agents)*2+4)

	go func() {
		defer close(events)
		o.ExecuteCrew(ctx, def, t, env, func(ev StreamEvent) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		})
	}()

	return events
}

// ============================================================================
// STRATEGIES
// ============================================================================

func (o *Orchestrator) runSequential(ctx context.Context, def Definition, t task.Task, env *budget.Envelope, board *Blackboard, onEvent EventFunc) []AgentResult {
	order := def.Agents
	if len(def.AgentOrder) > 0 {
		order = nil
		byID := make(map[string]AgentDefinition, len(def.Agents))
		for _, agent := range def.Agents {
			byID[agent.ID] = agent
		}
		for _, id := range def.AgentOrder {
			order = append(order, byID[id])
		}
	}

	var results []AgentResult
	for _, agent := range order {
		sub, err := env.NewSubEnvelope(o.shareFor(def, agent))
		if err != nil {
			results = append(results, AgentResult{AgentID: agent.ID, Status: task.StatusFailed, Error: err.Error()})
			continue
		}

		ar := o.runAgent(ctx, def, agent, t, sub, board, onEvent)
		env.Mirror(sub)
		results = append(results, ar)
	}
	return results
}

func (o *Orchestrator) runParallel(ctx context.Context, def Definition, t task.Task, env *budget.Envelope, board *Blackboard, onEvent EventFunc) ([]AgentResult, string) {
	// Pre-allocate every sub-envelope before any agent starts.
	subs := make([]*budget.Envelope, len(def.Agents))
	for i, agent := range def.Agents {
		sub, err := env.NewSubEnvelope(o.shareFor(def, agent))
		if err != nil {
			return nil, fmt.Sprintf("failed to allocate budget for agent '%s': %v", agent.ID, err)
		}
		subs[i] = sub
	}

	results := make([]AgentResult, len(def.Agents))

	g, gctx := errgroup.WithContext(ctx)
	for i, agent := range def.Agents {
		g.Go(func() error {
			results[i] = o.runAgent(gctx, def, agent, t, subs[i], board, onEvent)
			return nil
		})
	}
	_ = g.Wait()

	// All agents terminated: fold every sub-envelope into the parent.
	for _, sub := range subs {
		env.Mirror(sub)
	}
	return results, ""
}

func (o *Orchestrator) runGraph(ctx context.Context, def Definition, t task.Task, env *budget.Envelope, board *Blackboard, onEvent EventFunc) []AgentResult {
	order, err := topologicalOrder(&def)
	if err != nil {
		// Validate has already rejected cyclic graphs.
		return nil
	}

	byID := make(map[string]AgentDefinition, len(def.Agents))
	for _, agent := range def.Agents {
		byID[agent.ID] = agent
	}

	incoming := make(map[string][]Edge)
	for _, edge := range def.Graph {
		incoming[edge.To] = append(incoming[edge.To], edge)
	}

	terminated := make(map[string]bool)

	var results []AgentResult
	for _, id := range order {
		runnable := true
		for _, edge := range incoming[id] {
			if !terminated[edge.From] {
				runnable = false
				break
			}
			if !evaluateCondition(edge.Condition, board) {
				o.logger.Debug(describeSkip(id, edge.Condition))
				runnable = false
				break
			}
		}
		if !runnable {
			continue
		}

		agent := byID[id]
		sub, err := env.NewSubEnvelope(o.shareFor(def, agent))
		if err != nil {
			results = append(results, AgentResult{AgentID: id, Status: task.StatusFailed, Error: err.Error()})
			terminated[id] = true
			continue
		}

		ar := o.runAgent(ctx, def, agent, t, sub, board, onEvent)
		env.Mirror(sub)
		terminated[id] = true
		results = append(results, ar)
	}
	return results
}

// delegation is the manager's instruction to one worker.
type delegation struct {
	AgentID      string `json:"agentId"`
	Instructions string `json:"instructions"`
}

func (o *Orchestrator) runHierarchical(ctx context.Context, def Definition, t task.Task, env *budget.Envelope, board *Blackboard, onEvent EventFunc) ([]AgentResult, string) {
	manager := def.Agents[0]
	workers := def.Agents[1:]

	managerSub, err := env.NewSubEnvelope(o.shareFor(def, manager))
	if err != nil {
		return nil, fmt.Sprintf("failed to allocate manager budget: %v", err)
	}

	// Pass one: the manager decomposes the task into delegations.
	workerList := make([]string, 0, len(workers))
	for _, w := range workers {
		workerList = append(workerList, fmt.Sprintf("- %s: %s", w.ID, w.Role))
	}

	delegations := o.requestDelegations(ctx, manager, t, managerSub, workerList)

	byID := make(map[string]AgentDefinition, len(workers))
	for _, w := range workers {
		byID[w.ID] = w
	}

	var results []AgentResult
	for _, d := range delegations {
		worker, ok := byID[d.AgentID]
		if !ok {
			continue
		}
		if d.Instructions != "" {
			worker.Instructions = strings.TrimSpace(worker.Instructions + "\n" + d.Instructions)
		}

		sub, err := env.NewSubEnvelope(o.shareFor(def, worker))
		if err != nil {
			results = append(results, AgentResult{AgentID: worker.ID, Status: task.StatusFailed, Error: err.Error()})
			continue
		}
		ar := o.runAgent(ctx, def, worker, t, sub, board, onEvent)
		env.Mirror(sub)
		results = append(results, ar)
	}

	// Pass two: the manager synthesises over the workers' blackboard.
	if onEvent != nil {
		onEvent(StreamEvent{Type: EventAgentStart, AgentID: manager.ID})
	}

	synthesis := t
	synthesis.Description = fmt.Sprintf("%s\n\n%s\nSynthesize the final answer from the worker results above.", t.Description, board.Render())

	direct := executor.NewDirectExecutor(o.caller, o.tools.CreateFiltered(manager.AllowedTools), o.tracer, o.logger, o.directOptsFor(manager))
	managerResult := direct.Execute(ctx, synthesis, managerSub, executor.DirectRequest{
		Role:         manager.Role,
		Instructions: manager.Instructions,
		OutputSchema: manager.OutputSchema,
	})
	env.Mirror(managerSub)

	ar := agentResultFrom(manager.ID, managerResult)
	board.Write(BlackboardEntry{AgentID: manager.ID, Result: ar.Output, Status: blackboardStatus(ar.Status)})
	if onEvent != nil {
		onEvent(StreamEvent{Type: EventAgentComplete, AgentID: manager.ID, AgentResult: &ar})
	}

	results = append(results, ar)
	return results, ""
}

// requestDelegations asks the manager for work assignments; on unparseable
// output every worker is delegated with its own instructions.
func (o *Orchestrator) requestDelegations(ctx context.Context, manager AgentDefinition, t task.Task, managerSub *budget.Envelope, workerList []string) []delegation {
	prompt := fmt.Sprintf(
		"Task: %s\n\nAvailable workers:\n%s\n\nRespond with JSON only: {\"delegations\": [{\"agentId\": string, \"instructions\": string}]}",
		t.Description, strings.Join(workerList, "\n"))

	resp, _, err := o.caller.Call(ctx, managerSub, model.Request{
		Purpose: router.PurposePlan,
		System:  fmt.Sprintf("%s\nYou are the crew manager; you split work between workers.", manager.Role),
		Messages: []llms.Message{
			{Role: "user", Content: prompt},
		},
	})

	var payload struct {
		Delegations []delegation `json:"delegations"`
	}
	if err == nil {
		if parseErr := llms.ParseJSONResponse(resp.Content, &payload); parseErr == nil && len(payload.Delegations) > 0 {
			return payload.Delegations
		}
	}

	// Fallback: every worker gets the task as-is.
	var out []delegation
	for _, line := range workerList {
		id := strings.TrimPrefix(line, "- ")
		if i := strings.Index(id, ":"); i >= 0 {
			id = id[:i]
		}
		out = append(out, delegation{AgentID: id})
	}
	return out
}

// ============================================================================
// SINGLE-AGENT EXECUTION
// ============================================================================

// shareFor resolves an agent's budget share, defaulting to an equal split.
func (o *Orchestrator) shareFor(def Definition, agent AgentDefinition) float64 {
	if agent.BudgetShare > 0 {
		return agent.BudgetShare
	}
	return 1.0 / float64(len(def.Agents))
}

func (o *Orchestrator) directOptsFor(agent AgentDefinition) executor.DirectOptions {
	opts := o.directOpts
	if agent.MaxIterations > 0 {
		opts.MaxIterations = agent.MaxIterations
	}
	return opts
}

// runAgent executes one agent against its sub-envelope, retrying per the
// agent's retry policy, and writes its blackboard entry on termination.
func (o *Orchestrator) runAgent(ctx context.Context, def Definition, agent AgentDefinition, t task.Task, sub *budget.Envelope, board *Blackboard, onEvent EventFunc) AgentResult {
	if onEvent != nil {
		onEvent(StreamEvent{Type: EventAgentStart, AgentID: agent.ID})
	}

	agentTask := t
	if snapshot := board.Render(); snapshot != "" {
		agentTask.Description = fmt.Sprintf("%s\n\n%s", t.Description, snapshot)
	}

	filtered := o.tools.CreateFiltered(agent.AllowedTools)

	operation := func() (*task.Result, error) {
		var result *task.Result
		switch agent.ExecutionMode {
		case ModeFull:
			pl := planner.New(o.caller, o.router, filtered, o.tracer, o.logger)
			sim := simulator.New(filtered, o.logger)
			exec := executor.NewTaskExecutor(pl, sim, filtered, o.caller, o.router, o.tracer, o.logger, o.execOpts)
			result = exec.Execute(ctx, agentTask, sub)
		default:
			direct := executor.NewDirectExecutor(o.caller, filtered, o.tracer, o.logger, o.directOptsFor(agent))
			result = direct.Execute(ctx, agentTask, sub, executor.DirectRequest{
				Role:         agent.Role,
				Instructions: agent.Instructions,
				OutputSchema: agent.OutputSchema,
			})
		}

		switch result.Status {
		case task.StatusCompleted:
			return result, nil
		case task.StatusBudgetExhausted:
			// Never retried: the envelope is spent.
			return result, backoff.Permanent(errors.New(result.Error))
		default:
			return result, errors.New(result.Error)
		}
	}

	var result *task.Result
	if agent.MaxRetries > 0 {
		policy := backoff.NewConstantBackOff(agent.RetryDelay)
		_, err := backoff.Retry(ctx, func() (*task.Result, error) {
			r, opErr := operation()
			result = r
			return r, opErr
		}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(agent.MaxRetries+1)))
		if result == nil && err != nil {
			result = &task.Result{Status: task.StatusFailed, Error: err.Error()}
		}
	} else {
		result, _ = operation()
	}

	ar := agentResultFrom(agent.ID, result)

	board.Write(BlackboardEntry{
		AgentID: agent.ID,
		Result:  ar.Output,
		Status:  blackboardStatus(ar.Status),
	})

	if onEvent != nil {
		onEvent(StreamEvent{Type: EventAgentComplete, AgentID: agent.ID, AgentResult: &ar})
	}
	return ar
}

func agentResultFrom(agentID string, result *task.Result) AgentResult {
	if result == nil {
		return AgentResult{AgentID: agentID, Status: task.StatusFailed, Error: "agent produced no result"}
	}
	return AgentResult{
		AgentID:    agentID,
		Output:     result.Answer,
		Status:     result.Status,
		Error:      result.Error,
		Usage:      result.BudgetUsed,
		TaskResult: result,
	}
}

func blackboardStatus(status task.Status) string {
	if status == task.StatusCompleted {
		return "completed"
	}
	return "failed"
}

// aggregate combines agent outputs into the crew output.
func aggregate(mode Aggregation, results []AgentResult) string {
	switch mode {
	case AggregationLast:
		for i := len(results) - 1; i >= 0; i-- {
			if results[i].Status == task.StatusCompleted {
				return results[i].Output
			}
		}
		return ""
	default: // concat
		var parts []string
		for _, ar := range results {
			if ar.Output != "" {
				parts = append(parts, ar.Output)
			}
		}
		return strings.Join(parts, "\n\n---\n\n")
	}
}
