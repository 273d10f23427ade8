package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ampere-run/ampere/pkg/budget"
	"github.com/ampere-run/ampere/pkg/llms"
	"github.com/ampere-run/ampere/pkg/model"
	"github.com/ampere-run/ampere/pkg/router"
	"github.com/ampere-run/ampere/pkg/task"
	"github.com/ampere-run/ampere/pkg/tools"
	"github.com/ampere-run/ampere/pkg/trace"
)

// DirectOptions tunes the reactive loop.
type DirectOptions struct {
	// MaxIterations bounds the react loop. Default 10.
	MaxIterations int

	// WallTimeout bounds the whole run. Default 5 minutes.
	WallTimeout time.Duration

	// WindowSize is the sliding message window: the first user turn plus the
	// most recent WindowSize messages. Default 20.
	WindowSize int
}

func (o *DirectOptions) setDefaults() {
	if o.MaxIterations == 0 {
		o.MaxIterations = 10
	}
	if o.WallTimeout == 0 {
		o.WallTimeout = 5 * time.Minute
	}
	if o.WindowSize == 0 {
		o.WindowSize = 20
	}
}

const (
	// Consecutive calls to one tool before the circuit breaker trips.
	circuitBreakerLimit = 3

	// Oversized string arguments are capped at this many characters.
	argCharLimit = 50_000
)

// DirectExecutor runs a task as a tight react loop: prompt, parse, invoke
// tools, repeat. It is the lighter alternative to the state machine.
type DirectExecutor struct {
	caller *model.Caller
	tools  *tools.Registry
	tracer *trace.Logger
	logger *slog.Logger
	opts   DirectOptions
}

// NewDirectExecutor wires a direct executor.
func NewDirectExecutor(caller *model.Caller, registry *tools.Registry, tracer *trace.Logger, logger *slog.Logger, opts DirectOptions) *DirectExecutor {
	opts.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectExecutor{
		caller: caller,
		tools:  registry,
		tracer: tracer,
		logger: logger,
		opts:   opts,
	}
}

// DirectRequest shapes the system prompt of a direct run.
type DirectRequest struct {
	Role         string
	Instructions string
	OutputSchema map[string]any
}

// modelTurn is the tagged decoding of one model response: either a final
// answer or a batch of tool calls.
type modelTurn struct {
	Answer    *string `json:"answer"`
	ToolCalls []struct {
		ToolName string         `json:"toolName"`
		ToolArgs map[string]any `json:"toolArgs"`
	} `json:"tool_calls"`
}

// Execute runs the react loop to a terminal result.
func (e *DirectExecutor) Execute(ctx context.Context, t task.Task, env *budget.Envelope, req DirectRequest) *task.Result {
	traceID := uuid.NewString()
	_ = e.tracer.CreateTrace(traceID, t.ID, env.Limits())

	start := time.Now()
	system := e.buildSystemPrompt(req)
	messages := []llms.Message{{Role: "user", Content: t.Description}}

	var stepResults []task.StepResult
	var lastAssistant string

	blocked := make(map[string]bool)
	lastTool := ""
	consecutive := 0

	finish := func(status task.Status, answer, errMsg string) *task.Result {
		result := &task.Result{
			ID:          uuid.NewString(),
			TaskID:      t.ID,
			TraceID:     traceID,
			Status:      status,
			StepResults: stepResults,
			Answer:      answer,
			Error:       errMsg,
			BudgetUsed:  env.Usage(),
			CompletedAt: time.Now(),
		}
		if snapshot, err := e.tracer.GetTrace(traceID, env.Usage()); err == nil {
			result.Trace = snapshot
		}
		e.tracer.DeleteTrace(traceID)
		return result
	}

	for iteration := 0; iteration < e.opts.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return finish(task.StatusFailed, lastAssistant, "cancelled")
		}
		if time.Since(start) > e.opts.WallTimeout {
			return finish(task.StatusFailed, lastAssistant, fmt.Sprintf("wall timeout after %s", e.opts.WallTimeout))
		}
		if err := env.CheckBudget(); err != nil {
			return finish(task.StatusBudgetExhausted, lastAssistant, err.Error())
		}

		windowed := slidingWindow(messages, e.opts.WindowSize)

		resp, err := e.callModel(ctx, env, system, windowed, traceID)
		if err != nil {
			if checkErr := env.CheckBudget(); checkErr != nil {
				return finish(task.StatusBudgetExhausted, lastAssistant, checkErr.Error())
			}
			return finish(task.StatusFailed, lastAssistant, err.Error())
		}
		lastAssistant = resp.Content
		messages = append(messages, llms.Message{Role: "assistant", Content: resp.Content})

		var turn modelTurn
		if parseErr := llms.ParseJSONResponse(resp.Content, &turn); parseErr != nil {
			// Not the expected envelope: take the raw text as the answer.
			return finish(task.StatusCompleted, resp.Content, "")
		}

		if turn.Answer != nil {
			return finish(task.StatusCompleted, *turn.Answer, "")
		}
		if len(turn.ToolCalls) == 0 {
			return finish(task.StatusCompleted, resp.Content, "")
		}

		for _, call := range turn.ToolCalls {
			if blocked[call.ToolName] {
				messages = append(messages, llms.Message{
					Role:    "user",
					Content: fmt.Sprintf("<tool_results>tool '%s' is blocked for the rest of this task (called too many times in a row)</tool_results>", call.ToolName),
				})
				continue
			}

			if call.ToolName == lastTool {
				consecutive++
			} else {
				lastTool = call.ToolName
				consecutive = 1
			}
			if consecutive >= circuitBreakerLimit {
				blocked[call.ToolName] = true
				e.logger.Warn("circuit breaker tripped", "tool", call.ToolName, "task", t.ID)
			}

			if err := env.DeductToolCall(); err != nil {
				return finish(task.StatusBudgetExhausted, lastAssistant, err.Error())
			}

			sr := e.invokeTool(ctx, traceID, call.ToolName, sanitizeArgs(call.ToolArgs))
			sr.StepIndex = len(stepResults)
			stepResults = append(stepResults, sr)

			messages = append(messages, llms.Message{
				Role:    "user",
				Content: wrapToolResult(sr),
			})
		}
	}

	return finish(task.StatusFailed, lastAssistant, fmt.Sprintf("no final answer after %d iterations", e.opts.MaxIterations))
}

func (e *DirectExecutor) buildSystemPrompt(req DirectRequest) string {
	var b strings.Builder

	role := req.Role
	if role == "" {
		role = "You are an autonomous assistant that completes tasks with tools."
	}
	b.WriteString(role)
	b.WriteString("\n\n")

	if req.Instructions != "" {
		b.WriteString(req.Instructions)
		b.WriteString("\n\n")
	}

	descriptions := e.tools.GetToolDescriptions()
	if len(descriptions) > 0 {
		b.WriteString("Available tools:\n")
		for _, d := range descriptions {
			fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.Description)
		}
		b.WriteString("\n")
	}

	b.WriteString(`Respond with JSON only. Either {"answer": "..."} when done, or {"tool_calls": [{"toolName": "...", "toolArgs": {...}}]} to act.`)

	if req.OutputSchema != nil {
		if raw, err := json.Marshal(req.OutputSchema); err == nil {
			fmt.Fprintf(&b, "\nThe final answer must conform to this JSON schema: %s", raw)
		}
	}
	return b.String()
}

func (e *DirectExecutor) callModel(ctx context.Context, env *budget.Envelope, system string, messages []llms.Message, traceID string) (*llms.ModelResponse, error) {
	spanID, _ := e.tracer.StartSpan(traceID, "llm-call", nil)
	defer func() { _ = e.tracer.EndSpan(traceID, spanID) }()

	resp, _, err := e.caller.Call(ctx, env, model.Request{
		Purpose:  router.PurposeExecute,
		System:   system,
		Messages: messages,
		TraceID:  traceID,
	})
	if err == nil {
		return resp, nil
	}
	if !errorsIsRoute(err) {
		return nil, err
	}

	// No provider could serve the execute route; fall back to classify.
	resp, _, err = e.caller.Call(ctx, env, model.Request{
		Purpose:  router.PurposeClassify,
		System:   system,
		Messages: messages,
		TraceID:  traceID,
	})
	return resp, err
}

func errorsIsRoute(err error) bool {
	return errors.Is(err, router.ErrNoAvailableProvider)
}

func (e *DirectExecutor) invokeTool(ctx context.Context, traceID, toolName string, args map[string]any) task.StepResult {
	spanID, _ := e.tracer.StartSpan(traceID, "tool-call", map[string]any{"tool": toolName})
	defer func() { _ = e.tracer.EndSpan(traceID, spanID) }()

	result, invokeErr := e.tools.Invoke(ctx, tools.Invocation{ToolName: toolName, Input: args})

	_ = e.tracer.LogEvent(traceID, trace.EventToolInvocation, map[string]any{
		"tool":    toolName,
		"success": result.Success,
	})

	sr := task.StepResult{
		ToolName: toolName,
		ToolArgs: args,
		Output:   result.Output,
		Success:  result.Success,
		Duration: result.Duration,
	}
	if !result.Success {
		sr.Error = result.Error
		if invokeErr != nil {
			sr.Error = invokeErr.Error()
		}
	}
	return sr
}

// sanitizeArgs caps oversized string arguments.
func sanitizeArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok && len(s) > argCharLimit {
			out[k] = s[:argCharLimit]
			continue
		}
		out[k] = v
	}
	return out
}

// wrapToolResult renders an invocation outcome for the next model turn,
// stripping any embedded result delimiters first.
func wrapToolResult(sr task.StepResult) string {
	var body string
	if sr.Success {
		if raw, err := json.Marshal(sr.Output); err == nil {
			body = string(raw)
		} else {
			body = fmt.Sprintf("%v", sr.Output)
		}
	} else {
		body = fmt.Sprintf("error: %s", sr.Error)
	}

	body = strings.ReplaceAll(body, "<tool_results>", "")
	body = strings.ReplaceAll(body, "</tool_results>", "")

	return fmt.Sprintf("<tool_results>\n%s: %s\n</tool_results>", sr.ToolName, body)
}

// slidingWindow keeps the first user turn plus the most recent limit
// messages.
func slidingWindow(messages []llms.Message, limit int) []llms.Message {
	if len(messages) <= limit {
		return messages
	}

	out := make([]llms.Message, 0, limit+1)
	out = append(out, messages[0])
	out = append(out, messages[len(messages)-limit:]...)
	return out
}
