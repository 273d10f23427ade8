package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/ampere-run/ampere/pkg/registry"
)

// ToolRegistryError reports a registry-level failure.
type ToolRegistryError struct {
	Component string
	Action    string
	Message   string
	Err       error
}

func (e *ToolRegistryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Action, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Action, e.Message)
}

func (e *ToolRegistryError) Unwrap() error {
	return e.Err
}

func NewToolRegistryError(component, action, message string, err error) *ToolRegistryError {
	return &ToolRegistryError{
		Component: component,
		Action:    action,
		Message:   message,
		Err:       err,
	}
}

// Registry stores tool definitions and executes invocations through the
// policy gate, input/output validation, and a deadline.
type Registry struct {
	*registry.BaseRegistry[*Tool]
	gate PolicyGate
}

// NewRegistry creates an empty tool registry with no gate attached.
func NewRegistry() *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[*Tool](),
	}
}

// SetGate attaches the policy gate consulted on every invocation.
func (r *Registry) SetGate(gate PolicyGate) {
	r.gate = gate
}

// Gate returns the attached policy gate, if any.
func (r *Registry) Gate() PolicyGate {
	return r.gate
}

// RegisterTool adds a tool definition. Tools without a source default to
// builtin.
func (r *Registry) RegisterTool(tool *Tool) error {
	if tool == nil {
		return NewToolRegistryError("ToolRegistry", "RegisterTool", "tool cannot be nil", nil)
	}
	if tool.Name == "" {
		return NewToolRegistryError("ToolRegistry", "RegisterTool", "tool name cannot be empty", nil)
	}
	if tool.Execute == nil {
		return NewToolRegistryError("ToolRegistry", "RegisterTool",
			fmt.Sprintf("tool '%s' has no executor", tool.Name), nil)
	}
	if tool.Source == "" {
		tool.Source = SourceBuiltin
	}
	return r.Register(tool.Name, tool)
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) error {
	return r.Remove(name)
}

// GetTool retrieves a tool definition by name.
func (r *Registry) GetTool(name string) (*Tool, error) {
	tool, exists := r.Get(name)
	if !exists {
		return nil, fmt.Errorf("%w: '%s'", ErrToolNotFound, name)
	}
	return tool, nil
}

// ListNames returns registered tool names in lexical order.
func (r *Registry) ListNames() []string {
	return r.Names()
}

// GetToolDescriptions returns prompt-ready descriptions, each enriched with
// the tool's argument names and types.
func (r *Registry) GetToolDescriptions() []Description {
	names := r.Names()
	out := make([]Description, 0, len(names))
	for _, name := range names {
		tool, exists := r.Get(name)
		if !exists {
			continue
		}
		desc := tool.Description
		if tool.InputSchema != nil {
			if args := tool.InputSchema.ArgSummary(); args != "" {
				desc = fmt.Sprintf("%s Arguments: %s", desc, args)
			}
		}
		out = append(out, Description{Name: name, Description: desc})
	}
	return out
}

// Invoke executes a tool through the full pipeline: gate, input validation,
// deadline-bounded execution, output validation. The returned error is
// non-nil only for unknown tools and critical policy denials; every other
// failure is encoded in the Result.
func (r *Registry) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	start := time.Now()

	tool, exists := r.Get(inv.ToolName)
	if !exists {
		err := fmt.Errorf("%w: '%s'", ErrToolNotFound, inv.ToolName)
		return Result{ToolName: inv.ToolName, Success: false, Error: err.Error()}, err
	}

	if r.gate != nil {
		violation := r.gate.CheckInvocation(ctx, GateRequest{
			ToolName: tool.Name,
			Tags:     tool.Tags,
			Args:     inv.Input,
		})
		if violation != nil {
			result := Result{
				ToolName: tool.Name,
				Success:  false,
				Error:    fmt.Sprintf("constitution violation [%s]: %s", violation.RuleID, violation.Description),
				Duration: time.Since(start),
			}
			if violation.Critical {
				return result, fmt.Errorf("%w: rule %s: %s", ErrConstitutionViolation, violation.RuleID, violation.Description)
			}
			return result, nil
		}
	}

	input := inv.Input
	if tool.InputSchema != nil {
		validated, err := tool.InputSchema.Validate(input)
		if err != nil {
			return Result{
				ToolName: tool.Name,
				Success:  false,
				Error:    fmt.Sprintf("invalid input: %v", err),
				Duration: time.Since(start),
			}, nil
		}
		if asMap, ok := validated.(map[string]any); ok {
			input = asMap
		}
	}

	deadline := effectiveDeadline(inv.Timeout, tool.Timeout)
	output, err := r.execute(ctx, tool, input, deadline)
	duration := time.Since(start)

	if err != nil {
		return Result{
			ToolName: tool.Name,
			Success:  false,
			Error:    err.Error(),
			Duration: duration,
		}, nil
	}

	if tool.OutputSchema != nil {
		if _, err := tool.OutputSchema.Validate(output); err != nil {
			return Result{
				ToolName: tool.Name,
				Success:  false,
				Error:    fmt.Sprintf("tool returned non-conforming output: %v", err),
				Duration: duration,
			}, nil
		}
	}

	return Result{
		ToolName: tool.Name,
		Success:  true,
		Output:   output,
		Duration: duration,
	}, nil
}

// effectiveDeadline is the tightest of the invocation timeout, the tool's
// own timeout, and DefaultTimeout.
func effectiveDeadline(invocation, tool time.Duration) time.Duration {
	deadline := DefaultTimeout
	if tool > 0 && tool < deadline {
		deadline = tool
	}
	if invocation > 0 && invocation < deadline {
		deadline = invocation
	}
	return deadline
}

type executeOutcome struct {
	output any
	err    error
}

func (r *Registry) execute(ctx context.Context, tool *Tool, input map[string]any, deadline time.Duration) (any, error) {
	execCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	done := make(chan executeOutcome, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				done <- executeOutcome{err: fmt.Errorf("tool panicked: %v", recovered)}
			}
		}()
		output, err := tool.Execute(execCtx, input)
		done <- executeOutcome{output: output, err: err}
	}()

	select {
	case outcome := <-done:
		return outcome.output, outcome.err
	case <-execCtx.Done():
		if execCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("Tool timed out after %dms", deadline.Milliseconds())
		}
		return nil, execCtx.Err()
	}
}

// CreateFiltered returns a shallow copy sharing tool definitions and the
// same gate. A nil or empty allowlist copies everything.
func (r *Registry) CreateFiltered(allowedTools []string) *Registry {
	filtered := NewRegistry()
	filtered.gate = r.gate

	if len(allowedTools) == 0 {
		for _, name := range r.Names() {
			if tool, exists := r.Get(name); exists {
				_ = filtered.Register(name, tool)
			}
		}
		return filtered
	}

	for _, name := range allowedTools {
		if tool, exists := r.Get(name); exists {
			_ = filtered.Register(name, tool)
		}
	}
	return filtered
}
