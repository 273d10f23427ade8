// Package tools implements the tool registry: schema-validated registration
// and invocation of tools with per-call deadlines, per-agent filtered views,
// and a pluggable policy gate.
package tools

import (
	"context"
	"errors"
	"time"
)

// Source identifies where a tool definition came from.
type Source string

const (
	SourceBuiltin      Source = "builtin"
	SourcePlugin       Source = "plugin"
	SourceMCP          Source = "mcp"
	SourceProgrammatic Source = "programmatic"
)

// DefaultTimeout bounds tool execution when neither the invocation nor the
// tool definition sets a tighter deadline.
const DefaultTimeout = 30 * time.Second

// ErrToolNotFound is returned when invoking an unregistered tool name.
var ErrToolNotFound = errors.New("tool not found")

// ErrConstitutionViolation is the sentinel for critical policy denials.
var ErrConstitutionViolation = errors.New("constitution violation")

// Tool is a value carrying its schemas and an executor function. Schema
// validation happens at the invocation boundary; inside Execute the args
// have already passed the input schema.
type Tool struct {
	Name                 string
	Description          string
	InputSchema          *Schema
	OutputSchema         *Schema
	Execute              func(ctx context.Context, args map[string]any) (any, error)
	Tags                 []string
	Timeout              time.Duration
	Source               Source
	RequiresConfirmation bool
}

// HasTag reports whether the tool carries the given tag.
func (t *Tool) HasTag(tag string) bool {
	for _, have := range t.Tags {
		if have == tag {
			return true
		}
	}
	return false
}

// Invocation is a single invoke request.
type Invocation struct {
	ToolName string         `json:"tool_name"`
	Input    map[string]any `json:"input"`
	Timeout  time.Duration  `json:"timeout,omitempty"`
}

// Result is the outcome of one invocation.
type Result struct {
	ToolName string        `json:"tool_name"`
	Success  bool          `json:"success"`
	Output   any           `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ms"`
}

// Description is a prompt-ready summary of one tool.
type Description struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ============================================================================
// POLICY GATE CAPABILITY
// ============================================================================

// GateRequest is what the policy gate sees of a pending invocation.
type GateRequest struct {
	ToolName string
	Tags     []string
	Args     map[string]any
}

// Violation is a policy denial. Critical violations never execute the tool;
// reportable ones surface as tool failures carrying the rule ID.
type Violation struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	Critical    bool   `json:"critical"`
}

// PolicyGate is the capability interface the registry consults before every
// execution. A nil gate allows everything.
type PolicyGate interface {
	CheckInvocation(ctx context.Context, inv GateRequest) *Violation
}
