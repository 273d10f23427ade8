// Package constitution implements the policy gate evaluated before every
// tool invocation. Rules are ordered; the first violation wins. Critical
// violations block execution outright, reportable ones surface as tool
// failures.
package constitution

import (
	"context"
	"fmt"
	"strings"

	"github.com/ampere-run/ampere/pkg/tools"
)

// Rule inspects one pending invocation. A nil return means no violation.
type Rule interface {
	ID() string
	Evaluate(ctx context.Context, inv tools.GateRequest) *tools.Violation
}

// Constitution is an ordered rule set implementing tools.PolicyGate.
type Constitution struct {
	rules []Rule
}

// New builds a constitution from ordered rules.
func New(rules ...Rule) *Constitution {
	return &Constitution{rules: rules}
}

// AddRule appends a rule to the evaluation order.
func (c *Constitution) AddRule(rule Rule) {
	c.rules = append(c.rules, rule)
}

// CheckInvocation evaluates the rule set in order and returns the first
// violation, or nil when the invocation is allowed.
func (c *Constitution) CheckInvocation(ctx context.Context, inv tools.GateRequest) *tools.Violation {
	for _, rule := range c.rules {
		if v := rule.Evaluate(ctx, inv); v != nil {
			return v
		}
	}
	return nil
}

// ============================================================================
// BUILT-IN RULES
// ============================================================================

// DenyToolsRule blocks a fixed set of tool names.
type DenyToolsRule struct {
	RuleID   string
	Tools    []string
	Critical bool
}

func (r *DenyToolsRule) ID() string { return r.RuleID }

func (r *DenyToolsRule) Evaluate(_ context.Context, inv tools.GateRequest) *tools.Violation {
	for _, name := range r.Tools {
		if inv.ToolName == name {
			return &tools.Violation{
				RuleID:      r.RuleID,
				Description: fmt.Sprintf("tool '%s' is denied by policy", name),
				Critical:    r.Critical,
			}
		}
	}
	return nil
}

// DenyTagsRule blocks tools carrying any of the given tags.
type DenyTagsRule struct {
	RuleID   string
	Tags     []string
	Critical bool
}

func (r *DenyTagsRule) ID() string { return r.RuleID }

func (r *DenyTagsRule) Evaluate(_ context.Context, inv tools.GateRequest) *tools.Violation {
	for _, deny := range r.Tags {
		for _, tag := range inv.Tags {
			if tag == deny {
				return &tools.Violation{
					RuleID:      r.RuleID,
					Description: fmt.Sprintf("tool '%s' carries denied tag '%s'", inv.ToolName, tag),
					Critical:    r.Critical,
				}
			}
		}
	}
	return nil
}

// DenyArgSubstringRule blocks invocations whose string arguments contain any
// of the given fragments (e.g. "rm -rf", "sudo").
type DenyArgSubstringRule struct {
	RuleID    string
	Fragments []string
	Critical  bool
}

func (r *DenyArgSubstringRule) ID() string { return r.RuleID }

func (r *DenyArgSubstringRule) Evaluate(_ context.Context, inv tools.GateRequest) *tools.Violation {
	for _, value := range inv.Args {
		s, ok := value.(string)
		if !ok {
			continue
		}
		for _, fragment := range r.Fragments {
			if strings.Contains(s, fragment) {
				return &tools.Violation{
					RuleID:      r.RuleID,
					Description: fmt.Sprintf("argument contains denied fragment '%s'", fragment),
					Critical:    r.Critical,
				}
			}
		}
	}
	return nil
}

// RuleFunc adapts a function to the Rule interface.
type RuleFunc struct {
	RuleID string
	Fn     func(ctx context.Context, inv tools.GateRequest) *tools.Violation
}

func (r *RuleFunc) ID() string { return r.RuleID }

func (r *RuleFunc) Evaluate(ctx context.Context, inv tools.GateRequest) *tools.Violation {
	return r.Fn(ctx, inv)
}
