package constitution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ampere-run/ampere/pkg/tools"
)

func TestConstitution_RuleOrderWins(t *testing.T) {
	gate := New(
		&DenyToolsRule{RuleID: "deny-shell", Tools: []string{"shell_exec"}, Critical: true},
		&DenyTagsRule{RuleID: "deny-dangerous", Tags: []string{"dangerous"}},
	)

	tests := []struct {
		name     string
		inv      tools.GateRequest
		wantRule string
		critical bool
	}{
		{
			name:     "first matching rule wins",
			inv:      tools.GateRequest{ToolName: "shell_exec", Tags: []string{"dangerous"}},
			wantRule: "deny-shell",
			critical: true,
		},
		{
			name:     "tag rule catches tagged tool",
			inv:      tools.GateRequest{ToolName: "file_write", Tags: []string{"dangerous"}},
			wantRule: "deny-dangerous",
		},
		{
			name: "clean tool passes",
			inv:  tools.GateRequest{ToolName: "echo"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			violation := gate.CheckInvocation(context.Background(), tt.inv)
			if tt.wantRule == "" {
				assert.Nil(t, violation)
				return
			}
			require.NotNil(t, violation)
			assert.Equal(t, tt.wantRule, violation.RuleID)
			assert.Equal(t, tt.critical, violation.Critical)
		})
	}
}

func TestDenyArgSubstringRule(t *testing.T) {
	rule := &DenyArgSubstringRule{RuleID: "no-rm", Fragments: []string{"rm -rf"}, Critical: true}

	violation := rule.Evaluate(context.Background(), tools.GateRequest{
		ToolName: "shell_exec",
		Args:     map[string]any{"command": "rm -rf /"},
	})
	require.NotNil(t, violation)
	assert.True(t, violation.Critical)

	assert.Nil(t, rule.Evaluate(context.Background(), tools.GateRequest{
		ToolName: "shell_exec",
		Args:     map[string]any{"command": "ls", "count": 3},
	}))
}

func TestRuleFunc(t *testing.T) {
	gate := New(&RuleFunc{
		RuleID: "custom",
		Fn: func(_ context.Context, inv tools.GateRequest) *tools.Violation {
			if inv.ToolName == "blocked" {
				return &tools.Violation{RuleID: "custom", Description: "blocked by custom rule"}
			}
			return nil
		},
	})

	assert.NotNil(t, gate.CheckInvocation(context.Background(), tools.GateRequest{ToolName: "blocked"}))
	assert.Nil(t, gate.CheckInvocation(context.Background(), tools.GateRequest{ToolName: "other"}))
}
