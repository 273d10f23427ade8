package crew

import (
	"fmt"
	"strings"
)

// evaluateCondition evaluates a graph-edge condition against the blackboard.
// Conditions are simple comparisons over the source agent's entry, e.g.
// `a.status == "failed"` or `a.status != "completed"` (`===`/`!==` are
// accepted too). Any evaluation error is treated as false.
func evaluateCondition(condition string, board *Blackboard) bool {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return true
	}

	negate := false
	var parts []string
	switch {
	case strings.Contains(condition, "!=="):
		parts = strings.SplitN(condition, "!==", 2)
		negate = true
	case strings.Contains(condition, "!="):
		parts = strings.SplitN(condition, "!=", 2)
		negate = true
	case strings.Contains(condition, "==="):
		parts = strings.SplitN(condition, "===", 2)
	case strings.Contains(condition, "=="):
		parts = strings.SplitN(condition, "==", 2)
	default:
		return false
	}

	left := strings.TrimSpace(parts[0])
	right := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

	agentID, field, ok := strings.Cut(left, ".")
	if !ok {
		return false
	}

	entry, exists := board.Read(agentID)
	if !exists {
		return false
	}

	var actual string
	switch field {
	case "status":
		actual = entry.Status
	case "result":
		actual = entry.Result
	default:
		return false
	}

	if negate {
		return actual != right
	}
	return actual == right
}

// describeSkip renders why an agent was skipped, for the crew error field.
func describeSkip(agentID, condition string) string {
	return fmt.Sprintf("agent '%s' skipped: condition '%s' not met", agentID, condition)
}
