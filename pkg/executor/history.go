package executor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ampere-run/ampere/pkg/task"
)

const (
	compressKeepHead = 2
	compressKeepTail = 3
)

// CompressResults renders step results into a bounded-size context for the
// synthesis call: the first two and last three results verbatim, the middle
// summarised as success/fail counts and a call count per tool.
func CompressResults(results []task.StepResult) string {
	var b strings.Builder

	if len(results) <= compressKeepHead+compressKeepTail {
		for _, sr := range results {
			writeVerbatim(&b, sr)
		}
		return b.String()
	}

	for _, sr := range results[:compressKeepHead] {
		writeVerbatim(&b, sr)
	}

	middle := results[compressKeepHead : len(results)-compressKeepTail]
	succeeded := 0
	failed := 0
	perTool := make(map[string]int)
	for _, sr := range middle {
		if sr.Success {
			succeeded++
		} else {
			failed++
		}
		perTool[sr.ToolName]++
	}

	toolNames := make([]string, 0, len(perTool))
	for name := range perTool {
		toolNames = append(toolNames, fmt.Sprintf("%s x%d", name, perTool[name]))
	}
	fmt.Fprintf(&b, "... %d intermediate steps elided (%d succeeded, %d failed; tools: %s) ...\n",
		len(middle), succeeded, failed, strings.Join(toolNames, ", "))

	for _, sr := range results[len(results)-compressKeepTail:] {
		writeVerbatim(&b, sr)
	}
	return b.String()
}

func writeVerbatim(b *strings.Builder, sr task.StepResult) {
	if sr.Success {
		output := "<no output>"
		if sr.Output != nil {
			if raw, err := json.Marshal(sr.Output); err == nil {
				output = string(raw)
			}
		}
		fmt.Fprintf(b, "step %d (%s): ok: %s\n", sr.StepIndex, sr.ToolName, output)
		return
	}
	fmt.Fprintf(b, "step %d (%s): failed: %s\n", sr.StepIndex, sr.ToolName, sr.Error)
}
