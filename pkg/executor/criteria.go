package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/ampere-run/ampere/pkg/task"
	"github.com/ampere-run/ampere/pkg/tools"
)

// Tool names the criteria evaluator invokes through the registry.
const (
	fileExistsToolName  = "file_exists"
	pageInspectToolName = "browser_inspect"
)

// evaluateCriteria checks every success criterion against the step results
// and the synthesised answer.
func evaluateCriteria(ctx context.Context, registry *tools.Registry, spec *task.Spec, results []task.StepResult, answer string) []task.CriteriaResult {
	out := make([]task.CriteriaResult, 0, len(spec.SuccessCriteria))
	for _, criterion := range spec.SuccessCriteria {
		out = append(out, evaluateCriterion(ctx, registry, criterion, results, answer))
	}
	return out
}

func evaluateCriterion(ctx context.Context, registry *tools.Registry, criterion task.SuccessCriterion, results []task.StepResult, answer string) task.CriteriaResult {
	cr := task.CriteriaResult{Criterion: criterion}

	switch criterion.Type {
	case task.CriterionFileExists:
		path, _ := criterion.Check["path"].(string)
		result, err := registry.Invoke(ctx, tools.Invocation{
			ToolName: fileExistsToolName,
			Input:    map[string]any{"path": path},
		})
		if err != nil {
			cr.Evidence = fmt.Sprintf("file check unavailable: %v", err)
			return cr
		}
		cr.Met = result.Success && outputIsTruthy(result.Output)
		cr.Evidence = fmt.Sprintf("file check for '%s' returned success=%v", path, result.Success)

	case task.CriterionOutputContains:
		needle, _ := criterion.Check["text"].(string)
		if needle == "" {
			needle, _ = criterion.Check["value"].(string)
		}
		cr.Met = needle != "" && strings.Contains(answer, needle)
		cr.Evidence = fmt.Sprintf("answer contains '%s': %v", needle, cr.Met)

	case task.CriterionToolSucceeded:
		wanted, _ := criterion.Check["tool"].(string)
		for _, sr := range results {
			if sr.Success && (wanted == "" || sr.ToolName == wanted) {
				cr.Met = true
				cr.Evidence = fmt.Sprintf("step %d (%s) succeeded", sr.StepIndex, sr.ToolName)
				break
			}
		}
		if !cr.Met {
			cr.Evidence = "no matching successful step"
		}

	case task.CriterionPageState:
		result, err := registry.Invoke(ctx, tools.Invocation{ToolName: pageInspectToolName})
		if err != nil || !result.Success {
			cr.Evidence = "page inspection unavailable"
			return cr
		}
		state, _ := result.Output.(map[string]any)
		title, _ := state["title"].(string)
		url, _ := state["url"].(string)

		cr.Met = true
		if want, ok := criterion.Check["titleContains"].(string); ok && want != "" {
			cr.Met = cr.Met && strings.Contains(title, want)
		}
		if want, ok := criterion.Check["urlMatches"].(string); ok && want != "" {
			cr.Met = cr.Met && strings.Contains(url, want)
		}
		cr.Evidence = fmt.Sprintf("page title=%q url=%q", title, url)

	case task.CriterionCustom:
		// Optimistic: met when anything succeeded.
		for _, sr := range results {
			if sr.Success {
				cr.Met = true
				break
			}
		}
		cr.Evidence = fmt.Sprintf("custom criterion evaluated optimistically: %v", cr.Met)

	default:
		cr.Evidence = fmt.Sprintf("unknown criterion type '%s'", criterion.Type)
	}
	return cr
}

func outputIsTruthy(output any) bool {
	switch v := output.(type) {
	case bool:
		return v
	case map[string]any:
		if exists, ok := v["exists"].(bool); ok {
			return exists
		}
		return true
	case nil:
		return false
	default:
		return true
	}
}
