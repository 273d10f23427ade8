package llms

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON pulls a JSON document out of model output, tolerating markdown
// code fences and prose around the payload.
func ExtractJSON(content string) (string, error) {
	trimmed := strings.TrimSpace(content)

	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if end := strings.LastIndex(trimmed, "```"); end >= 0 {
			trimmed = trimmed[:end]
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return trimmed, nil
	}

	// Prose around the payload: take the outermost object.
	start := strings.IndexAny(trimmed, "{[")
	if start < 0 {
		return "", fmt.Errorf("no JSON payload in response")
	}
	var end int
	if trimmed[start] == '{' {
		end = strings.LastIndex(trimmed, "}")
	} else {
		end = strings.LastIndex(trimmed, "]")
	}
	if end <= start {
		return "", fmt.Errorf("unterminated JSON payload in response")
	}
	return trimmed[start : end+1], nil
}

// ParseJSONResponse decodes a model response into v, tolerating fenced and
// prose-wrapped payloads.
func ParseJSONResponse(content string, v any) error {
	payload, err := ExtractJSON(content)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return fmt.Errorf("failed to decode model JSON: %w", err)
	}
	return nil
}
