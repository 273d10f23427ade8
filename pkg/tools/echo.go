package tools

import (
	"context"
	"fmt"
	"strings"
)

type echoArgs struct {
	Input     string `json:"input" jsonschema:"description=Text to echo back"`
	Uppercase bool   `json:"uppercase,omitempty" jsonschema:"description=Uppercase the output"`
}

// NewEchoTool returns a builtin tool that echoes its input. It exists so a
// config-only run can exercise the full invocation pipeline without any
// external tool processes.
func NewEchoTool() (*Tool, error) {
	inputSchema, err := SchemaFor[echoArgs]()
	if err != nil {
		return nil, fmt.Errorf("failed to build echo input schema: %w", err)
	}

	outputSchema, err := NewSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"result": map[string]any{"type": "string"},
		},
		"required": []any{"result"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build echo output schema: %w", err)
	}

	return &Tool{
		Name:         "echo",
		Description:  "Echoes the given input back, optionally uppercased.",
		InputSchema:  inputSchema,
		OutputSchema: outputSchema,
		Source:       SourceBuiltin,
		Execute: func(_ context.Context, args map[string]any) (any, error) {
			var parsed echoArgs
			if err := DecodeArgs(args, &parsed); err != nil {
				return nil, err
			}
			result := parsed.Input
			if parsed.Uppercase {
				result = strings.ToUpper(result)
			}
			return map[string]any{"result": result}, nil
		},
	}, nil
}
