package crew

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadDefinition reads and validates a crew definition from a YAML file.
func LoadDefinition(path string) (*Definition, error) {
	if path == "" {
		return nil, fmt.Errorf("crew definition path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read crew definition '%s': %w", path, err)
	}
	return ParseDefinition(raw)
}

// ParseDefinition decodes and validates a YAML crew definition.
func ParseDefinition(raw []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("failed to decode crew definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}
