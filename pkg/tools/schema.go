package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
	santhosh "github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema is a declarative validator over a JSON Schema document. Validation
// produces either a normalised value or a validation failure.
type Schema struct {
	doc      map[string]any
	compiled *santhosh.Schema
}

// NewSchema compiles a JSON Schema document.
func NewSchema(doc map[string]any) (*Schema, error) {
	if doc == nil {
		return nil, fmt.Errorf("schema document cannot be nil")
	}

	compiler := santhosh.NewCompiler()
	if err := compiler.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Schema{doc: doc, compiled: compiled}, nil
}

// MustSchema compiles a document or panics. For package-level tool
// definitions with known-good schemas.
func MustSchema(doc map[string]any) *Schema {
	s, err := NewSchema(doc)
	if err != nil {
		panic(err)
	}
	return s
}

// SchemaFor derives a schema from a Go argument struct via reflection.
func SchemaFor[T any]() (*Schema, error) {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}

	var zero T
	reflected := reflector.Reflect(&zero)

	raw, err := json.Marshal(reflected)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reflected schema: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode reflected schema: %w", err)
	}

	// Drafts beyond 2020-12 are not needed here; drop the $schema pin so the
	// validator picks its default dialect.
	delete(doc, "$schema")

	return NewSchema(doc)
}

// Validate checks a value against the schema and returns its normalised
// (JSON round-tripped) form.
func (s *Schema) Validate(value any) (any, error) {
	normalised, err := normalise(value)
	if err != nil {
		return nil, fmt.Errorf("value is not JSON-representable: %w", err)
	}
	if err := s.compiled.Validate(normalised); err != nil {
		return nil, err
	}
	return normalised, nil
}

// Doc returns the raw schema document.
func (s *Schema) Doc() map[string]any {
	return s.doc
}

// ArgSummary renders "name (type), other (string)" from the schema's
// properties, for enriching tool descriptions shown to models.
func (s *Schema) ArgSummary() string {
	props, ok := s.doc["properties"].(map[string]any)
	if !ok || len(props) == 0 {
		return ""
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		typ := "any"
		if prop, ok := props[name].(map[string]any); ok {
			if t, ok := prop["type"].(string); ok {
				typ = t
			}
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", name, typ))
	}
	return strings.Join(parts, ", ")
}

// DecodeArgs maps schema-validated arguments onto a typed struct. Inside a
// tool executor, values are typed; the free-form map stops here.
func DecodeArgs(args map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to build args decoder: %w", err)
	}
	if err := decoder.Decode(args); err != nil {
		return fmt.Errorf("failed to decode args: %w", err)
	}
	return nil
}

// normalise round-trips a Go value through JSON so the validator sees
// canonical JSON types regardless of how callers built the value.
func normalise(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var out any
	if err := decoder.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
