package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// validator checks a model reply against a JSON schema before it is decoded.
type validator struct {
	schema *jsonschema.Schema
}

func mustSchema(name string, schema map[string]any) *validator {
	b, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("marshal %s schema: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		panic(fmt.Sprintf("add %s schema: %v", name, err))
	}
	return &validator{schema: compiler.MustCompile(name)}
}

func (v *validator) decode(data []byte, dst any) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("reply is not json: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("reply does not match schema: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}

var (
	charactersSchema = mustSchema("characters.json", map[string]any{
		"type":     "object",
		"required": []string{"characters"},
		"properties": map[string]any{
			"characters": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
	})

	entitiesSchema = mustSchema("entities.json", map[string]any{
		"type":     "object",
		"required": []string{"entities"},
		"properties": map[string]any{
			"entities": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"name", "type"},
					"properties": map[string]any{
						"name":       map[string]any{"type": "string", "minLength": 1},
						"type":       map[string]any{"type": "string"},
						"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					},
				},
			},
		},
	})

	issuesSchema = mustSchema("issues.json", map[string]any{
		"type":     "object",
		"required": []string{"issues"},
		"properties": map[string]any{
			"issues": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"message"},
					"properties": map[string]any{
						"message":  map[string]any{"type": "string", "minLength": 1},
						"severity": map[string]any{"type": "string"},
						"location": map[string]any{
							"type":     "object",
							"required": []string{"start", "end"},
							"properties": map[string]any{
								"start": map[string]any{"type": "integer", "minimum": 0},
								"end":   map[string]any{"type": "integer", "minimum": 0},
							},
						},
					},
				},
			},
		},
	})
)
