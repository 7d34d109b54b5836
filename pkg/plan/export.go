package plan

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// SchemaID identifies the generated plan schema.
const SchemaID = "https://github.com/ormasoftchile/dumper/schemas/plan-v0.json"

// GenerateJSONSchema produces a JSON Schema Draft 2020-12 document from
// the Go Plan struct using invopop/jsonschema.
func GenerateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = false

	s := r.Reflect(&Plan{})
	s.ID = SchemaID
	s.Title = "Dumper Extraction Plan v0"
	s.Description = "Schema for dumper plan YAML documents (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}
