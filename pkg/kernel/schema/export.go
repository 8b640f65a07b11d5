package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// SchemaID is the $id of the generated intent spec schema.
const SchemaID = "https://github.com/ormasoftchile/intentrun/schemas/intent-spec.json"

// GenerateJSONSchema produces a JSON Schema Draft 2020-12 document from the
// IntentSpec Go types.
func GenerateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	s := r.Reflect(&IntentSpec{})
	s.ID = SchemaID
	s.Title = "Intent Spec"
	s.Description = "Schema for intent spec documents (YAML or JSON, Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal intent spec schema: %w", err)
	}
	return data, nil
}
