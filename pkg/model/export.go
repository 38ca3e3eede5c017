package model

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// SchemaID is the $id of the generated project schema.
const SchemaID = "https://github.com/ipublishingjp/selenium-ide/schemas/side-project.json"

// GenerateJSONSchema produces a JSON Schema Draft 2020-12 document from the
// Project Go types.
func GenerateJSONSchema() ([]byte, error) {
	r := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		AllowAdditionalProperties:  true, // the IDE stores editor-only keys such as "snapshot"
	}
	s := r.Reflect(&Project{})
	s.ID = SchemaID
	s.Title = "Selenium IDE project"
	s.Description = "Schema for .side project documents (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal project schema: %w", err)
	}
	return data, nil
}
