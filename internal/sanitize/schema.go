package sanitize

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// documentSchema constrains the output tree shape, mirroring the same
// jsonschema/v5 validation style the provider package uses to check
// structured model output.
const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["pages"],
  "properties": {
    "pages": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["page_number", "metadata", "inscriptions"],
        "properties": {
          "page_number": {"type": "integer"},
          "metadata": {"type": "object"},
          "inscriptions": {
            "type": "array",
            "items": {
              "type": "object",
              "properties": {
                "parties": {
                  "type": "array",
                  "items": {
                    "type": "object",
                    "properties": {
                      "name": {"type": ["string", "null"]},
                      "role": {"type": ["string", "null"]}
                    }
                  }
                }
              }
            }
          }
        }
      }
    }
  }
}`

// Validate checks that doc conforms to the sanitizer's documented output
// shape. Used by callers that want to assert the contract in tests or
// before persisting; Sanitize itself never calls this, since it must never
// error.
func Validate(doc Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("sanitize: marshal document: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("document.json", bytes.NewReader([]byte(documentSchema))); err != nil {
		return fmt.Errorf("sanitize: load schema: %w", err)
	}
	schema, err := compiler.Compile("document.json")
	if err != nil {
		return fmt.Errorf("sanitize: compile schema: %w", err)
	}

	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("sanitize: unmarshal document: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("sanitize: document does not match output schema: %w", err)
	}
	return nil
}
