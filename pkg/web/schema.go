package web

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// workflowSchema is the structural contract for applied workflow
// definitions, checked before the body is decoded into a model. Semantic
// checks (graph shape, target resolution) happen later in the compiler.
const workflowSchema = `{
  "type": "object",
  "required": ["name", "stages"],
  "properties": {
    "name": {"type": "string", "minLength": 3},
    "description": {"type": "string"},
    "annotations": {"type": "object", "additionalProperties": {"type": "string"}},
    "stages": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "target"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "target": {"type": "string", "minLength": 1},
          "kind": {"enum": ["normal", "parameterized"]},
          "depends_on": {"type": "array", "items": {"type": "string"}},
          "description": {"type": "string"},
          "map_on": {"type": "string"},
          "priority": {"type": "integer"},
          "resources": {
            "type": "object",
            "properties": {
              "cpus": {"type": "number", "minimum": 0},
              "gpus": {"type": "number", "minimum": 0},
              "memory": {"type": "string"}
            }
          }
        }
      }
    }
  }
}`

var compiledWorkflowSchema = gojsonschema.NewStringLoader(workflowSchema)

// validateWorkflowDocument runs the raw request body against the workflow
// schema and flattens the violations into one message.
func validateWorkflowDocument(body []byte) error {
	result, err := gojsonschema.Validate(compiledWorkflowSchema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if result.Valid() {
		return nil
	}

	detail := ""
	for _, violation := range result.Errors() {
		if detail != "" {
			detail += "; "
		}

		detail += violation.String()
	}

	return fmt.Errorf("invalid workflow document: %s", detail)
}
