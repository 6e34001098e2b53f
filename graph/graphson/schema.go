package graphson

import (
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/graphbus/errors"
)

// graphDocumentSchema describes the shape of a bulk graph document. Values
// are checked again during decoding; the schema rejects structural problems
// before anything is written.
const graphDocumentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "mode": {"type": "string"},
    "vertices": {
      "type": "array",
      "items": {"type": "object"}
    },
    "edges": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["_outV", "_inV", "_label"],
        "properties": {
          "_label": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(graphDocumentSchema))
	})
	return schema, schemaErr
}

// ValidateGraphDocument checks doc against the bulk graph document schema.
// Violations are reported as malformed input listing every failing field.
func ValidateGraphDocument(doc map[string]any) error {
	if doc == nil {
		return malformed("graph document must be a JSON object")
	}
	s, err := compiledSchema()
	if err != nil {
		return errors.WrapFatal(err, "graphson", "ValidateGraphDocument", "compile schema")
	}

	result, err := s.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return malformed("graph document could not be read: %v", err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.Field()+": "+desc.Description())
	}
	return malformed("%s", strings.Join(problems, "; "))
}
