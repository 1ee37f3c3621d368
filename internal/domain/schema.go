package domain

import (
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": {
    "type": "object",
    "properties": {
      "Value": {},
      "RolloutRules": {
        "type": ["array", "null"],
        "items": {
          "type": "object",
          "required": ["ComparisonAttribute", "Comparator", "ComparisonValue"],
          "properties": {
            "ComparisonAttribute": {"type": "string"},
            "Comparator": {"type": "integer", "enum": [0, 1, 2, 3]},
            "ComparisonValue": {"type": "string"},
            "Value": {}
          }
        }
      },
      "RolloutPercentageItems": {
        "type": ["array", "null"],
        "items": {
          "type": "object",
          "required": ["Percentage"],
          "properties": {
            "Percentage": {"type": "integer", "minimum": 0, "maximum": 100},
            "Value": {}
          }
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *gojsonschema.Schema
	schemaErr      error
)

func loadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(documentSchema))
	})
	return compiledSchema, schemaErr
}

// ValidateDocument checks raw JSON against the configuration document schema.
func ValidateDocument(raw []byte) error {
	schema, err := loadSchema()
	if err != nil {
		return NewValidationErrorWithCause("failed to compile document schema", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return NewValidationErrorWithCause("document is not valid JSON", err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return NewValidationError("document does not match schema: " + strings.Join(msgs, "; "))
	}

	return nil
}
