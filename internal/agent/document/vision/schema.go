package vision

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/feichai0017/waybill-processor/internal/models"
)

// FieldsSchema is the JSON schema every extraction response must satisfy.
const FieldsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["loading_base", "loading_date", "driver_name", "product_type", "weight_total", "confidence"],
  "definitions": {
    "text": {"type": ["string", "null"]},
    "confidence": {"type": ["number", "null"]}
  },
  "properties": {
    "loading_base": {
      "type": ["object", "null"],
      "additionalProperties": false,
      "properties": {
        "name": {"$ref": "#/definitions/text"},
        "address": {"$ref": "#/definitions/text"},
        "city": {"$ref": "#/definitions/text"},
        "confidence": {"$ref": "#/definitions/confidence"}
      }
    },
    "loading_date": {
      "type": ["object", "null"],
      "additionalProperties": false,
      "properties": {
        "value": {"$ref": "#/definitions/text"},
        "source_label": {"$ref": "#/definitions/text"},
        "confidence": {"$ref": "#/definitions/confidence"}
      }
    },
    "driver_name": {
      "type": ["object", "null"],
      "additionalProperties": false,
      "properties": {
        "value": {"$ref": "#/definitions/text"},
        "source_label": {"$ref": "#/definitions/text"},
        "confidence": {"$ref": "#/definitions/confidence"}
      }
    },
    "product_type": {
      "type": ["object", "null"],
      "additionalProperties": false,
      "properties": {
        "value": {"$ref": "#/definitions/text"},
        "method": {"enum": ["single", "multi", null]},
        "items": {"type": ["array", "null"], "items": {"type": "string"}},
        "source_label": {"$ref": "#/definitions/text"},
        "confidence": {"$ref": "#/definitions/confidence"}
      }
    },
    "weight_total": {
      "type": ["object", "null"],
      "additionalProperties": false,
      "properties": {
        "kg": {"type": ["integer", "null"]},
        "value_tons": {"type": ["number", "null"]},
        "source_label": {"$ref": "#/definitions/text"},
        "confidence": {"$ref": "#/definitions/confidence"}
      }
    },
    "evidence": {
      "type": ["object", "null"],
      "additionalProperties": false,
      "properties": {
        "base": {"$ref": "#/definitions/text"},
        "date": {"$ref": "#/definitions/text"},
        "driver": {"$ref": "#/definitions/text"},
        "weight": {"$ref": "#/definitions/text"},
        "product": {"$ref": "#/definitions/text"}
      }
    },
    "missing": {"type": ["array", "null"], "items": {"type": "string"}},
    "confidence": {"type": "number"},
    "need_second_pass": {"type": "boolean"},
    "second_pass_hints": {"type": ["array", "null"], "items": {"type": "string"}}
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func fieldsSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("fields.json", strings.NewReader(FieldsSchema)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("fields.json")
	})
	return compiledSchema, schemaErr
}

// ParseFields strictly validates a model response and decodes it. Any deviation,
// including markdown fences around the JSON, is reported as a SchemaParseError.
func ParseFields(pass int, content string) (*models.OcrFields, json.RawMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil, &models.SchemaParseError{Pass: pass, Err: models.ErrEmptyResponse}
	}

	schema, err := fieldsSchema()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compile fields schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, nil, &models.SchemaParseError{Pass: pass, Err: fmt.Errorf("not json: %w", err)}
	}
	if err := schema.Validate(doc); err != nil {
		return nil, nil, &models.SchemaParseError{Pass: pass, Err: err}
	}

	// round-trip through the generic value so integral floats like 27328.0 decode as kg
	canonical, err := json.Marshal(doc)
	if err != nil {
		return nil, nil, &models.SchemaParseError{Pass: pass, Err: err}
	}
	var fields models.OcrFields
	if err := json.Unmarshal(canonical, &fields); err != nil {
		return nil, nil, &models.SchemaParseError{Pass: pass, Err: err}
	}
	fields.Confidence = models.Clamp01(fields.Confidence)
	return &fields, canonical, nil
}
