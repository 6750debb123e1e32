package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/liliang-cn/cognify/pkg/domain"
)

// graphSchemaJSON is the structured-output contract for extraction. Strict
// mode requires every property listed and additionalProperties disabled.
const graphSchemaJSON = `{
  "type": "object",
  "properties": {
    "nodes": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "type": {"type": "string"},
          "description": {"type": "string"},
          "confidence": {"type": "number"}
        },
        "required": ["name", "type", "description", "confidence"],
        "additionalProperties": false
      }
    },
    "edges": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "source": {"type": "string"},
          "target": {"type": "string"},
          "type": {"type": "string"},
          "confidence": {"type": "number"}
        },
        "required": ["source", "target", "type", "confidence"],
        "additionalProperties": false
      }
    }
  },
  "required": ["nodes", "edges"],
  "additionalProperties": false
}`

// scoresSchemaJSON is the structured-output contract for relation validation.
const scoresSchemaJSON = `{
  "type": "object",
  "properties": {
    "scores": {
      "type": "array",
      "items": {"type": "number"}
    }
  },
  "required": ["scores"],
  "additionalProperties": false
}`

type rawNode struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

type rawEdge struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

type rawGraph struct {
	Nodes []rawNode `json:"nodes"`
	Edges []rawEdge `json:"edges"`
}

type rawScores struct {
	Scores []float64 `json:"scores"`
}

func compileSchema(name, schemaJSON string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s schema: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("add %s schema: %w", name, err)
	}
	return c.Compile(name)
}

// decodeValidated unmarshals raw into out after checking it against schema.
// A mismatch is an ErrSchema so the caller can distinguish a malformed model
// response from a provider failure.
func decodeValidated(schema *jsonschema.Schema, raw json.RawMessage, out any) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: response is not valid JSON: %v", domain.ErrSchema, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSchema, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSchema, err)
	}
	return nil
}
