package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// configSchema is the structural contract for .patrol.yaml. Semantic
// constraints (fractions in range, worker type choices) live in check().
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "state_dir": {"type": "string"},
    "excludes": {"type": "array", "items": {"type": "string"}},
    "declared": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "kind", "path"],
        "additionalProperties": false,
        "properties": {
          "id": {"type": "string"},
          "kind": {"type": "string", "enum": ["file", "workflow", "endpoint"]},
          "path": {"type": "string"}
        }
      }
    },
    "weights": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "staleness": {"type": "number", "minimum": 0},
        "recency": {"type": "number", "minimum": 0},
        "risk": {"type": "number", "minimum": 0},
        "complexity": {"type": "number", "minimum": 0},
        "novelty": {"type": "number", "minimum": 0},
        "role": {"type": "number", "minimum": 0}
      }
    },
    "batch": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "batch_size": {"type": "integer", "minimum": 1},
        "never_audited_fraction": {"type": "number"},
        "never_audited_floor": {"type": "integer", "minimum": 0},
        "gap_fraction": {"type": "number"},
        "always_include": {"type": "array", "items": {"type": "string"}},
        "token_budget": {"type": "integer", "minimum": 0},
        "tokens_per_line": {"type": "number", "minimum": 0}
      }
    },
    "scheduler": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "poll_interval_seconds": {"type": "integer", "minimum": 1},
        "stale_threshold_seconds": {"type": "integer", "minimum": 0},
        "total_timeout_seconds": {"type": "integer", "minimum": 0},
        "max_concurrent": {"type": "integer", "minimum": 1},
        "max_requeues": {"type": "integer", "minimum": 0}
      }
    },
    "aggregate": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "hierarchy": {"type": "array", "items": {"type": "string"}},
        "proximity_window": {"type": "integer", "minimum": 0}
      }
    },
    "converge": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "tier": {"type": "string", "enum": ["light", "standard", "thorough"]},
        "policies": {"type": "object"},
        "critical_max": {"type": "integer", "minimum": 0},
        "secondary_max": {"type": "integer", "minimum": 0},
        "required_improvement": {"type": "number", "minimum": 0, "maximum": 1},
        "score_bar": {"type": "number", "minimum": 0, "maximum": 1}
      }
    },
    "risk": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["pattern", "tier"],
        "additionalProperties": false,
        "properties": {
          "pattern": {"type": "string"},
          "tier": {"type": "string", "enum": ["critical", "high", "medium", "low", "stale"]}
        }
      }
    },
    "worker": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "type": {"type": "string"},
        "command": {"type": "array", "items": {"type": "string"}},
        "model": {"type": "string"},
        "requests_per_minute": {"type": "integer", "minimum": 0}
      }
    },
    "repair": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "fix_command": {"type": "array", "items": {"type": "string"}},
        "gate_command": {"type": "array", "items": {"type": "string"}}
      }
    },
    "history_retention": {"type": "integer", "minimum": 0}
  }
}`

// validateSchema checks the raw YAML document against the embedded schema.
func validateSchema(data []byte) error {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing yaml: %w", err)
	}
	if doc == nil {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(configSchema),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("schema violations: %s", strings.Join(msgs, "; "))
	}
	return nil
}
