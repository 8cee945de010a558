package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "scriptor-config.schema.json"

// configSchema describes JSON config files. Unknown keys are rejected so a
// misspelled setting fails loudly instead of silently keeping its default.
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "scriptor configuration",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "engine": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "infinite_loop": {"type": "boolean"},
        "natural_delay": {"type": "boolean"},
        "loop_count": {"type": "integer", "minimum": 1},
        "fast_delay_us": {"type": "integer", "minimum": 0, "maximum": 1000000}
      }
    },
    "capture": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "backend": {"enum": ["auto", "evdev", "none"]},
        "devices": {"type": "array", "items": {"type": "string"}},
        "screen_width": {"type": "integer", "minimum": 1},
        "screen_height": {"type": "integer", "minimum": 1}
      }
    },
    "logging": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "level": {"enum": ["debug", "info", "warn", "error"]},
        "format": {"enum": ["text", "json"]},
        "output": {"enum": ["stdout", "stderr", "file", "both"]},
        "file_path": {"type": "string"},
        "max_size_mb": {"type": "integer", "minimum": 1},
        "max_backups": {"type": "integer", "minimum": 0},
        "compress": {"type": "boolean"}
      }
    },
    "ipc": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "socket_path": {"type": "string"},
        "permissions": {"type": "string", "pattern": "^0[0-7]{3}$"},
        "max_connections": {"type": "integer", "minimum": 1},
        "timeout_sec": {"type": "integer", "minimum": 1}
      }
    },
    "store": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "path": {"type": "string"},
        "busy_timeout_ms": {"type": "integer", "minimum": 0}
      }
    },
    "notify": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "desktop": {"type": "boolean"},
        "queue_size": {"type": "integer", "minimum": 1},
        "expire_ms": {"type": "integer", "minimum": -1}
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, strings.NewReader(configSchema)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// ValidateJSON checks a JSON config document against the config schema.
func ValidateJSON(data []byte) error {
	schema, err := loadSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return fmt.Errorf("decode JSON: %w", err)
	}

	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
