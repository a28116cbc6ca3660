package api

import (
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// documentSchema describes the structural shape of a configuration
// document. Step names and predicates are checked later against the
// registry and the predicate parser.
const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "definitions": {
    "stepRef": {
      "oneOf": [
        {"type": "string", "minLength": 1},
        {"type": "object", "minProperties": 1}
      ]
    },
    "stepList": {
      "type": "array",
      "items": {"$ref": "#/definitions/stepRef"}
    },
    "env": {
      "type": "object",
      "additionalProperties": {"type": ["string", "number", "boolean"]}
    },
    "pipeline": {
      "type": "object",
      "properties": {
        "description": {"type": "string"},
        "steps": {"$ref": "#/definitions/stepList"},
        "modules": {"$ref": "#/definitions/stepList"},
        "env": {"$ref": "#/definitions/env"},
        "required_envs": {"type": "array", "items": {"type": "string", "minLength": 1}}
      }
    }
  },
  "properties": {
    "version": {"type": ["string", "number"]},
    "name": {"type": "string"},
    "description": {"type": "string"},
    "steps": {"$ref": "#/definitions/stepList"},
    "modules": {"$ref": "#/definitions/stepList"},
    "env": {"$ref": "#/definitions/env"},
    "required_envs": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "pipelines": {
      "type": "object",
      "additionalProperties": {"$ref": "#/definitions/pipeline"}
    },
    "build": {
      "type": "object",
      "properties": {
        "arch": {"enum": ["x64", "arm64", "universal"]},
        "architecture": {"enum": ["x64", "arm64", "universal"]},
        "chromium_src": {"type": "string"},
        "type": {"enum": ["debug", "release"]}
      }
    },
    "paths": {
      "type": "object",
      "properties": {
        "root_dir": {"type": "string"},
        "chromium_src": {"type": "string"}
      }
    }
  }
}`

var (
	compiledSchema *gojsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
)

func getSchema() (*gojsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiledSchema, compileErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(documentSchema))
	})
	return compiledSchema, compileErr
}

// ValidateSchema checks a generically decoded document against the document
// schema. It returns one description per violation and an error only when
// validation itself cannot run.
func ValidateSchema(doc any) ([]string, error) {
	schema, err := getSchema()
	if err != nil {
		return nil, fmt.Errorf("compiling document schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("validating document: %w", err)
	}

	if result.Valid() {
		return nil, nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return problems, nil
}
