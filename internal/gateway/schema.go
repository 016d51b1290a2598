package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const createTaskSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["time", "content"],
  "properties": {
    "time":    {"type": "string", "minLength": 1, "maxLength": 200},
    "content": {"type": "string", "minLength": 1, "maxLength": 2000}
  }
}`

var (
	errMissingFields = errors.New("time and content are required")
	errInvalidBody   = errors.New("invalid task body")
)

var createTaskSchema = mustCompileSchema("create_task.json", createTaskSchemaJSON)

type createTaskRequest struct {
	Time    string `json:"time"`
	Content string `json:"content"`
}

func mustCompileSchema(name, raw string) *jsonschema.Schema {
	// UnmarshalJSON keeps numbers as json.Number, which the validator requires.
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("unmarshal schema %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("add schema resource %s: %v", name, err))
	}
	schema, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return schema
}

// decodeCreateTask validates body against the create schema. Absent, null
// or empty fields map to errMissingFields; every other violation wraps
// errInvalidBody.
func decodeCreateTask(body []byte) (createTaskRequest, error) {
	var req createTaskRequest
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return req, fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	if err := createTaskSchema.Validate(doc); err != nil {
		if obj, ok := doc.(map[string]any); ok && (blankField(obj, "time") || blankField(obj, "content")) {
			return req, errMissingFields
		}
		return req, fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	return req, nil
}

func blankField(obj map[string]any, key string) bool {
	v, ok := obj[key]
	if !ok || v == nil {
		return true
	}
	s, isString := v.(string)
	return isString && s == ""
}
