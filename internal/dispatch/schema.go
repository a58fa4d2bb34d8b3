package dispatch

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// payloadSchemaJSON constrains the dispatch payload's JSON shape before the
// richer domain rules in Validate run against the decoded struct: catching a
// wrong type (e.g. acceptance_tests sent as a string) here gives a clearer
// error than a silent zero-value from json.Unmarshal.
const payloadSchemaJSON = `{
	"type": "object",
	"required": ["run_id", "task_type", "context_intent", "input", "repo", "branch", "acceptance_tests", "output_contract", "target_group"],
	"properties": {
		"run_id": {"type": "string"},
		"task_type": {"type": "string"},
		"context_intent": {"type": "string"},
		"input": {"type": "string"},
		"repo": {"type": "string"},
		"branch": {"type": "string"},
		"base_branch": {"type": "string"},
		"acceptance_tests": {"type": "array", "items": {"type": "string"}},
		"output_contract": {
			"type": "object",
			"required": ["required_fields"],
			"properties": {
				"required_fields": {"type": "array", "items": {"type": "string"}}
			}
		},
		"parent_run_id": {"type": "string"},
		"session_id": {"type": "string"},
		"target_group": {"type": "string"}
	}
}`

var (
	payloadSchemaOnce sync.Once
	payloadSchema     *jsonschema.Schema
	payloadSchemaErr  error
)

func compiledPayloadSchema() (*jsonschema.Schema, error) {
	payloadSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(payloadSchemaJSON))
		if err != nil {
			payloadSchemaErr = fmt.Errorf("unmarshal dispatch payload schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("dispatch-payload.json", doc); err != nil {
			payloadSchemaErr = fmt.Errorf("add dispatch payload schema resource: %w", err)
			return
		}
		payloadSchema, payloadSchemaErr = c.Compile("dispatch-payload.json")
	})
	return payloadSchema, payloadSchemaErr
}

// ValidateShape checks raw dispatch JSON (already unmarshaled into an
// any-typed map, e.g. via jsonschema.UnmarshalJSON for json.Number fidelity)
// against the payload's structural schema.
func ValidateShape(raw any) error {
	schema, err := compiledPayloadSchema()
	if err != nil {
		return err
	}
	if err := schema.Validate(raw); err != nil {
		return fieldError("shape", err.Error())
	}
	return nil
}
