package dispatch_test

import (
	"strings"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/nanoclaw/host/internal/dispatch"
)

func unmarshalRaw(t *testing.T, body string) any {
	t.Helper()
	v, err := jsonschema.UnmarshalJSON(strings.NewReader(body))
	if err != nil {
		t.Fatalf("unmarshal raw dispatch JSON: %v", err)
	}
	return v
}

func TestValidateShape_AcceptsWellFormedDocument(t *testing.T) {
	raw := unmarshalRaw(t, `{
		"run_id":"run-1","task_type":"implement","context_intent":"fresh",
		"input":"add a health check","repo":"acme/widgets","branch":"jarvis-health-check",
		"acceptance_tests":["GET /health returns 200"],
		"output_contract":{"required_fields":["run_id","branch","commit_sha","test_result","risk"]},
		"target_group":"worker-acme-widgets"
	}`)
	if err := dispatch.ValidateShape(raw); err != nil {
		t.Fatalf("expected well-formed document to pass shape validation, got %v", err)
	}
}

func TestValidateShape_RejectsWrongTypeForAcceptanceTests(t *testing.T) {
	raw := unmarshalRaw(t, `{
		"run_id":"run-1","task_type":"implement","context_intent":"fresh",
		"input":"add a health check","repo":"acme/widgets","branch":"jarvis-health-check",
		"acceptance_tests":"GET /health returns 200",
		"output_contract":{"required_fields":["run_id"]},
		"target_group":"worker-acme-widgets"
	}`)
	if err := dispatch.ValidateShape(raw); err == nil {
		t.Fatal("expected error for acceptance_tests sent as a string instead of an array")
	}
}

func TestValidateShape_RejectsMissingTopLevelField(t *testing.T) {
	raw := unmarshalRaw(t, `{"run_id":"run-1","task_type":"implement"}`)
	if err := dispatch.ValidateShape(raw); err == nil {
		t.Fatal("expected error for missing required top-level fields")
	}
}
