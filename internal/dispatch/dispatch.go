// Package dispatch validates controller-issued dispatch payloads and parses
// worker completion blocks against the run state machine's contract.
package dispatch

import (
	"fmt"
	"regexp"
	"strings"
)

// Payload is a dispatch JSON object emitted by a controller lane's agent and
// targeted at a worker group.
type Payload struct {
	RunID           string         `json:"run_id"`
	TaskType        string         `json:"task_type"`
	ContextIntent   string         `json:"context_intent"`
	Input           string         `json:"input"`
	Repo            string         `json:"repo"`
	Branch          string         `json:"branch"`
	BaseBranch      string         `json:"base_branch,omitempty"`
	AcceptanceTests []string       `json:"acceptance_tests"`
	OutputContract  OutputContract `json:"output_contract"`
	ParentRunID     string         `json:"parent_run_id,omitempty"`
	SessionID       string         `json:"session_id,omitempty"`
	TargetGroup     string         `json:"target_group"`
}

// OutputContract names the completion fields a worker must report.
type OutputContract struct {
	RequiredFields []string `json:"required_fields"`
}

// validTaskTypes is the closed enum for task_type.
var validTaskTypes = map[string]struct{}{
	"analyze": {}, "implement": {}, "fix": {}, "refactor": {},
	"test": {}, "release": {}, "research": {}, "code": {},
}

// minimumCompletionFields is the closed set every output_contract must
// include regardless of what a controller asks for on top of it.
var minimumCompletionFields = []string{"run_id", "branch", "commit_sha", "test_result", "risk"}

var branchPattern = regexp.MustCompile(`^jarvis-[a-z0-9][a-z0-9-]*$`)
var repoPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)
var whitespacePattern = regexp.MustCompile(`\s`)

// screenshotPatterns match any request to capture or analyze a screenshot;
// dispatch text containing these is refused outright.
var screenshotPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)screenshot`),
	regexp.MustCompile(`(?i)screen\s*capture`),
	regexp.MustCompile(`(?i)take a (photo|picture) of the screen`),
}

// ExistingRunLookup reports whether runID refers to a known run, used to
// validate parent_run_id references.
type ExistingRunLookup func(runID string) (exists bool, err error)

// Validate applies the full field-rule table plus the self-chat and
// screenshot refusals. sourceGroup and targetGroup are the group_folders the
// dispatch is issued from and aimed at — sourceGroup == targetGroup is
// rejected as a self-chat leak.
func Validate(p Payload, sourceGroup, targetGroup string, lookupParent ExistingRunLookup) error {
	if p.RunID == "" {
		return fieldError("run_id", "required")
	}
	if len(p.RunID) > 64 {
		return fieldError("run_id", "must be ≤64 chars")
	}
	if whitespacePattern.MatchString(p.RunID) {
		return fieldError("run_id", "must not contain whitespace")
	}

	if _, ok := validTaskTypes[p.TaskType]; !ok {
		return fieldError("task_type", fmt.Sprintf("unknown task_type %q", p.TaskType))
	}

	switch p.ContextIntent {
	case "fresh":
		if p.SessionID != "" {
			return fieldError("context_intent", "fresh forbids session_id")
		}
	case "continue":
		// session_id cross-group validity is checked by the caller, which
		// knows the owning group of an existing session.
	default:
		return fieldError("context_intent", fmt.Sprintf("unknown context_intent %q", p.ContextIntent))
	}

	if strings.TrimSpace(p.Input) == "" {
		return fieldError("input", "required non-empty")
	}
	if containsScreenshotRequest(p.Input) {
		return fieldError("input", "screenshot capture/analysis is refused")
	}

	if !repoPattern.MatchString(p.Repo) {
		return fieldError("repo", "must match <owner>/<repo>")
	}

	if !branchPattern.MatchString(p.Branch) {
		return fieldError("branch", "must match jarvis-<feature>")
	}

	if len(p.AcceptanceTests) == 0 {
		return fieldError("acceptance_tests", "must be a non-empty array")
	}
	for _, at := range p.AcceptanceTests {
		if containsScreenshotRequest(at) {
			return fieldError("acceptance_tests", "screenshot capture/analysis is refused")
		}
	}

	if len(p.OutputContract.RequiredFields) == 0 {
		return fieldError("output_contract.required_fields", "must be non-empty")
	}
	required := make(map[string]struct{}, len(p.OutputContract.RequiredFields))
	for _, f := range p.OutputContract.RequiredFields {
		required[f] = struct{}{}
	}
	for _, min := range minimumCompletionFields {
		if _, ok := required[min]; !ok {
			return fieldError("output_contract.required_fields", fmt.Sprintf("missing minimum field %q", min))
		}
	}

	if p.ParentRunID != "" && lookupParent != nil {
		exists, err := lookupParent(p.ParentRunID)
		if err != nil {
			return fmt.Errorf("lookup parent_run_id: %w", err)
		}
		if !exists {
			return fieldError("parent_run_id", fmt.Sprintf("no such run %q", p.ParentRunID))
		}
	}

	if sourceGroup != "" && sourceGroup == targetGroup {
		return fieldError("target_group", fmt.Sprintf("self-chat leak: %s may not dispatch to itself", sourceGroup))
	}

	return nil
}

func containsScreenshotRequest(text string) bool {
	for _, pat := range screenshotPatterns {
		if pat.MatchString(text) {
			return true
		}
	}
	return false
}

// ValidationError names the specific field and rule a dispatch payload
// violated, so the audit trail records more than "invalid".
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("dispatch_invalid: %s: %s", e.Field, e.Reason)
}

func fieldError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
