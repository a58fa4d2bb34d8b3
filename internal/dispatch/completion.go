package dispatch

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Completion is the JSON object a worker's container emits inside a
// <completion>…</completion> block.
type Completion struct {
	RunID         string   `json:"run_id"`
	Branch        string   `json:"branch"`
	CommitSHA     string   `json:"commit_sha"`
	TestResult    string   `json:"test_result"`
	Risk          string   `json:"risk"`
	PRUrl         string   `json:"pr_url,omitempty"`
	PRSkippedReason string `json:"pr_skipped_reason,omitempty"`
	ContextIntent string   `json:"context_intent,omitempty"`
	SessionID     string   `json:"session_id,omitempty"`

	BrowserEvidenceRequired bool             `json:"browser_evidence_required,omitempty"`
	BrowserEvidence         *BrowserEvidence `json:"browser_evidence,omitempty"`

	extra map[string]json.RawMessage
}

// BrowserEvidence backs predicate 7: proof that browser tool calls actually
// ran against a local dev server, without relying on screenshots.
type BrowserEvidence struct {
	BaseURL             string   `json:"base_url"`
	ToolsListed         []string `json:"tools_listed"`
	ExecuteToolEvidence []string `json:"execute_tool_evidence"`
}

var completionBlockPattern = regexp.MustCompile(`(?s)<completion>(.*?)</completion>`)
var hexPattern = regexp.MustCompile(`^[0-9a-fA-F]+$`)
var localBaseURLPattern = regexp.MustCompile(`^https?://127\.0\.0\.1(:[0-9]+)?(/.*)?$`)

// noCodePrefixes is the closed enumeration of run_id prefixes allowed to
// report a placeholder commit_sha. Anything else with a placeholder value
// is rejected, per the Open Question resolution treating the informal rule
// as a closed lookup.
var noCodePrefixes = []string{"ping-", "smoke-", "health-", "sync-"}

var placeholderCommitSHAs = map[string]struct{}{"n/a": {}, "none": {}}

// ExtractCompletionBlock finds the first <completion>…</completion> block in
// container output and unmarshals its JSON body. ok is false (not an error)
// when no block is present — that case maps to the container_crash /
// completion_missing error kind, distinct from a malformed block.
func ExtractCompletionBlock(output string) (Completion, bool, error) {
	m := completionBlockPattern.FindStringSubmatch(output)
	if m == nil {
		return Completion{}, false, nil
	}
	var c Completion
	if err := json.Unmarshal([]byte(m[1]), &c); err != nil {
		return Completion{}, true, fmt.Errorf("completion_malformed: %w", err)
	}
	var raw map[string]json.RawMessage
	_ = json.Unmarshal([]byte(m[1]), &raw)
	c.extra = raw
	return c, true, nil
}

// Field reports whether requiredField is present and non-empty in the
// completion's raw JSON, for output_contract.required_fields checking
// beyond the handful of named struct fields.
func (c Completion) Field(name string) (string, bool) {
	switch name {
	case "run_id":
		return c.RunID, c.RunID != ""
	case "branch":
		return c.Branch, c.Branch != ""
	case "commit_sha":
		return c.CommitSHA, c.CommitSHA != ""
	case "test_result":
		return c.TestResult, c.TestResult != ""
	case "risk":
		return c.Risk, c.Risk != ""
	}
	raw, ok := c.extra[name]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", false
	}
	return s, true
}

// CheckCompletion evaluates predicates 1-8 of the completion contract
// against dispatch and returns the specific violated predicate as an error,
// or nil if the completion satisfies all eight.
func CheckCompletion(dispatch Payload, c Completion) error {
	// 1. parses — the caller already confirmed this via ExtractCompletionBlock.

	// 2. run_id equals dispatch run_id.
	if c.RunID != dispatch.RunID {
		return completionError("run_id", fmt.Sprintf("completion run_id %q != dispatch run_id %q", c.RunID, dispatch.RunID))
	}

	// 3. branch equals dispatch branch.
	if c.Branch != dispatch.Branch {
		return completionError("branch", fmt.Sprintf("completion branch %q != dispatch branch %q", c.Branch, dispatch.Branch))
	}

	// 4. all output_contract.required_fields present and non-empty.
	for _, f := range dispatch.OutputContract.RequiredFields {
		if _, ok := c.Field(f); !ok {
			return completionError("output_contract.required_fields", fmt.Sprintf("missing or empty required field %q", f))
		}
	}

	// 5. exactly one of pr_url or pr_skipped_reason.
	hasPR := c.PRUrl != ""
	hasSkip := c.PRSkippedReason != ""
	if hasPR == hasSkip {
		return completionError("pr_url/pr_skipped_reason", "exactly one of pr_url or pr_skipped_reason must be present")
	}

	// 6. commit_sha is 6-40 hex, or a placeholder for a no-code run_id prefix.
	if err := checkCommitSHA(dispatch.RunID, c.CommitSHA); err != nil {
		return err
	}

	// 7. browser evidence, if required.
	if c.BrowserEvidenceRequired {
		if err := checkBrowserEvidence(c.BrowserEvidence); err != nil {
			return err
		}
	}

	// 8. continue intent requires a session_id.
	if dispatch.ContextIntent == "continue" && c.SessionID == "" {
		return completionError("session_id", "context_intent=continue requires a session_id in the completion")
	}

	return nil
}

func checkCommitSHA(runID, sha string) error {
	lower := strings.ToLower(sha)
	if _, placeholder := placeholderCommitSHAs[lower]; placeholder {
		for _, prefix := range noCodePrefixes {
			if strings.HasPrefix(runID, prefix) {
				return nil
			}
		}
		return completionError("commit_sha", fmt.Sprintf("placeholder commit_sha %q not allowed for run_id %q", sha, runID))
	}
	if len(sha) < 6 || len(sha) > 40 || !hexPattern.MatchString(sha) {
		return completionError("commit_sha", fmt.Sprintf("commit_sha %q is not 6-40 hex characters", sha))
	}
	return nil
}

func checkBrowserEvidence(ev *BrowserEvidence) error {
	if ev == nil {
		return completionError("browser_evidence", "required but absent")
	}
	if !localBaseURLPattern.MatchString(ev.BaseURL) {
		return completionError("browser_evidence.base_url", fmt.Sprintf("must target 127.0.0.1, got %q", ev.BaseURL))
	}
	if len(ev.ToolsListed) == 0 {
		return completionError("browser_evidence.tools_listed", "must be non-empty")
	}
	if len(ev.ExecuteToolEvidence) == 0 {
		return completionError("browser_evidence.execute_tool_evidence", "must be non-empty")
	}
	for _, entry := range append(append([]string{}, ev.ToolsListed...), ev.ExecuteToolEvidence...) {
		if containsScreenshotRequest(entry) {
			return completionError("browser_evidence", "screenshot references are not allowed as evidence")
		}
	}
	return nil
}

// CompletionError names the specific predicate a completion block violated.
type CompletionError struct {
	Predicate string
	Reason    string
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("completion_mismatch: %s: %s", e.Predicate, e.Reason)
}

func completionError(predicate, reason string) error {
	return &CompletionError{Predicate: predicate, Reason: reason}
}
