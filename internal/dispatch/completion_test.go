package dispatch_test

import (
	"strings"
	"testing"

	"github.com/nanoclaw/host/internal/dispatch"
)

func completionBlock(body string) string {
	var b strings.Builder
	b.WriteString("some container log noise\n")
	b.WriteString("<completion>")
	b.WriteString(body)
	b.WriteString("</completion>\n")
	return b.String()
}

func TestExtractCompletionBlock_MissingBlock(t *testing.T) {
	_, found, err := dispatch.ExtractCompletionBlock("no completion block here")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatal("expected found=false when no block present")
	}
}

func TestExtractCompletionBlock_MalformedJSON(t *testing.T) {
	_, found, err := dispatch.ExtractCompletionBlock(completionBlock(`{"run_id": "run-1"`))
	if !found {
		t.Fatal("expected found=true for a present but malformed block")
	}
	if err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestExtractCompletionBlock_ParsesValidJSON(t *testing.T) {
	c, found, err := dispatch.ExtractCompletionBlock(completionBlock(`{"run_id":"run-1","branch":"jarvis-health-check"}`))
	if err != nil || !found {
		t.Fatalf("expected a parsed block, found=%v err=%v", found, err)
	}
	if c.RunID != "run-1" || c.Branch != "jarvis-health-check" {
		t.Fatalf("unexpected parsed completion: %+v", c)
	}
}

func TestCheckCompletion_AllPredicatesSatisfied(t *testing.T) {
	d := validPayload()
	c := dispatch.Completion{
		RunID:      d.RunID,
		Branch:     d.Branch,
		CommitSHA:  "abc123",
		TestResult: "pass",
		Risk:       "low",
		PRUrl:      "https://github.com/acme/widgets/pull/1",
	}
	if err := dispatch.CheckCompletion(d, c); err != nil {
		t.Fatalf("expected completion to satisfy all predicates, got %v", err)
	}
}

func TestCheckCompletion_RunIDMismatch(t *testing.T) {
	d := validPayload()
	c := dispatch.Completion{RunID: "different-run", Branch: d.Branch, CommitSHA: "abc123", TestResult: "pass", Risk: "low", PRSkippedReason: "n/a"}
	if err := dispatch.CheckCompletion(d, c); err == nil {
		t.Fatal("expected run_id mismatch error")
	}
}

func TestCheckCompletion_BranchMismatch(t *testing.T) {
	d := validPayload()
	c := dispatch.Completion{RunID: d.RunID, Branch: "jarvis-other", CommitSHA: "abc123", TestResult: "pass", Risk: "low", PRSkippedReason: "n/a"}
	if err := dispatch.CheckCompletion(d, c); err == nil {
		t.Fatal("expected branch mismatch error")
	}
}

func TestCheckCompletion_MissingRequiredField(t *testing.T) {
	d := validPayload()
	c := dispatch.Completion{RunID: d.RunID, Branch: d.Branch, CommitSHA: "abc123", Risk: "low", PRSkippedReason: "n/a"}
	if err := dispatch.CheckCompletion(d, c); err == nil {
		t.Fatal("expected missing test_result to fail")
	}
}

func TestCheckCompletion_BothPROutcomesPresentIsRejected(t *testing.T) {
	d := validPayload()
	c := dispatch.Completion{
		RunID: d.RunID, Branch: d.Branch, CommitSHA: "abc123", TestResult: "pass", Risk: "low",
		PRUrl: "https://github.com/acme/widgets/pull/1", PRSkippedReason: "n/a",
	}
	if err := dispatch.CheckCompletion(d, c); err == nil {
		t.Fatal("expected error when both pr_url and pr_skipped_reason are present")
	}
}

func TestCheckCompletion_NeitherPROutcomePresentIsRejected(t *testing.T) {
	d := validPayload()
	c := dispatch.Completion{RunID: d.RunID, Branch: d.Branch, CommitSHA: "abc123", TestResult: "pass", Risk: "low"}
	if err := dispatch.CheckCompletion(d, c); err == nil {
		t.Fatal("expected error when neither pr_url nor pr_skipped_reason is present")
	}
}

func TestCheckCompletion_CommitSHAMustBeHexOfValidLength(t *testing.T) {
	d := validPayload()
	c := dispatch.Completion{RunID: d.RunID, Branch: d.Branch, CommitSHA: "zzz", TestResult: "pass", Risk: "low", PRSkippedReason: "n/a"}
	if err := dispatch.CheckCompletion(d, c); err == nil {
		t.Fatal("expected error for non-hex commit_sha")
	}
}

func TestCheckCompletion_PlaceholderCommitSHARejectedForCodeRuns(t *testing.T) {
	d := validPayload() // run_id "run-1" carries no no-code prefix
	c := dispatch.Completion{RunID: d.RunID, Branch: d.Branch, CommitSHA: "n/a", TestResult: "pass", Risk: "low", PRSkippedReason: "no PR needed"}
	if err := dispatch.CheckCompletion(d, c); err == nil {
		t.Fatal("expected placeholder commit_sha to be rejected for a code run_id")
	}
}

func TestCheckCompletion_PlaceholderCommitSHAAllowedForNoCodePrefix(t *testing.T) {
	d := validPayload()
	d.RunID = "ping-health-1"
	c := dispatch.Completion{RunID: d.RunID, Branch: d.Branch, CommitSHA: "none", TestResult: "pass", Risk: "low", PRSkippedReason: "no PR needed"}
	if err := dispatch.CheckCompletion(d, c); err != nil {
		t.Fatalf("expected placeholder commit_sha to be allowed for ping- prefix, got %v", err)
	}
}

func TestCheckCompletion_BrowserEvidenceRequiredButAbsent(t *testing.T) {
	d := validPayload()
	c := dispatch.Completion{
		RunID: d.RunID, Branch: d.Branch, CommitSHA: "abc123", TestResult: "pass", Risk: "low", PRSkippedReason: "n/a",
		BrowserEvidenceRequired: true,
	}
	if err := dispatch.CheckCompletion(d, c); err == nil {
		t.Fatal("expected error when browser_evidence_required but absent")
	}
}

func TestCheckCompletion_BrowserEvidenceRejectsNonLocalBaseURL(t *testing.T) {
	d := validPayload()
	c := dispatch.Completion{
		RunID: d.RunID, Branch: d.Branch, CommitSHA: "abc123", TestResult: "pass", Risk: "low", PRSkippedReason: "n/a",
		BrowserEvidenceRequired: true,
		BrowserEvidence: &dispatch.BrowserEvidence{
			BaseURL: "https://example.com", ToolsListed: []string{"navigate"}, ExecuteToolEvidence: []string{"navigated to /"},
		},
	}
	if err := dispatch.CheckCompletion(d, c); err == nil {
		t.Fatal("expected error for non-127.0.0.1 base_url")
	}
}

func TestCheckCompletion_BrowserEvidenceRejectsScreenshotReferences(t *testing.T) {
	d := validPayload()
	c := dispatch.Completion{
		RunID: d.RunID, Branch: d.Branch, CommitSHA: "abc123", TestResult: "pass", Risk: "low", PRSkippedReason: "n/a",
		BrowserEvidenceRequired: true,
		BrowserEvidence: &dispatch.BrowserEvidence{
			BaseURL: "http://127.0.0.1:3000", ToolsListed: []string{"navigate"},
			ExecuteToolEvidence: []string{"took a screenshot of the homepage"},
		},
	}
	if err := dispatch.CheckCompletion(d, c); err == nil {
		t.Fatal("expected error for screenshot reference in evidence")
	}
}

func TestCheckCompletion_BrowserEvidenceAcceptedWhenWellFormed(t *testing.T) {
	d := validPayload()
	c := dispatch.Completion{
		RunID: d.RunID, Branch: d.Branch, CommitSHA: "abc123", TestResult: "pass", Risk: "low", PRSkippedReason: "n/a",
		BrowserEvidenceRequired: true,
		BrowserEvidence: &dispatch.BrowserEvidence{
			BaseURL: "http://127.0.0.1:3000", ToolsListed: []string{"navigate", "click"},
			ExecuteToolEvidence: []string{"clicked #submit and observed a 200 response"},
		},
	}
	if err := dispatch.CheckCompletion(d, c); err != nil {
		t.Fatalf("expected browser evidence to pass, got %v", err)
	}
}

func TestCheckCompletion_ContinueIntentRequiresSessionID(t *testing.T) {
	d := validPayload()
	d.ContextIntent = "continue"
	c := dispatch.Completion{RunID: d.RunID, Branch: d.Branch, CommitSHA: "abc123", TestResult: "pass", Risk: "low", PRSkippedReason: "n/a"}
	if err := dispatch.CheckCompletion(d, c); err == nil {
		t.Fatal("expected error when continue intent completion lacks session_id")
	}
}

func TestCheckCompletion_ContinueIntentWithSessionIDPasses(t *testing.T) {
	d := validPayload()
	d.ContextIntent = "continue"
	c := dispatch.Completion{
		RunID: d.RunID, Branch: d.Branch, CommitSHA: "abc123", TestResult: "pass", Risk: "low", PRSkippedReason: "n/a",
		SessionID: "sess-99",
	}
	if err := dispatch.CheckCompletion(d, c); err != nil {
		t.Fatalf("expected continue intent with session_id to pass, got %v", err)
	}
}
