package agentrunner_test

import (
	"strings"
	"testing"

	"github.com/nanoclaw/host/internal/agentrunner"
)

func TestReadStdinPayload_ParsesWellFormedPayload(t *testing.T) {
	body := `{"prompt":"do the thing","groupFolder":"worker-acme","chatJid":"123@g.us","isMain":false,"secrets":{"ANTHROPIC_API_KEY":"x"}}`
	p, err := agentrunner.ReadStdinPayload(strings.NewReader(body))
	if err != nil {
		t.Fatalf("read stdin payload: %v", err)
	}
	if p.Prompt != "do the thing" || p.GroupFolder != "worker-acme" || p.IsMain {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestReadStdinPayload_RejectsEmptyInput(t *testing.T) {
	_, err := agentrunner.ReadStdinPayload(strings.NewReader(""))
	if err == nil {
		t.Fatal("expected error for empty stdin")
	}
}

func TestReadStdinPayload_RejectsMissingPrompt(t *testing.T) {
	_, err := agentrunner.ReadStdinPayload(strings.NewReader(`{"groupFolder":"worker-acme"}`))
	if err == nil {
		t.Fatal("expected error for missing prompt field")
	}
}
