package agentrunner_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/nanoclaw/host/internal/agentrunner"
	"github.com/nanoclaw/host/internal/ipc"
)

func extractFrameJSON(t *testing.T, out string) agentrunner.Result {
	t.Helper()
	start := strings.Index(out, "---NANOCLAW_OUTPUT_START---\n")
	end := strings.Index(out, "\n---NANOCLAW_OUTPUT_END---")
	if start == -1 || end == -1 {
		t.Fatalf("no frame markers found in output: %q", out)
	}
	body := out[start+len("---NANOCLAW_OUTPUT_START---\n") : end]
	var res agentrunner.Result
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return res
}

func TestRun_HappyPathWritesFramedResult(t *testing.T) {
	base := t.TempDir()
	paths := ipc.NewPaths(base, "worker-acme")
	if err := paths.EnsureDirs(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}

	open := scriptedFactory(nil, [][]agentrunner.Event{
		{
			{Kind: agentrunner.EventText, Text: "working on it"},
			{Kind: agentrunner.EventDone, SessionID: "sess-final"},
		},
	})

	var stdout, stderr bytes.Buffer
	cfg := agentrunner.Config{
		Payload:       agentrunner.StdinPayload{Prompt: "do the thing", GroupFolder: "worker-acme"},
		Paths:         paths,
		RunID:         "run-1",
		Primary:       agentrunner.LaneCredentials{APIKey: "primary-key", Model: "m"},
		AllowFallback: false,
		Open:          open,
		Stdout:        &stdout,
		Stderr:        &stderr,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := agentrunner.Run(ctx, cfg); err != nil {
		t.Fatalf("run: %v", err)
	}

	res := extractFrameJSON(t, stdout.String())
	if res.Output != "working on it" {
		t.Fatalf("expected output to include streamed text, got %q", res.Output)
	}
	if res.SessionID != "sess-final" {
		t.Fatalf("expected final session id, got %q", res.SessionID)
	}
	if res.AuthLane != agentrunner.LanePrimary {
		t.Fatalf("expected primary lane, got %v", res.AuthLane)
	}
}

func TestRun_OpenFailureWritesErrorFrame(t *testing.T) {
	base := t.TempDir()
	paths := ipc.NewPaths(base, "worker-acme")
	if err := paths.EnsureDirs(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}

	open := scriptedFactory(map[string]error{"primary-key": errBoom}, nil)

	var stdout, stderr bytes.Buffer
	cfg := agentrunner.Config{
		Payload: agentrunner.StdinPayload{Prompt: "do the thing"},
		Paths:   paths,
		RunID:   "run-2",
		Primary: agentrunner.LaneCredentials{APIKey: "primary-key", Model: "m"},
		Open:    open,
		Stdout:  &stdout,
		Stderr:  &stderr,
	}

	if err := agentrunner.Run(context.Background(), cfg); err != nil {
		t.Fatalf("run: %v", err)
	}

	res := extractFrameJSON(t, stdout.String())
	if res.Error == "" {
		t.Fatal("expected error field to be populated in the result frame")
	}
}
