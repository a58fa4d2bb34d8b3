// Command agent is the in-container entrypoint: it reads one turn payload
// from stdin, drives the turn loop against the model SDK while polling
// filesystem IPC for follow-up and steering messages, and writes the framed
// result to stdout.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nanoclaw/host/internal/agentrunner"
	"github.com/nanoclaw/host/internal/ipc"
)

const ipcRoot = "/workspace"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "[agent-runner] fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	payload, err := agentrunner.ReadStdinPayload(os.Stdin)
	if err != nil {
		return fmt.Errorf("read stdin payload: %w", err)
	}

	paths := ipc.NewPaths(ipcRoot, payload.GroupFolder)
	if err := paths.EnsureDirs(); err != nil {
		return fmt.Errorf("ensure ipc dirs: %w", err)
	}
	if err := paths.CleanStaleClose(); err != nil {
		return fmt.Errorf("clean stale close sentinel: %w", err)
	}

	workspaceDir := fmt.Sprintf("%s/%s", ipcRoot, payload.GroupFolder)
	runID := payload.Secrets["RUN_ID"]

	primary := agentrunner.LaneCredentials{
		APIKey: payload.Secrets["ANTHROPIC_API_KEY"],
		Model:  payload.Secrets["ANTHROPIC_MODEL"],
	}
	fallback := agentrunner.LaneCredentials{
		APIKey: payload.Secrets["ANTHROPIC_API_KEY_FALLBACK"],
		Model:  payload.Secrets["ANTHROPIC_MODEL_FALLBACK"],
	}
	// Workers never fall back, and only ever run with a single named
	// worker instruction set; IsMain distinguishes the controller/main
	// lanes (which may) from a worker-lane run (which may not).
	allowFallback := payload.IsMain && payload.Secrets["AUTH_FALLBACK_ENABLED"] == "true"

	cfg := agentrunner.Config{
		Payload:       payload,
		Paths:         paths,
		RunID:         runID,
		Primary:       primary,
		Fallback:      fallback,
		AllowFallback: allowFallback,
		Open:          agentrunner.NewAnthropicSessionFactory(workspaceDir),
		Stdout:        os.Stdout,
		Stderr:        os.Stderr,
		WorkspaceDir:  workspaceDir,
	}

	return agentrunner.Run(ctx, cfg)
}
