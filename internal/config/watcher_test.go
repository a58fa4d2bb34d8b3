package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nanoclaw/host/internal/config"
)

func TestWatcher_DetectsAgentsFileChange(t *testing.T) {
	homeDir := t.TempDir()

	// Create initial AGENTS.md so the watcher has something to watch.
	agentsPath := filepath.Join(homeDir, "AGENTS.md")
	if err := os.WriteFile(agentsPath, []byte("initial instructions"), 0o644); err != nil {
		t.Fatalf("write initial AGENTS.md: %v", err)
	}

	w := config.NewWatcher(homeDir, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	// Instead of a fixed sleep, retry the write at short intervals until the
	// watcher produces an event. This handles any platform-specific delay in
	// filesystem notification readiness.
	deadline := time.After(3 * time.Second)
	writeTick := time.NewTicker(50 * time.Millisecond)
	defer writeTick.Stop()

	// Perform the first write immediately.
	if err := os.WriteFile(agentsPath, []byte("updated instructions"), 0o644); err != nil {
		t.Fatalf("write updated AGENTS.md: %v", err)
	}

	for {
		select {
		case ev := <-w.Events():
			if filepath.Base(ev.Path) != "AGENTS.md" {
				t.Fatalf("expected AGENTS.md event, got %s", ev.Path)
			}
			return
		case <-writeTick.C:
			// Re-write the file in case the watcher was not yet ready.
			_ = os.WriteFile(agentsPath, []byte("updated instructions"), 0o644)
		case <-deadline:
			t.Fatalf("timed out waiting for AGENTS.md change event")
		}
	}
}
