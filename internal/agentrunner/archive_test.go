package agentrunner_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nanoclaw/host/internal/agentrunner"
)

func TestArchiveTranscript_WritesMarkdownFile(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	err := agentrunner.ArchiveTranscript(dir, "run-1", at, []agentrunner.TranscriptMessage{
		{Role: "user", Text: "hello"},
		{Role: "assistant", Text: "hi there"},
	})
	if err != nil {
		t.Fatalf("archive transcript: %v", err)
	}

	entries, rerr := os.ReadDir(filepath.Join(dir, "conversations"))
	if rerr != nil {
		t.Fatalf("read conversations dir: %v", rerr)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 archive file, got %d", len(entries))
	}
	body, rerr := os.ReadFile(filepath.Join(dir, "conversations", entries[0].Name()))
	if rerr != nil {
		t.Fatalf("read archive file: %v", rerr)
	}
	if !contains(string(body), "hello") || !contains(string(body), "hi there") {
		t.Fatalf("expected archive to contain both messages, got %q", body)
	}
}

func TestArchiveTranscript_TruncatesLongMessages(t *testing.T) {
	dir := t.TempDir()
	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'a'
	}
	err := agentrunner.ArchiveTranscript(dir, "run-2", time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC), []agentrunner.TranscriptMessage{
		{Role: "user", Text: string(long)},
	})
	if err != nil {
		t.Fatalf("archive transcript: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "conversations"))
	body, _ := os.ReadFile(filepath.Join(dir, "conversations", entries[0].Name()))
	if len(body) >= 5000 {
		t.Fatalf("expected message to be truncated, got length %d", len(body))
	}
}
