package agentrunner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// archiveTruncateLen caps each archived message body so a single
// pathological turn can't blow up the archive file size.
const archiveTruncateLen = 2000

// TranscriptMessage is one turn of conversation history to archive.
type TranscriptMessage struct {
	Role string // "user" or "assistant"
	Text string
}

// ArchiveTranscript writes the full conversation history to a dated
// Markdown file under <workspaceGroupDir>/conversations/ before the SDK's
// own context compaction discards it. Retargeted from the teacher's
// Compactor.CompactIfNeeded, which summarizes and replaces history in
// place — this spec only ever archives a durable copy and otherwise lets
// the SDK manage its own context window. A failure here is always
// non-fatal to the run; callers should log and continue, never abort a
// turn over an archival write error.
func ArchiveTranscript(workspaceGroupDir string, runID string, at time.Time, messages []TranscriptMessage) error {
	dir := filepath.Join(workspaceGroupDir, "conversations")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("agentrunner: ensure conversations dir: %w", err)
	}

	name := fmt.Sprintf("%s-%s.md", at.Format("2006-01-02T15-04-05"), runID)
	var b strings.Builder
	fmt.Fprintf(&b, "# conversation archive — run %s\n\n", runID)
	fmt.Fprintf(&b, "archived at %s before compaction\n\n", at.Format(time.RFC3339))
	for _, m := range messages {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", m.Role, truncate(m.Text, archiveTruncateLen))
	}

	path := filepath.Join(dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("agentrunner: write archive: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("agentrunner: rename archive into place: %w", err)
	}
	return nil
}
