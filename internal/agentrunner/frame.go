package agentrunner

import (
	"encoding/json"
	"fmt"
	"io"
)

// These markers must match internal/runner/frame.go's host-side scanner
// literals exactly — the two sides are never compiled together (one runs on
// the host, one inside the container), so there is no shared constant to
// import.
const (
	frameStartMarker = "---NANOCLAW_OUTPUT_START---"
	frameEndMarker   = "---NANOCLAW_OUTPUT_END---"
	heartbeatToken   = "NANOCLAW_HEARTBEAT"
	logPrefix        = "[agent-runner]"
)

// WriteFrame marshals v and writes it to w wrapped in the host's stdout
// markers, as a single atomic write so a concurrent writer can't interleave
// a partial frame.
func WriteFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	out := frameStartMarker + "\n" + string(body) + "\n" + frameEndMarker + "\n"
	if _, err := io.WriteString(w, out); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// WriteHeartbeat writes a heartbeat line to stderr (w). Called once every
// 60s by the turn loop so the host's no-output deadline never fires while a
// turn is genuinely still in progress.
func WriteHeartbeat(w io.Writer) error {
	_, err := io.WriteString(w, heartbeatToken+"\n")
	return err
}

// Logf writes a lifted structured log line to stderr (w), picked up by the
// host's ScanStderr as an OnLifted line instead of opaque container noise.
func Logf(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", logPrefix, fmt.Sprintf(format, args...))
}
