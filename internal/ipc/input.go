package ipc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// InputMessage is the JSON shape the host writes into input/ and the
// container agent consumes.
type InputMessage struct {
	Type string `json:"type"` // always "message" for now
	Text string `json:"text"`
}

// WriteMessage atomically drops a new input file into the group's input
// directory. Filenames are zero-padded nanosecond timestamps plus a seq
// suffix so lexicographic order matches submission order even when two
// messages land in the same nanosecond.
func WriteMessage(p Paths, seq int64, text string) error {
	msg := InputMessage{Type: "message", Text: text}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("ipc: marshal input message: %w", err)
	}
	name := fmt.Sprintf("%020d-%010d.json", time.Now().UnixNano(), seq)
	return writeFileAtomic(filepath.Join(p.Input(), name), body)
}

// WriteClose drops the `_close` sentinel into the group's input directory,
// asking the container agent to drain its current turn and exit.
func WriteClose(p Paths) error {
	return writeFileAtomic(p.CloseSentinelPath(), []byte("{}"))
}

// InputFile is one pending message file discovered by ListInput.
type InputFile struct {
	Path string
	Name string
}

// ListInput returns pending input files (excluding `_close`) in
// lexicographic filename order, the order the container agent must consume
// them in to preserve at-most-once injection in submission order.
func ListInput(p Paths) ([]InputFile, error) {
	entries, err := os.ReadDir(p.Input())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ipc: read input dir: %w", err)
	}
	var out []InputFile
	for _, e := range entries {
		if e.IsDir() || e.Name() == closeSentinel {
			continue
		}
		if !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		out = append(out, InputFile{Path: filepath.Join(p.Input(), e.Name()), Name: e.Name()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// HasClose reports whether `_close` is currently present in the input
// directory.
func HasClose(p Paths) bool {
	_, err := os.Stat(p.CloseSentinelPath())
	return err == nil
}

// ConsumeClose unlinks the `_close` sentinel. Called by the container agent
// once it has finished draining its current turn.
func ConsumeClose(p Paths) error {
	err := os.Remove(p.CloseSentinelPath())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ipc: consume close sentinel: %w", err)
	}
	return nil
}

// ReadAndConsume reads one input file and unlinks it. Any read error is
// treated as the spec's "non-fatal, log and retry next poll" policy: the
// file is left in place for the next poll to retry.
func ReadAndConsume(f InputFile) (InputMessage, error) {
	body, err := os.ReadFile(f.Path)
	if err != nil {
		return InputMessage{}, fmt.Errorf("ipc: read input file %s: %w", f.Name, err)
	}
	var msg InputMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		// Malformed payload: unlink so it doesn't wedge the poll loop on a
		// file that will never parse, and surface the error to the caller.
		_ = os.Remove(f.Path)
		return InputMessage{}, fmt.Errorf("ipc: parse input file %s: %w", f.Name, err)
	}
	if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
		return msg, fmt.Errorf("ipc: unlink input file %s: %w", f.Name, err)
	}
	return msg, nil
}

// writeFileAtomic writes body to a temp file in the same directory as path
// then renames it into place, so a poller never observes a partial write.
func writeFileAtomic(path string, body []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ipc: ensure dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("ipc: create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ipc: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ipc: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ipc: rename into place: %w", err)
	}
	return nil
}
