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

// ProgressFrame is the JSON shape the container agent writes per progress
// tick and the host forwards to the controller lane as a human-readable
// `[run_id] ↻ {summary}` line.
type ProgressFrame struct {
	Tool    string `json:"tool,omitempty"`
	Summary string `json:"summary"`
}

// WriteProgress atomically drops a progress frame for runID. Filenames are
// `<ts>-<seq>.json`; the host sorts by (ts, seq) on read, matching the
// spec's ordering guarantee for progress delivery.
func WriteProgress(p Paths, runID string, seq int64, frame ProgressFrame) error {
	body, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("ipc: marshal progress frame: %w", err)
	}
	name := fmt.Sprintf("%020d-%010d.json", time.Now().UnixNano(), seq)
	return writeFileAtomic(filepath.Join(p.Progress(runID), name), body)
}

// ProgressFile is one pending progress file discovered by ListProgress.
type ProgressFile struct {
	Path string
	Name string
}

// ListProgress returns pending progress files for runID sorted by
// filename, which is equivalent to sorting by (ts, seq) given the naming
// scheme WriteProgress uses.
func ListProgress(p Paths, runID string) ([]ProgressFile, error) {
	dir := p.Progress(runID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ipc: read progress dir: %w", err)
	}
	var out []ProgressFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		out = append(out, ProgressFile{Path: filepath.Join(dir, e.Name()), Name: e.Name()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ReadAndConsumeProgress reads one progress frame and unlinks its file. A
// filesystem error here is non-fatal per the IPC failure policy: the
// caller logs and retries on the next poll tick.
func ReadAndConsumeProgress(f ProgressFile) (ProgressFrame, error) {
	body, err := os.ReadFile(f.Path)
	if err != nil {
		return ProgressFrame{}, fmt.Errorf("ipc: read progress file %s: %w", f.Name, err)
	}
	var frame ProgressFrame
	if err := json.Unmarshal(body, &frame); err != nil {
		_ = os.Remove(f.Path)
		return ProgressFrame{}, fmt.Errorf("ipc: parse progress file %s: %w", f.Name, err)
	}
	if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
		return frame, fmt.Errorf("ipc: unlink progress file %s: %w", f.Name, err)
	}
	return frame, nil
}
