// Package ipc implements the bidirectional filesystem protocol between the
// host and an in-container agent. Each group gets its own directory tree
// under a shared root; the host and the container agent never share a
// network socket, only this mounted directory.
package ipc

import (
	"os"
	"path/filepath"
)

// Paths resolves the four IPC subtrees for one group. Callers mount
// Root(group) into the container at a fixed path and point the in-container
// agent at the same subtrees from the inside.
type Paths struct {
	root string
}

// NewPaths returns a Paths rooted at baseDir/<group>/ipc.
func NewPaths(baseDir, group string) Paths {
	return Paths{root: filepath.Join(baseDir, group, "ipc")}
}

// Root is the top-level directory for this group's IPC tree.
func (p Paths) Root() string { return p.root }

// Input is where the host writes inbound message files and the container
// agent polls, reads, and unlinks them.
func (p Paths) Input() string { return filepath.Join(p.root, "input") }

// Progress is the container-side-only-writer directory for a single run's
// progress frames.
func (p Paths) Progress(runID string) string { return filepath.Join(p.root, "progress", runID) }

// ProgressRoot is the parent of all per-run progress directories.
func (p Paths) ProgressRoot() string { return filepath.Join(p.root, "progress") }

// Steer is the path to the host-only-writer steering file for a run.
func (p Paths) Steer(runID string) string {
	return filepath.Join(p.root, "steer", runID+".json")
}

// SteerAck is the sentinel the container agent writes once it has injected
// and unlinked the matching steering file.
func (p Paths) SteerAck(runID string) string {
	return filepath.Join(p.root, "steer", runID+".acked.json")
}

// SteerRoot is the parent of all per-run steering files.
func (p Paths) SteerRoot() string { return filepath.Join(p.root, "steer") }

// closeSentinel is the filename whose presence in Input() tells the
// container agent to drain its current turn and exit.
const closeSentinel = "_close"

// CloseSentinelPath returns the path of the `_close` file in this group's
// input directory.
func (p Paths) CloseSentinelPath() string { return filepath.Join(p.Input(), closeSentinel) }

// EnsureDirs creates every subtree (input/, progress/, steer/) so pollers on
// either side never have to special-case a missing directory.
func (p Paths) EnsureDirs() error {
	for _, dir := range []string{p.Input(), p.ProgressRoot(), p.SteerRoot()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// CleanStaleClose unconditionally removes a leftover `_close` sentinel from
// a prior run's container. Called once at container start, per spec.
func (p Paths) CleanStaleClose() error {
	err := os.Remove(p.CloseSentinelPath())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
