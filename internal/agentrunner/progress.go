package agentrunner

import (
	"time"

	"github.com/nanoclaw/host/internal/ipc"
)

// progressInterval throttles progress-frame writes to at most one per
// window, regardless of how many Session events arrive in between.
const progressInterval = 5 * time.Second

const summaryMaxLen = 100

// progressReporter batches Session events into throttled ipc.ProgressFrame
// writes. It is not safe for concurrent use; the turn loop drives it from a
// single goroutine per run.
type progressReporter struct {
	paths    ipc.Paths
	runID    string
	seq      int64
	lastSent time.Time
	pending  *ipc.ProgressFrame
}

func newProgressReporter(paths ipc.Paths, runID string) *progressReporter {
	return &progressReporter{paths: paths, runID: runID}
}

// Observe classifies ev into a progress frame and remembers it as the
// latest pending state; it does not write anything by itself.
func (r *progressReporter) Observe(ev Event) {
	switch ev.Kind {
	case EventToolUse:
		r.pending = &ipc.ProgressFrame{Tool: ev.ToolName, Summary: truncate("using "+ev.ToolName, summaryMaxLen)}
	case EventText:
		if ev.Text == "" {
			return
		}
		r.pending = &ipc.ProgressFrame{Summary: truncate("thinking: "+ev.Text, summaryMaxLen)}
	}
}

// Flush writes the latest pending frame if at least progressInterval has
// elapsed since the last write, or if force is set (used at turn end so the
// final state is never silently dropped by the throttle).
func (r *progressReporter) Flush(force bool) error {
	if r.pending == nil {
		return nil
	}
	if !force && time.Since(r.lastSent) < progressInterval {
		return nil
	}
	r.seq++
	if err := ipc.WriteProgress(r.paths, r.runID, r.seq, *r.pending); err != nil {
		return err
	}
	r.lastSent = time.Now()
	r.pending = nil
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
