package agentrunner

import "context"

// EventKind classifies one streamed Session event. The turn loop only needs
// to distinguish these four shapes to drive progress reporting, completion
// detection, and error classification — it never inspects provider-specific
// payloads directly.
type EventKind int

const (
	EventText EventKind = iota
	EventToolUse
	EventToolResult
	EventDone
)

// Event is one unit of a streamed turn. Session implementations translate
// their SDK's native stream chunks into this shape.
type Event struct {
	Kind       EventKind
	Text       string // EventText: a chunk of assistant text
	ToolName   string // EventToolUse/EventToolResult
	ToolInput  string // EventToolUse: a short human-readable summary of the call
	SessionID  string // EventDone: the session id to persist for a later continue turn
}

// Session is the turn-loop's entire surface onto the model SDK. Isolating
// the real SDK behind this interface keeps every other file in this package
// — IPC polling, stdout framing, fallback orchestration, heartbeats —
// testable against a fake, independent of what the concrete SDK client
// actually does on the wire.
//
// Push delivers one user-turn message (the initial prompt, or a later
// input/ poll result or steer/ message) into the conversation and streams
// events back on the returned channel until the turn settles; the channel
// is closed when the turn is over. A non-nil error from Push itself (as
// opposed to an error surfaced as an event) means the message could not be
// submitted at all.
type Session interface {
	Push(ctx context.Context, message string) (<-chan Event, error)
	Close() error
}

// SessionFactory opens a new Session, resuming sessionID when non-empty.
// Two lanes register a factory each (see failover.go); workers are only
// ever given the primary lane's factory.
type SessionFactory func(ctx context.Context, apiKey, model, sessionID string) (Session, error)

// SessionError wraps an error surfaced from a Session so callers can
// classify it (rate limit, auth, unknown session) without string-matching
// twice.
type SessionError struct {
	Err error
}

func (e *SessionError) Error() string { return e.Err.Error() }
func (e *SessionError) Unwrap() error { return e.Err }
