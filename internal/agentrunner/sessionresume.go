package agentrunner

import (
	"context"
	"fmt"
)

// SessionResumeStatus is recorded into the completion artifacts so a
// reviewer can see whether a continue-intent run actually resumed its
// prior session or silently started fresh.
type SessionResumeStatus string

const (
	ResumeOK       SessionResumeStatus = "resumed"
	ResumeFallback SessionResumeStatus = "fallback_new"
	ResumeError    SessionResumeStatus = "session_resume_error"
)

// OpenWithResumeFallback opens a Session against sessionID. If that fails
// with an unknown/invalid-session error, it makes exactly one further
// attempt with no session id (a fresh session) and reports ResumeFallback.
// Any other failure on the retry is fatal: the spec allows exactly one
// fallback attempt, not a retry loop.
func OpenWithResumeFallback(ctx context.Context, open SessionFactory, apiKey, model, sessionID string) (Session, string, SessionResumeStatus, error) {
	if sessionID == "" {
		sess, err := open(ctx, apiKey, model, "")
		if err != nil {
			return nil, "", ResumeError, fmt.Errorf("agentrunner: open fresh session: %w", err)
		}
		return sess, "", ResumeOK, nil
	}

	sess, err := open(ctx, apiKey, model, sessionID)
	if err == nil {
		return sess, sessionID, ResumeOK, nil
	}
	if ClassifyError(err) != ErrClassUnknownSession {
		return nil, "", ResumeError, fmt.Errorf("agentrunner: resume session %s: %w", sessionID, err)
	}

	sess, fbErr := open(ctx, apiKey, model, "")
	if fbErr != nil {
		return nil, "", ResumeError, fmt.Errorf("agentrunner: resume session %s failed (%v), and fresh-session fallback also failed: %w", sessionID, err, fbErr)
	}
	return sess, "", ResumeFallback, nil
}
