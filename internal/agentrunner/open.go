package agentrunner

import "context"

// OpenSession combines the two-lane auth fallback and the session-resume
// fallback into the single decision the turn loop needs at startup: which
// lane answered, and whether resume degraded to a fresh session. Workers
// never get a fallback lane (allowFallback is false for worker-lane runs
// per spec §4.6/§9), so they only ever see the resume fallback.
func OpenSession(ctx context.Context, open SessionFactory, primary, fallback LaneCredentials, allowFallback bool, sessionID string) (Session, AuthLane, SessionResumeStatus, string, error) {
	sess, resumedID, status, err := OpenWithResumeFallback(ctx, open, primary.APIKey, primary.Model, sessionID)
	if err == nil {
		return sess, LanePrimary, status, resumedID, nil
	}

	class := ClassifyError(err)
	if !allowFallback || fallback.APIKey == "" || (class != ErrClassAuth && class != ErrClassRateLimit) {
		return nil, LanePrimary, ResumeError, "", err
	}

	sess, resumedID, status, fbErr := OpenWithResumeFallback(ctx, open, fallback.APIKey, fallback.Model, sessionID)
	if fbErr != nil {
		return nil, LaneFallback, ResumeError, "", fbErr
	}
	return sess, LaneFallback, status, resumedID, nil
}
