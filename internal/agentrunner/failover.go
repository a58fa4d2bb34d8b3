package agentrunner

import (
	"context"
	"fmt"
)

// AuthLane names one of the two credential sets a run may authenticate
// with. Narrowed from the teacher's ordered N-provider FailoverBrain list:
// this spec recognizes exactly two lanes, and only the main/controller
// lanes are ever allowed to fall back — workers always stay on primary.
type AuthLane string

const (
	LanePrimary  AuthLane = "primary"
	LaneFallback AuthLane = "fallback"
)

// LaneCredentials is one auth lane's API key and model id, read from the
// StdinPayload's secrets map by the cmd/agent entrypoint.
type LaneCredentials struct {
	APIKey string
	Model  string
}

// FailoverSession opens a Session on the primary lane, retrying once on the
// fallback lane if the primary attempt's error classifies as a rate limit
// or auth failure. Fallback is only attempted when enabled is true and a
// non-empty fallback credential set was supplied — the narrowed two-lane
// equivalent of the teacher's per-provider circuit breaker, without
// persisted breaker state: a single run only ever sees one fallback
// decision, so there is nothing worth persisting across runs.
func FailoverSession(ctx context.Context, open SessionFactory, primary, fallback LaneCredentials, enabled bool, sessionID string) (Session, AuthLane, error) {
	sess, err := open(ctx, primary.APIKey, primary.Model, sessionID)
	if err == nil {
		return sess, LanePrimary, nil
	}

	class := ClassifyError(err)
	if !enabled || fallback.APIKey == "" {
		return nil, LanePrimary, fmt.Errorf("agentrunner: primary lane failed (%v) and fallback disabled: %w", class, err)
	}
	if class != ErrClassAuth && class != ErrClassRateLimit {
		return nil, LanePrimary, fmt.Errorf("agentrunner: primary lane failed with non-failover-eligible error: %w", err)
	}

	sess, fbErr := open(ctx, fallback.APIKey, fallback.Model, sessionID)
	if fbErr != nil {
		return nil, LaneFallback, fmt.Errorf("agentrunner: primary lane failed (%v) and fallback also failed: %w", class, fbErr)
	}
	return sess, LaneFallback, nil
}
