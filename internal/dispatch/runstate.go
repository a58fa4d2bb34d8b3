package dispatch

import (
	"context"
	"fmt"
)

// Run states mirror the worker_runs state machine's string values.
const (
	RunStateQueued          = "queued"
	RunStateRunning         = "running"
	RunStateReviewRequested = "review_requested"
	RunStateFailedContract  = "failed_contract"
	RunStateFailed          = "failed"
	RunStateDone            = "done"
)

// RunCreate is the row Store.CreateRun inserts for an accepted dispatch.
type RunCreate struct {
	RunID          string
	GroupFolder    string
	DispatchRepo   string
	DispatchBranch string
	ContextIntent  string
	ParentRunID    string
}

// CompletionArtifacts carries the fields written atomically with a run's
// terminal transition.
type CompletionArtifacts struct {
	Branch              string
	CommitSHA           string
	TestResult          string
	Risk                string
	PRUrl               string
	PRSkippedReason     string
	FailureReason       string
	SessionResumeStatus string
	EffectiveSessionID  string
}

// Store is the run-row surface the dispatch validator needs. It is
// decoupled from internal/store's concrete type so this package can be unit
// tested without a database; cmd/host wires an adapter over *store.Store.
type Store interface {
	CreateRun(ctx context.Context, run RunCreate) (created bool, err error)
	RunState(ctx context.Context, runID string) (state string, found bool, err error)
	TransitionRun(ctx context.Context, runID string, fromStates []string, toState string, artifacts *CompletionArtifacts) (applied bool, err error)
	RetryRun(ctx context.Context, runID string) (applied bool, err error)
}

// Accept validates a dispatch payload and, if it passes, creates its run
// row. It returns created=false (not an error) for a legitimate duplicate:
// run_id already exists in {running, review_requested, done}. A duplicate in
// {failed, failed_contract} is instead retried via Store.RetryRun and
// created is reported true.
func Accept(ctx context.Context, store Store, p Payload, sourceGroup string, lookupParent ExistingRunLookup) (created bool, err error) {
	if err := Validate(p, sourceGroup, p.TargetGroup, lookupParent); err != nil {
		return false, err
	}

	state, found, err := store.RunState(ctx, p.RunID)
	if err != nil {
		return false, fmt.Errorf("lookup existing run state: %w", err)
	}
	if found {
		switch state {
		case RunStateFailed, RunStateFailedContract:
			applied, err := store.RetryRun(ctx, p.RunID)
			if err != nil {
				return false, fmt.Errorf("retry run: %w", err)
			}
			return applied, nil
		default:
			return false, nil
		}
	}

	created, err = store.CreateRun(ctx, RunCreate{
		RunID:          p.RunID,
		GroupFolder:    p.TargetGroup,
		DispatchRepo:   p.Repo,
		DispatchBranch: p.Branch,
		ContextIntent:  p.ContextIntent,
		ParentRunID:    p.ParentRunID,
	})
	if err != nil {
		return false, fmt.Errorf("create run: %w", err)
	}
	return created, nil
}

// ResolveCompletion evaluates a run's container output against the
// completion contract and applies the resulting transition: review_requested
// on success, failed_contract on a violated predicate, or failed when no
// parseable completion block is present at all (container_crash).
func ResolveCompletion(ctx context.Context, store Store, dispatch Payload, output string) (applied bool, state string, err error) {
	completion, found, parseErr := ExtractCompletionBlock(output)
	if !found {
		applied, err = store.TransitionRun(ctx, dispatch.RunID, []string{RunStateRunning}, RunStateFailed,
			&CompletionArtifacts{FailureReason: "completion_missing: no <completion> block in container output"})
		return applied, RunStateFailed, err
	}
	if parseErr != nil {
		applied, err = store.TransitionRun(ctx, dispatch.RunID, []string{RunStateRunning}, RunStateFailed,
			&CompletionArtifacts{FailureReason: parseErr.Error()})
		return applied, RunStateFailed, err
	}

	if checkErr := CheckCompletion(dispatch, completion); checkErr != nil {
		applied, err = store.TransitionRun(ctx, dispatch.RunID, []string{RunStateRunning}, RunStateFailedContract,
			&CompletionArtifacts{FailureReason: checkErr.Error()})
		return applied, RunStateFailedContract, err
	}

	artifacts := &CompletionArtifacts{
		Branch:          completion.Branch,
		CommitSHA:       completion.CommitSHA,
		TestResult:      completion.TestResult,
		Risk:            completion.Risk,
		PRUrl:           completion.PRUrl,
		PRSkippedReason: completion.PRSkippedReason,
	}
	if completion.SessionID != "" {
		artifacts.EffectiveSessionID = completion.SessionID
	}
	applied, err = store.TransitionRun(ctx, dispatch.RunID, []string{RunStateRunning}, RunStateReviewRequested, artifacts)
	return applied, RunStateReviewRequested, err
}
