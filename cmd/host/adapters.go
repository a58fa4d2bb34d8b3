package main

import (
	"context"
	"errors"

	"github.com/nanoclaw/host/internal/dispatch"
	"github.com/nanoclaw/host/internal/queue"
	"github.com/nanoclaw/host/internal/store"
)

// queueStoreAdapter bridges internal/store's concrete Message/cursor
// methods to internal/queue's decoupled Store interface.
type queueStoreAdapter struct{ db *store.Store }

func (a queueStoreAdapter) GroupCursor(ctx context.Context, group string) (int64, error) {
	return a.db.GroupCursor(ctx, group)
}

func (a queueStoreAdapter) MessagesAfter(ctx context.Context, group string, cursorSeq int64, limit int) ([]queue.Message, error) {
	rows, err := a.db.MessagesAfter(ctx, group, cursorSeq, limit)
	if err != nil {
		return nil, err
	}
	out := make([]queue.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, queue.Message{IngestSeq: r.IngestSeq, ChatJID: r.ChatJID, Body: r.Body})
	}
	return out, nil
}

func (a queueStoreAdapter) AdvanceCursor(ctx context.Context, group string, seq int64) error {
	return a.db.AdvanceCursor(ctx, group, seq)
}

// dispatchStoreAdapter bridges internal/store's WorkerRun/CompletionArtifacts
// to internal/dispatch's decoupled Store interface.
type dispatchStoreAdapter struct{ db *store.Store }

func (a dispatchStoreAdapter) CreateRun(ctx context.Context, run dispatch.RunCreate) (bool, error) {
	return a.db.CreateRun(ctx, store.WorkerRun{
		RunID:          run.RunID,
		GroupFolder:    run.GroupFolder,
		DispatchRepo:   run.DispatchRepo,
		DispatchBranch: run.DispatchBranch,
		ContextIntent:  run.ContextIntent,
		ParentRunID:    run.ParentRunID,
		State:          dispatch.RunStateQueued,
	})
}

func (a dispatchStoreAdapter) RunState(ctx context.Context, runID string) (string, bool, error) {
	run, err := a.db.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return run.State, true, nil
}

func (a dispatchStoreAdapter) TransitionRun(ctx context.Context, runID string, fromStates []string, toState string, artifacts *dispatch.CompletionArtifacts) (bool, error) {
	var sa *store.CompletionArtifacts
	if artifacts != nil {
		sa = &store.CompletionArtifacts{
			Branch:              artifacts.Branch,
			CommitSHA:           artifacts.CommitSHA,
			TestResult:          artifacts.TestResult,
			Risk:                artifacts.Risk,
			PRUrl:               artifacts.PRUrl,
			PRSkippedReason:     artifacts.PRSkippedReason,
			FailureReason:       artifacts.FailureReason,
			SessionResumeStatus: artifacts.SessionResumeStatus,
			EffectiveSessionID:  artifacts.EffectiveSessionID,
		}
	}
	return a.db.TransitionRun(ctx, runID, fromStates, toState, sa)
}

func (a dispatchStoreAdapter) RetryRun(ctx context.Context, runID string) (bool, error) {
	return a.db.RetryRun(ctx, runID)
}

// lookupParentRun satisfies dispatch.ExistingRunLookup against the store.
func lookupParentRun(db *store.Store) dispatch.ExistingRunLookup {
	return func(runID string) (bool, error) {
		_, err := db.GetRun(context.Background(), runID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	}
}

// messageStoreAdapter bridges store.InsertMessage to router.MessageStore.
type messageStoreAdapter struct{ db *store.Store }

func (a messageStoreAdapter) IngestMessage(ctx context.Context, group, chatJID, body string) (int64, error) {
	return a.db.InsertMessage(ctx, group, chatJID, body)
}
