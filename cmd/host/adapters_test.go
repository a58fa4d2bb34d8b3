package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nanoclaw/host/internal/dispatch"
	"github.com/nanoclaw/host/internal/store"
)

func openAdapterTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "nanoclaw.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestQueueStoreAdapter_RoundTripsMessagesAndCursor(t *testing.T) {
	s := openAdapterTestStore(t)
	ctx := context.Background()
	a := queueStoreAdapter{db: s}

	if _, err := s.InsertMessage(ctx, "worker-acme", "chat1", "hello"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.InsertMessage(ctx, "worker-acme", "chat1", "world"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	cursor, err := a.GroupCursor(ctx, "worker-acme")
	if err != nil {
		t.Fatalf("group cursor: %v", err)
	}
	if cursor != 0 {
		t.Fatalf("expected initial cursor 0, got %d", cursor)
	}

	msgs, err := a.MessagesAfter(ctx, "worker-acme", cursor, 10)
	if err != nil {
		t.Fatalf("messages after: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Body != "hello" || msgs[1].Body != "world" {
		t.Fatalf("unexpected message order/content: %+v", msgs)
	}

	if err := a.AdvanceCursor(ctx, "worker-acme", msgs[1].IngestSeq); err != nil {
		t.Fatalf("advance cursor: %v", err)
	}
	cursor2, err := a.GroupCursor(ctx, "worker-acme")
	if err != nil {
		t.Fatalf("group cursor after advance: %v", err)
	}
	if cursor2 != msgs[1].IngestSeq {
		t.Fatalf("expected cursor %d, got %d", msgs[1].IngestSeq, cursor2)
	}
}

func TestDispatchStoreAdapter_RunStateReportsNotFoundWithoutError(t *testing.T) {
	s := openAdapterTestStore(t)
	a := dispatchStoreAdapter{db: s}

	_, found, err := a.RunState(context.Background(), "no-such-run")
	if err != nil {
		t.Fatalf("run state: unexpected error %v", err)
	}
	if found {
		t.Fatal("expected found=false for unknown run_id")
	}
}

func TestDispatchStoreAdapter_CreateRunThenTransitionWithArtifacts(t *testing.T) {
	s := openAdapterTestStore(t)
	ctx := context.Background()
	a := dispatchStoreAdapter{db: s}

	created, err := a.CreateRun(ctx, dispatch.RunCreate{
		RunID:          "run-1",
		GroupFolder:    "worker-acme",
		DispatchRepo:   "o/r",
		DispatchBranch: "jarvis-x",
		ContextIntent:  "fresh",
	})
	if err != nil || !created {
		t.Fatalf("create run: created=%v err=%v", created, err)
	}

	state, found, err := a.RunState(ctx, "run-1")
	if err != nil || !found || state != dispatch.RunStateQueued {
		t.Fatalf("run state after create: state=%q found=%v err=%v", state, found, err)
	}

	applied, err := a.TransitionRun(ctx, "run-1", []string{dispatch.RunStateQueued}, dispatch.RunStateRunning, nil)
	if err != nil || !applied {
		t.Fatalf("queued->running: applied=%v err=%v", applied, err)
	}

	applied, err = a.TransitionRun(ctx, "run-1", []string{dispatch.RunStateRunning}, dispatch.RunStateReviewRequested,
		&dispatch.CompletionArtifacts{Branch: "jarvis-x", CommitSHA: "abc1234", TestResult: "pass", Risk: "low"})
	if err != nil || !applied {
		t.Fatalf("running->review_requested: applied=%v err=%v", applied, err)
	}

	state, found, err = a.RunState(ctx, "run-1")
	if err != nil || !found || state != dispatch.RunStateReviewRequested {
		t.Fatalf("final run state: state=%q found=%v err=%v", state, found, err)
	}
}

func TestLookupParentRun_ReflectsExistence(t *testing.T) {
	s := openAdapterTestStore(t)
	ctx := context.Background()
	lookup := lookupParentRun(s)

	exists, err := lookup("does-not-exist")
	if err != nil {
		t.Fatalf("lookup unknown: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for unregistered run_id")
	}

	if _, err := s.CreateRun(ctx, store.WorkerRun{RunID: "run-parent", GroupFolder: "worker-acme"}); err != nil {
		t.Fatalf("create run: %v", err)
	}

	exists, err = lookup("run-parent")
	if err != nil {
		t.Fatalf("lookup known: %v", err)
	}
	if !exists {
		t.Fatal("expected exists=true for registered run_id")
	}
}

func TestMessageStoreAdapter_IngestMessageAllocatesSeq(t *testing.T) {
	s := openAdapterTestStore(t)
	ctx := context.Background()
	a := messageStoreAdapter{db: s}

	seq1, err := a.IngestMessage(ctx, "main", "chat1", "hello")
	if err != nil {
		t.Fatalf("ingest 1: %v", err)
	}
	seq2, err := a.IngestMessage(ctx, "main", "chat1", "world")
	if err != nil {
		t.Fatalf("ingest 2: %v", err)
	}
	if seq2 <= seq1 {
		t.Fatalf("expected monotonic ingest_seq, got seq1=%d seq2=%d", seq1, seq2)
	}
}
