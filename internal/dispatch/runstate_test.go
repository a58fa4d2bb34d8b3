package dispatch_test

import (
	"context"
	"sync"
	"testing"

	"github.com/nanoclaw/host/internal/dispatch"
)

type fakeRun struct {
	state     string
	retries   int
	artifacts *dispatch.CompletionArtifacts
}

type fakeStore struct {
	mu   sync.Mutex
	runs map[string]*fakeRun
}

func newFakeStore() *fakeStore {
	return &fakeStore{runs: make(map[string]*fakeRun)}
}

func (f *fakeStore) CreateRun(ctx context.Context, run dispatch.RunCreate) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.runs[run.RunID]; exists {
		return false, nil
	}
	f.runs[run.RunID] = &fakeRun{state: dispatch.RunStateQueued}
	return true, nil
}

func (f *fakeStore) RunState(ctx context.Context, runID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[runID]
	if !ok {
		return "", false, nil
	}
	return r.state, true, nil
}

func (f *fakeStore) TransitionRun(ctx context.Context, runID string, fromStates []string, toState string, artifacts *dispatch.CompletionArtifacts) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[runID]
	if !ok {
		return false, nil
	}
	matched := false
	for _, s := range fromStates {
		if r.state == s {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	r.state = toState
	r.artifacts = artifacts
	return true, nil
}

func (f *fakeStore) RetryRun(ctx context.Context, runID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[runID]
	if !ok {
		return false, nil
	}
	if r.state != dispatch.RunStateFailed && r.state != dispatch.RunStateFailedContract {
		return false, nil
	}
	r.state = dispatch.RunStateQueued
	r.retries++
	return true, nil
}

func TestAccept_CreatesNewRun(t *testing.T) {
	store := newFakeStore()
	p := validPayload()
	created, err := dispatch.Accept(context.Background(), store, p, "controller-dev-acme", nil)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !created {
		t.Fatal("expected created=true for a fresh run_id")
	}
	state, found, _ := store.RunState(context.Background(), p.RunID)
	if !found || state != dispatch.RunStateQueued {
		t.Fatalf("expected queued state, got %q (found=%v)", state, found)
	}
}

func TestAccept_RejectsInvalidPayload(t *testing.T) {
	store := newFakeStore()
	p := validPayload()
	p.Branch = "not-jarvis"
	_, err := dispatch.Accept(context.Background(), store, p, "controller-dev-acme", nil)
	if err == nil {
		t.Fatal("expected validation error to propagate")
	}
}

func TestAccept_DuplicateInRunningStateIsRejected(t *testing.T) {
	store := newFakeStore()
	p := validPayload()
	store.runs[p.RunID] = &fakeRun{state: dispatch.RunStateRunning}

	created, err := dispatch.Accept(context.Background(), store, p, "controller-dev-acme", nil)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if created {
		t.Fatal("expected created=false for a duplicate in-flight run_id")
	}
}

func TestAccept_DuplicateInFailedStateRetries(t *testing.T) {
	store := newFakeStore()
	p := validPayload()
	store.runs[p.RunID] = &fakeRun{state: dispatch.RunStateFailed}

	created, err := dispatch.Accept(context.Background(), store, p, "controller-dev-acme", nil)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !created {
		t.Fatal("expected created=true (retried) for a failed duplicate")
	}
	state, _, _ := store.RunState(context.Background(), p.RunID)
	if state != dispatch.RunStateQueued {
		t.Fatalf("expected retried run back to queued, got %q", state)
	}
}

func TestResolveCompletion_SuccessMovesToReviewRequested(t *testing.T) {
	store := newFakeStore()
	p := validPayload()
	store.runs[p.RunID] = &fakeRun{state: dispatch.RunStateRunning}

	output := completionBlock(`{"run_id":"run-1","branch":"jarvis-health-check","commit_sha":"abc123","test_result":"pass","risk":"low","pr_url":"https://github.com/acme/widgets/pull/1"}`)
	applied, state, err := dispatch.ResolveCompletion(context.Background(), store, p, output)
	if err != nil {
		t.Fatalf("resolve completion: %v", err)
	}
	if !applied || state != dispatch.RunStateReviewRequested {
		t.Fatalf("expected applied review_requested, got applied=%v state=%q", applied, state)
	}
}

func TestResolveCompletion_MissingBlockMovesToFailed(t *testing.T) {
	store := newFakeStore()
	p := validPayload()
	store.runs[p.RunID] = &fakeRun{state: dispatch.RunStateRunning}

	applied, state, err := dispatch.ResolveCompletion(context.Background(), store, p, "container crashed with no output")
	if err != nil {
		t.Fatalf("resolve completion: %v", err)
	}
	if !applied || state != dispatch.RunStateFailed {
		t.Fatalf("expected applied failed, got applied=%v state=%q", applied, state)
	}
}

func TestResolveCompletion_PredicateViolationMovesToFailedContract(t *testing.T) {
	store := newFakeStore()
	p := validPayload()
	store.runs[p.RunID] = &fakeRun{state: dispatch.RunStateRunning}

	output := completionBlock(`{"run_id":"run-1","branch":"jarvis-wrong-branch","commit_sha":"abc123","test_result":"pass","risk":"low","pr_url":"https://github.com/acme/widgets/pull/1"}`)
	applied, state, err := dispatch.ResolveCompletion(context.Background(), store, p, output)
	if err != nil {
		t.Fatalf("resolve completion: %v", err)
	}
	if !applied || state != dispatch.RunStateFailedContract {
		t.Fatalf("expected applied failed_contract, got applied=%v state=%q", applied, state)
	}
}
