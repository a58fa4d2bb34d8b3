// Package router is the Host Router: it ingests inbound chat messages into
// their group's queue, and authorizes controller-lane dispatch JSON against
// the four-lane policy matrix before forwarding it to internal/dispatch.
package router

import (
	"context"
	"fmt"

	"github.com/nanoclaw/host/internal/audit"
	"github.com/nanoclaw/host/internal/dispatch"
	"github.com/nanoclaw/host/internal/policy"
)

// MessageStore is the inbound message ledger the Router appends to.
type MessageStore interface {
	IngestMessage(ctx context.Context, group, chatJID, body string) (ingestSeq int64, err error)
}

// QueueNotifier wakes a group's queue worker after a new message lands.
// internal/queue's Manager satisfies this.
type QueueNotifier interface {
	Notify(group string)
}

// Router implements channels.Router and cron.Router (plain message
// ingestion) plus the dispatch authorization edge the controller lanes use.
type Router struct {
	policy       policy.Checker
	store        MessageStore
	queue        QueueNotifier
	runs         dispatch.Store
	lookupParent dispatch.ExistingRunLookup
}

func New(checker policy.Checker, store MessageStore, queue QueueNotifier, runs dispatch.Store, lookupParent dispatch.ExistingRunLookup) *Router {
	return &Router{policy: checker, store: store, queue: queue, runs: runs, lookupParent: lookupParent}
}

// RouteMessage appends content to groupFolder's message ledger and wakes
// that group's queue worker. Plain chat ingestion carries no dispatch
// authorization concern — only a parsed dispatch payload (RouteDispatch) is
// subject to the lane matrix.
func (r *Router) RouteMessage(ctx context.Context, groupFolder, content string) (int64, error) {
	seq, err := r.store.IngestMessage(ctx, groupFolder, "", content)
	if err != nil {
		return 0, fmt.Errorf("ingest message: %w", err)
	}
	if r.queue != nil {
		r.queue.Notify(groupFolder)
	}
	return seq, nil
}

// RouteDispatch authorizes a controller lane's dispatch payload against the
// four-lane matrix, then forwards it to internal/dispatch. A policy
// violation is recorded as "policy_blocked" and never creates a worker_runs
// row — distinct from a dispatch_invalid/failed_contract run.
func (r *Router) RouteDispatch(ctx context.Context, sourceGroup string, p dispatch.Payload) (created bool, err error) {
	sourceLane := r.policy.LaneForGroup(sourceGroup)
	targetLane := r.policy.LaneForGroup(p.TargetGroup)

	if allowed, reason := r.policy.AuthorizeDispatch(sourceLane, targetLane); !allowed {
		audit.Record("policy_blocked", sourceGroup, string(sourceLane), "", reason, r.policy.PolicyVersion())
		return false, &PolicyBlockedError{SourceGroup: sourceGroup, TargetGroup: p.TargetGroup, Reason: reason}
	}

	created, err = dispatch.Accept(ctx, r.runs, p, sourceGroup, r.lookupParent)
	if err != nil {
		audit.Record("dispatch_invalid", sourceGroup, string(sourceLane), p.RunID, err.Error(), r.policy.PolicyVersion())
		return false, err
	}
	audit.Record("dispatch_valid", sourceGroup, string(sourceLane), p.RunID, "", r.policy.PolicyVersion())

	// A newly accepted (or retried) run still needs its input fed into the
	// target group's queue — create_run only inserts the worker_runs row.
	if created {
		if _, err := r.store.IngestMessage(ctx, p.TargetGroup, "", p.Input); err != nil {
			return created, fmt.Errorf("enqueue dispatch input: %w", err)
		}
		if r.queue != nil {
			r.queue.Notify(p.TargetGroup)
		}
	}
	return created, nil
}

// PolicyBlockedError distinguishes a lane-matrix rejection from a
// dispatch_invalid validation failure.
type PolicyBlockedError struct {
	SourceGroup string
	TargetGroup string
	Reason      string
}

func (e *PolicyBlockedError) Error() string {
	return fmt.Sprintf("policy_blocked: %s -> %s: %s", e.SourceGroup, e.TargetGroup, e.Reason)
}
