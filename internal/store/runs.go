package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/nanoclaw/host/internal/bus"
)

// Run states, per the worker_run state machine.
const (
	RunStateQueued           = "queued"
	RunStateRunning          = "running"
	RunStateReviewRequested  = "review_requested"
	RunStateFailedContract   = "failed_contract"
	RunStateFailed           = "failed"
	RunStateDone             = "done"
)

// allowedTransitions encodes the worker_run state machine's legal edges.
var allowedTransitions = map[string]map[string]struct{}{
	RunStateQueued: {
		RunStateRunning: {},
		RunStateFailed:  {}, // container_spawn_failed_before_running
	},
	RunStateRunning: {
		RunStateReviewRequested: {},
		RunStateFailedContract:  {},
		RunStateFailed:          {},
	},
	RunStateReviewRequested: {
		RunStateDone: {},
	},
	RunStateFailed: {
		RunStateQueued: {}, // re-dispatch retry
	},
	RunStateFailedContract: {
		RunStateQueued: {}, // re-dispatch retry
	},
}

func canTransition(from, to string) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// WorkerRun mirrors a row of the worker_runs table.
type WorkerRun struct {
	RunID          string
	GroupFolder    string
	State          string
	RetryCount     int
	DispatchRepo   string
	DispatchBranch string
	ContextIntent  string // fresh | continue
	ParentRunID    string

	LastProgressSummary string
	LastProgressAt      *time.Time
	SteerCount          int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CompletionArtifacts carries the fields written atomically with a
// transition into review_requested, failed_contract, or failed.
type CompletionArtifacts struct {
	Branch         string
	CommitSHA      string
	FilesChanged   []string
	TestResult     string
	Risk           string
	PRUrl          string
	PRSkippedReason string
	FailureReason  string

	DispatchSessionID      string
	SelectedSessionID      string
	EffectiveSessionID     string
	SessionSelectionSource string
	SessionResumeStatus    string // resumed | fallback_new | new
	SessionResumeError     string
}

// CreateRun inserts a new worker_runs row in the queued state. It returns
// created=false (not an error) if run_id already exists — the dispatch
// validator uses this to detect a duplicate dispatch of an in-flight run.
func (s *Store) CreateRun(ctx context.Context, run WorkerRun) (bool, error) {
	if run.ContextIntent == "" {
		run.ContextIntent = "fresh"
	}
	var created bool
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO worker_runs (
				run_id, group_folder, state, retry_count,
				dispatch_repo, dispatch_branch, context_intent, parent_run_id,
				created_at, updated_at
			) VALUES (?, ?, ?, 0, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			ON CONFLICT(run_id) DO NOTHING;
		`, run.RunID, run.GroupFolder, RunStateQueued,
			run.DispatchRepo, run.DispatchBranch, run.ContextIntent, nullableString(run.ParentRunID))
		if err != nil {
			return fmt.Errorf("insert worker_run: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = affected == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	if created && s.bus != nil {
		s.bus.Publish(bus.TopicRunStateChanged, bus.RunStateChangedEvent{
			RunID: run.RunID, GroupFolder: run.GroupFolder,
			OldState: "", NewState: RunStateQueued,
		})
	}
	return created, nil
}

// GetRun fetches a worker_runs row by run_id.
func (s *Store) GetRun(ctx context.Context, runID string) (WorkerRun, error) {
	var r WorkerRun
	var parentRunID, lastProgressSummary sql.NullString
	var lastProgressAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, group_folder, state, retry_count, dispatch_repo, dispatch_branch,
			context_intent, parent_run_id, last_progress_summary, last_progress_at, steer_count,
			created_at, updated_at
		FROM worker_runs WHERE run_id = ?;
	`, runID).Scan(&r.RunID, &r.GroupFolder, &r.State, &r.RetryCount, &r.DispatchRepo,
		&r.DispatchBranch, &r.ContextIntent, &parentRunID, &lastProgressSummary, &lastProgressAt,
		&r.SteerCount, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return WorkerRun{}, ErrNotFound
	}
	if err != nil {
		return WorkerRun{}, fmt.Errorf("get run: %w", err)
	}
	r.ParentRunID = parentRunID.String
	r.LastProgressSummary = lastProgressSummary.String
	if lastProgressAt.Valid {
		r.LastProgressAt = &lastProgressAt.Time
	}
	return r, nil
}

// RunsByGroupState lists runs for groupFolder in any of the given states,
// used by reconciliation sweeps over the (group_folder, state) index.
func (s *Store) RunsByGroupState(ctx context.Context, groupFolder string, states []string) ([]WorkerRun, error) {
	if len(states) == 0 {
		return nil, nil
	}
	placeholders := make([]interface{}, 0, len(states)+1)
	placeholders = append(placeholders, groupFolder)
	q := `SELECT run_id, group_folder, state, retry_count, dispatch_repo, dispatch_branch,
		context_intent, parent_run_id, created_at, updated_at
		FROM worker_runs WHERE group_folder = ? AND state IN (`
	for i, st := range states {
		if i > 0 {
			q += ","
		}
		q += "?"
		placeholders = append(placeholders, st)
	}
	q += ");"

	rows, err := s.db.QueryContext(ctx, q, placeholders...)
	if err != nil {
		return nil, fmt.Errorf("query runs by group/state: %w", err)
	}
	defer rows.Close()

	var out []WorkerRun
	for rows.Next() {
		var r WorkerRun
		var parentRunID sql.NullString
		if err := rows.Scan(&r.RunID, &r.GroupFolder, &r.State, &r.RetryCount, &r.DispatchRepo,
			&r.DispatchBranch, &r.ContextIntent, &parentRunID, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.ParentRunID = parentRunID.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// TransitionRun attempts to move run_id from one of fromStates to toState,
// optionally writing completion artifacts atomically with the move. It
// returns applied=false (not an error) when the guarded UPDATE affects zero
// rows — callers use this to detect races such as a duplicate
// running->running transition arriving twice.
func (s *Store) TransitionRun(ctx context.Context, runID string, fromStates []string, toState string, artifacts *CompletionArtifacts) (bool, error) {
	var applied bool
	var groupFolder, fromState string

	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transition tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var current string
		if err := tx.QueryRowContext(ctx, `
			SELECT state, group_folder FROM worker_runs WHERE run_id = ?;
		`, runID).Scan(&current, &groupFolder); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				applied = false
				return nil
			}
			return fmt.Errorf("select run for transition: %w", err)
		}
		if !slices.Contains(fromStates, current) {
			applied = false
			return nil
		}
		if !canTransition(current, toState) {
			return fmt.Errorf("illegal run transition %s -> %s", current, toState)
		}
		fromState = current

		var filesChangedJSON sql.NullString
		if artifacts != nil && artifacts.FilesChanged != nil {
			b, err := json.Marshal(artifacts.FilesChanged)
			if err != nil {
				return fmt.Errorf("marshal files_changed: %w", err)
			}
			filesChangedJSON = sql.NullString{String: string(b), Valid: true}
		}

		a := artifacts
		if a == nil {
			a = &CompletionArtifacts{}
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE worker_runs SET
				state = ?,
				branch = COALESCE(NULLIF(?, ''), branch),
				commit_sha = COALESCE(NULLIF(?, ''), commit_sha),
				files_changed = COALESCE(?, files_changed),
				test_result = COALESCE(NULLIF(?, ''), test_result),
				risk = COALESCE(NULLIF(?, ''), risk),
				pr_url = COALESCE(NULLIF(?, ''), pr_url),
				pr_skipped_reason = COALESCE(NULLIF(?, ''), pr_skipped_reason),
				failure_reason = COALESCE(NULLIF(?, ''), failure_reason),
				dispatch_session_id = COALESCE(NULLIF(?, ''), dispatch_session_id),
				selected_session_id = COALESCE(NULLIF(?, ''), selected_session_id),
				effective_session_id = COALESCE(NULLIF(?, ''), effective_session_id),
				session_selection_source = COALESCE(NULLIF(?, ''), session_selection_source),
				session_resume_status = COALESCE(NULLIF(?, ''), session_resume_status),
				session_resume_error = COALESCE(NULLIF(?, ''), session_resume_error),
				updated_at = CURRENT_TIMESTAMP
			WHERE run_id = ? AND state = ?;
		`, toState, a.Branch, a.CommitSHA, filesChangedJSON, a.TestResult, a.Risk, a.PRUrl,
			a.PRSkippedReason, a.FailureReason, a.DispatchSessionID, a.SelectedSessionID,
			a.EffectiveSessionID, a.SessionSelectionSource, a.SessionResumeStatus, a.SessionResumeError,
			runID, current)
		if err != nil {
			return fmt.Errorf("update worker_run transition: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected != 1 {
			applied = false
			return nil
		}
		applied = true
		return tx.Commit()
	})
	if err != nil {
		return false, err
	}
	if applied && s.bus != nil {
		topic := bus.TopicRunStateChanged
		switch toState {
		case RunStateFailed, RunStateFailedContract:
			topic = bus.TopicRunFailed
		case RunStateReviewRequested, RunStateDone:
			topic = bus.TopicRunCompleted
		}
		s.bus.Publish(topic, bus.RunStateChangedEvent{
			RunID: runID, GroupFolder: groupFolder, OldState: fromState, NewState: toState,
		})
		if topic == bus.TopicRunCompleted {
			commitSHA := ""
			if artifacts != nil {
				commitSHA = artifacts.CommitSHA
			}
			if run, err := s.GetRun(ctx, runID); err == nil {
				s.bus.Publish(bus.TopicRunCompleted, bus.RunCompletedEvent{
					RunID:      runID,
					CommitSHA:  commitSHA,
					DurationMS: time.Since(run.CreatedAt).Milliseconds(),
				})
			}
		}
	}
	return applied, nil
}

// RetryRun re-dispatches a failed or failed_contract run: it moves the run
// back to queued and increments retry_count, without changing run_id.
func (s *Store) RetryRun(ctx context.Context, runID string) (bool, error) {
	var applied bool
	var groupFolder, fromState string
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		var current string
		if err := tx.QueryRowContext(ctx, `
			SELECT state, group_folder FROM worker_runs WHERE run_id = ?;
		`, runID).Scan(&current, &groupFolder); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				applied = false
				return nil
			}
			return err
		}
		if current != RunStateFailed && current != RunStateFailedContract {
			applied = false
			return nil
		}
		fromState = current

		res, err := tx.ExecContext(ctx, `
			UPDATE worker_runs SET state = ?, retry_count = retry_count + 1, updated_at = CURRENT_TIMESTAMP
			WHERE run_id = ? AND state = ?;
		`, RunStateQueued, runID, current)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected != 1 {
			applied = false
			return nil
		}
		applied = true
		return tx.Commit()
	})
	if err != nil {
		return false, err
	}
	if applied && s.bus != nil {
		s.bus.Publish(bus.TopicRunRetrying, bus.RunStateChangedEvent{
			RunID: runID, GroupFolder: groupFolder, OldState: fromState, NewState: RunStateQueued,
		})
	}
	return applied, nil
}

// RecordProgress updates a run's last_progress_summary/last_progress_at
// mirror and publishes a progress event.
func (s *Store) RecordProgress(ctx context.Context, runID, summary string, ts time.Time) error {
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE worker_runs SET last_progress_summary = ?, last_progress_at = ?, updated_at = CURRENT_TIMESTAMP
			WHERE run_id = ?;
		`, summary, ts, runID)
		return err
	})
	if err != nil {
		return fmt.Errorf("record progress: %w", err)
	}
	if s.bus != nil {
		s.bus.Publish(bus.TopicRunProgress, bus.RunProgressEvent{RunID: runID, Summary: summary})
	}
	return nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
