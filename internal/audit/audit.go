// Package audit is an append-only decision log for the Host Router's lane
// policy and the Dispatch Validator's payload checks.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nanoclaw/host/internal/shared"
)

type entry struct {
	Timestamp     string `json:"timestamp"`
	Decision      string `json:"decision"` // policy_blocked | dispatch_invalid | dispatch_valid
	GroupFolder   string `json:"group_folder"`
	Lane          string `json:"lane"`
	RunID         string `json:"run_id,omitempty"`
	Reason        string `json:"reason"`
	PolicyVersion string `json:"policy_version"`
}

var (
	mu         sync.Mutex
	file       *os.File
	db         *sql.DB
	blockCount atomic.Int64
)

func Init(homeDir string) error {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		return nil
	}
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

// SetDB configures the database for audit_log table mirroring.
func SetDB(d *sql.DB) {
	mu.Lock()
	defer mu.Unlock()
	db = d
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// BlockedCount returns the total number of policy_blocked/dispatch_invalid
// decisions recorded since startup.
func BlockedCount() int64 {
	return blockCount.Load()
}

// Record appends a decision entry to the audit trail. decision is one of
// "policy_blocked", "dispatch_invalid", or "dispatch_valid". runID may be
// empty for decisions made before a worker_runs row exists (e.g. a
// policy_blocked message that never reached dispatch).
func Record(decision, groupFolder, lane, runID, reason, policyVersion string) {
	if decision == "policy_blocked" || decision == "dispatch_invalid" {
		blockCount.Add(1)
	}

	reason = shared.Redact(reason)

	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		ev := entry{
			Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
			Decision:      decision,
			GroupFolder:   groupFolder,
			Lane:          lane,
			RunID:         runID,
			Reason:        reason,
			PolicyVersion: policyVersion,
		}
		b, err := json.Marshal(ev)
		if err == nil {
			_, _ = file.Write(append(b, '\n'))
		}
	}

	if db != nil {
		_, _ = db.ExecContext(context.Background(), `
			INSERT INTO audit_log (group_folder, lane, run_id, decision, reason, policy_version)
			VALUES (?, ?, ?, ?, ?, ?);
		`, groupFolder, lane, runID, decision, reason, policyVersion)
	}
}
