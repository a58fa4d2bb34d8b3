package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nanoclaw/host/internal/cron"
)

// CreateScheduledTask inserts a new scheduled_tasks row and returns its id.
func (s *Store) CreateScheduledTask(ctx context.Context, groupFolder, cronExpr, prompt string) (string, error) {
	id := uuid.NewString()
	nextRun, err := cron.NextRunTime(cronExpr, time.Now())
	if err != nil {
		return "", fmt.Errorf("invalid cron expression: %w", err)
	}
	err = retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO scheduled_tasks (id, group_folder, cron_expr, prompt, enabled, next_run_at)
			VALUES (?, ?, ?, ?, 1, ?);
		`, id, groupFolder, cronExpr, prompt, nextRun)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("insert scheduled task: %w", err)
	}
	return id, nil
}

// ListScheduledTasks returns all scheduled tasks for groupFolder, or all
// tasks across every group when groupFolder is empty.
func (s *Store) ListScheduledTasks(ctx context.Context, groupFolder string) ([]cron.ScheduledTask, error) {
	var rows *sql.Rows
	var err error
	if groupFolder == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, group_folder, cron_expr, prompt, enabled, last_run_at, next_run_at FROM scheduled_tasks;
		`)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, group_folder, cron_expr, prompt, enabled, last_run_at, next_run_at
			FROM scheduled_tasks WHERE group_folder = ?;
		`, groupFolder)
	}
	if err != nil {
		return nil, fmt.Errorf("list scheduled tasks: %w", err)
	}
	defer rows.Close()
	return scanScheduledTasks(rows)
}

// DueScheduledTasks implements cron.Store: returns enabled tasks whose
// next_run_at is at or before now.
func (s *Store) DueScheduledTasks(ctx context.Context, now time.Time) ([]cron.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_folder, cron_expr, prompt, enabled, last_run_at, next_run_at
		FROM scheduled_tasks
		WHERE enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?;
	`, now)
	if err != nil {
		return nil, fmt.Errorf("query due scheduled tasks: %w", err)
	}
	defer rows.Close()
	return scanScheduledTasks(rows)
}

// MarkScheduledTaskFired implements cron.Store: advances last_run_at/next_run_at.
func (s *Store) MarkScheduledTaskFired(ctx context.Context, id string, firedAt, nextRunAt time.Time) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE scheduled_tasks SET last_run_at = ?, next_run_at = ? WHERE id = ?;
		`, firedAt, nextRunAt, id)
		return err
	})
}

// SetScheduledTaskEnabled enables or disables a scheduled task.
func (s *Store) SetScheduledTaskEnabled(ctx context.Context, id string, enabled bool) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE scheduled_tasks SET enabled = ? WHERE id = ?;`, enabled, id)
		return err
	})
}

func scanScheduledTasks(rows *sql.Rows) ([]cron.ScheduledTask, error) {
	var out []cron.ScheduledTask
	for rows.Next() {
		var t cron.ScheduledTask
		var lastRunAt, nextRunAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.GroupFolder, &t.CronExpr, &t.Prompt, &t.Enabled, &lastRunAt, &nextRunAt); err != nil {
			return nil, fmt.Errorf("scan scheduled task: %w", err)
		}
		if lastRunAt.Valid {
			t.LastRunAt = &lastRunAt.Time
		}
		if nextRunAt.Valid {
			t.NextRunAt = &nextRunAt.Time
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
