package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nanoclaw/host/internal/bus"
)

// SteeringEvent mirrors a row of the worker_steering_events table.
type SteeringEvent struct {
	SteerID   string
	RunID     string
	FromGroup string
	Message   string
	SentAt    time.Time
	AckedAt   *time.Time
	Status    string // pending | acked | expired
}

// RecordSteer inserts a pending steering event for a running worker_run and
// bumps the run's steer_count mirror, in one transaction.
func (s *Store) RecordSteer(ctx context.Context, ev SteeringEvent) error {
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO worker_steering_events (steer_id, run_id, from_group, message, sent_at, status)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP, 'pending');
		`, ev.SteerID, ev.RunID, ev.FromGroup, ev.Message); err != nil {
			return fmt.Errorf("insert steering event: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE worker_runs SET steer_count = steer_count + 1, updated_at = CURRENT_TIMESTAMP
			WHERE run_id = ?;
		`, ev.RunID); err != nil {
			return fmt.Errorf("bump steer_count: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Publish(bus.TopicSteerSubmitted, bus.SteerSubmittedEvent{RunID: ev.RunID, Message: ev.Message})
	}
	return nil
}

// AckSteer marks a pending steering event as acked. It is a no-op (not an
// error) if the event is already acked or expired.
func (s *Store) AckSteer(ctx context.Context, steerID string, ackedAt time.Time) error {
	var runID string
	var applied bool
	err := retryOnBusy(ctx, 5, func() error {
		row := s.db.QueryRowContext(ctx, `SELECT run_id FROM worker_steering_events WHERE steer_id = ?;`, steerID)
		if err := row.Scan(&runID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		res, err := s.db.ExecContext(ctx, `
			UPDATE worker_steering_events SET acked_at = ?, status = 'acked'
			WHERE steer_id = ? AND status = 'pending';
		`, ackedAt, steerID)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		applied = affected == 1
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack steer: %w", err)
	}
	if applied && s.bus != nil {
		s.bus.Publish(bus.TopicSteerAcked, bus.SteerAckedEvent{RunID: runID})
	}
	return nil
}
