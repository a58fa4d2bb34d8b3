package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Message mirrors a row of the messages table.
type Message struct {
	IngestSeq   int64
	GroupFolder string
	ChatJID     string
	Body        string
	Ts          time.Time
}

// InsertMessage allocates the next monotonic ingest_seq and inserts the
// message in the same statement (SQLite's AUTOINCREMENT serializes
// allocation through the store's single writer connection, so a separate
// allocate_ingest_seq step would add nothing but a second round trip).
func (s *Store) InsertMessage(ctx context.Context, groupFolder, chatJID, body string) (int64, error) {
	var ingestSeq int64
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO messages (group_folder, chat_jid, body, ts)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP);
		`, groupFolder, chatJID, body)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		ingestSeq, err = res.LastInsertId()
		return err
	})
	return ingestSeq, err
}

// MessagesAfter returns up to limit messages for groupFolder with
// ingest_seq > cursorSeq, ordered by ingest_seq ascending — the per-group
// processing cursor only ever advances by ingest_seq, never by timestamp.
func (s *Store) MessagesAfter(ctx context.Context, groupFolder string, cursorSeq int64, limit int) ([]Message, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ingest_seq, group_folder, chat_jid, body, ts
		FROM messages
		WHERE group_folder = ? AND ingest_seq > ?
		ORDER BY ingest_seq ASC
		LIMIT ?;
	`, groupFolder, cursorSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages_after: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.IngestSeq, &m.GroupFolder, &m.ChatJID, &m.Body, &m.Ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GroupCursor returns the last advanced ingest_seq for groupFolder, or 0 if
// the group has never processed a message.
func (s *Store) GroupCursor(ctx context.Context, groupFolder string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT last_ingest_seq FROM group_cursors WHERE group_folder = ?;
	`, groupFolder).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read group cursor: %w", err)
	}
	return seq, nil
}

// AdvanceCursor moves groupFolder's cursor forward to seq. It is a no-op
// (not an error) if the cursor is already at or past seq — this makes
// advance idempotent so a retried dequeue-commit can't move the cursor
// backwards.
func (s *Store) AdvanceCursor(ctx context.Context, groupFolder string, seq int64) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO group_cursors (group_folder, last_ingest_seq)
			VALUES (?, ?)
			ON CONFLICT(group_folder) DO UPDATE SET
				last_ingest_seq = CASE WHEN excluded.last_ingest_seq > group_cursors.last_ingest_seq
					THEN excluded.last_ingest_seq ELSE group_cursors.last_ingest_seq END;
		`, groupFolder, seq)
		if err != nil {
			return fmt.Errorf("advance cursor: %w", err)
		}
		return nil
	})
}
