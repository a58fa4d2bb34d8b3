package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// GroupRecord mirrors a row of the groups table.
type GroupRecord struct {
	GroupFolder string
	LaneClass   string
	Image       string
	Mounts      []string
	SecretScope string
}

// RegisterGroup registers a group, or updates its image/mounts/secret_scope
// if already registered. Registration is append-only: there is no
// DeleteGroup — a group that has ever run must never be removed while a
// run could still be in-flight.
func (s *Store) RegisterGroup(ctx context.Context, g GroupRecord) error {
	mountsJSON, err := json.Marshal(g.Mounts)
	if err != nil {
		return fmt.Errorf("marshal mounts: %w", err)
	}
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO groups (group_folder, lane_class, image, mounts, secret_scope)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(group_folder) DO UPDATE SET
				lane_class = excluded.lane_class,
				image = excluded.image,
				mounts = excluded.mounts,
				secret_scope = excluded.secret_scope;
		`, g.GroupFolder, g.LaneClass, g.Image, string(mountsJSON), g.SecretScope)
		if err != nil {
			return fmt.Errorf("register group: %w", err)
		}
		return nil
	})
}

// ListGroups returns all registered groups.
func (s *Store) ListGroups(ctx context.Context) ([]GroupRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT group_folder, lane_class, image, mounts, secret_scope FROM groups ORDER BY group_folder;
	`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var out []GroupRecord
	for rows.Next() {
		var g GroupRecord
		var mountsJSON string
		if err := rows.Scan(&g.GroupFolder, &g.LaneClass, &g.Image, &mountsJSON, &g.SecretScope); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		if mountsJSON != "" {
			if err := json.Unmarshal([]byte(mountsJSON), &g.Mounts); err != nil {
				return nil, fmt.Errorf("unmarshal mounts: %w", err)
			}
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
