package store

import (
	"context"
	"fmt"

	"evremind/internal/model"
)

func (s *Store) InsertNotification(ctx context.Context, n model.Notification) error {
	_, err := s.db.ExecContext(ctx, `
		insert into notifications (id, owner_id, from_id, type, message, is_read, created_at)
		values (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.OwnerID, n.FromID, n.Type, n.Message, n.Read, toMillis(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns ownerID's newest records first. limit <= 0
// means no limit.
func (s *Store) ListNotifications(ctx context.Context, ownerID string, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, owner_id, from_id, type, message, is_read, created_at
		from notifications
		where owner_id = ?
		order by created_at desc, rowid desc
		limit ?`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query notifications: %w", err)
	}
	defer rows.Close()

	out := make([]model.Notification, 0)
	for rows.Next() {
		var (
			n         model.Notification
			createdAt int64
		)
		if err := rows.Scan(&n.ID, &n.OwnerID, &n.FromID, &n.Type, &n.Message, &n.Read, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan notification: %w", err)
		}
		n.CreatedAt = fromMillis(createdAt)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate notifications: %w", err)
	}
	return out, nil
}
