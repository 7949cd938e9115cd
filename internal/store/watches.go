package store

import (
	"context"
	"fmt"
	"time"

	"evremind/internal/model"
)

func (s *Store) ListWatches(ctx context.Context, ownerID string) ([]model.WatchedEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		select fingerprint, name, time_text, event_date, impact, lead_minutes, owner_id, created_at
		from watches
		where owner_id = ?
		order by fingerprint, lead_minutes`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("store: query watches: %w", err)
	}
	defer rows.Close()

	out := make([]model.WatchedEvent, 0)
	for rows.Next() {
		var (
			w         model.WatchedEvent
			date      string
			impact    string
			createdAt int64
		)
		if err := rows.Scan(&w.Fingerprint, &w.Name, &w.TimeText, &date, &impact, &w.LeadMinutes, &w.OwnerID, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan watch: %w", err)
		}
		if w.Date, err = model.ParseDate(date); err != nil {
			return nil, fmt.Errorf("store: watch %q: %w", w.Fingerprint, err)
		}
		w.Impact = model.ParseImpact(impact)
		w.CreatedAt = fromMillis(createdAt)
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate watches: %w", err)
	}
	return out, nil
}

// AddWatch inserts w. Watching the same (owner, fingerprint, lead) twice is
// a no-op.
func (s *Store) AddWatch(ctx context.Context, w model.WatchedEvent) error {
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into watches (owner_id, fingerprint, name, time_text, event_date, impact, lead_minutes, created_at)
		values (?, ?, ?, ?, ?, ?, ?, ?)
		on conflict (owner_id, fingerprint, lead_minutes) do nothing`,
		w.OwnerID, w.Fingerprint, w.Name, w.TimeText, w.Date.Format(model.DateLayout),
		string(w.Impact), w.LeadMinutes, toMillis(w.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: insert watch: %w", err)
	}
	return nil
}

// RemoveWatch deletes every lead time watched for fingerprint and returns
// how many rows went away.
func (s *Store) RemoveWatch(ctx context.Context, ownerID, fingerprint string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from watches where owner_id = ? and fingerprint = ?`, ownerID, fingerprint)
	if err != nil {
		return 0, fmt.Errorf("store: delete watch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: delete watch: %w", err)
	}
	return int(n), nil
}
