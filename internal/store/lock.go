package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"evremind/internal/leader"
)

// Acquire is a single upsert, so it is atomic across processes: the
// existing row is only overwritten when it belongs to holder or its
// heartbeat is older than ttl.
func (s *Store) Acquire(ctx context.Context, key, holder string, now time.Time, ttl time.Duration) (bool, error) {
	staleBefore := int64(math.MinInt64)
	if ttl > 0 {
		staleBefore = toMillis(now.Add(-ttl))
	}
	res, err := s.db.ExecContext(ctx, `
		insert into leader_lock (key, holder, acquired_at, heartbeat_at)
		values (?, ?, ?, ?)
		on conflict (key) do update set
			holder = excluded.holder,
			acquired_at = excluded.acquired_at,
			heartbeat_at = excluded.heartbeat_at
		where leader_lock.holder = excluded.holder or leader_lock.heartbeat_at < ?`,
		key, holder, toMillis(now), toMillis(now), staleBefore)
	if err != nil {
		return false, fmt.Errorf("store: acquire lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: acquire lock: %w", err)
	}
	return n == 1, nil
}

func (s *Store) Refresh(ctx context.Context, key, holder string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`update leader_lock set heartbeat_at = ? where key = ? and holder = ?`,
		toMillis(now), key, holder)
	if err != nil {
		return false, fmt.Errorf("store: refresh lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: refresh lock: %w", err)
	}
	return n == 1, nil
}

func (s *Store) Release(ctx context.Context, key, holder string) error {
	if _, err := s.db.ExecContext(ctx,
		`delete from leader_lock where key = ? and holder = ?`, key, holder); err != nil {
		return fmt.Errorf("store: release lock: %w", err)
	}
	return nil
}

// InspectLock reads the lock row without modifying it.
func (s *Store) InspectLock(ctx context.Context, key string) (leader.State, bool, error) {
	var (
		st                    leader.State
		acquired, heartbeated int64
	)
	err := s.db.QueryRowContext(ctx,
		`select key, holder, acquired_at, heartbeat_at from leader_lock where key = ?`, key).
		Scan(&st.Key, &st.Holder, &acquired, &heartbeated)
	if errors.Is(err, sql.ErrNoRows) {
		return leader.State{}, false, nil
	}
	if err != nil {
		return leader.State{}, false, fmt.Errorf("store: inspect lock: %w", err)
	}
	st.AcquiredAt = fromMillis(acquired)
	st.HeartbeatAt = fromMillis(heartbeated)
	return st, true, nil
}

// ClearLock removes the lock regardless of holder. It is the manual
// recovery path for a leader that died without releasing.
func (s *Store) ClearLock(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `delete from leader_lock where key = ?`, key); err != nil {
		return fmt.Errorf("store: clear lock: %w", err)
	}
	return nil
}

var _ leader.Lock = (*Store)(nil)
