// Package mem provides process-local implementations of the watch,
// notification and leader-lock stores.
package mem

import (
	"context"
	"sort"
	"sync"
	"time"

	"evremind/internal/leader"
	"evremind/internal/model"
)

type Store struct {
	mu            sync.Mutex
	watches       []model.WatchedEvent
	notifications []model.Notification
	locks         map[string]leader.State

	// InsertErr, when set, makes InsertNotification fail.
	InsertErr error
}

func NewStore() *Store {
	return &Store{locks: make(map[string]leader.State)}
}

func (s *Store) ListWatches(_ context.Context, ownerID string) ([]model.WatchedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.WatchedEvent, 0, len(s.watches))
	for _, w := range s.watches {
		if w.OwnerID == ownerID {
			out = append(out, w)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Fingerprint != out[j].Fingerprint {
			return out[i].Fingerprint < out[j].Fingerprint
		}
		return out[i].LeadMinutes < out[j].LeadMinutes
	})
	return out, nil
}

func (s *Store) AddWatch(_ context.Context, w model.WatchedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.watches {
		if cur.OwnerID == w.OwnerID && cur.Fingerprint == w.Fingerprint && cur.LeadMinutes == w.LeadMinutes {
			return nil
		}
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	s.watches = append(s.watches, w)
	return nil
}

func (s *Store) RemoveWatch(_ context.Context, ownerID, fingerprint string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.watches[:0]
	removed := 0
	for _, w := range s.watches {
		if w.OwnerID == ownerID && w.Fingerprint == fingerprint {
			removed++
			continue
		}
		kept = append(kept, w)
	}
	s.watches = kept
	return removed, nil
}

func (s *Store) InsertNotification(_ context.Context, n model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertErr != nil {
		return s.InsertErr
	}
	s.notifications = append(s.notifications, n)
	return nil
}

// ListNotifications returns the newest records first.
func (s *Store) ListNotifications(_ context.Context, ownerID string, limit int) ([]model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Notification, 0)
	for i := len(s.notifications) - 1; i >= 0; i-- {
		n := s.notifications[i]
		if n.OwnerID != ownerID {
			continue
		}
		out = append(out, n)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) Acquire(_ context.Context, key, holder string, now time.Time, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.locks[key]; ok && cur.Holder != holder && !cur.Stale(now, ttl) {
		return false, nil
	}
	s.locks[key] = leader.State{Key: key, Holder: holder, AcquiredAt: now, HeartbeatAt: now}
	return true, nil
}

func (s *Store) Refresh(_ context.Context, key, holder string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.locks[key]
	if !ok || cur.Holder != holder {
		return false, nil
	}
	cur.HeartbeatAt = now
	s.locks[key] = cur
	return true, nil
}

func (s *Store) Release(_ context.Context, key, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.locks[key]; ok && cur.Holder == holder {
		delete(s.locks, key)
	}
	return nil
}

func (s *Store) InspectLock(_ context.Context, key string) (leader.State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.locks[key]
	return st, ok, nil
}

func (s *Store) ClearLock(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, key)
	return nil
}

func (s *Store) Close() error { return nil }

var _ leader.Lock = (*Store)(nil)
