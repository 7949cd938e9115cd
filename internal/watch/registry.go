// Package watch keeps the current user's list of watched calendar events
// and announces every change to it.
package watch

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	appLog "evremind/internal/log"
	"evremind/internal/model"
)

// Store is the durable backing for watches, shared by all processes.
type Store interface {
	ListWatches(ctx context.Context, ownerID string) ([]model.WatchedEvent, error)
	AddWatch(ctx context.Context, w model.WatchedEvent) error
	RemoveWatch(ctx context.Context, ownerID, fingerprint string) (int, error)
}

// DefaultLeadMinutes are the lead times offered when none are configured.
var DefaultLeadMinutes = []int{1, 5, 15}

type Registry struct {
	store Store
	leads []int

	mu        sync.Mutex
	ownerID   string
	snapshot  []model.WatchedEvent
	listeners []func()
}

// NewRegistry returns a Registry accepting the given lead times.
func NewRegistry(store Store, leadMinutes []int) *Registry {
	if len(leadMinutes) == 0 {
		leadMinutes = DefaultLeadMinutes
	}
	return &Registry{
		store: store,
		leads: slices.Clone(leadMinutes),
	}
}

// OnChange registers fn to run synchronously after every change to the
// watch set, whether made through this Registry or observed on Load.
func (r *Registry) OnChange(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// LeadMinutes returns the accepted lead times.
func (r *Registry) LeadMinutes() []int {
	return slices.Clone(r.leads)
}

// Load reads ownerID's watches from the store and makes them the current
// snapshot. Switching owner, or finding a set that differs from the
// previous snapshot, counts as a change.
func (r *Registry) Load(ctx context.Context, ownerID string) ([]model.WatchedEvent, error) {
	list, err := r.store.ListWatches(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("watch: load %s: %w", ownerID, err)
	}

	r.mu.Lock()
	changed := r.ownerID != ownerID || !sameSet(r.snapshot, list)
	r.ownerID = ownerID
	r.snapshot = list
	r.mu.Unlock()

	if changed {
		appLog.Debug("watch list changed", "owner", ownerID, "count", len(list))
		r.notify()
	}
	return slices.Clone(list), nil
}

// Snapshot returns the last loaded watch list.
func (r *Registry) Snapshot() []model.WatchedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.snapshot)
}

// OwnerID returns the owner of the current snapshot.
func (r *Registry) OwnerID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ownerID
}

// Watch adds a watch on ev at leadMinutes for the current owner.
func (r *Registry) Watch(ctx context.Context, ev model.CalendarEvent, leadMinutes int) (model.WatchedEvent, error) {
	if !slices.Contains(r.leads, leadMinutes) {
		return model.WatchedEvent{}, model.Errorf(model.ErrInvalid, "lead time %d not allowed (choose from %v)", leadMinutes, r.leads)
	}
	if ev.Name == "" {
		return model.WatchedEvent{}, model.Errorf(model.ErrInvalid, "event name is required")
	}
	if ev.Date.IsZero() {
		return model.WatchedEvent{}, model.Errorf(model.ErrInvalid, "event date is required")
	}

	w := model.NewWatchedEvent(ev, leadMinutes, r.OwnerID())
	w.CreatedAt = time.Now().UTC()
	if err := r.store.AddWatch(ctx, w); err != nil {
		return model.WatchedEvent{}, fmt.Errorf("watch: add %s: %w", w.Fingerprint, err)
	}
	if _, err := r.Load(ctx, w.OwnerID); err != nil {
		return w, err
	}
	appLog.Info("event watched", "fingerprint", w.Fingerprint, "lead_minutes", leadMinutes)
	return w, nil
}

// Unwatch removes every lead time watched for fingerprint. Because the set
// changes, listeners (the fired tracker) reset and a later re-watch can
// fire again.
func (r *Registry) Unwatch(ctx context.Context, fingerprint string) error {
	owner := r.OwnerID()
	n, err := r.store.RemoveWatch(ctx, owner, fingerprint)
	if err != nil {
		return fmt.Errorf("watch: remove %s: %w", fingerprint, err)
	}
	if n == 0 {
		return model.Errorf(model.ErrNotFound, "no watch for %q", fingerprint)
	}
	if _, err := r.Load(ctx, owner); err != nil {
		return err
	}
	appLog.Info("event unwatched", "fingerprint", fingerprint, "removed", n)
	return nil
}

func (r *Registry) notify() {
	r.mu.Lock()
	fns := slices.Clone(r.listeners)
	r.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// watchKey includes the creation time so that an unwatch followed by a
// re-watch made elsewhere between two loads still reads as a change.
type watchKey struct {
	fingerprint string
	lead        int
	created     int64
}

func sameSet(a, b []model.WatchedEvent) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[watchKey]struct{}, len(a))
	for _, w := range a {
		seen[keyOf(w)] = struct{}{}
	}
	for _, w := range b {
		if _, ok := seen[keyOf(w)]; !ok {
			return false
		}
	}
	return true
}

func keyOf(w model.WatchedEvent) watchKey {
	return watchKey{w.Fingerprint, w.LeadMinutes, w.CreatedAt.UnixMilli()}
}
