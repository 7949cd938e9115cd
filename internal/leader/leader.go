// Package leader elects a single active scheduler among several processes
// sharing one local storage medium.
package leader

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	appLog "evremind/internal/log"
)

// Lock is the shared medium. Implementations must make Acquire atomic: of
// several concurrent callers on a free (or stale) key, exactly one gets true.
type Lock interface {
	// Acquire takes key for holder if it is absent, already held by holder,
	// or its last heartbeat is older than ttl. ttl <= 0 disables expiry.
	Acquire(ctx context.Context, key, holder string, now time.Time, ttl time.Duration) (bool, error)
	// Refresh bumps the heartbeat. It returns false if holder no longer owns key.
	Refresh(ctx context.Context, key, holder string, now time.Time) (bool, error)
	// Release removes key if holder owns it.
	Release(ctx context.Context, key, holder string) error
}

// Elector is one process's view of the election.
type Elector struct {
	lock   Lock
	key    string
	holder string
	ttl    time.Duration

	// Now is used for acquisition markers and heartbeats.
	Now func() time.Time

	mu   sync.Mutex
	held bool
}

// NewElector builds an Elector with a fresh random holder token.
func NewElector(lock Lock, key string, ttl time.Duration) *Elector {
	return &Elector{
		lock:   lock,
		key:    key,
		holder: uuid.NewString(),
		ttl:    ttl,
		Now:    time.Now,
	}
}

// Holder returns this elector's token as stored in the lock.
func (e *Elector) Holder() string { return e.holder }

// TryAcquire attempts to become leader. Storage errors count as a lost
// election; they are logged, never returned.
func (e *Elector) TryAcquire(ctx context.Context) bool {
	ok, err := e.lock.Acquire(ctx, e.key, e.holder, e.Now(), e.ttl)
	if err != nil {
		appLog.Error("leader lock acquire failed", err, "key", e.key)
		ok = false
	}
	e.mu.Lock()
	e.held = ok
	e.mu.Unlock()
	if ok {
		appLog.Info("leader lock acquired", "key", e.key, "holder", e.holder, "ttl", e.ttl.String())
	} else {
		appLog.Info("leader lock held elsewhere; running as follower", "key", e.key)
	}
	return ok
}

// Heartbeat refreshes the lock and reports whether this elector still leads.
// A transient storage error keeps the current state.
func (e *Elector) Heartbeat(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.held {
		return false
	}
	ok, err := e.lock.Refresh(ctx, e.key, e.holder, e.Now())
	if err != nil {
		appLog.Error("leader heartbeat failed", err, "key", e.key)
		return e.held
	}
	if !ok {
		appLog.Warn("leader lock lost", "key", e.key, "holder", e.holder)
		e.held = false
	}
	return e.held
}

// Release gives up leadership. Calling it on a follower is a no-op.
func (e *Elector) Release(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.held {
		return nil
	}
	e.held = false
	if err := e.lock.Release(ctx, e.key, e.holder); err != nil {
		return err
	}
	appLog.Info("leader lock released", "key", e.key)
	return nil
}

func (e *Elector) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.held
}

// State is a snapshot of the lock row, for status displays.
type State struct {
	Key         string    `json:"key"`
	Holder      string    `json:"holder"`
	AcquiredAt  time.Time `json:"acquired_at"`
	HeartbeatAt time.Time `json:"heartbeat_at"`
}

// Stale reports whether the lock's heartbeat is older than ttl at now.
func (s State) Stale(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(s.HeartbeatAt) > ttl
}
