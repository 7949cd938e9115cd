// Package fired records which reminders this process has already delivered.
// The set lives only in memory; a restarted process starts empty.
package fired

import "sync"

// Key identifies one delivery: a calendar occurrence, the lead time it was
// watched at, and the year the reminder fired in.
type Key struct {
	Fingerprint string
	LeadMinutes int
	Year        int
}

type Tracker struct {
	mu   sync.Mutex
	keys map[Key]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{keys: make(map[Key]struct{})}
}

func (t *Tracker) HasFired(k Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.keys[k]
	return ok
}

func (t *Tracker) MarkFired(k Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keys[k] = struct{}{}
}

// Reset forgets every delivery. It is called whenever the watch list changes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keys = make(map[Key]struct{})
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.keys)
}
