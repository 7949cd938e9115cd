// Package notify delivers a triggered reminder: it writes the notification
// record, pushes a toast to connected UIs and plays the audio cue.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"evremind/internal/chime"
	appLog "evremind/internal/log"
	"evremind/internal/metrics"
	"evremind/internal/model"
)

// Store is the notification sink. Reminders only ever append to it.
type Store interface {
	InsertNotification(ctx context.Context, n model.Notification) error
}

// Toaster shows a transient message on any attached UI surface.
type Toaster interface {
	Toast(title, description string)
}

type ToasterFunc func(title, description string)

func (f ToasterFunc) Toast(title, description string) { f(title, description) }

// Result reports what a firing delivered.
type Result struct {
	Notification model.Notification
	Toasted      bool
	Chimed       bool
}

type Pipeline struct {
	store   Store
	toaster Toaster
	player  *chime.Player

	// FromID is recorded as the sender of reminder notifications.
	FromID string
}

// NewPipeline wires the delivery channels. toaster and player may be nil.
func NewPipeline(store Store, toaster Toaster, player *chime.Player) *Pipeline {
	return &Pipeline{store: store, toaster: toaster, player: player, FromID: "system"}
}

// Message renders the reminder text for a watch.
func Message(ev model.WatchedEvent) string {
	return fmt.Sprintf("Reminder: %s in %d minute(s) (%s)", ev.Name, ev.LeadMinutes, ev.TimeText)
}

// Fire delivers one reminder. The toast is sent whether or not the record
// write succeeds. A store failure skips the chime and is returned so the
// caller does not mark the key as fired. Toast and chime failures are
// logged and swallowed.
func (p *Pipeline) Fire(ctx context.Context, ev model.WatchedEvent, now time.Time) (Result, error) {
	msg := Message(ev)
	n := model.Notification{
		ID:        uuid.NewString(),
		OwnerID:   ev.OwnerID,
		FromID:    p.FromID,
		Type:      model.NotificationTypeEventReminder,
		Message:   msg,
		Read:      false,
		CreatedAt: now.UTC(),
	}
	storeErr := p.store.InsertNotification(ctx, n)

	res := Result{Notification: n}
	if p.toaster != nil {
		res.Toasted = p.toast(ev.Name, msg)
	}
	if storeErr != nil {
		metrics.Failure("store")
		appLog.Error("reminder notification write failed", storeErr,
			"fingerprint", ev.Fingerprint, "lead_minutes", ev.LeadMinutes)
		return Result{Toasted: res.Toasted}, fmt.Errorf("notify: insert notification: %w", storeErr)
	}
	if p.player != nil {
		if err := p.player.Play(ctx); err != nil {
			metrics.Failure("chime")
			appLog.Debug("chime failed", "error", err.Error())
		} else {
			res.Chimed = true
		}
	}
	appLog.Info("reminder fired", "fingerprint", ev.Fingerprint, "lead_minutes", ev.LeadMinutes,
		"owner_id", ev.OwnerID)
	return res, nil
}

func (p *Pipeline) toast(title, desc string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			metrics.Failure("toast")
			appLog.Warn("toast panicked", "panic", fmt.Sprint(r))
			ok = false
		}
	}()
	p.toaster.Toast(title, desc)
	return true
}
