package model

import (
	"strings"
	"time"
)

// DateLayout is the canonical text form of a calendar date (year-month-day).
const DateLayout = "2006-01-02"

// Impact classifies how market-moving a calendar event is expected to be.
type Impact string

const (
	ImpactHigh   Impact = "High"
	ImpactMedium Impact = "Medium"
	ImpactLow    Impact = "Low"
)

// ParseImpact accepts any casing of high/medium/low (and the short forms
// h/m/l). Unknown values map to ImpactLow.
func ParseImpact(s string) Impact {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "h":
		return ImpactHigh
	case "medium", "med", "m":
		return ImpactMedium
	default:
		return ImpactLow
	}
}

// CalendarEvent is a single occurrence as supplied by a calendar source.
// TimeText is kept verbatim ("8:30 AM", "All Day", "Tentative", ...).
type CalendarEvent struct {
	SourceID string    `json:"source_id,omitempty"`
	Name     string    `json:"name"`
	TimeText string    `json:"time_text"`
	Date     time.Time `json:"date"`
	Impact   Impact    `json:"impact"`
}

// Fingerprint identifies the calendar occurrence independent of storage id.
func (e CalendarEvent) Fingerprint() string {
	return Fingerprint(e.Date, e.Name, e.TimeText)
}

// Fingerprint builds the `date|name|timeText` key.
func Fingerprint(date time.Time, name, timeText string) string {
	return date.Format(DateLayout) + "|" + name + "|" + timeText
}

// WatchedEvent is one (calendar occurrence, lead time) pair a user asked to
// be reminded about. The same fingerprint may be watched at several lead
// times; each is a distinct watch.
type WatchedEvent struct {
	Fingerprint string    `json:"fingerprint"`
	Name        string    `json:"name"`
	TimeText    string    `json:"time_text"`
	Date        time.Time `json:"date"`
	Impact      Impact    `json:"impact"`
	LeadMinutes int       `json:"lead_minutes"`
	OwnerID     string    `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewWatchedEvent derives a watch from a calendar occurrence.
func NewWatchedEvent(ev CalendarEvent, leadMinutes int, ownerID string) WatchedEvent {
	return WatchedEvent{
		Fingerprint: ev.Fingerprint(),
		Name:        ev.Name,
		TimeText:    ev.TimeText,
		Date:        DateOnly(ev.Date),
		Impact:      ev.Impact,
		LeadMinutes: leadMinutes,
		OwnerID:     ownerID,
	}
}

// DateOnly drops the clock part of t, keeping its calendar date. The result
// is expressed in UTC so that dates compare and serialize stably.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a year-month-day string.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, Errorf(ErrInvalid, "invalid date %q (want YYYY-MM-DD)", s)
	}
	return t, nil
}

// NotificationTypeEventReminder is the record type written for reminders.
const NotificationTypeEventReminder = "event_reminder"

// Notification is a record appended to the notification store.
type Notification struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	FromID    string    `json:"from_id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}
