// Package timeresolve turns the loosely formatted time-of-day strings found
// on economic calendars into absolute instants.
package timeresolve

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// clockPattern matches "8:30 AM", "8am", "12:00 pm" and similar.
var clockPattern = regexp.MustCompile(`(?i)^\s*(\d{1,2})(?::(\d{2}))?\s*([ap])\.?\s*m\.?\s*$`)

// Resolve returns the instant timeText denotes on date's calendar day in loc.
// The second result is false when the event cannot be scheduled: all-day,
// tentative and data-only entries, or anything that is not a 12-hour clock
// time. A nil loc means time.Local.
func Resolve(timeText string, date time.Time, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	if Unschedulable(timeText) {
		return time.Time{}, false
	}

	m := clockPattern.FindStringSubmatch(timeText)
	if m == nil {
		return time.Time{}, false
	}
	hour, err := strconv.Atoi(m[1])
	if err != nil || hour < 1 || hour > 12 {
		return time.Time{}, false
	}
	minute := 0
	if m[2] != "" {
		minute, err = strconv.Atoi(m[2])
		if err != nil || minute > 59 {
			return time.Time{}, false
		}
	}

	pm := strings.EqualFold(m[3], "p")
	switch {
	case hour == 12 && !pm:
		hour = 0
	case hour != 12 && pm:
		hour += 12
	}

	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, loc), true
}

// Unschedulable reports whether timeText is one of the calendar's
// non-clock markers.
func Unschedulable(timeText string) bool {
	t := strings.TrimSpace(timeText)
	return t == "" ||
		strings.EqualFold(t, "All Day") ||
		strings.EqualFold(t, "Tentative") ||
		strings.Contains(t, "Data")
}

// MinutesUntil is floor((at - now) / 1m).
func MinutesUntil(at, now time.Time) int {
	d := at.Sub(now)
	m := d / time.Minute
	if d < 0 && d%time.Minute != 0 {
		m--
	}
	return int(m)
}
