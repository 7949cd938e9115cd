// Package quiet implements the time-of-day window during which reminders
// are not delivered.
package quiet

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Policy is a [Start, End) local time-of-day window, in minutes since
// midnight. Start > End wraps past midnight. Start == End suppresses
// nothing. The zero Policy is disabled.
type Policy struct {
	Enabled bool
	Start   int
	End     int
}

// Default is 22:00-06:00.
func Default() Policy {
	return Policy{Enabled: true, Start: 22 * 60, End: 6 * 60}
}

// Parse builds an enabled Policy from "HH:MM" strings.
func Parse(start, end string) (Policy, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Policy{}, fmt.Errorf("quiet hours start: %w", err)
	}
	e, err := ParseClock(end)
	if err != nil {
		return Policy{}, fmt.Errorf("quiet hours end: %w", err)
	}
	return Policy{Enabled: true, Start: s, End: e}, nil
}

// ParseClock converts "HH:MM" (24-hour) into minutes since midnight.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid clock %q (want HH:MM)", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// IsSuppressed reports whether now, read in its own location, falls inside
// the window.
func (p Policy) IsSuppressed(now time.Time) bool {
	if !p.Enabled {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	if p.Start <= p.End {
		return p.Start <= cur && cur < p.End
	}
	return cur >= p.Start || cur < p.End
}

func (p Policy) String() string {
	if !p.Enabled {
		return "disabled"
	}
	return fmt.Sprintf("%02d:%02d-%02d:%02d", p.Start/60, p.Start%60, p.End/60, p.End%60)
}
