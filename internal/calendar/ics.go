package calendar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "evremind/internal/log"
	"evremind/internal/model"
)

// maxOccurrences caps recurrence expansion per event.
const maxOccurrences = 1000

// ICSSource reads economic-calendar events from an iCalendar feed. Impact is
// taken from an X-IMPACT property, then CATEGORIES, then the keyword rules.
type ICSSource struct {
	id      string
	url     string
	fetcher *Fetcher
	loc     *time.Location
	rules   ImpactRules
}

func NewICSSource(id, url string, fetcher *Fetcher, loc *time.Location, rules ImpactRules) *ICSSource {
	if fetcher == nil {
		fetcher = NewFetcher(nil, "")
	}
	if loc == nil {
		loc = time.Local
	}
	return &ICSSource{id: id, url: url, fetcher: fetcher, loc: loc, rules: rules}
}

func (s *ICSSource) ID() string { return s.id }

func (s *ICSSource) Events(ctx context.Context, from, to time.Time) ([]model.CalendarEvent, error) {
	feed, err := s.fetcher.Fetch(ctx, s.url)
	if err != nil {
		return nil, err
	}
	vevents, err := parseICS(feed.Body)
	if err != nil {
		return nil, fmt.Errorf("calendar: parse %s: %w", s.id, err)
	}
	out := expand(vevents, from, to, s.loc)
	for i := range out {
		out[i].SourceID = s.id
		out[i].Impact = s.rules.Classify(out[i].Name, string(out[i].Impact))
	}
	appLog.Debug("ics source loaded", "source", s.id, "vevents", len(vevents), "events", len(out), "stale", feed.Stale)
	return out, nil
}

type vevent struct {
	uid      string
	summary  string
	impact   string
	start    time.Time
	allDay   bool
	rrule    string
	exdates  []time.Time
	recurID  *time.Time
	override bool
}

func parseICS(body []byte) ([]vevent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty ICS body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	out := make([]vevent, 0, len(cal.Events()))
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(ve)
		if err != nil {
			appLog.Warn("skipping vevent", "error", err.Error())
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func parseVEvent(ve *ical.VEvent) (vevent, error) {
	var ev vevent
	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		ev.uid = p.Value
	}
	if ev.uid == "" {
		return ev, errors.New("missing UID")
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.summary = strings.TrimSpace(p.Value)
	}
	if ev.summary == "" {
		return ev, fmt.Errorf("%s: missing SUMMARY", ev.uid)
	}
	if p := ve.GetProperty(ical.ComponentProperty("X-IMPACT")); p != nil {
		ev.impact = p.Value
	} else if p := ve.GetProperty(ical.ComponentPropertyCategories); p != nil {
		for _, c := range strings.Split(p.Value, ",") {
			switch strings.ToLower(strings.TrimSpace(c)) {
			case "high", "medium", "low":
				ev.impact = c
			}
		}
	}

	dt := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dt == nil {
		return ev, fmt.Errorf("%s: missing DTSTART", ev.uid)
	}
	ev.allDay = !strings.Contains(dt.Value, "T")
	if vs, ok := dt.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		ev.allDay = true
	}
	start, err := ve.GetStartAt()
	if err != nil {
		if ev.allDay {
			start, err = ve.GetAllDayStartAt()
		}
		if err != nil {
			return ev, fmt.Errorf("%s: DTSTART: %w", ev.uid, err)
		}
	}
	ev.start = start

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		ev.rrule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, start.Location()); err == nil {
				ev.exdates = append(ev.exdates, t)
			}
		}
	}
	if p := ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")); p != nil {
		if t, err := parseICSTime(p.Value, start.Location()); err == nil {
			ev.recurID = &t
			ev.override = true
		}
	}
	return ev, nil
}

// parseICSTime handles the bare DATE, local DATE-TIME and UTC forms used by
// EXDATE and RECURRENCE-ID.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

// expand turns parsed VEVENTs into concrete calendar events dated in
// [from, to), applying RRULE, EXDATE and RECURRENCE-ID overrides.
func expand(vevents []vevent, from, to time.Time, loc *time.Location) []model.CalendarEvent {
	overrides := make(map[string][]vevent)
	for _, ev := range vevents {
		if ev.override {
			overrides[ev.uid] = append(overrides[ev.uid], ev)
		}
	}

	// Widen by a day on each side; the exact cut happens on local dates.
	lo := from.AddDate(0, 0, -1)
	hi := to.AddDate(0, 0, 1)

	var out []model.CalendarEvent
	for _, ev := range vevents {
		if ev.override {
			continue
		}
		starts := []time.Time{ev.start}
		if ev.rrule != "" {
			var err error
			if starts, err = occurrences(ev, lo, hi); err != nil {
				appLog.Warn("bad RRULE; using DTSTART only", "uid", ev.uid, "rrule", ev.rrule, "error", err.Error())
				starts = []time.Time{ev.start}
			}
		}
		for _, st := range starts {
			inst := ev
			inst.start = st
			if o, ok := findOverride(overrides[ev.uid], st); ok {
				inst.summary, inst.start, inst.allDay = o.summary, o.start, o.allDay
				if o.impact != "" {
					inst.impact = o.impact
				}
			}
			ce := toCalendarEvent(inst, loc)
			if inRange(ce.Date, from, to) {
				out = append(out, ce)
			}
		}
	}
	return out
}

func occurrences(ev vevent, lo, hi time.Time) ([]time.Time, error) {
	r, err := rrule.StrToRRule(ev.rrule)
	if err != nil {
		return nil, err
	}
	r.DTStart(ev.start)
	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.exdates {
		set.ExDate(ex.In(ev.start.Location()))
	}
	loc := ev.start.Location()
	times := set.Between(lo.In(loc), hi.In(loc), true)
	if len(times) > maxOccurrences {
		appLog.Warn("recurrence truncated", "uid", ev.uid, "cap", maxOccurrences)
		times = times[:maxOccurrences]
	}
	return times, nil
}

func findOverride(overrides []vevent, start time.Time) (vevent, bool) {
	for _, o := range overrides {
		if o.recurID != nil && o.recurID.Equal(start) {
			return o, true
		}
	}
	return vevent{}, false
}

func toCalendarEvent(ev vevent, loc *time.Location) model.CalendarEvent {
	ce := model.CalendarEvent{Name: ev.summary, Impact: model.Impact(ev.impact)}
	if ev.allDay {
		// all-day dates are floating; keep the written date
		ce.Date = model.DateOnly(ev.start)
		ce.TimeText = "All Day"
		return ce
	}
	local := ev.start.In(loc)
	ce.Date = model.DateOnly(local)
	ce.TimeText = local.Format("3:04 PM")
	return ce
}
