package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"evremind/internal/model"
)

const (
	DefaultRowSelector = "[data-event-row]"
	defaultPageTimeout = 30 * time.Second
)

// HTMLSource scrapes a rendered calendar page with headless Chromium. Each
// element matching the selector is one event row; its fields come from
// data-date/data-time/data-name/data-impact attributes or, failing that,
// from child elements with classes date/time/name/impact. A row with no
// date (or time) repeats the previous row's, the way calendar tables group
// releases under one heading.
type HTMLSource struct {
	id       string
	url      string
	selector string
	loc      *time.Location
	rules    ImpactRules
	Timeout  time.Duration
}

func NewHTMLSource(id, url, selector string, loc *time.Location, rules ImpactRules) *HTMLSource {
	if selector == "" {
		selector = DefaultRowSelector
	}
	if loc == nil {
		loc = time.Local
	}
	return &HTMLSource{id: id, url: url, selector: selector, loc: loc, rules: rules, Timeout: defaultPageTimeout}
}

func (s *HTMLSource) ID() string { return s.id }

type htmlRow struct {
	Date   string `json:"date"`
	Time   string `json:"time"`
	Name   string `json:"name"`
	Impact string `json:"impact"`
}

const extractRowsJS = `(() => {
  const pick = (row, key) => {
    const attr = row.getAttribute('data-' + key);
    if (attr) return attr.trim();
    const el = row.querySelector('.' + key);
    return el ? el.textContent.trim() : '';
  };
  return Array.from(document.querySelectorAll(%s)).map(row => ({
    date: pick(row, 'date'),
    time: pick(row, 'time'),
    name: pick(row, 'name'),
    impact: pick(row, 'impact'),
  }));
})()`

func (s *HTMLSource) Events(ctx context.Context, from, to time.Time) ([]model.CalendarEvent, error) {
	sel, err := json.Marshal(s.selector)
	if err != nil {
		return nil, err
	}

	cctx, cancel := chromedp.NewContext(ctx)
	defer cancel()
	cctx, timeoutCancel := context.WithTimeout(cctx, s.Timeout)
	defer timeoutCancel()

	var rows []htmlRow
	if err := chromedp.Run(cctx,
		chromedp.Navigate(s.url),
		chromedp.WaitReady(s.selector, chromedp.ByQuery),
		chromedp.Evaluate(fmt.Sprintf(extractRowsJS, sel), &rows),
	); err != nil {
		return nil, fmt.Errorf("calendar: render %s: %w", s.id, err)
	}
	return rowsToEvents(s.id, rows, from, to, s.rules)
}

var rowDateLayouts = []string{
	model.DateLayout,
	"Jan 2, 2006",
	"Mon Jan 2, 2006",
	"January 2, 2006",
	"2006/01/02",
}

func parseRowDate(s string) (time.Time, bool) {
	s = strings.Join(strings.Fields(s), " ")
	for _, layout := range rowDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func rowsToEvents(sourceID string, rows []htmlRow, from, to time.Time, rules ImpactRules) ([]model.CalendarEvent, error) {
	var (
		out      []model.CalendarEvent
		date     time.Time
		haveDate bool
		timeText string
	)
	for _, r := range rows {
		if strings.TrimSpace(r.Date) != "" {
			d, ok := parseRowDate(r.Date)
			if !ok {
				return nil, model.Errorf(model.ErrInvalid, "%s: unrecognised date %q", sourceID, r.Date)
			}
			date, haveDate = d, true
			timeText = ""
		}
		if t := strings.Join(strings.Fields(r.Time), " "); t != "" {
			timeText = t
		}
		name := strings.TrimSpace(r.Name)
		if name == "" || !haveDate {
			continue
		}
		ev := model.CalendarEvent{
			SourceID: sourceID,
			Name:     name,
			TimeText: timeText,
			Date:     model.DateOnly(date),
			Impact:   rules.Classify(name, r.Impact),
		}
		if inRange(ev.Date, from, to) {
			out = append(out, ev)
		}
	}
	return out, nil
}
