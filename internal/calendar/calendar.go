// Package calendar supplies economic-calendar events from configured
// sources: ICS feeds and rendered HTML calendar pages.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	appLog "evremind/internal/log"
	"evremind/internal/model"
	"evremind/internal/timeresolve"
)

// Source yields the events whose calendar date falls in [from, to).
type Source interface {
	ID() string
	Events(ctx context.Context, from, to time.Time) ([]model.CalendarEvent, error)
}

// SourceConfig describes one configured source.
type SourceConfig struct {
	ID       string
	Name     string
	Type     string // "ics" or "html"
	URL      string
	Selector string // html only: CSS selector matching one element per event row
}

// ImpactRules classifies events that do not carry an explicit impact.
// Keywords match case-insensitively anywhere in the event name.
type ImpactRules struct {
	High   []string
	Medium []string
}

func (r ImpactRules) Classify(name, explicit string) model.Impact {
	if strings.TrimSpace(explicit) != "" {
		return model.ParseImpact(explicit)
	}
	lower := strings.ToLower(name)
	for _, kw := range r.High {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return model.ImpactHigh
		}
	}
	for _, kw := range r.Medium {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return model.ImpactMedium
		}
	}
	return model.ImpactLow
}

// NewSource builds the Source for cfg.
func NewSource(cfg SourceConfig, fetcher *Fetcher, loc *time.Location, rules ImpactRules) (Source, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("calendar: source %q has no url", cfg.ID)
	}
	switch strings.ToLower(cfg.Type) {
	case "", "ics":
		return NewICSSource(cfg.ID, cfg.URL, fetcher, loc, rules), nil
	case "html":
		return NewHTMLSource(cfg.ID, cfg.URL, cfg.Selector, loc, rules), nil
	default:
		return nil, fmt.Errorf("calendar: source %q has unknown type %q", cfg.ID, cfg.Type)
	}
}

// Static serves a fixed list of events; used for tests and demos.
type Static struct {
	Name  string
	Items []model.CalendarEvent
}

func (s *Static) ID() string { return s.Name }

func (s *Static) Events(_ context.Context, from, to time.Time) ([]model.CalendarEvent, error) {
	out := make([]model.CalendarEvent, 0, len(s.Items))
	for _, ev := range s.Items {
		if inRange(ev.Date, from, to) {
			ev.SourceID = s.Name
			out = append(out, ev)
		}
	}
	return out, nil
}

const DefaultCacheTTL = 5 * time.Minute

// Service merges all sources and caches the merged listing briefly so the
// web UI does not refetch feeds on every page load.
type Service struct {
	sources []Source
	loc     *time.Location
	ttl     time.Duration

	// Now is the clock used for default ranges and cache expiry.
	Now func() time.Time

	mu    sync.Mutex
	cache map[string]cached
}

type cached struct {
	events []model.CalendarEvent
	at     time.Time
}

func NewService(sources []Source, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		sources: sources,
		loc:     loc,
		ttl:     DefaultCacheTTL,
		Now:     time.Now,
		cache:   make(map[string]cached),
	}
}

// Upcoming returns events from today through days-1 days ahead.
func (s *Service) Upcoming(ctx context.Context, days int) ([]model.CalendarEvent, error) {
	if days <= 0 {
		days = 1
	}
	from := model.DateOnly(s.Now().In(s.loc))
	return s.Events(ctx, from, from.AddDate(0, 0, days))
}

// Events returns the merged, de-duplicated and ordered events whose date is
// in [from, to). A failing source is logged and skipped; an error is
// returned only when every source failed.
func (s *Service) Events(ctx context.Context, from, to time.Time) ([]model.CalendarEvent, error) {
	key := from.Format(model.DateLayout) + "/" + to.Format(model.DateLayout)
	now := s.Now()

	s.mu.Lock()
	if c, ok := s.cache[key]; ok && now.Sub(c.at) < s.ttl {
		s.mu.Unlock()
		return c.events, nil
	}
	s.mu.Unlock()

	var (
		all  []model.CalendarEvent
		errs []error
	)
	for _, src := range s.sources {
		evs, err := src.Events(ctx, from, to)
		if err != nil {
			appLog.Error("calendar source failed", err, "source", src.ID())
			errs = append(errs, fmt.Errorf("%s: %w", src.ID(), err))
			continue
		}
		all = append(all, evs...)
	}
	if len(s.sources) > 0 && len(errs) == len(s.sources) {
		return nil, errors.Join(errs...)
	}

	out := Merge(all, s.loc)
	s.mu.Lock()
	s.cache[key] = cached{events: out, at: now}
	s.mu.Unlock()
	return out, nil
}

// Invalidate drops cached listings.
func (s *Service) Invalidate() {
	s.mu.Lock()
	clear(s.cache)
	s.mu.Unlock()
}

// Lookup finds an upcoming event by fingerprint.
func (s *Service) Lookup(ctx context.Context, fingerprint string, days int) (model.CalendarEvent, error) {
	evs, err := s.Upcoming(ctx, days)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	for _, ev := range evs {
		if ev.Fingerprint() == fingerprint {
			return ev, nil
		}
	}
	return model.CalendarEvent{}, model.Errorf(model.ErrNotFound, "no calendar event %q", fingerprint)
}

// Merge drops duplicate fingerprints (first source wins) and orders events
// by date, then clock time with unschedulable entries first, then name.
func Merge(events []model.CalendarEvent, loc *time.Location) []model.CalendarEvent {
	seen := make(map[string]struct{}, len(events))
	out := make([]model.CalendarEvent, 0, len(events))
	for _, ev := range events {
		fp := ev.Fingerprint()
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		ta, oka := timeresolve.Resolve(a.TimeText, a.Date, loc)
		tb, okb := timeresolve.Resolve(b.TimeText, b.Date, loc)
		if oka != okb {
			return !oka
		}
		if oka && !ta.Equal(tb) {
			return ta.Before(tb)
		}
		return a.Name < b.Name
	})
	return out
}

func inRange(date, from, to time.Time) bool {
	d := model.DateOnly(date)
	return !d.Before(model.DateOnly(from)) && d.Before(model.DateOnly(to))
}
