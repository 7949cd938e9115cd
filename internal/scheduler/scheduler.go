// Package scheduler runs the reminder evaluation loop on the elected leader.
//
// One Scheduler exists per process. Start tries to take the shared lock
// once; a follower stays passive until the next Start. The leader evaluates
// immediately and then on a fixed interval until Stop, or until a heartbeat
// finds the lock owned by someone else.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"evremind/internal/fired"
	"evremind/internal/leader"
	appLog "evremind/internal/log"
	"evremind/internal/metrics"
	"evremind/internal/model"
	"evremind/internal/notify"
	"evremind/internal/quiet"
	"evremind/internal/timeresolve"
	"evremind/internal/watch"
)

// Trigger selects how "minutes until event" is matched against a lead time.
type Trigger string

const (
	// TriggerExact fires only on the tick where the difference equals the
	// lead time. A missed tick loses the reminder.
	TriggerExact Trigger = "exact"
	// TriggerCatchUp fires on the first tick where 0 <= diff <= lead and
	// relies on the fired tracker for dedup.
	TriggerCatchUp Trigger = "catch_up"
)

// ParseTrigger maps a config value to a Trigger; unknown values are exact.
func ParseTrigger(s string) Trigger {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "catch_up", "catchup", "catch-up":
		return TriggerCatchUp
	default:
		return TriggerExact
	}
}

// Matches reports whether diff minutes before the event satisfies lead.
func (t Trigger) Matches(diff, lead int) bool {
	if t == TriggerCatchUp {
		return diff >= 0 && diff <= lead
	}
	return diff == lead
}

type State string

const (
	StateIdle     State = "idle"
	StateFollower State = "follower"
	StateLeader   State = "leader"
)

const (
	DefaultInterval    = 60 * time.Second
	DefaultFireTimeout = 10 * time.Second
)

type Options struct {
	Interval    time.Duration
	FireTimeout time.Duration
	OwnerID     string
	Trigger     Trigger
	Quiet       quiet.Policy
	// Location is used to resolve event times and quiet hours. nil is Local.
	Location *time.Location
}

// Firer delivers one triggered reminder.
type Firer interface {
	Fire(ctx context.Context, ev model.WatchedEvent, now time.Time) (notify.Result, error)
}

// Report summarises one evaluation pass.
type Report struct {
	Leader     bool
	Watches    int
	Fired      []model.WatchedEvent
	Suppressed int
	Duplicates int
	Failed     int
}

// Status is the externally visible scheduler state.
type Status struct {
	State       State     `json:"state"`
	Holder      string    `json:"holder"`
	OwnerID     string    `json:"owner_id"`
	Interval    string    `json:"interval"`
	Trigger     Trigger   `json:"trigger"`
	QuietHours  string    `json:"quiet_hours"`
	Watches     int       `json:"watches"`
	FiredKeys   int       `json:"fired_keys"`
	LastTick    time.Time `json:"last_tick"`
	LastFiredAt time.Time `json:"last_fired_at"`
}

type Scheduler struct {
	opts     Options
	elector  *leader.Elector
	registry *watch.Registry
	tracker  *fired.Tracker
	firer    Firer

	// Now is the wall clock used for ticks.
	Now func() time.Time

	evalMu sync.Mutex

	mu        sync.Mutex
	state     State
	cron      *cron.Cron
	cancel    context.CancelFunc
	lastTick  time.Time
	lastFired time.Time
}

func New(opts Options, elector *leader.Elector, registry *watch.Registry, firer Firer) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.FireTimeout <= 0 {
		opts.FireTimeout = DefaultFireTimeout
	}
	if opts.Trigger == "" {
		opts.Trigger = TriggerExact
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	s := &Scheduler{
		opts:     opts,
		elector:  elector,
		registry: registry,
		tracker:  fired.NewTracker(),
		firer:    firer,
		Now:      time.Now,
		state:    StateIdle,
	}
	registry.OnChange(s.tracker.Reset)
	return s
}

// Start elects and, on winning, evaluates once and schedules the ticker.
// Losing the election is not an error.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return errors.New("scheduler: already started")
	}
	if !s.elector.TryAcquire(ctx) {
		s.state = StateFollower
		s.mu.Unlock()
		metrics.SetLeader(false)
		return nil
	}
	s.state = StateLeader
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()
	metrics.SetLeader(true)

	if _, err := s.Evaluate(runCtx, s.Now()); err != nil {
		appLog.Error("initial evaluation failed", err)
	}

	c := cron.New(
		cron.WithLocation(s.opts.Location),
		cron.WithLogger(appLog.Cron()),
		cron.WithChain(cron.Recover(appLog.Cron()), cron.SkipIfStillRunning(appLog.Cron())),
	)
	c.Schedule(cron.Every(s.opts.Interval), cron.FuncJob(func() {
		if _, err := s.Evaluate(runCtx, s.Now()); err != nil {
			appLog.Error("evaluation failed", err)
		}
	}))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateLeader {
		// demoted during the initial pass
		return nil
	}
	s.cron = c
	c.Start()
	appLog.Info("scheduler started", "interval", s.opts.Interval.String(), "trigger", string(s.opts.Trigger),
		"owner_id", s.opts.OwnerID)
	return nil
}

// Stop cancels the ticker, waits for a running pass and releases the lock.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	cancel := s.cancel
	s.cancel = nil
	s.state = StateIdle
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	if cancel != nil {
		cancel()
	}
	metrics.SetLeader(false)
	if err := s.elector.Release(ctx); err != nil {
		return fmt.Errorf("scheduler: release lock: %w", err)
	}
	appLog.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) demote() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		// Not waited on: the caller is the running job.
		s.cron.Stop()
		s.cron = nil
	}
	if s.state == StateLeader {
		s.state = StateFollower
	}
	metrics.SetLeader(false)
}

// Evaluate runs one pass at now. Followers return immediately.
func (s *Scheduler) Evaluate(ctx context.Context, now time.Time) (Report, error) {
	s.evalMu.Lock()
	defer s.evalMu.Unlock()

	if !s.elector.IsLeader() {
		metrics.Tick("follower")
		return Report{}, nil
	}
	if !s.elector.Heartbeat(ctx) {
		metrics.Tick("lost_lock")
		s.demote()
		return Report{}, nil
	}

	start := time.Now()
	s.mu.Lock()
	s.lastTick = now
	s.mu.Unlock()

	watches, err := s.registry.Load(ctx, s.opts.OwnerID)
	if err != nil {
		metrics.Tick("error")
		return Report{Leader: true}, fmt.Errorf("scheduler: load watches: %w", err)
	}
	metrics.SetWatches(len(watches))

	rep := Report{Leader: true, Watches: len(watches)}
	local := now.In(s.opts.Location)
	for _, w := range watches {
		s.evaluateOne(ctx, w, local, &rep)
	}

	metrics.Tick("evaluated")
	metrics.TickDuration(time.Since(start))
	if len(rep.Fired) > 0 {
		s.mu.Lock()
		s.lastFired = now
		s.mu.Unlock()
	}
	appLog.Debug("evaluation pass", "watches", rep.Watches, "fired", len(rep.Fired),
		"suppressed", rep.Suppressed, "duplicates", rep.Duplicates, "failed", rep.Failed)
	return rep, nil
}

func (s *Scheduler) evaluateOne(ctx context.Context, w model.WatchedEvent, now time.Time, rep *Report) {
	at, ok := timeresolve.Resolve(w.TimeText, w.Date, s.opts.Location)
	if !ok {
		return
	}
	diff := timeresolve.MinutesUntil(at, now)
	if !s.opts.Trigger.Matches(diff, w.LeadMinutes) {
		return
	}
	if s.opts.Quiet.IsSuppressed(now) {
		rep.Suppressed++
		metrics.Skipped("quiet_hours")
		return
	}
	key := fired.Key{Fingerprint: w.Fingerprint, LeadMinutes: w.LeadMinutes, Year: now.Year()}
	if s.tracker.HasFired(key) {
		rep.Duplicates++
		metrics.Skipped("already_fired")
		return
	}

	fctx, cancel := context.WithTimeout(ctx, s.opts.FireTimeout)
	defer cancel()
	if _, err := s.firer.Fire(fctx, w, now); err != nil {
		rep.Failed++
		return
	}
	s.tracker.MarkFired(key)
	rep.Fired = append(rep.Fired, w)
	metrics.Fired(w.LeadMinutes)
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:       s.state,
		Holder:      s.elector.Holder(),
		OwnerID:     s.opts.OwnerID,
		Interval:    s.opts.Interval.String(),
		Trigger:     s.opts.Trigger,
		QuietHours:  s.opts.Quiet.String(),
		Watches:     len(s.registry.Snapshot()),
		FiredKeys:   s.tracker.Len(),
		LastTick:    s.lastTick,
		LastFiredAt: s.lastFired,
	}
}
