package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"evremind/internal/chime"
	"evremind/internal/leader"
	appLog "evremind/internal/log"
	"evremind/internal/notify"
	"evremind/internal/scheduler"
	"evremind/internal/watch"
	"evremind/internal/web"
)

func (a *app) runCmd() *cobra.Command {
	var (
		once   bool
		memory bool
		listen string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the reminder scheduler and web API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				a.cfg.Listen = listen
			}
			return a.run(cmd.Context(), once, memory)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Evaluate once (if leader) and exit")
	cmd.Flags().BoolVar(&memory, "memory", false, "Use process-local stores instead of the database")
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address, or \"off\" (overrides config)")
	return cmd
}

func (a *app) run(parent context.Context, once, memory bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := a.cfg
	appLog.Info("evremind starting",
		"listen", cfg.Listen,
		"owner_id", cfg.OwnerID,
		"timezone", a.loc.String(),
		"tick_interval", cfg.TickInterval.Std().String(),
		"trigger", cfg.Trigger,
		"quiet_hours", cfg.Quiet().String(),
		"lead_minutes", cfg.LeadMinutes,
		"calendar_sources", len(cfg.Calendar.Sources),
		"once", once,
	)

	be, err := a.openBackend(ctx, memory)
	if err != nil {
		return err
	}
	defer be.Close()

	registry := watch.NewRegistry(be, cfg.LeadMinutes)
	if _, err := registry.Load(ctx, cfg.OwnerID); err != nil {
		return err
	}

	hub := web.NewHub()
	var player *chime.Player
	if cfg.Audio.Enabled {
		player = chime.New(cfg.Audio.Driver, cfg.Audio.GPIOPin, cfg.Audio.Duration.Std())
	}
	pipeline := notify.NewPipeline(be, hub, player)

	elector := leader.NewElector(be, cfg.Leader.Key, cfg.Leader.TTL.Std())
	sched := scheduler.New(scheduler.Options{
		Interval:    cfg.TickInterval.Std(),
		FireTimeout: cfg.FireTimeout.Std(),
		OwnerID:     cfg.OwnerID,
		Trigger:     scheduler.ParseTrigger(cfg.Trigger),
		Quiet:       cfg.Quiet(),
		Location:    a.loc,
	}, elector, registry, pipeline)

	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sched.Stop(sctx); err != nil {
			appLog.Error("scheduler stop failed", err)
		}
	}()
	if once {
		st := sched.Status()
		appLog.Info("single pass complete", "state", string(st.State), "watches", st.Watches, "fired_keys", st.FiredKeys)
		return nil
	}

	if !cfg.HTTPEnabled() {
		appLog.Info("HTTP API disabled; running scheduler only", "state", string(sched.State()))
		<-ctx.Done()
		appLog.Info("evremind exiting")
		return nil
	}

	var auth *web.BasicAuth
	if cfg.BasicAuth != nil {
		auth = &web.BasicAuth{Username: cfg.BasicAuth.Username, Password: cfg.BasicAuth.Password}
	}
	srv := web.NewServer(web.Options{
		Listen:        cfg.Listen,
		OwnerID:       cfg.OwnerID,
		CalendarDays:  cfg.Calendar.Days,
		BasicAuth:     auth,
		CORSOrigins:   cfg.CORSOrigins,
		Registry:      registry,
		Calendar:      a.calendarService(),
		Notifications: be,
		Scheduler:     sched,
		Hub:           hub,
	})
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		// Another instance usually owns the port. The scheduler, leader or
		// follower, keeps running without an HTTP surface.
		appLog.Error("HTTP server failed; scheduler keeps running", err,
			"listen", cfg.Listen, "state", string(sched.State()))
		<-ctx.Done()
	}
	appLog.Info("evremind exiting")
	return nil
}
