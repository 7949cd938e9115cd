package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"evremind/internal/model"
	"evremind/internal/timeresolve"
	"evremind/internal/watch"
)

// withRegistry opens the database and loads the configured owner's watches.
func (a *app) withRegistry(ctx context.Context, fn func(be backend, reg *watch.Registry) error) error {
	be, err := a.openBackend(ctx, false)
	if err != nil {
		return err
	}
	defer be.Close()
	reg := watch.NewRegistry(be, a.cfg.LeadMinutes)
	if _, err := reg.Load(ctx, a.cfg.OwnerID); err != nil {
		return err
	}
	return fn(be, reg)
}

func (a *app) watchCmd() *cobra.Command {
	var (
		fingerprint string
		name        string
		timeText    string
		date        string
		impact      string
		lead        int
	)
	cmd := &cobra.Command{
		Use:     "watch",
		Short:   "Watch an event at a lead time",
		Example: "  evremind watch --name \"CPI m/m\" --time \"8:30 AM\" --date 2024-03-12 --lead 15\n  evremind watch --fingerprint \"2024-03-12|CPI m/m|8:30 AM\" --lead 5",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var ev model.CalendarEvent
			if fingerprint != "" {
				found, err := a.calendarService().Lookup(ctx, fingerprint, a.cfg.Calendar.Days)
				if err != nil {
					return err
				}
				ev = found
			} else {
				d, err := model.ParseDate(date)
				if err != nil {
					return err
				}
				ev = model.CalendarEvent{Name: strings.TrimSpace(name), TimeText: strings.TrimSpace(timeText), Date: d, Impact: model.ParseImpact(impact)}
			}
			return a.withRegistry(ctx, func(_ backend, reg *watch.Registry) error {
				w, err := reg.Watch(ctx, ev, lead)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "watching %s at %d minute(s)\n", w.Fingerprint, w.LeadMinutes)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&fingerprint, "fingerprint", "", "Fingerprint of an upcoming calendar event (date|name|time)")
	f.StringVar(&name, "name", "", "Event name")
	f.StringVar(&timeText, "time", "", "Event time as shown on the calendar, e.g. \"8:30 AM\"")
	f.StringVar(&date, "date", "", "Event date (YYYY-MM-DD)")
	f.StringVar(&impact, "impact", "", "Impact: high|medium|low")
	f.IntVar(&lead, "lead", 15, "Lead time in minutes")
	return cmd
}

func (a *app) unwatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unwatch <fingerprint>",
		Short: "Stop watching an event at every lead time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRegistry(cmd.Context(), func(_ backend, reg *watch.Registry) error {
				if err := reg.Unwatch(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "unwatched %s\n", args[0])
				return nil
			})
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List watched events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRegistry(cmd.Context(), func(_ backend, reg *watch.Registry) error {
				now := time.Now().In(a.loc)
				tw := newTable(cmd.OutOrStdout(), "DATE", "TIME", "LEAD", "IMPACT", "IN", "NAME")
				for _, w := range reg.Snapshot() {
					in := "-"
					if at, ok := timeresolve.Resolve(w.TimeText, w.Date, a.loc); ok {
						in = fmt.Sprintf("%dm", timeresolve.MinutesUntil(at, now))
					}
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n", w.Date.Format(model.DateLayout), w.TimeText, w.LeadMinutes, w.Impact, in, w.Name)
				}
				return tw.Flush()
			})
		},
	}
}

func (a *app) resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "resolve <time> [date]",
		Short:   "Resolve a calendar time string to an instant",
		Example: "  evremind resolve \"8:30 AM\" 2024-03-12",
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now().In(a.loc)
			date := model.DateOnly(now)
			if len(args) == 2 {
				d, err := model.ParseDate(args[1])
				if err != nil {
					return err
				}
				date = d
			}
			at, ok := timeresolve.Resolve(args[0], date, a.loc)
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%q is unschedulable\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d minute(s) from now)\n", at.Format(time.RFC3339), timeresolve.MinutesUntil(at, now))
			return nil
		},
	}
}

func (a *app) calendarCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "List upcoming events from the configured sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days <= 0 {
				days = a.cfg.Calendar.Days
			}
			evs, err := a.calendarService().Upcoming(cmd.Context(), days)
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout(), "DATE", "TIME", "IMPACT", "SOURCE", "FINGERPRINT")
			for _, ev := range evs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", ev.Date.Format(model.DateLayout), ev.TimeText, ev.Impact, ev.SourceID, ev.Fingerprint())
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Days ahead to list (default from config)")
	return cmd
}

func (a *app) notificationsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Show recent reminder notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			be, err := a.openBackend(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer be.Close()
			ns, err := be.ListNotifications(cmd.Context(), a.cfg.OwnerID, limit)
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout(), "CREATED", "READ", "MESSAGE")
			for _, n := range ns {
				fmt.Fprintf(tw, "%s\t%v\t%s\n", n.CreatedAt.In(a.loc).Format(time.DateTime), n.Read, n.Message)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum records to show")
	return cmd
}

func (a *app) lockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Inspect or clear the scheduler leader lock",
		RunE: func(cmd *cobra.Command, args []string) error {
			return errors.New("lock requires a subcommand: status|clear")
		},
	}
	status := &cobra.Command{
		Use:   "status",
		Short: "Show the current lock holder",
		RunE: func(cmd *cobra.Command, args []string) error {
			be, err := a.openBackend(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer be.Close()
			st, held, err := be.InspectLock(cmd.Context(), a.cfg.Leader.Key)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !held {
				fmt.Fprintf(out, "%s: free\n", a.cfg.Leader.Key)
				return nil
			}
			stale := ""
			if st.Stale(time.Now(), a.cfg.Leader.TTL.Std()) {
				stale = " (stale)"
			}
			fmt.Fprintf(out, "%s: held by %s since %s, last heartbeat %s%s\n", st.Key, st.Holder,
				st.AcquiredAt.In(a.loc).Format(time.DateTime), st.HeartbeatAt.In(a.loc).Format(time.DateTime), stale)
			return nil
		},
	}
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the lock so another instance can lead",
		RunE: func(cmd *cobra.Command, args []string) error {
			be, err := a.openBackend(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer be.Close()
			if err := be.ClearLock(cmd.Context(), a.cfg.Leader.Key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: cleared\n", a.cfg.Leader.Key)
			return nil
		},
	}
	cmd.AddCommand(status, clearCmd)
	return cmd
}

func newTable(w io.Writer, headers ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	return tw
}
