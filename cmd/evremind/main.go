package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"evremind/internal/calendar"
	"evremind/internal/config"
	"evremind/internal/leader"
	appLog "evremind/internal/log"
	"evremind/internal/mem"
	"evremind/internal/model"
	"evremind/internal/store"
)

// backend is the shared medium: watches, notifications and the leader lock.
type backend interface {
	ListWatches(ctx context.Context, ownerID string) ([]model.WatchedEvent, error)
	AddWatch(ctx context.Context, w model.WatchedEvent) error
	RemoveWatch(ctx context.Context, ownerID, fingerprint string) (int, error)
	InsertNotification(ctx context.Context, n model.Notification) error
	ListNotifications(ctx context.Context, ownerID string, limit int) ([]model.Notification, error)
	InspectLock(ctx context.Context, key string) (leader.State, bool, error)
	ClearLock(ctx context.Context, key string) error
	Close() error
	leader.Lock
}

type app struct {
	configPath string
	logLevel   string
	cfg        *config.Config
	loc        *time.Location
}

func main() {
	a := &app{}
	if err := a.rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "evremind:", err)
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "evremind",
		Short:         "Economic calendar event reminders",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "./evremind.yaml", "Path to config file (.yaml, .toml or .json)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug|info|warn|error (overrides config)")

	root.AddCommand(
		a.runCmd(),
		a.watchCmd(),
		a.unwatchCmd(),
		a.listCmd(),
		a.resolveCmd(),
		a.calendarCmd(),
		a.notificationsCmd(),
		a.lockCmd(),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", a.configPath, err)
	}
	level := cfg.Log.Level
	if a.logLevel != "" {
		level = a.logLevel
	}
	appLog.Setup(os.Stderr, cfg.Log.Format, appLog.ParseLevel(level))

	loc, err := cfg.Location()
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", cfg.Timezone)
		loc = time.Local
	}
	a.cfg, a.loc = cfg, loc
	return nil
}

func (a *app) openBackend(ctx context.Context, memory bool) (backend, error) {
	if memory {
		appLog.Info("using in-memory store; watches and the lock are not shared")
		return mem.NewStore(), nil
	}
	st, err := store.Open(ctx, a.cfg.DBPath)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (a *app) calendarService() *calendar.Service {
	fetcher := calendar.NewFetcher(nil, a.cfg.Calendar.CacheDir)
	rules := calendar.ImpactRules{High: a.cfg.Calendar.Impact.High, Medium: a.cfg.Calendar.Impact.Medium}
	sources := make([]calendar.Source, 0, len(a.cfg.Calendar.Sources))
	for _, sc := range a.cfg.Calendar.Sources {
		src, err := calendar.NewSource(calendar.SourceConfig{
			ID:       sc.ID,
			Name:     sc.Name,
			Type:     sc.Type,
			URL:      sc.URL,
			Selector: sc.Selector,
		}, fetcher, a.loc, rules)
		if err != nil {
			appLog.Error("skipping calendar source", err, "id", sc.ID)
			continue
		}
		sources = append(sources, src)
	}
	return calendar.NewService(sources, a.loc)
}
