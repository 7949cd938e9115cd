package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig points a fresh config at a temp database.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := filepath.Join(dir, "evremind.yaml")
	body := "timezone: UTC\ndb_path: " + filepath.Join(dir, "evremind.db") + "\nlog:\n  level: error\n"
	if err := os.WriteFile(cfg, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	return executeWith(t, writeConfig(t), args...)
}

func executeWith(t *testing.T, cfg string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := (&app{}).rootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", cfg}, args...))
	if err := root.Execute(); err != nil {
		t.Fatalf("%v: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func TestResolveCommand(t *testing.T) {
	got := execute(t, "resolve", "8:30 AM", "2024-03-12")
	if !strings.HasPrefix(got, "2024-03-12T08:30:00Z") {
		t.Errorf("wrong resolve output\ngot:  %q\nwant: prefix %q", got, "2024-03-12T08:30:00Z")
	}

	got = execute(t, "resolve", "All Day", "2024-03-12")
	if !strings.Contains(got, "unschedulable") {
		t.Errorf("wrong resolve output\ngot:  %q\nwant: unschedulable", got)
	}
}

func TestWatchListUnwatch(t *testing.T) {
	cfg := writeConfig(t)

	got := executeWith(t, cfg, "watch", "--name", "CPI Release", "--time", "8:30 AM", "--date", "2024-03-12", "--impact", "high", "--lead", "15")
	want := "watching 2024-03-12|CPI Release|8:30 AM at 15 minute(s)\n"
	if got != want {
		t.Errorf("wrong watch output\ngot:  %q\nwant: %q", got, want)
	}

	got = executeWith(t, cfg, "list")
	if !strings.Contains(got, "CPI Release") || !strings.Contains(got, "8:30 AM") {
		t.Errorf("watch missing from list\ngot: %s", got)
	}

	executeWith(t, cfg, "unwatch", "2024-03-12|CPI Release|8:30 AM")
	got = executeWith(t, cfg, "list")
	if strings.Contains(got, "CPI Release") {
		t.Errorf("watch still listed after unwatch\ngot: %s", got)
	}
}

func TestLockStatusFree(t *testing.T) {
	got := execute(t, "lock", "status")
	if !strings.HasSuffix(got, ": free\n") {
		t.Errorf("wrong lock status\ngot:  %q\nwant: suffix %q", got, ": free\n")
	}
}

type runningCmd struct {
	cancel context.CancelFunc
	done   chan error
}

// startRun executes "run" in the background until stop is called.
func startRun(t *testing.T, cfg string, args ...string) *runningCmd {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	root := (&app{}).rootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--config", cfg, "run"}, args...))
	r := &runningCmd{cancel: cancel, done: make(chan error, 1)}
	go func() { r.done <- root.ExecuteContext(ctx) }()
	t.Cleanup(cancel)
	return r
}

func (r *runningCmd) stop(t *testing.T) {
	t.Helper()
	r.cancel()
	select {
	case err := <-r.done:
		if err != nil {
			t.Errorf("run returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not exit after cancel")
	}
}

func (r *runningCmd) assertRunning(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case err := <-r.done:
		t.Fatalf("run exited early: %v", err)
	case <-time.After(d):
	}
}

// lockHolder returns the holder named by "lock status", or "" when free.
func lockHolder(t *testing.T, cfg string) string {
	t.Helper()
	out := executeWith(t, cfg, "lock", "status")
	_, rest, ok := strings.Cut(out, "held by ")
	if !ok {
		return ""
	}
	holder, _, _ := strings.Cut(rest, " ")
	return holder
}

func waitForHolder(t *testing.T, cfg string) string {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if h := lockHolder(t, cfg); h != "" {
			return h
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("no instance took the leader lock")
	return ""
}

func TestSecondRunStaysFollower(t *testing.T) {
	cfg := writeConfig(t)

	first := startRun(t, cfg, "--listen", "off")
	leader := waitForHolder(t, cfg)

	second := startRun(t, cfg, "--listen", "off")
	second.assertRunning(t, 500*time.Millisecond)
	if got := lockHolder(t, cfg); got != leader {
		t.Errorf("wrong lock holder while follower runs\ngot:  %s\nwant: %s", got, leader)
	}

	// A follower's shutdown leaves the leader's lock alone.
	second.stop(t)
	if got := lockHolder(t, cfg); got != leader {
		t.Errorf("wrong lock holder after follower exit\ngot:  %s\nwant: %s", got, leader)
	}

	first.stop(t)
	if got := lockHolder(t, cfg); got != "" {
		t.Errorf("lock still held after leader exit\ngot:  %s\nwant: free", got)
	}
}

func TestRunSurvivesBusyListenAddress(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	cfg := writeConfig(t)

	leader := startRun(t, cfg, "--listen", "off")
	waitForHolder(t, cfg)

	follower := startRun(t, cfg, "--listen", l.Addr().String())
	follower.assertRunning(t, 500*time.Millisecond)

	follower.stop(t)
	leader.stop(t)
}
