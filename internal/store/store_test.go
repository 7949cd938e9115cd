package store_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"evremind/internal/model"
	"evremind/internal/store"
)

var refNow = time.Date(2024, 3, 12, 8, 0, 0, 0, time.UTC)

func mustOpen(tb testing.TB, path string) *store.Store {
	tb.Helper()
	s, err := store.Open(context.Background(), path)
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() {
		if err := s.Close(); err != nil {
			tb.Error(err)
		}
	})
	return s
}

func cpiWatch(lead int) model.WatchedEvent {
	ev := model.CalendarEvent{
		Name:     "CPI Release",
		TimeText: "8:30 AM",
		Date:     time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC),
		Impact:   model.ImpactHigh,
	}
	return model.NewWatchedEvent(ev, lead, "alice")
}

func TestWatches(t *testing.T) {
	ctx := context.Background()
	s := mustOpen(t, filepath.Join(t.TempDir(), "evremind.db"))

	for _, lead := range []int{15, 5, 15} {
		if err := s.AddWatch(ctx, cpiWatch(lead)); err != nil {
			t.Fatal(err)
		}
	}
	other := cpiWatch(1)
	other.OwnerID = "bob"
	if err := s.AddWatch(ctx, other); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListWatches(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("wrong number of watches\ngot:  %d\nwant: 2", len(got))
	}
	if got[0].LeadMinutes != 5 || got[1].LeadMinutes != 15 {
		t.Errorf("wrong lead order: %d, %d", got[0].LeadMinutes, got[1].LeadMinutes)
	}
	w := got[1]
	if w.Fingerprint != "2024-03-12|CPI Release|8:30 AM" || w.Name != "CPI Release" ||
		w.TimeText != "8:30 AM" || w.Impact != model.ImpactHigh || w.OwnerID != "alice" {
		t.Errorf("unexpected watch: %+v", w)
	}
	if want := time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC); !w.Date.Equal(want) {
		t.Errorf("wrong date\ngot:  %v\nwant: %v", w.Date, want)
	}

	n, err := s.RemoveWatch(ctx, "alice", w.Fingerprint)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("wrong number of removed rows\ngot:  %d\nwant: 2", n)
	}
	if got, _ := s.ListWatches(ctx, "alice"); len(got) != 0 {
		t.Errorf("watches left after remove: %+v", got)
	}
	if got, _ := s.ListWatches(ctx, "bob"); len(got) != 1 {
		t.Errorf("other owner's watches affected: %+v", got)
	}
}

func TestNotifications(t *testing.T) {
	ctx := context.Background()
	s := mustOpen(t, ":memory:")

	for i, msg := range []string{"first", "second", "third"} {
		n := model.Notification{
			ID:        msg,
			OwnerID:   "alice",
			FromID:    "alice",
			Type:      model.NotificationTypeEventReminder,
			Message:   msg,
			CreatedAt: refNow.Add(time.Duration(i) * time.Minute),
		}
		if err := s.InsertNotification(ctx, n); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListNotifications(ctx, "alice", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Message != "third" || got[1].Message != "second" {
		t.Fatalf("unexpected notifications: %+v", got)
	}
	if got[0].Read || got[0].Type != model.NotificationTypeEventReminder {
		t.Errorf("unexpected record: %+v", got[0])
	}
	if all, _ := s.ListNotifications(ctx, "alice", 0); len(all) != 3 {
		t.Errorf("wrong number of notifications without limit: %d", len(all))
	}
	if none, _ := s.ListNotifications(ctx, "bob", 0); len(none) != 0 {
		t.Errorf("unexpected notifications for other owner: %+v", none)
	}
}

// Two handles on one file stand in for two processes.
func TestLockAcrossHandles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")
	a := mustOpen(t, path)
	b := mustOpen(t, path)
	const key = "event-reminder-leader"

	ok, err := a.Acquire(ctx, key, "holder-a", refNow, 0)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = b.Acquire(ctx, key, "holder-b", refNow.Add(24*time.Hour), 0)
	if err != nil || ok {
		t.Fatalf("second acquire: ok=%v err=%v", ok, err)
	}
	ok, err = a.Acquire(ctx, key, "holder-a", refNow.Add(time.Minute), 0)
	if err != nil || !ok {
		t.Fatalf("re-acquire by holder: ok=%v err=%v", ok, err)
	}

	st, found, err := b.InspectLock(ctx, key)
	if err != nil || !found {
		t.Fatalf("inspect: found=%v err=%v", found, err)
	}
	if st.Holder != "holder-a" {
		t.Errorf("wrong holder\ngot:  %s\nwant: holder-a", st.Holder)
	}

	// A non-holder release leaves the lock alone.
	if err := b.Release(ctx, key, "holder-b"); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := a.InspectLock(ctx, key); !found {
		t.Fatal("lock removed by non-holder")
	}

	if err := a.Release(ctx, key, "holder-a"); err != nil {
		t.Fatal(err)
	}
	ok, err = b.Acquire(ctx, key, "holder-b", refNow, 0)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestLockTTL(t *testing.T) {
	ctx := context.Background()
	s := mustOpen(t, filepath.Join(t.TempDir(), "ttl.db"))
	const key = "k"
	ttl := 3 * time.Minute

	if ok, _ := s.Acquire(ctx, key, "a", refNow, ttl); !ok {
		t.Fatal("acquire failed")
	}
	if ok, _ := s.Refresh(ctx, key, "a", refNow.Add(2*time.Minute)); !ok {
		t.Fatal("refresh by holder failed")
	}
	if ok, _ := s.Refresh(ctx, key, "b", refNow.Add(2*time.Minute)); ok {
		t.Fatal("refresh by non-holder succeeded")
	}
	if ok, _ := s.Acquire(ctx, key, "b", refNow.Add(4*time.Minute), ttl); ok {
		t.Fatal("fresh lock taken over")
	}
	if ok, _ := s.Acquire(ctx, key, "b", refNow.Add(6*time.Minute), ttl); !ok {
		t.Fatal("stale lock not reclaimed")
	}
	if ok, _ := s.Refresh(ctx, key, "a", refNow.Add(6*time.Minute)); ok {
		t.Error("old holder refreshed after takeover")
	}

	if err := s.ClearLock(ctx, key); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := s.InspectLock(ctx, key); found {
		t.Error("lock still present after clear")
	}
}

func TestConcurrentOpenFreshDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evremind.db")

	const n = 4
	var wg sync.WaitGroup
	errs := make([]error, n)
	stores := make([]*store.Store, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stores[i], errs[i] = store.Open(context.Background(), path)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("open %d: %v", i, err)
			continue
		}
		defer stores[i].Close()
		if _, err := stores[i].ListWatches(context.Background(), "alice"); err != nil {
			t.Errorf("open %d: list watches: %v", i, err)
		}
	}
}
