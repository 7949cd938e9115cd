package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	cws "github.com/coder/websocket"

	"evremind/internal/calendar"
	"evremind/internal/mem"
	"evremind/internal/model"
	"evremind/internal/scheduler"
	"evremind/internal/watch"
)

type fixedStatus scheduler.Status

func (f fixedStatus) Status() scheduler.Status { return scheduler.Status(f) }

func newTestServer(t *testing.T, auth *BasicAuth) (*Server, *mem.Store) {
	t.Helper()
	st := mem.NewStore()
	reg := watch.NewRegistry(st, nil)
	day := time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)
	cal := calendar.NewService([]calendar.Source{&calendar.Static{Name: "static", Items: []model.CalendarEvent{
		{Name: "CPI Release", TimeText: "8:30 AM", Date: day, Impact: model.ImpactHigh},
		{Name: "Bank Holiday", TimeText: "All Day", Date: day, Impact: model.ImpactLow},
	}}}, time.UTC)
	cal.Now = func() time.Time { return time.Date(2024, 3, 12, 7, 0, 0, 0, time.UTC) }

	s := NewServer(Options{
		OwnerID:       "alice",
		BasicAuth:     auth,
		Registry:      reg,
		Calendar:      cal,
		Notifications: st,
		Scheduler:     fixedStatus{State: scheduler.StateLeader, Trigger: scheduler.TriggerExact},
	})
	return s, st
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, &BasicAuth{Username: "u", Password: "p"})
	rr := do(t, s.Handler(), http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK || rr.Body.String() != "OK" {
		t.Errorf("wrong /health: %d %q", rr.Code, rr.Body.String())
	}
}

func TestBasicAuth(t *testing.T) {
	s, _ := newTestServer(t, &BasicAuth{Username: "u", Password: "p"})
	if rr := do(t, s.Handler(), http.MethodGet, "/api/status", ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong status without credentials\ngot:  %d\nwant: %d", rr.Code, http.StatusUnauthorized)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.SetBasicAuth("u", "p")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("wrong status with credentials: %d", rr.Code)
	}
}

func TestStatus(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rr := do(t, s.Handler(), http.MethodGet, "/api/status", "")
	var got statusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Scheduler == nil || got.Scheduler.State != scheduler.StateLeader {
		t.Errorf("unexpected status: %s", rr.Body.String())
	}
}

func TestWatchLifecycle(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()
	fp := "2024-03-12|CPI Release|8:30 AM"

	rr := do(t, h, http.MethodPost, "/api/watches", `{"fingerprint":"`+fp+`","lead_minutes":15}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("wrong add status %d: %s", rr.Code, rr.Body.String())
	}
	var w model.WatchedEvent
	if err := json.Unmarshal(rr.Body.Bytes(), &w); err != nil {
		t.Fatal(err)
	}
	if w.Fingerprint != fp || w.OwnerID != "alice" || w.LeadMinutes != 15 {
		t.Errorf("unexpected watch: %+v", w)
	}

	rr = do(t, h, http.MethodPost, "/api/watches",
		`{"name":"FOMC Minutes","time_text":"2:00 PM","date":"2024-03-13","impact":"high","lead_minutes":5}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("wrong add-by-fields status %d: %s", rr.Code, rr.Body.String())
	}

	rr = do(t, h, http.MethodGet, "/api/calendar?days=3", "")
	var cal calendarResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &cal); err != nil {
		t.Fatal(err)
	}
	if len(cal.Events) != 2 {
		t.Fatalf("wrong calendar size: %s", rr.Body.String())
	}
	for _, ev := range cal.Events {
		want := 0
		if ev.Fingerprint == fp {
			want = 1
		}
		if len(ev.WatchedLeads) != want {
			t.Errorf("%s: wrong watched leads %v", ev.Fingerprint, ev.WatchedLeads)
		}
	}

	rr = do(t, h, http.MethodGet, "/api/watches", "")
	var list struct {
		Watches []model.WatchedEvent `json:"watches"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Watches) != 2 {
		t.Errorf("wrong watch count %d", len(list.Watches))
	}

	rr = do(t, h, http.MethodDelete, "/api/watches?fingerprint="+url.QueryEscape(fp), "")
	if rr.Code != http.StatusNoContent {
		t.Errorf("wrong delete status %d: %s", rr.Code, rr.Body.String())
	}
	rr = do(t, h, http.MethodDelete, "/api/watches?fingerprint="+url.QueryEscape(fp), "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("wrong second delete status %d", rr.Code)
	}
}

func TestWatchValidation(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()
	tests := []struct {
		body string
		want int
	}{
		{`not json`, http.StatusBadRequest},
		{`{"fingerprint":"2024-03-12|CPI Release|8:30 AM","lead_minutes":7}`, http.StatusBadRequest},
		{`{"fingerprint":"2024-03-12|Unknown|8:30 AM","lead_minutes":5}`, http.StatusNotFound},
		{`{"name":"X","time_text":"8:30 AM","date":"12/03/2024","lead_minutes":5}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rr := do(t, h, http.MethodPost, "/api/watches", tt.body); rr.Code != tt.want {
			t.Errorf("wrong status for %s\ngot:  %d\nwant: %d", tt.body, rr.Code, tt.want)
		}
	}
	if rr := do(t, h, http.MethodDelete, "/api/watches", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("wrong status for delete without fingerprint: %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/api/calendar?days=100", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("wrong status for oversized range: %d", rr.Code)
	}
}

func TestNotifications(t *testing.T) {
	s, st := newTestServer(t, nil)
	ctx := context.Background()
	for i, msg := range []string{"first", "second"} {
		n := model.Notification{ID: msg, OwnerID: "alice", Type: model.NotificationTypeEventReminder, Message: msg,
			CreatedAt: time.Date(2024, 3, 12, 8, i, 0, 0, time.UTC)}
		if err := st.InsertNotification(ctx, n); err != nil {
			t.Fatal(err)
		}
	}
	rr := do(t, s.Handler(), http.MethodGet, "/api/notifications?limit=1", "")
	var got struct {
		Notifications []model.Notification `json:"notifications"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Notifications) != 1 || got.Notifications[0].Message != "second" {
		t.Errorf("unexpected notifications: %+v", got.Notifications)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rr := do(t, s.Handler(), http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status=%d", rr.Code)
	}
}

func TestToastWebsocket(t *testing.T) {
	s, _ := newTestServer(t, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := cws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(cws.StatusNormalClosure, "")

	for s.opts.Hub.Clients() == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("client never registered")
		case <-time.After(10 * time.Millisecond):
		}
	}
	s.opts.Hub.Toast("CPI Release", "Reminder: CPI Release in 15 minute(s) (8:30 AM)")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got Toast
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != "toast" || got.Title != "CPI Release" || got.Description != "Reminder: CPI Release in 15 minute(s) (8:30 AM)" {
		t.Errorf("unexpected toast: %+v", got)
	}
}

func TestToastWebsocketOrigins(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		wantErr bool
	}{
		{"no cors origins", nil, true},
		{"listed origin", []string{"http://ui.example"}, false},
		{"wildcard", []string{"*"}, false},
		{"other origin", []string{"http://other.example"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(Options{OwnerID: "alice", Registry: watch.NewRegistry(mem.NewStore(), nil), CORSOrigins: tt.origins})
			srv := httptest.NewServer(s.Handler())
			defer srv.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			conn, _, err := cws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", &cws.DialOptions{
				HTTPHeader: http.Header{"Origin": []string{"http://ui.example"}},
			})
			if conn != nil {
				conn.Close(cws.StatusNormalClosure, "")
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("wrong dial result\ngot:  %v\nwant error: %v", err, tt.wantErr)
			}
		})
	}
}

func TestOriginPatterns(t *testing.T) {
	got := originPatterns([]string{"http://ui.example:3000", " ", "*", "https://*.example.com"})
	want := []string{"ui.example:3000", "*", "*.example.com"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("wrong patterns\ngot:  %v\nwant: %v", got, want)
	}
}
