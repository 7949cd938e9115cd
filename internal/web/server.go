// Package web serves the reminder API, the toast websocket and metrics.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appLog "evremind/internal/log"
	"evremind/internal/model"
	"evremind/internal/scheduler"
	"evremind/internal/watch"
)

// Calendar lists upcoming events.
type Calendar interface {
	Upcoming(ctx context.Context, days int) ([]model.CalendarEvent, error)
	Lookup(ctx context.Context, fingerprint string, days int) (model.CalendarEvent, error)
}

type NotificationLister interface {
	ListNotifications(ctx context.Context, ownerID string, limit int) ([]model.Notification, error)
}

type StatusSource interface {
	Status() scheduler.Status
}

type BasicAuth struct {
	Username string
	Password string
}

// Options configures a Server. Calendar and Scheduler may be nil.
type Options struct {
	Listen        string
	OwnerID       string
	CalendarDays  int
	BasicAuth     *BasicAuth
	CORSOrigins   []string
	Registry      *watch.Registry
	Calendar      Calendar
	Notifications NotificationLister
	Scheduler     StatusSource
	Hub           *Hub
}

type Server struct {
	opts Options
	mux  chi.Router
}

func NewServer(opts Options) *Server {
	if opts.CalendarDays <= 0 {
		opts.CalendarDays = 7
	}
	if opts.Hub == nil {
		opts.Hub = NewHub()
	}
	if len(opts.Hub.OriginPatterns) == 0 {
		opts.Hub.OriginPatterns = originPatterns(opts.CORSOrigins)
	}
	s := &Server{opts: opts}
	s.mux = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

// originPatterns turns CORS origins into the host patterns the websocket
// handshake matches against, so /ws admits the same UIs as the REST routes.
func originPatterns(origins []string) []string {
	var out []string
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(s.opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.opts.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.basicAuthEnabled() {
			r.Use(s.basicAuth)
		}
		r.Get("/api/status", s.handleStatus)
		r.Get("/api/calendar", s.handleCalendar)
		r.Get("/api/watches", s.handleListWatches)
		r.Post("/api/watches", s.handleAddWatch)
		r.Delete("/api/watches", s.handleRemoveWatch)
		r.Get("/api/notifications", s.handleNotifications)
		r.Handle("/ws", s.opts.Hub)
		r.Handle("/metrics", promhttp.Handler())
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.opts.Listen)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) basicAuthEnabled() bool {
	a := s.opts.BasicAuth
	return a != nil && a.Username != "" && a.Password != ""
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	user, pass := s.opts.BasicAuth.Username, s.opts.BasicAuth.Password
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, user) || !secureCompare(p, pass) {
			w.Header().Set("WWW-Authenticate", `Basic realm="evremind", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type statusResponse struct {
	Scheduler    *scheduler.Status `json:"scheduler,omitempty"`
	ToastClients int               `json:"toast_clients"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{ToastClients: s.opts.Hub.Clients()}
	if s.opts.Scheduler != nil {
		st := s.opts.Scheduler.Status()
		resp.Scheduler = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

// calendarEvent is a calendar row annotated with the lead times the owner
// is watching it at.
type calendarEvent struct {
	model.CalendarEvent
	Fingerprint  string `json:"fingerprint"`
	WatchedLeads []int  `json:"watched_leads"`
}

type calendarResponse struct {
	Events      []calendarEvent `json:"events"`
	LeadMinutes []int           `json:"lead_minutes"`
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	if s.opts.Calendar == nil {
		writeJSON(w, http.StatusOK, calendarResponse{Events: []calendarEvent{}, LeadMinutes: s.opts.Registry.LeadMinutes()})
		return
	}
	days := parseIntDefault(r.URL.Query().Get("days"), s.opts.CalendarDays)
	if days <= 0 || days > 62 {
		writeError(w, http.StatusBadRequest, "days must be between 1 and 62")
		return
	}
	evs, err := s.opts.Calendar.Upcoming(r.Context(), days)
	if err != nil {
		appLog.Error("calendar listing failed", err)
		writeError(w, http.StatusBadGateway, "calendar sources unavailable")
		return
	}
	watches, err := s.opts.Registry.Load(r.Context(), s.opts.OwnerID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	leads := make(map[string][]int)
	for _, wv := range watches {
		leads[wv.Fingerprint] = append(leads[wv.Fingerprint], wv.LeadMinutes)
	}

	out := make([]calendarEvent, 0, len(evs))
	for _, ev := range evs {
		fp := ev.Fingerprint()
		wl := leads[fp]
		if wl == nil {
			wl = []int{}
		}
		out = append(out, calendarEvent{CalendarEvent: ev, Fingerprint: fp, WatchedLeads: wl})
	}
	writeJSON(w, http.StatusOK, calendarResponse{Events: out, LeadMinutes: s.opts.Registry.LeadMinutes()})
}

func (s *Server) handleListWatches(w http.ResponseWriter, r *http.Request) {
	watches, err := s.opts.Registry.Load(r.Context(), s.opts.OwnerID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"watches": watches})
}

// watchRequest names the event either by fingerprint (looked up in the
// calendar) or by its fields.
type watchRequest struct {
	Fingerprint string `json:"fingerprint"`
	Name        string `json:"name"`
	TimeText    string `json:"time_text"`
	Date        string `json:"date"`
	Impact      string `json:"impact"`
	LeadMinutes int    `json:"lead_minutes"`
}

const maxBodyBytes = 1 << 16

func (s *Server) handleAddWatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req watchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var ev model.CalendarEvent
	switch {
	case req.Fingerprint != "":
		if s.opts.Calendar == nil {
			writeError(w, http.StatusBadRequest, "no calendar configured; send name, time_text and date")
			return
		}
		found, err := s.opts.Calendar.Lookup(r.Context(), req.Fingerprint, s.opts.CalendarDays)
		if err != nil {
			writeAppError(w, err)
			return
		}
		ev = found
	default:
		date, err := model.ParseDate(req.Date)
		if err != nil {
			writeAppError(w, err)
			return
		}
		ev = model.CalendarEvent{
			Name:     strings.TrimSpace(req.Name),
			TimeText: strings.TrimSpace(req.TimeText),
			Date:     date,
			Impact:   model.ParseImpact(req.Impact),
		}
	}

	if _, err := s.opts.Registry.Load(r.Context(), s.opts.OwnerID); err != nil {
		writeAppError(w, err)
		return
	}
	wv, err := s.opts.Registry.Watch(r.Context(), ev, req.LeadMinutes)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wv)
}

func (s *Server) handleRemoveWatch(w http.ResponseWriter, r *http.Request) {
	fp := r.URL.Query().Get("fingerprint")
	if fp == "" {
		writeError(w, http.StatusBadRequest, "fingerprint is required")
		return
	}
	if _, err := s.opts.Registry.Load(r.Context(), s.opts.OwnerID); err != nil {
		writeAppError(w, err)
		return
	}
	if err := s.opts.Registry.Unwatch(r.Context(), fp); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if s.opts.Notifications == nil {
		writeJSON(w, http.StatusOK, map[string]any{"notifications": []model.Notification{}})
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), 50)
	if limit <= 0 {
		limit = 50
	}
	ns, err := s.opts.Notifications.ListNotifications(r.Context(), s.opts.OwnerID, limit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": ns})
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// writeAppError maps application error codes onto HTTP statuses.
func writeAppError(w http.ResponseWriter, err error) {
	switch model.ErrorCode(err) {
	case model.ErrInvalid:
		writeError(w, http.StatusBadRequest, model.ErrorDescription(err))
	case model.ErrNotFound:
		writeError(w, http.StatusNotFound, model.ErrorDescription(err))
	default:
		appLog.Error("request failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
