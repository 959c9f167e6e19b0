// Command prefstub runs an in-memory stub of the remote preference service
// for local development and integration testing of the SDK.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// userDoc mirrors the wire shape of the user override document.
type userDoc struct {
	OSPermission      string            `json:"os_permission,omitempty"`
	SubscribedTopics  []string          `json:"subscribed_topics"`
	ScheduleEnabled   map[string]bool   `json:"schedule_enabled"`
	ScheduleTime      map[string]string `json:"schedule_time"`
	PreferenceEnabled map[string]bool   `json:"preference_enabled"`
	ChannelEnabled    map[string]bool   `json:"channel_enabled"`
	Timezone          string            `json:"timezone,omitempty"`
}

func newUserDoc() *userDoc {
	return &userDoc{
		SubscribedTopics:  []string{},
		ScheduleEnabled:   map[string]bool{},
		ScheduleTime:      map[string]string{},
		PreferenceEnabled: map[string]bool{},
		ChannelEnabled:    map[string]bool{},
	}
}

type stub struct {
	log    *zap.Logger
	apiKey string

	mu    sync.Mutex
	users map[string]*userDoc
}

func (s *stub) user(id string) *userDoc {
	if d, ok := s.users[id]; ok {
		return d
	}
	d := newUserDoc()
	s.users[id] = d
	return d
}

// demo schema served to every client
const configJSON = `{
  "preferences": [
    {"id": "weekly_digest", "title": "Weekly digest", "description": "A summary of your week", "enabled_by_default": true},
    {"id": "promo", "title": "Promotions", "enabled_by_default": false}
  ],
  "topics": [
    {"id": "news", "title": "Product news", "topic_type": "persistent"},
    {"id": "flash_sale", "title": "Flash sale", "topic_type": "contextual"}
  ],
  "schedules": [
    {"id": "morning", "title": "Morning summary", "enabled_by_default": true, "schedule_parameter": {"default_time": "08:30"}, "time_configurable": true}
  ]
}`

func (s *stub) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("X-Api-Key") != s.apiKey {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *stub) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.auth)

	r.Get("/v1/config", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(configJSON))
	})

	r.Route("/v1/users/{userID}", func(r chi.Router) {
		r.Get("/preferences", func(w http.ResponseWriter, req *http.Request) {
			s.mu.Lock()
			doc := *s.user(chi.URLParam(req, "userID"))
			s.mu.Unlock()
			writeJSON(w, http.StatusOK, doc)
		})

		r.Patch("/preferences", func(w http.ResponseWriter, req *http.Request) {
			var upd struct {
				Preferences map[string]bool   `json:"preferences"`
				Schedules   map[string]bool   `json:"schedules"`
				Times       map[string]string `json:"times"`
				Channels    map[string]bool   `json:"channels"`
				Timezone    string            `json:"timezone"`
			}
			if err := json.NewDecoder(req.Body).Decode(&upd); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad body"})
				return
			}
			s.mu.Lock()
			doc := s.user(chi.URLParam(req, "userID"))
			for k, v := range upd.Preferences {
				doc.PreferenceEnabled[k] = v
			}
			for k, v := range upd.Schedules {
				doc.ScheduleEnabled[k] = v
			}
			for k, v := range upd.Times {
				doc.ScheduleTime[k] = v
			}
			for k, v := range upd.Channels {
				doc.ChannelEnabled[k] = v
			}
			if upd.Timezone != "" {
				doc.Timezone = upd.Timezone
			}
			s.mu.Unlock()
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Put("/topics/{topicID}", func(w http.ResponseWriter, req *http.Request) {
			s.mu.Lock()
			doc := s.user(chi.URLParam(req, "userID"))
			topic := chi.URLParam(req, "topicID")
			found := false
			for _, id := range doc.SubscribedTopics {
				if id == topic {
					found = true
					break
				}
			}
			if !found {
				doc.SubscribedTopics = append(doc.SubscribedTopics, topic)
			}
			s.mu.Unlock()
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Delete("/topics/{topicID}", func(w http.ResponseWriter, req *http.Request) {
			s.mu.Lock()
			doc := s.user(chi.URLParam(req, "userID"))
			topic := chi.URLParam(req, "topicID")
			out := doc.SubscribedTopics[:0]
			for _, id := range doc.SubscribedTopics {
				if id != topic {
					out = append(out, id)
				}
			}
			doc.SubscribedTopics = out
			s.mu.Unlock()
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Put("/push-token", s.ack("push token"))
		r.Put("/phone-number", s.ack("phone number"))
		r.Post("/events/app-open", s.ack("app open"))
		r.Post("/events/push-open", s.ack("push open"))
		r.Patch("/attributes", s.ack("attributes"))

		r.Put("/permission", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Status string `json:"status"`
			}
			_ = json.NewDecoder(req.Body).Decode(&body)
			s.mu.Lock()
			s.user(chi.URLParam(req, "userID")).OSPermission = body.Status
			s.mu.Unlock()
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	})

	return r
}

// ack logs the call and returns a generic success body.
func (s *stub) ack(what string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		s.log.Info("accepted "+what, zap.String("userId", chi.URLParam(req, "userID")))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// main starts the stub and shuts it down gracefully on SIGINT/SIGTERM.
func main() {
	addr := flag.String("addr", ":8085", "listen address")
	apiKey := flag.String("api-key", "", "require this X-Api-Key (empty = accept all)")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", *addr),
	)

	st := &stub{log: logger, apiKey: *apiKey, users: map[string]*userDoc{}}
	srv := &http.Server{Addr: *addr, Handler: st.routes()}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", *addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
