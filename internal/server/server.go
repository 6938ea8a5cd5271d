package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/alumnihub/alumnihub/internal/config"
	"github.com/alumnihub/alumnihub/internal/handler"
	"github.com/alumnihub/alumnihub/internal/metrics"
	"github.com/alumnihub/alumnihub/internal/middleware"
	"github.com/alumnihub/alumnihub/internal/push"
	"github.com/alumnihub/alumnihub/internal/runlock"
	"github.com/alumnihub/alumnihub/internal/store"
	"github.com/alumnihub/alumnihub/internal/vault"
)

type Server struct {
	db            *sql.DB
	memberH       *handler.MemberHandler
	eventH        *handler.EventHandler
	preferenceH   *handler.PreferenceHandler
	pushH         *handler.PushHandler
	adminH        *handler.AdminHandler
	registry      *push.Registry
	orchestrator  *push.Orchestrator
	pushScheduler *push.Scheduler
	rateLimiter   *middleware.RateLimiter
	adminToken    string
	serveMetrics  bool
	logger        *slog.Logger
}

// New wires stores, the notification pipeline, and handlers. A nil transport
// leaves subscription management up but disables sending; lock may be nil
// for a single instance.
func New(db *sql.DB, cfg *config.Config, keys *vault.Keyring, transport push.Transport, lock runlock.Locker, logger *slog.Logger) *Server {
	memberStore := store.NewMemberStore(db)
	eventStore := store.NewEventStore(db)
	subStore := store.NewSubscriptionStore(db)
	prefStore := store.NewPreferenceStore(db)
	ledger := store.NewNotificationLogStore(db)
	sendLogStore := store.NewSendLogStore(db)

	pushLogger := logger.With("component", "push")
	registry := push.NewRegistry(subStore, keys, pushLogger)

	var orch *push.Orchestrator
	var sched *push.Scheduler
	if transport != nil {
		dispatcher := push.NewDispatcher(transport, subStore, sendLogStore, keys, cfg.Dispatch, pushLogger)
		orch = push.NewOrchestrator(
			push.NewSelector(eventStore, cfg.Location),
			ledger,
			push.NewEligibility(subStore, prefStore),
			dispatcher,
			lock,
			cfg.Location,
			logger.With("component", "reminders"),
		)
		sched = push.NewScheduler(push.SchedulerConfig{
			ReminderAt: cfg.ReminderAt,
			Retention:  cfg.SendLogRetention,
			Location:   cfg.Location,
			JobTimeout: 10 * time.Minute,
		}, orch, sendLogStore, logger.With("component", "scheduler"))
	}

	return &Server{
		db:            db,
		memberH:       handler.NewMemberHandler(memberStore, logger.With("component", "member")),
		eventH:        handler.NewEventHandler(eventStore, cfg.Location, logger.With("component", "event")),
		preferenceH:   handler.NewPreferenceHandler(prefStore, memberStore, logger.With("component", "preference")),
		pushH:         handler.NewPushHandler(registry, memberStore, cfg.Push.VAPIDPublicKey, logger.With("component", "push_handler")),
		adminH:        handler.NewAdminHandler(orch, registry, ledger, sendLogStore, cfg.Location, logger.With("component", "admin")),
		registry:      registry,
		orchestrator:  orch,
		pushScheduler: sched,
		rateLimiter:   middleware.NewRateLimiter(20, time.Minute),
		adminToken:    cfg.AdminToken,
		serveMetrics:  cfg.MetricsAddr == "",
		logger:        logger,
	}
}

// Orchestrator returns the reminder orchestrator, nil when push is disabled.
func (s *Server) Orchestrator() *push.Orchestrator {
	return s.orchestrator
}

// PushScheduler returns the daily job scheduler, nil when push is disabled.
func (s *Server) PushScheduler() *push.Scheduler {
	return s.pushScheduler
}

// Registry returns the subscription registry.
func (s *Server) Registry() *push.Registry {
	return s.registry
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)
	if s.serveMetrics {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	// Members and events
	mux.HandleFunc("POST /api/members", s.memberH.Create)
	mux.HandleFunc("GET /api/members/{id}", s.memberH.Get)
	mux.HandleFunc("GET /api/members/{id}/preferences", s.preferenceH.Get)
	mux.HandleFunc("PUT /api/members/{id}/preferences", s.preferenceH.Update)
	mux.HandleFunc("POST /api/events", s.eventH.Create)
	mux.HandleFunc("GET /api/events", s.eventH.List)
	mux.HandleFunc("GET /api/events/{id}", s.eventH.Get)

	// Push subscriptions
	limited := middleware.RateLimit(s.rateLimiter)
	mux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)
	mux.Handle("POST /api/push/subscribe", limited(http.HandlerFunc(s.pushH.Subscribe)))
	mux.Handle("POST /api/push/unsubscribe", limited(http.HandlerFunc(s.pushH.Unsubscribe)))

	// Operator routes
	adminMux := http.NewServeMux()
	adminMux.HandleFunc("POST /api/admin/notifications/trigger", s.adminH.Trigger)
	adminMux.HandleFunc("GET /api/admin/notifications/logs", s.adminH.Logs)
	adminMux.HandleFunc("GET /api/admin/notifications/send-logs", s.adminH.SendLogs)
	adminMux.HandleFunc("POST /api/admin/notifications/logs/{id}/reset", s.adminH.ResetLog)
	adminMux.HandleFunc("POST /api/admin/push/rotate-keys", s.adminH.RotateKeys)
	mux.Handle("/api/admin/", middleware.RequireAdminToken(s.adminToken)(adminMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check", "error", err)
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}
