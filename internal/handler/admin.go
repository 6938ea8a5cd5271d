package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alumnihub/alumnihub/internal/model"
	"github.com/alumnihub/alumnihub/internal/push"
	"github.com/alumnihub/alumnihub/internal/store"
)

// AdminHandler serves the operator endpoints. Routes are mounted behind
// middleware.RequireAdminToken.
type AdminHandler struct {
	orchestrator *push.Orchestrator
	registry     *push.Registry
	ledger       *store.NotificationLogStore
	sendLogs     *store.SendLogStore
	loc          *time.Location
	logger       *slog.Logger
}

func NewAdminHandler(o *push.Orchestrator, registry *push.Registry, ledger *store.NotificationLogStore, sendLogs *store.SendLogStore, loc *time.Location, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		orchestrator: o,
		registry:     registry,
		ledger:       ledger,
		sendLogs:     sendLogs,
		loc:          loc,
		logger:       logger,
	}
}

// Trigger handles POST /api/admin/notifications/trigger[?date=YYYY-MM-DD]
func (h *AdminHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if h.orchestrator == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "push notifications are not configured"})
		return
	}

	var (
		result push.RunResult
		err    error
	)
	if s := r.URL.Query().Get("date"); s != "" {
		day, perr := time.ParseInLocation(time.DateOnly, s, h.loc)
		if perr != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "date must be YYYY-MM-DD"})
			return
		}
		result, err = h.orchestrator.Run(r.Context(), day)
	} else {
		result, err = h.orchestrator.Trigger(r.Context())
	}

	if errors.Is(err, push.ErrRunInProgress) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "a reminder run for this date is already in progress"})
		return
	}
	if err != nil {
		h.logger.Error("manual reminder run", "run_id", result.RunID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "reminder run failed", "result": result})
		return
	}

	h.logger.Info("manual reminder run", "run_id", result.RunID, "processed", result.Processed, "skipped", result.Skipped)
	writeJSON(w, http.StatusOK, result)
}

// Logs handles GET /api/admin/notifications/logs
func (h *AdminHandler) Logs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.ledger.List(r.Context(), limitParam(r))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list notification logs"})
		return
	}
	if logs == nil {
		logs = []model.ScheduledNotificationLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// SendLogs handles GET /api/admin/notifications/send-logs
func (h *AdminHandler) SendLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.sendLogs.ListRecent(r.Context(), limitParam(r))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list send logs"})
		return
	}
	if logs == nil {
		logs = []model.NotificationSendLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// ResetLog handles POST /api/admin/notifications/logs/{id}/reset. It marks an
// abandoned claim as failed so the window can run again.
func (h *AdminHandler) ResetLog(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	log, err := h.ledger.Release(r.Context(), id)
	if errors.Is(err, store.ErrInvalidTransition) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "only pending or in_progress logs can be reset"})
		return
	}
	if err != nil {
		h.logger.Error("reset notification log", "log_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to reset notification log"})
		return
	}
	if log == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "notification log not found"})
		return
	}

	h.logger.Warn("notification log reset", "log_id", id, "event_id", log.EventID, "window", log.WindowType)
	writeJSON(w, http.StatusOK, log)
}

// RotateKeys handles POST /api/admin/push/rotate-keys
func (h *AdminHandler) RotateKeys(w http.ResponseWriter, r *http.Request) {
	result, err := h.registry.RotateKeys(r.Context())
	if err != nil {
		h.logger.Error("rotate subscription keys", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "key rotation failed", "result": result})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 || n > 500 {
		return 100
	}
	return n
}
