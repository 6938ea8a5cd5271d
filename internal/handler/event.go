package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alumnihub/alumnihub/internal/model"
	"github.com/alumnihub/alumnihub/internal/store"
)

type EventHandler struct {
	eventStore *store.EventStore
	loc        *time.Location
	logger     *slog.Logger
}

// NewEventHandler parses date-only query values in loc.
func NewEventHandler(es *store.EventStore, loc *time.Location, logger *slog.Logger) *EventHandler {
	return &EventHandler{eventStore: es, loc: loc, logger: logger}
}

type eventRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
}

// Create handles POST /api/events
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "title is required"})
		return
	}

	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "start_time must be RFC3339 format"})
		return
	}

	var endTime *time.Time
	if req.EndTime != "" {
		end, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "end_time must be RFC3339 format"})
			return
		}
		if !startTime.Before(end) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "start_time must be before end_time"})
			return
		}
		endTime = &end
	}

	event, err := h.eventStore.Create(r.Context(), req.Title, strings.TrimSpace(req.Description), strings.TrimSpace(req.Location), startTime, endTime)
	if err != nil {
		h.logger.Error("create event", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create event"})
		return
	}

	writeJSON(w, http.StatusCreated, event)
}

// List handles GET /api/events?from=&to=. Without from it starts now; without
// to it covers 30 days.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	from := time.Now()
	if s := r.URL.Query().Get("from"); s != "" {
		t, err := h.parseFlexibleTime(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "from must be RFC3339 or YYYY-MM-DD format"})
			return
		}
		from = t
	}

	to := from.AddDate(0, 0, 30)
	if s := r.URL.Query().Get("to"); s != "" {
		t, err := h.parseFlexibleTime(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "to must be RFC3339 or YYYY-MM-DD format"})
			return
		}
		to = t
	}

	if !from.Before(to) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "from must be before to"})
		return
	}

	events, err := h.eventStore.ListStartingBetween(r.Context(), from, to)
	if err != nil {
		h.logger.Error("list events", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list events"})
		return
	}
	if events == nil {
		events = []model.Event{}
	}

	writeJSON(w, http.StatusOK, events)
}

// Get handles GET /api/events/{id}
func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	event, err := h.eventStore.GetByID(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get event"})
		return
	}
	if event == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "event not found"})
		return
	}

	writeJSON(w, http.StatusOK, event)
}

func (h *EventHandler) parseFlexibleTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation(time.DateOnly, s, h.loc)
}
