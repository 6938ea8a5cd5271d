package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alumnihub/alumnihub/internal/model"
	"github.com/alumnihub/alumnihub/internal/store"
)

type PreferenceHandler struct {
	prefStore   *store.PreferenceStore
	memberStore *store.MemberStore
	logger      *slog.Logger
}

func NewPreferenceHandler(ps *store.PreferenceStore, ms *store.MemberStore, logger *slog.Logger) *PreferenceHandler {
	return &PreferenceHandler{prefStore: ps, memberStore: ms, logger: logger}
}

type preferenceItem struct {
	Channel string `json:"channel"`
	Topic   string `json:"topic"`
	Enabled bool   `json:"enabled"`
}

type preferencesResponse struct {
	MemberID    int64            `json:"member_id"`
	Preferences []preferenceItem `json:"preferences"`
}

// knownTopics are always listed, enabled unless a stored row says otherwise.
var knownTopics = []preferenceItem{
	{Channel: model.ChannelWebPush, Topic: model.TopicEvent, Enabled: true},
}

// Get handles GET /api/members/{id}/preferences
func (h *PreferenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	memberID, ok := h.member(w, r)
	if !ok {
		return
	}

	h.respond(w, r, memberID)
}

type updatePreferenceRequest struct {
	Channel string `json:"channel"`
	Topic   string `json:"topic"`
	Enabled *bool  `json:"enabled"`
}

// Update handles PUT /api/members/{id}/preferences
func (h *PreferenceHandler) Update(w http.ResponseWriter, r *http.Request) {
	memberID, ok := h.member(w, r)
	if !ok {
		return
	}

	var req updatePreferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	req.Channel = strings.TrimSpace(req.Channel)
	if req.Channel == "" {
		req.Channel = model.ChannelWebPush
	}
	req.Topic = strings.TrimSpace(req.Topic)
	if req.Topic == "" || req.Enabled == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "topic and enabled are required"})
		return
	}

	if err := h.prefStore.SetPreference(r.Context(), memberID, req.Channel, req.Topic, *req.Enabled); err != nil {
		h.logger.Error("set preference", "member_id", memberID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update preference"})
		return
	}
	h.logger.Info("preference updated", "member_id", memberID, "channel", req.Channel, "topic", req.Topic, "enabled", *req.Enabled)

	h.respond(w, r, memberID)
}

func (h *PreferenceHandler) member(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return 0, false
	}
	m, err := h.memberStore.GetByID(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get member"})
		return 0, false
	}
	if m == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "member not found"})
		return 0, false
	}
	return id, true
}

func (h *PreferenceHandler) respond(w http.ResponseWriter, r *http.Request, memberID int64) {
	stored, err := h.prefStore.ListByMember(r.Context(), memberID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get preferences"})
		return
	}

	resp := preferencesResponse{MemberID: memberID, Preferences: []preferenceItem{}}
	seen := map[[2]string]bool{}
	for _, p := range stored {
		resp.Preferences = append(resp.Preferences, preferenceItem{Channel: p.Channel, Topic: p.Topic, Enabled: p.Enabled})
		seen[[2]string{p.Channel, p.Topic}] = true
	}
	for _, def := range knownTopics {
		if !seen[[2]string{def.Channel, def.Topic}] {
			resp.Preferences = append(resp.Preferences, def)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
