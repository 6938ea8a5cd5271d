package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alumnihub/alumnihub/internal/database"
	"github.com/alumnihub/alumnihub/internal/model"
	"github.com/alumnihub/alumnihub/internal/push"
	"github.com/alumnihub/alumnihub/internal/store"
	"github.com/alumnihub/alumnihub/internal/vault"
)

var kst = time.FixedZone("UTC+09:00", 9*60*60)

type okTransport struct {
	sent   int
	onSend func()
}

func (t *okTransport) Send(context.Context, push.Target, []byte) (push.Result, error) {
	t.sent++
	if t.onSend != nil {
		t.onSend()
	}
	return push.Result{OK: true, StatusCode: http.StatusCreated}, nil
}

type testApp struct {
	db        *sql.DB
	mux       *http.ServeMux
	members   *store.MemberStore
	events    *store.EventStore
	subs      *store.SubscriptionStore
	ledger    *store.NotificationLogStore
	transport *okTransport
}

func setupApp(t *testing.T) *testApp {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	secrets, _ := vault.ParseSecrets("v1:handler-test")
	keys, _ := vault.NewKeyring(secrets, "v1")

	app := &testApp{
		db:        db,
		mux:       http.NewServeMux(),
		members:   store.NewMemberStore(db),
		events:    store.NewEventStore(db),
		subs:      store.NewSubscriptionStore(db),
		ledger:    store.NewNotificationLogStore(db),
		transport: &okTransport{},
	}
	prefs := store.NewPreferenceStore(db)
	sendLogs := store.NewSendLogStore(db)

	registry := push.NewRegistry(app.subs, keys, logger)
	dispatcher := push.NewDispatcher(app.transport, app.subs, sendLogs, keys, push.DispatcherConfig{BatchSize: 50}, logger)
	orch := push.NewOrchestrator(push.NewSelector(app.events, kst), app.ledger, push.NewEligibility(app.subs, prefs), dispatcher, nil, kst, logger)

	memberH := NewMemberHandler(app.members, logger)
	eventH := NewEventHandler(app.events, kst, logger)
	prefH := NewPreferenceHandler(prefs, app.members, logger)
	pushH := NewPushHandler(registry, app.members, "BPublicKey", logger)
	adminH := NewAdminHandler(orch, registry, app.ledger, sendLogs, kst, logger)

	app.mux.HandleFunc("POST /api/members", memberH.Create)
	app.mux.HandleFunc("GET /api/members/{id}", memberH.Get)
	app.mux.HandleFunc("GET /api/members/{id}/preferences", prefH.Get)
	app.mux.HandleFunc("PUT /api/members/{id}/preferences", prefH.Update)
	app.mux.HandleFunc("POST /api/events", eventH.Create)
	app.mux.HandleFunc("GET /api/events", eventH.List)
	app.mux.HandleFunc("GET /api/events/{id}", eventH.Get)
	app.mux.HandleFunc("GET /api/push/vapid-key", pushH.GetVAPIDKey)
	app.mux.HandleFunc("POST /api/push/subscribe", pushH.Subscribe)
	app.mux.HandleFunc("POST /api/push/unsubscribe", pushH.Unsubscribe)
	app.mux.HandleFunc("POST /api/admin/notifications/trigger", adminH.Trigger)
	app.mux.HandleFunc("GET /api/admin/notifications/logs", adminH.Logs)
	app.mux.HandleFunc("GET /api/admin/notifications/send-logs", adminH.SendLogs)
	app.mux.HandleFunc("POST /api/admin/notifications/logs/{id}/reset", adminH.ResetLog)
	app.mux.HandleFunc("POST /api/admin/push/rotate-keys", adminH.RotateKeys)
	return app
}

func (a *testApp) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func subscribeBody(endpoint string, memberID *int64) map[string]any {
	return map[string]any{
		"endpoint":  endpoint,
		"keys":      map[string]string{"p256dh": "BKey", "auth": "secret"},
		"member_id": memberID,
	}
}

func TestMemberCreate(t *testing.T) {
	app := setupApp(t)

	rec := app.do(t, "POST", "/api/members", map[string]string{"name": "Lee", "email": "Lee@Example.com"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body)
	}
	m := decode[model.Member](t, rec)
	if m.Email != "lee@example.com" {
		t.Errorf("email = %q, want lowercased", m.Email)
	}

	rec = app.do(t, "POST", "/api/members", map[string]string{"name": "Other", "email": "lee@example.com"})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want %d", rec.Code, http.StatusConflict)
	}

	rec = app.do(t, "POST", "/api/members", map[string]string{"name": "X", "email": "not-an-email"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid email status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	rec = app.do(t, "GET", "/api/members/999", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing member status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestEventCreateAndList(t *testing.T) {
	app := setupApp(t)

	rec := app.do(t, "POST", "/api/events", map[string]string{
		"title":      "Alumni Mixer",
		"location":   "Main Hall",
		"start_time": "2030-06-04T09:00:00+09:00",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	rec = app.do(t, "GET", "/api/events?from=2030-06-04&to=2030-06-05", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	events := decode[[]model.Event](t, rec)
	if len(events) != 1 || events[0].Title != "Alumni Mixer" {
		t.Errorf("events = %+v", events)
	}

	rec = app.do(t, "GET", "/api/events?from=2030-06-05&to=2030-06-06", nil)
	if got := decode[[]model.Event](t, rec); len(got) != 0 {
		t.Errorf("events next day = %d, want 0", len(got))
	}
}

func TestEventCreateValidation(t *testing.T) {
	app := setupApp(t)

	tests := []map[string]string{
		{"title": "", "start_time": "2030-06-04T09:00:00+09:00"},
		{"title": "No time", "start_time": "tomorrow"},
		{"title": "Backwards", "start_time": "2030-06-04T09:00:00+09:00", "end_time": "2030-06-04T08:00:00+09:00"},
	}
	for _, body := range tests {
		if rec := app.do(t, "POST", "/api/events", body); rec.Code != http.StatusBadRequest {
			t.Errorf("body %v: status = %d, want %d", body, rec.Code, http.StatusBadRequest)
		}
	}
}

func TestPushSubscribeAndUnsubscribe(t *testing.T) {
	app := setupApp(t)
	endpoint := "https://fcm.googleapis.com/fcm/send/device-1"

	rec := app.do(t, "POST", "/api/push/subscribe", subscribeBody(endpoint, nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("subscribe status = %d: %s", rec.Code, rec.Body)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("fcm.googleapis.com")) {
		t.Error("response should not echo the endpoint")
	}
	sub := decode[model.PushSubscription](t, rec)
	if sub.EndpointHash != vault.HashEndpoint(endpoint) {
		t.Errorf("hash = %q", sub.EndpointHash)
	}

	rec = app.do(t, "POST", "/api/push/unsubscribe", map[string]string{"endpoint": endpoint})
	if rec.Code != http.StatusNoContent {
		t.Errorf("unsubscribe status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	rec = app.do(t, "POST", "/api/push/unsubscribe", map[string]string{"endpoint": endpoint + "-other"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown unsubscribe status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestPushSubscribeValidation(t *testing.T) {
	app := setupApp(t)
	missing := int64(404)

	tests := []struct {
		name string
		body any
	}{
		{"invalid json", "{"},
		{"missing keys", map[string]string{"endpoint": "https://push.example.com/x"}},
		{"http endpoint", subscribeBody("http://push.example.com/x", nil)},
		{"unknown member", subscribeBody("https://push.example.com/x", &missing)},
	}
	for _, tt := range tests {
		if rec := app.do(t, "POST", "/api/push/subscribe", tt.body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want %d", tt.name, rec.Code, http.StatusBadRequest)
		}
	}
}

func TestVAPIDKey(t *testing.T) {
	app := setupApp(t)
	rec := app.do(t, "GET", "/api/push/vapid-key", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode[map[string]string](t, rec)["public_key"]; got != "BPublicKey" {
		t.Errorf("public_key = %q", got)
	}
}

func TestPreferences(t *testing.T) {
	app := setupApp(t)
	m, _ := app.members.Create(context.Background(), "Park", "park@example.com")
	path := "/api/members/" + strconv.FormatInt(m.ID, 10) + "/preferences"

	rec := app.do(t, "GET", path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode[preferencesResponse](t, rec)
	if len(resp.Preferences) != 1 || !resp.Preferences[0].Enabled || resp.Preferences[0].Topic != model.TopicEvent {
		t.Errorf("default preferences = %+v", resp.Preferences)
	}

	rec = app.do(t, "PUT", path, map[string]any{"topic": "event", "enabled": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body)
	}
	resp = decode[preferencesResponse](t, rec)
	if len(resp.Preferences) != 1 || resp.Preferences[0].Enabled {
		t.Errorf("updated preferences = %+v", resp.Preferences)
	}

	rec = app.do(t, "PUT", path, map[string]any{"topic": "event"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing enabled status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	rec = app.do(t, "GET", "/api/members/999/preferences", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing member status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestAdminTriggerForDate(t *testing.T) {
	app := setupApp(t)
	ctx := context.Background()
	app.events.Create(ctx, "Alumni Mixer", "", "Main Hall", time.Date(2030, 6, 4, 9, 0, 0, 0, kst), nil)
	app.do(t, "POST", "/api/push/subscribe", subscribeBody("https://push.example.com/a", nil))

	rec := app.do(t, "POST", "/api/admin/notifications/trigger?date=2030-06-01", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	res := decode[push.RunResult](t, rec)
	if res.Processed != 1 || res.Accepted != 1 {
		t.Errorf("result = %+v", res)
	}
	if app.transport.sent != 1 {
		t.Errorf("sent = %d, want 1", app.transport.sent)
	}

	rec = app.do(t, "POST", "/api/admin/notifications/trigger?date=2030-06-01", nil)
	res = decode[push.RunResult](t, rec)
	if res.Skipped != 1 || res.Processed != 0 {
		t.Errorf("second result = %+v, want skipped", res)
	}

	rec = app.do(t, "POST", "/api/admin/notifications/trigger?date=June", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad date status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	rec = app.do(t, "GET", "/api/admin/notifications/logs", nil)
	logs := decode[[]model.ScheduledNotificationLog](t, rec)
	if len(logs) != 1 || logs[0].Status != model.LogStatusCompleted {
		t.Errorf("logs = %+v", logs)
	}

	rec = app.do(t, "GET", "/api/admin/notifications/send-logs?limit=10", nil)
	sendLogs := decode[[]model.NotificationSendLog](t, rec)
	if len(sendLogs) != 1 || !sendLogs[0].Success {
		t.Errorf("send logs = %+v", sendLogs)
	}
}

func TestAdminTriggerSurvivesClientDisconnect(t *testing.T) {
	app := setupApp(t)
	app.events.Create(context.Background(), "Alumni Mixer", "", "Grand Hall", time.Date(2030, 6, 4, 9, 0, 0, 0, kst), nil)
	app.do(t, "POST", "/api/push/subscribe", subscribeBody("https://push.example.com/a", nil))
	app.do(t, "POST", "/api/push/subscribe", subscribeBody("https://push.example.com/b", nil))

	// The client goes away as soon as the first push is sent.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app.transport.onSend = cancel

	req := httptest.NewRequest("POST", "/api/admin/notifications/trigger?date=2030-06-01", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	app.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	res := decode[push.RunResult](t, rec)
	if res.Processed != 1 || res.Accepted != 2 || res.Failed != 0 {
		t.Errorf("result = %+v, want 1 processed with 2 accepted", res)
	}
	if app.transport.sent != 2 {
		t.Errorf("sent = %d, want 2", app.transport.sent)
	}

	logs, err := app.ledger.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Status != model.LogStatusCompleted {
		t.Errorf("logs = %+v, want one completed row", logs)
	}
}

func TestAdminResetLog(t *testing.T) {
	app := setupApp(t)
	ctx := context.Background()
	event, _ := app.events.Create(ctx, "Homecoming", "", "", time.Date(2030, 6, 4, 9, 0, 0, 0, kst), nil)

	stuck, _ := app.ledger.CreateLog(ctx, event.ID, model.WindowThreeDaysBefore, time.Now())
	app.ledger.UpdateLog(ctx, stuck, model.LogStatusInProgress, 0, 0)
	path := "/api/admin/notifications/logs/" + strconv.FormatInt(stuck.ID, 10) + "/reset"

	rec := app.do(t, "POST", path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if got := decode[model.ScheduledNotificationLog](t, rec); got.Status != model.LogStatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}

	rec = app.do(t, "POST", path, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("second reset status = %d, want %d", rec.Code, http.StatusConflict)
	}

	rec = app.do(t, "POST", "/api/admin/notifications/logs/999/reset", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing log status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestAdminRotateKeys(t *testing.T) {
	app := setupApp(t)
	app.do(t, "POST", "/api/push/subscribe", subscribeBody("https://push.example.com/a", nil))

	rec := app.do(t, "POST", "/api/admin/push/rotate-keys", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	res := decode[push.RotationResult](t, rec)
	if res.Scanned != 1 || res.Rotated != 0 {
		t.Errorf("result = %+v, want scanned 1, nothing to rotate", res)
	}
}
