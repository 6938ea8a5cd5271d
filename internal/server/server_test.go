package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alumnihub/alumnihub/internal/config"
	"github.com/alumnihub/alumnihub/internal/database"
	"github.com/alumnihub/alumnihub/internal/push"
	"github.com/alumnihub/alumnihub/internal/vault"
)

type nopTransport struct{}

func (nopTransport) Send(context.Context, push.Target, []byte) (push.Result, error) {
	return push.Result{OK: true, StatusCode: http.StatusCreated}, nil
}

func newTestServer(t *testing.T, transport push.Transport) *Server {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	secrets, _ := vault.ParseSecrets("v1:server-test")
	keys, _ := vault.NewKeyring(secrets, "v1")
	cfg := &config.Config{
		Location:   time.FixedZone("UTC+09:00", 9*60*60),
		ReminderAt: "09:00",
		Dispatch:   push.DefaultDispatcherConfig(),
		AdminToken: "admin-token",
		Push:       push.Config{VAPIDPublicKey: "BPublic"},
	}
	return New(db, cfg, keys, transport, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func serve(h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	router := newTestServer(t, nopTransport{}).Router()

	rec := serve(router, "GET", "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("request logger should set X-Request-ID")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestServer(t, nopTransport{}).Router()

	rec := serve(router, "GET", "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("expected default Go collectors in metrics output")
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	router := newTestServer(t, nopTransport{}).Router()

	if rec := serve(router, "GET", "/api/admin/notifications/logs", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if rec := serve(router, "GET", "/api/admin/notifications/logs", "wrong"); rec.Code != http.StatusForbidden {
		t.Errorf("wrong token: status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	if rec := serve(router, "GET", "/api/admin/notifications/logs", "admin-token"); rec.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec := serve(router, "POST", "/api/admin/notifications/trigger?date=2030-06-01", "admin-token"); rec.Code != http.StatusOK {
		t.Errorf("trigger: status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestTriggerWithoutTransport(t *testing.T) {
	s := newTestServer(t, nil)
	if s.Orchestrator() != nil || s.PushScheduler() != nil {
		t.Error("pipeline should be disabled without a transport")
	}

	rec := serve(s.Router(), "POST", "/api/admin/notifications/trigger", "admin-token")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestSchedulerWired(t *testing.T) {
	s := newTestServer(t, nopTransport{})
	sched := s.PushScheduler()
	if sched == nil {
		t.Fatal("scheduler should be built with a transport")
	}

	h, err := sched.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sched.Shutdown(context.Background(), h); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
