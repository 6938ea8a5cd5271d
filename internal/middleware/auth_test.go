package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAdminTokenMissingHeader(t *testing.T) {
	handler := RequireAdminToken("s3cret")(okHandler())

	req := httptest.NewRequest("POST", "/api/admin/notifications/trigger", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("expected WWW-Authenticate header")
	}
}

func TestRequireAdminTokenWrongToken(t *testing.T) {
	handler := RequireAdminToken("s3cret")(okHandler())

	req := httptest.NewRequest("POST", "/api/admin/notifications/trigger", nil)
	req.Header.Set("Authorization", "Bearer guess")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestRequireAdminTokenValid(t *testing.T) {
	handler := RequireAdminToken("s3cret")(okHandler())

	req := httptest.NewRequest("POST", "/api/admin/notifications/trigger", nil)
	req.Header.Set("Authorization", "bearer s3cret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRequireAdminTokenDisabled(t *testing.T) {
	handler := RequireAdminToken("")(okHandler())

	req := httptest.NewRequest("POST", "/api/admin/notifications/trigger", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
