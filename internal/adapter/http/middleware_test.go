package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Strob0t/TenantForge/internal/domain"
)

func TestResponseWriterCapturesStatus(t *testing.T) {
	inner := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: inner, status: http.StatusOK}

	rw.WriteHeader(http.StatusTeapot)

	if rw.status != http.StatusTeapot {
		t.Fatalf("expected captured status 418, got %d", rw.status)
	}
	if inner.Code != http.StatusTeapot {
		t.Fatalf("expected upstream status 418, got %d", inner.Code)
	}
	if rw.Unwrap() != inner {
		t.Fatal("Unwrap should return the upstream writer")
	}
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s: expected %q, got %q", header, want, got)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	called := false
	handler := CORS("https://console.example")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/v1/tenants", http.NoBody))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if called {
		t.Fatal("preflight must not reach the handler")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://console.example" {
		t.Errorf("unexpected allow origin %q", got)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", domain.New(domain.CauseSlugTaken, "taken"), http.StatusBadRequest},
		{"key reused", domain.New(domain.CauseKeyReused, "reused"), http.StatusUnprocessableEntity},
		{"not found", domain.New(domain.CauseTenantNotFound, "missing"), http.StatusNotFound},
		{"in flight", domain.New(domain.CauseKeyInFlight, "busy"), http.StatusConflict},
		{"identity down", domain.New(domain.CauseIdentityUnavailable, "down"), http.StatusBadGateway},
		{"verification", domain.New(domain.CauseOwnerMismatch, "mismatch"), http.StatusInternalServerError},
		{"safety", domain.New(domain.CauseAdministratorTarget, "admin"), http.StatusForbidden},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(domain.AsError(tt.err)); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}
