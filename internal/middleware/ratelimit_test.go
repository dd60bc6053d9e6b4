package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Strob0t/TenantForge/internal/domain/user"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterAllowsUnderLimit(t *testing.T) {
	rl := NewRateLimiter(10, 10, time.Minute)
	handler := rl.Handler(okHandler())

	// First 10 requests should succeed (burst = 10)
	for i := range 10 {
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.RemoteAddr = "192.168.1.1:5000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
}

func TestRateLimiterRejectsOverLimit(t *testing.T) {
	rl := NewRateLimiter(10, 5, time.Minute)
	now := time.Now()
	rl.now = func() time.Time { return now }
	handler := rl.Handler(okHandler())

	// Exhaust the burst (5 tokens)
	for range 5 {
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.RemoteAddr = "192.168.1.1:5000"
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	// Next request should be rate limited
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = "192.168.1.1:5000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestRateLimiterRefills(t *testing.T) {
	rl := NewRateLimiter(1, 1, time.Minute)
	now := time.Now()
	rl.now = func() time.Time { return now }

	if _, _, ok := rl.allow("k"); !ok {
		t.Fatal("first request should pass")
	}
	if _, _, ok := rl.allow("k"); ok {
		t.Fatal("second request should be limited")
	}
	now = now.Add(time.Second)
	if _, _, ok := rl.allow("k"); !ok {
		t.Fatal("request after refill should pass")
	}
}

func TestRateLimiterKeysByActor(t *testing.T) {
	rl := NewRateLimiter(10, 1, time.Minute)
	now := time.Now()
	rl.now = func() time.Time { return now }
	handler := rl.Handler(okHandler())

	send := func(actorID string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants", http.NoBody)
		req.RemoteAddr = "10.0.0.1:4000"
		req = req.WithContext(WithActor(req.Context(), &user.Actor{ID: actorID, Role: user.RolePlatformAdmin}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send("actor-a"); code != http.StatusOK {
		t.Fatalf("actor-a first: %d", code)
	}
	if code := send("actor-b"); code != http.StatusOK {
		t.Fatalf("actor-b shares the IP but not the bucket: %d", code)
	}
	if code := send("actor-a"); code != http.StatusTooManyRequests {
		t.Fatalf("actor-a second: expected 429, got %d", code)
	}
	if rl.Len() != 2 {
		t.Errorf("expected 2 buckets, got %d", rl.Len())
	}
}
