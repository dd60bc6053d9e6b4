package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Strob0t/TenantForge/internal/domain/user"
	"github.com/Strob0t/TenantForge/internal/middleware"
)

const testSecret = "test-secret-key-for-middleware"

func TestAuth_Disabled_InjectsLocalOperator(t *testing.T) {
	handler := middleware.Auth(nil, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a := middleware.ActorFromContext(r.Context())
		if a == nil {
			t.Fatal("expected default actor in context")
		}
		if a.Role != user.RolePlatformAdmin {
			t.Errorf("role = %q, want platform_admin", a.Role)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tenants/t-1", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestAuth_PublicPathSkipsAuth(t *testing.T) {
	v := middleware.NewTokenVerifier(testSecret, "tenantforge")
	handler := middleware.Auth(v, true)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestAuth_MissingHeader(t *testing.T) {
	v := middleware.NewTokenVerifier(testSecret, "tenantforge")
	handler := middleware.Auth(v, true)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuth_ValidToken(t *testing.T) {
	v := middleware.NewTokenVerifier(testSecret, "tenantforge")
	token, err := v.Issue(user.Actor{ID: "admin-7", Email: "ops@platform.example", Role: user.RolePlatformAdmin}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	var got *user.Actor
	handler := middleware.Auth(v, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = middleware.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got == nil || got.ID != "admin-7" || got.Role != user.RolePlatformAdmin {
		t.Errorf("unexpected actor %+v", got)
	}
}

func TestAuth_RejectsBadTokens(t *testing.T) {
	v := middleware.NewTokenVerifier(testSecret, "tenantforge")
	other := middleware.NewTokenVerifier("another-secret", "tenantforge")
	wrongIssuer := middleware.NewTokenVerifier(testSecret, "someone-else")

	admin := user.Actor{ID: "admin-7", Role: user.RolePlatformAdmin}
	forged, _ := other.Issue(admin, time.Minute)
	foreign, _ := wrongIssuer.Issue(admin, time.Minute)
	expired, _ := v.Issue(admin, -time.Minute)

	tests := map[string]string{
		"not bearer":    "Token abc",
		"garbage":       "Bearer not-a-jwt",
		"wrong secret":  "Bearer " + forged,
		"wrong issuer":  "Bearer " + foreign,
		"expired token": "Bearer " + expired,
	}
	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			handler := middleware.Auth(v, true)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				t.Fatal("handler should not be called")
			}))
			req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants", http.NoBody)
			req.Header.Set("Authorization", header)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestTokenVerifier_IssueRejectsInvalidActor(t *testing.T) {
	v := middleware.NewTokenVerifier(testSecret, "tenantforge")
	if _, err := v.Issue(user.Actor{ID: "x", Role: "root"}, time.Minute); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestRotatingTokenVerifier_OldTokensStopVerifying(t *testing.T) {
	secret := "first-secret-value"
	v := middleware.NewRotatingTokenVerifier(func() string { return secret }, "tenantforge")
	admin := user.Actor{ID: "admin-7", Role: user.RolePlatformAdmin}

	old, err := v.Issue(admin, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := v.Verify(old); err != nil {
		t.Fatalf("token must verify before rotation: %v", err)
	}

	secret = "second-secret-value"
	if _, err := v.Verify(old); err == nil {
		t.Fatal("token signed with the replaced secret must fail")
	}
	fresh, err := v.Issue(admin, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := v.Verify(fresh); err != nil {
		t.Fatalf("token signed with the new secret must verify: %v", err)
	}

	secret = ""
	if _, err := v.Issue(admin, time.Minute); err == nil {
		t.Fatal("expected error when no secret is configured")
	}
}
