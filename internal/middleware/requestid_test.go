package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Strob0t/TenantForge/internal/logger"
)

type capturedIDs struct {
	request     string
	correlation string
}

func serveRequestID(t *testing.T, headers map[string]string) (capturedIDs, *httptest.ResponseRecorder) {
	t.Helper()
	var got capturedIDs
	handler := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got.request = logger.RequestID(r.Context())
		got.correlation = logger.CorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants", http.NoBody)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return got, rec
}

func TestRequestID_Generated(t *testing.T) {
	got, rec := serveRequestID(t, nil)

	if len(got.request) != 32 {
		t.Errorf("expected 32-char hex ID in context, got %q", got.request)
	}
	if rec.Header().Get("X-Request-ID") != got.request {
		t.Errorf("response header %q does not match context %q", rec.Header().Get("X-Request-ID"), got.request)
	}
	if got.correlation != "" {
		t.Errorf("expected no correlation ID without Idempotency-Key, got %q", got.correlation)
	}
}

func TestRequestID_ClientValue(t *testing.T) {
	tests := []struct {
		name string
		in   string
		keep bool
	}{
		{"plain", "my-custom-id-123", true},
		{"uuid", "0b6f2f8e-7b39-4a4e-9d43-2a4c9c1e5e10", true},
		{"at limit", strings.Repeat("r", maxRequestIDLength), true},
		{"too long", strings.Repeat("r", maxRequestIDLength+1), false},
		{"embedded space", "req 1", false},
		{"control character", "req-1\x1b[31m", false},
		{"non ascii", "req-é", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, rec := serveRequestID(t, map[string]string{"X-Request-ID": tt.in})
			if tt.keep && got.request != tt.in {
				t.Errorf("expected %q kept, got %q", tt.in, got.request)
			}
			if !tt.keep && (got.request == tt.in || len(got.request) != 32) {
				t.Errorf("expected %q replaced by a generated ID, got %q", tt.in, got.request)
			}
			if rec.Header().Get("X-Request-ID") != got.request {
				t.Errorf("response header %q does not match context %q", rec.Header().Get("X-Request-ID"), got.request)
			}
		})
	}
}

func TestRequestID_StampsIdempotencyKeyAsCorrelation(t *testing.T) {
	got, _ := serveRequestID(t, map[string]string{
		"X-Request-ID":    "req-7",
		"Idempotency-Key": "onboard-acme-01",
	})
	if got.request != "req-7" {
		t.Errorf("expected request ID req-7, got %q", got.request)
	}
	if got.correlation != "onboard-acme-01" {
		t.Errorf("expected correlation ID onboard-acme-01, got %q", got.correlation)
	}

	got, _ = serveRequestID(t, map[string]string{"Idempotency-Key": "bad key\n"})
	if got.correlation != "" {
		t.Errorf("expected unsafe Idempotency-Key to be ignored, got %q", got.correlation)
	}
}
