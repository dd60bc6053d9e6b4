// Package middleware provides HTTP middleware for TenantForge.
package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/Strob0t/TenantForge/internal/logger"
)

const (
	headerRequestID      = "X-Request-ID"
	headerIdempotencyKey = "Idempotency-Key"

	maxRequestIDLength = 128
)

// RequestID is HTTP middleware that assigns every request an ID. A client
// supplied X-Request-ID is kept only when it is short printable ASCII, so it
// can never break a log line; otherwise a fresh ID is generated. The ID goes
// into the context and onto the response header.
//
// When the request carries an Idempotency-Key, the key is also stamped as the
// correlation ID so log lines written before the saga starts (auth, rate
// limiting, body decoding) can be joined with its audit trail.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if !safeHeaderID(id) {
			id = generateID()
		}

		ctx := logger.WithRequestID(r.Context(), id)
		if key := r.Header.Get(headerIdempotencyKey); safeHeaderID(key) {
			ctx = logger.WithCorrelationID(ctx, key)
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func safeHeaderID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if c := id[i]; c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}

// generateID returns a 16-byte random hex string (32 chars).
func generateID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
