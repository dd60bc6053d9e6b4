package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/Strob0t/TenantForge/internal/domain/user"
)

type actorCtxKey struct{}

// publicPaths are exempt from authentication.
var publicPaths = map[string]bool{
	"/health":       true,
	"/health/ready": true,
	"/metrics":      true,
}

// LocalOperator is the actor injected when authentication is disabled.
var LocalOperator = user.Actor{
	ID:    "00000000-0000-0000-0000-000000000000",
	Email: "operator@localhost",
	Role:  user.RolePlatformAdmin,
}

// Auth returns middleware that validates bearer tokens and stores the actor
// in the request context. When authEnabled is false, LocalOperator is injected.
func Auth(verifier *TokenVerifier, authEnabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authEnabled {
				op := LocalOperator
				next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), &op)))
				return
			}

			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSONError(w, http.StatusUnauthorized, "authorization required")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			if token == authHeader {
				writeJSONError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			actor, err := verifier.Verify(token)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// WithActor stores the authenticated actor in ctx.
func WithActor(ctx context.Context, a *user.Actor) context.Context {
	return context.WithValue(ctx, actorCtxKey{}, a)
}

// ActorFromContext returns the authenticated actor from the request context.
func ActorFromContext(ctx context.Context) *user.Actor {
	a, _ := ctx.Value(actorCtxKey{}).(*user.Actor)
	return a
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
