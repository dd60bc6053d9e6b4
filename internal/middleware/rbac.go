package middleware

import (
	"net/http"

	"github.com/Strob0t/TenantForge/internal/domain/user"
)

// RequireRole returns middleware that restricts access to actors with one of the given roles.
func RequireRole(roles ...user.Role) func(http.Handler) http.Handler {
	allowed := make(map[user.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a := ActorFromContext(r.Context())
			if a == nil {
				writeJSONError(w, http.StatusUnauthorized, "authorization required")
				return
			}

			if !allowed[a.Role] {
				writeJSONError(w, http.StatusForbidden, "forbidden")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
