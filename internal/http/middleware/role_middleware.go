package middleware

import (
	"net/http"
	"strings"

	"github.com/phd-crm/crm-service/internal/http/response"
)

// RequireRole allows the request only when the authenticated principal's role
// is in the allow-list. It must run after Authenticate; a missing principal
// is treated as a middleware-ordering bug and answered with 401 rather than
// a panic or a silent allow.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				response.Error(w, r, http.StatusUnauthorized, "MISSING_TOKEN", "authentication required", nil)
				return
			}
			if _, ok := allowed[principal.Role]; !ok {
				response.Error(w, r, http.StatusForbidden, "INSUFFICIENT_ROLE",
					"access restricted to roles: "+strings.Join(roles, ", "),
					map[string]any{"required_roles": roles})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
