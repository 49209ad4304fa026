package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/phd-crm/crm-service/internal/domain"
	"github.com/phd-crm/crm-service/internal/http/response"
	"github.com/phd-crm/crm-service/internal/observability"
	"github.com/phd-crm/crm-service/internal/repository"
	"github.com/phd-crm/crm-service/internal/security"
)

type contextKey string

const (
	PrincipalContextKey   contextKey = "principal"
	AccessTokenContextKey contextKey = "access_token"
)

// PrincipalResolver is the single storage read of the authentication gate.
type PrincipalResolver interface {
	FindActivePrincipal(ctx context.Context, token string) (*domain.Principal, error)
}

// Authenticate gates a request on a valid bearer token backed by a live
// session. Token claims alone are never sufficient: the session row is the
// authority, so a logged-out or revoked token fails here even before its
// expiry claim would. On success the principal and the raw token are attached
// to the request context; the token is needed downstream for logout-by-token.
func Authenticate(jwtMgr *security.JWTManager, sessions PrincipalResolver, development bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				observability.RecordAccessTokenValidation(r.Context(), "missing")
				response.Error(w, r, http.StatusUnauthorized, "MISSING_TOKEN", "missing access token", nil)
				return
			}
			if _, err := jwtMgr.ParseAccessToken(raw); err != nil {
				observability.RecordAccessTokenValidation(r.Context(), "invalid")
				response.Error(w, r, http.StatusUnauthorized, "INVALID_TOKEN", "session expired, please log in again", nil)
				return
			}
			principal, err := sessions.FindActivePrincipal(r.Context(), raw)
			if err != nil {
				if errors.Is(err, repository.ErrSessionNotFound) {
					// No live session, expired session and inactive user all
					// land here; the distinction stays in the metric only.
					observability.RecordAccessTokenValidation(r.Context(), "no_session")
					response.Error(w, r, http.StatusUnauthorized, "INVALID_SESSION", "session expired, please log in again", nil)
					return
				}
				observability.RecordAccessTokenValidation(r.Context(), "storage_error")
				response.InternalError(w, r, err, development)
				return
			}
			observability.RecordAccessTokenValidation(r.Context(), "valid")
			ctx := context.WithValue(r.Context(), PrincipalContextKey, principal)
			ctx = context.WithValue(ctx, AccessTokenContextKey, raw)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuthenticate runs the same pipeline as Authenticate but collapses
// every failure into "no principal attached" and always calls through.
func OptionalAuthenticate(jwtMgr *security.JWTManager, sessions PrincipalResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			if _, err := jwtMgr.ParseAccessToken(raw); err != nil {
				next.ServeHTTP(w, r)
				return
			}
			principal, err := sessions.FindActivePrincipal(r.Context(), raw)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := context.WithValue(r.Context(), PrincipalContextKey, principal)
			ctx = context.WithValue(ctx, AccessTokenContextKey, raw)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func PrincipalFromContext(ctx context.Context) (*domain.Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey).(*domain.Principal)
	return p, ok
}

func AccessTokenFromContext(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(AccessTokenContextKey).(string)
	return t, ok
}
