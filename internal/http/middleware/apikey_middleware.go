package middleware

import (
	"net"
	"net/http"
	"time"

	"github.com/phd-crm/crm-service/internal/http/response"
	"github.com/phd-crm/crm-service/internal/observability"
	"github.com/phd-crm/crm-service/internal/security"
)

const APIKeyHeader = "X-PHD-API-KEY"

// RequireAPIKey gates the non-user integration surface on a static shared
// secret. The comparison is constant-time for equal-length inputs; a length
// mismatch is rejected early, which reveals only that the lengths differ.
// Every failure is appended to the audit log with at most an 8-character
// prefix of what was presented. The log is observational: it never feeds
// back into the decision.
func RequireAPIKey(secret string, audit *security.AuditLog) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get(APIKeyHeader)
			if presented == "" {
				audit.Append(security.AuditLogEntry{
					IP:        clientIP(r),
					Timestamp: time.Now().UTC(),
				})
				observability.RecordAPIKeyValidation(r.Context(), "missing")
				observability.Audit(r, "api_key_missing")
				response.Error(w, r, http.StatusUnauthorized, "MISSING_API_KEY", "API key required", nil)
				return
			}
			if !security.ConstantTimeEquals(presented, secret) {
				audit.Append(security.AuditLogEntry{
					IP:        clientIP(r),
					Timestamp: time.Now().UTC(),
					KeyPrefix: security.KeyPrefix(presented),
				})
				observability.RecordAPIKeyValidation(r.Context(), "invalid")
				observability.Audit(r, "api_key_rejected", "key_prefix", security.KeyPrefix(presented))
				response.Error(w, r, http.StatusForbidden, "INVALID_API_KEY", "invalid API key", nil)
				return
			}
			observability.RecordAPIKeyValidation(r.Context(), "valid")
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP trusts the address chi's RealIP middleware resolved from the
// reverse proxy headers; the service is assumed to sit behind a proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
