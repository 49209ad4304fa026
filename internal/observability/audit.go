package observability

import (
	"log/slog"
	"net/http"
)

// Audit emits a structured audit event for a request. Auth gates use this to
// leave an operator-visible trail without changing any decision they made.
func Audit(r *http.Request, event string, attrs ...any) {
	base := []any{
		"event", event,
		"method", r.Method,
		"path", r.URL.Path,
		"remote_ip", r.RemoteAddr,
		"request_id", r.Header.Get("X-Request-Id"),
	}
	base = append(base, attrs...)
	slog.InfoContext(r.Context(), "audit", base...)
}
