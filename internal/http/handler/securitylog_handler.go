package handler

import (
	"net/http"

	"github.com/phd-crm/crm-service/internal/http/response"
	"github.com/phd-crm/crm-service/internal/security"
)

// SecurityLogHandler exposes the in-memory API key audit log to
// administrators. Entries are oldest first.
type SecurityLogHandler struct {
	audit *security.AuditLog
}

func NewSecurityLogHandler(audit *security.AuditLog) *SecurityLogHandler {
	return &SecurityLogHandler{audit: audit}
}

func (h *SecurityLogHandler) List(w http.ResponseWriter, r *http.Request) {
	entries := h.audit.Entries()
	response.JSON(w, r, http.StatusOK, map[string]any{
		"entries":  entries,
		"count":    len(entries),
		"capacity": security.DefaultAuditLogCapacity,
	})
}
