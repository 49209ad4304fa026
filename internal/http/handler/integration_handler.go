package handler

import (
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/phd-crm/crm-service/internal/domain"
	"github.com/phd-crm/crm-service/internal/http/middleware"
	"github.com/phd-crm/crm-service/internal/http/response"
	"github.com/phd-crm/crm-service/internal/observability"
	"github.com/phd-crm/crm-service/internal/repository"
)

// IntegrationHandler serves the server-to-server surface. Callers are
// authenticated upstream by the API key gate, not by a user session.
type IntegrationHandler struct {
	leads       repository.LeadRepository
	validate    *validator.Validate
	development bool
}

func NewIntegrationHandler(leads repository.LeadRepository, development bool) *IntegrationHandler {
	return &IntegrationHandler{
		leads:       leads,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		development: development,
	}
}

type leadIntakeRequest struct {
	Name    string `json:"name" validate:"required,max=255"`
	Email   string `json:"email" validate:"omitempty,email"`
	Phone   string `json:"phone" validate:"omitempty,max=64"`
	Company string `json:"company" validate:"omitempty,max=255"`
	Source  string `json:"source" validate:"required,max=64"`
}

// IntakeLead accepts a lead pushed by an external system, e.g. a web
// form relay or a partner integration.
func (h *IntegrationHandler) IntakeLead(w http.ResponseWriter, r *http.Request) {
	var req leadIntakeRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	lead := &domain.Lead{
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Company: req.Company,
		Status:  "new",
		Source:  req.Source,
	}
	// Internal tools sometimes relay leads with both the API key and a
	// user session; attribute the lead to that user when present.
	if principal, ok := middleware.PrincipalFromContext(r.Context()); ok {
		lead.OwnerID = &principal.ID
	}
	if err := h.leads.Create(r.Context(), lead); err != nil {
		response.InternalError(w, r, err, h.development)
		return
	}

	observability.Audit(r, "integration.lead_intake", "lead_id", lead.ID, "source", lead.Source)
	response.JSON(w, r, http.StatusCreated, lead)
}
