package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/phd-crm/crm-service/internal/domain"
	"github.com/phd-crm/crm-service/internal/http/middleware"
	"github.com/phd-crm/crm-service/internal/http/response"
	"github.com/phd-crm/crm-service/internal/observability"
	"github.com/phd-crm/crm-service/internal/repository"
)

// LeadHandler serves the lead CRUD endpoints.
type LeadHandler struct {
	leads       repository.LeadRepository
	validate    *validator.Validate
	development bool
}

func NewLeadHandler(leads repository.LeadRepository, development bool) *LeadHandler {
	return &LeadHandler{
		leads:       leads,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		development: development,
	}
}

type leadRequest struct {
	Name    string `json:"name" validate:"required,max=255"`
	Email   string `json:"email" validate:"omitempty,email"`
	Phone   string `json:"phone" validate:"omitempty,max=64"`
	Company string `json:"company" validate:"omitempty,max=255"`
	Status  string `json:"status" validate:"omitempty,oneof=new contacted qualified won lost"`
	Source  string `json:"source" validate:"omitempty,max=64"`
}

func (h *LeadHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req leadRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	lead := &domain.Lead{
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Company: req.Company,
		Status:  req.Status,
		Source:  req.Source,
	}
	if lead.Status == "" {
		lead.Status = "new"
	}
	if principal, ok := middleware.PrincipalFromContext(r.Context()); ok {
		lead.OwnerID = &principal.ID
	}

	if err := h.leads.Create(r.Context(), lead); err != nil {
		response.InternalError(w, r, err, h.development)
		return
	}
	response.JSON(w, r, http.StatusCreated, lead)
}

func (h *LeadHandler) List(w http.ResponseWriter, r *http.Request) {
	query := repository.LeadListQuery{
		PageRequest: repository.PageRequest{
			Page:     queryInt(r, "page"),
			PageSize: queryInt(r, "page_size"),
		},
		Status: r.URL.Query().Get("status"),
		Source: r.URL.Query().Get("source"),
	}

	result, err := h.leads.ListPaged(r.Context(), query)
	if err != nil {
		response.InternalError(w, r, err, h.development)
		return
	}
	response.JSON(w, r, http.StatusOK, result)
}

func (h *LeadHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	lead, err := h.leads.FindByID(r.Context(), id)
	if errors.Is(err, repository.ErrLeadNotFound) {
		response.Error(w, r, http.StatusNotFound, "LEAD_NOT_FOUND", "lead not found", nil)
		return
	}
	if err != nil {
		response.InternalError(w, r, err, h.development)
		return
	}
	response.JSON(w, r, http.StatusOK, lead)
}

func (h *LeadHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req leadRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	lead, err := h.leads.FindByID(r.Context(), id)
	if errors.Is(err, repository.ErrLeadNotFound) {
		response.Error(w, r, http.StatusNotFound, "LEAD_NOT_FOUND", "lead not found", nil)
		return
	}
	if err != nil {
		response.InternalError(w, r, err, h.development)
		return
	}

	lead.Name = req.Name
	lead.Email = req.Email
	lead.Phone = req.Phone
	lead.Company = req.Company
	lead.Source = req.Source
	if req.Status != "" {
		lead.Status = req.Status
	}

	if err := h.leads.Update(r.Context(), lead); err != nil {
		response.InternalError(w, r, err, h.development)
		return
	}
	response.JSON(w, r, http.StatusOK, lead)
}

func (h *LeadHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	err := h.leads.Delete(r.Context(), id)
	if errors.Is(err, repository.ErrLeadNotFound) {
		response.Error(w, r, http.StatusNotFound, "LEAD_NOT_FOUND", "lead not found", nil)
		return
	}
	if err != nil {
		response.InternalError(w, r, err, h.development)
		return
	}

	observability.Audit(r, "lead.deleted", "lead_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		response.Error(w, r, http.StatusBadRequest, "INVALID_ID", "id must be a positive integer", nil)
		return 0, false
	}
	return uint(id), true
}

func queryInt(r *http.Request, name string) int {
	v, _ := strconv.Atoi(r.URL.Query().Get(name))
	return v
}
