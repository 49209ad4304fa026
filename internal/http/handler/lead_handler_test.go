package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/phd-crm/crm-service/internal/domain"
	"github.com/phd-crm/crm-service/internal/http/middleware"
	"github.com/phd-crm/crm-service/internal/repository"
	"github.com/phd-crm/crm-service/internal/security"
)

func newLeadRouterForTest(t *testing.T) (chi.Router, repository.LeadRepository) {
	t.Helper()
	db := newDBForTest(t)
	leads := repository.NewLeadRepository(db)
	h := NewLeadHandler(leads, true)

	r := chi.NewRouter()
	r.Route("/api/v1/leads", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/{id}", h.Get)
		r.Put("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
	})
	return r, leads
}

func TestCreateLeadAssignsOwnerFromPrincipal(t *testing.T) {
	r, leads := newLeadRouterForTest(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/leads/",
		strings.NewReader(`{"name":"Acme Corp","email":"contact@acme.test","source":"referral"}`))
	principal := &domain.Principal{ID: 42, Role: domain.RoleUser}
	req = req.WithContext(context.WithValue(req.Context(), middleware.PrincipalContextKey, principal))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	data := envelopeData(t, rec)
	if data["status"] != "new" {
		t.Fatalf("expected default status new, got %v", data["status"])
	}
	if data["owner_id"] != float64(42) {
		t.Fatalf("expected owner 42, got %v", data["owner_id"])
	}

	stored, err := leads.FindByID(context.Background(), uint(data["id"].(float64)))
	if err != nil {
		t.Fatalf("lead not persisted: %v", err)
	}
	if stored.OwnerID == nil || *stored.OwnerID != 42 {
		t.Fatalf("owner not persisted: %+v", stored)
	}
}

func TestCreateLeadValidatesStatus(t *testing.T) {
	r, _ := newLeadRouterForTest(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/leads/",
		strings.NewReader(`{"name":"Acme","status":"bogus"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if code := envelopeErrorCode(t, rec); code != "VALIDATION_FAILED" {
		t.Fatalf("expected VALIDATION_FAILED, got %q", code)
	}
}

func TestGetLeadNotFound(t *testing.T) {
	r, _ := newLeadRouterForTest(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/leads/9999", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if code := envelopeErrorCode(t, rec); code != "LEAD_NOT_FOUND" {
		t.Fatalf("expected LEAD_NOT_FOUND, got %q", code)
	}
}

func TestGetLeadRejectsBadID(t *testing.T) {
	r, _ := newLeadRouterForTest(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/leads/abc", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUpdateLeadChangesStatus(t *testing.T) {
	r, leads := newLeadRouterForTest(t)
	ctx := context.Background()

	lead := &domain.Lead{Name: "Widget Inc", Status: "new"}
	if err := leads.Create(ctx, lead); err != nil {
		t.Fatalf("seed lead: %v", err)
	}

	body := `{"name":"Widget Inc","status":"qualified"}`
	req := httptest.NewRequest(http.MethodPut, fmt.Sprintf("/api/v1/leads/%d", lead.ID), strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	updated, err := leads.FindByID(ctx, lead.ID)
	if err != nil {
		t.Fatalf("reload lead: %v", err)
	}
	if updated.Status != "qualified" {
		t.Fatalf("expected status qualified, got %q", updated.Status)
	}
}

func TestDeleteLead(t *testing.T) {
	r, leads := newLeadRouterForTest(t)
	ctx := context.Background()

	lead := &domain.Lead{Name: "Gone Soon"}
	if err := leads.Create(ctx, lead); err != nil {
		t.Fatalf("seed lead: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/v1/leads/%d", lead.ID), nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if _, err := leads.FindByID(ctx, lead.ID); err == nil {
		t.Fatal("expected lead to be deleted")
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/v1/leads/%d", lead.ID), nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete must 404, got %d", rec.Code)
	}
}

func TestListLeadsFiltersAndPages(t *testing.T) {
	r, leads := newLeadRouterForTest(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		status := "new"
		if i%5 == 0 {
			status = "qualified"
		}
		lead := &domain.Lead{Name: fmt.Sprintf("Lead %02d", i), Status: status, Source: "import"}
		if err := leads.Create(ctx, lead); err != nil {
			t.Fatalf("seed lead %d: %v", i, err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/leads/?status=qualified&page=1&page_size=3", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	data := envelopeData(t, rec)
	items, _ := data["items"].([]any)
	if len(items) != 3 {
		t.Fatalf("expected 3 items on the page, got %d", len(items))
	}
	if data["total"] != float64(5) {
		t.Fatalf("expected 5 qualified leads, got %v", data["total"])
	}
	if data["total_pages"] != float64(2) {
		t.Fatalf("expected 2 pages, got %v", data["total_pages"])
	}
}

func TestIntegrationLeadIntake(t *testing.T) {
	db := newDBForTest(t)
	leads := repository.NewLeadRepository(db)
	h := NewIntegrationHandler(leads, true)

	req := httptest.NewRequest(http.MethodPost, "/api/integration/leads",
		strings.NewReader(`{"name":"Form Lead","email":"lead@site.test","source":"webform"}`))
	rec := httptest.NewRecorder()
	h.IntakeLead(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	data := envelopeData(t, rec)
	if data["status"] != "new" || data["source"] != "webform" {
		t.Fatalf("unexpected lead payload: %v", data)
	}
}

func TestIntegrationLeadIntakeRequiresSource(t *testing.T) {
	db := newDBForTest(t)
	h := NewIntegrationHandler(repository.NewLeadRepository(db), true)

	req := httptest.NewRequest(http.MethodPost, "/api/integration/leads",
		strings.NewReader(`{"name":"No Source"}`))
	rec := httptest.NewRecorder()
	h.IntakeLead(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSecurityLogListReturnsEntriesOldestFirst(t *testing.T) {
	audit := security.NewAuditLog(security.DefaultAuditLogCapacity)
	for i := 0; i < 3; i++ {
		audit.Append(security.AuditLogEntry{IP: fmt.Sprintf("10.0.0.%d", i), KeyPrefix: fmt.Sprintf("key-%d", i)})
	}
	h := NewSecurityLogHandler(audit)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/security-log", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	data := envelopeData(t, rec)
	if data["count"] != float64(3) {
		t.Fatalf("expected 3 entries, got %v", data["count"])
	}
	entries, _ := data["entries"].([]any)
	first, _ := entries[0].(map[string]any)
	if first["api_key_prefix"] != "key-0" {
		t.Fatalf("expected oldest entry first, got %v", first)
	}
}
