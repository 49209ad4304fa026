package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/phd-crm/crm-service/internal/domain"
	"github.com/phd-crm/crm-service/internal/http/middleware"
	"github.com/phd-crm/crm-service/internal/repository"
	"github.com/phd-crm/crm-service/internal/security"
	"github.com/phd-crm/crm-service/internal/service"
)

func newDBForTest(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.User{}, &domain.Session{}, &domain.Lead{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newAuthHandlerForTest(t *testing.T) (*AuthHandler, *service.AuthService, *gorm.DB) {
	t.Helper()
	db := newDBForTest(t)
	jwtMgr := security.NewJWTManager(
		"crm-service",
		"crm-clients",
		"abcdefghijklmnopqrstuvwxyz123456",
		"abcdefghijklmnopqrstuvwxyz654321",
	)
	svc := service.NewAuthService(
		repository.NewUserRepository(db),
		repository.NewSessionRepository(db),
		jwtMgr,
		15*time.Minute,
		time.Hour,
	)
	return NewAuthHandler(svc, true), svc, db
}

func seedActiveUser(t *testing.T, db *gorm.DB, email, password string) *domain.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := &domain.User{
		Email:        email,
		PasswordHash: string(hash),
		FirstName:    "Test",
		LastName:     "User",
		Role:         domain.RoleUser,
		IsActive:     true,
	}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func envelopeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	data, _ := decodeEnvelope(t, rec)["data"].(map[string]any)
	return data
}

func envelopeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	errObj, _ := decodeEnvelope(t, rec)["error"].(map[string]any)
	code, _ := errObj["code"].(string)
	return code
}

func TestLoginReturnsTokenPair(t *testing.T) {
	h, _, db := newAuthHandlerForTest(t)
	seedActiveUser(t, db, "alice@example.com", "s3cret")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"email":"alice@example.com","password":"s3cret"}`))
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	data := envelopeData(t, rec)
	access, _ := data["accessToken"].(string)
	refresh, _ := data["refreshToken"].(string)
	if access == "" || refresh == "" {
		t.Fatalf("expected token pair in body: %v", data)
	}
	user, _ := data["user"].(map[string]any)
	if user["email"] != "alice@example.com" {
		t.Fatalf("unexpected user payload: %v", user)
	}
	if _, leaked := user["password_hash"]; leaked {
		t.Fatal("password hash must never appear in responses")
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	h, _, db := newAuthHandlerForTest(t)
	seedActiveUser(t, db, "bob@example.com", "right")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"email":"bob@example.com","password":"wrong"}`))
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if code := envelopeErrorCode(t, rec); code != "INVALID_CREDENTIALS" {
		t.Fatalf("expected INVALID_CREDENTIALS, got %q", code)
	}
}

func TestLoginValidatesBody(t *testing.T) {
	h, _, _ := newAuthHandlerForTest(t)

	cases := []struct {
		name string
		body string
		code string
	}{
		{"malformed json", `{"email":`, "INVALID_BODY"},
		{"missing password", `{"email":"a@b.com"}`, "VALIDATION_FAILED"},
		{"bad email", `{"email":"not-an-email","password":"x"}`, "VALIDATION_FAILED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.Login(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if code := envelopeErrorCode(t, rec); code != tc.code {
				t.Fatalf("expected %s, got %q", tc.code, code)
			}
		})
	}
}

func TestRefreshRotatesAccessToken(t *testing.T) {
	h, svc, db := newAuthHandlerForTest(t)
	seedActiveUser(t, db, "carol@example.com", "pw")

	login, err := svc.Login(context.Background(), "carol@example.com", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	payload := fmt.Sprintf(`{"refreshToken":%q}`, login.RefreshToken)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", strings.NewReader(payload))
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	rec := httptest.NewRecorder()
	h.Refresh(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	data := envelopeData(t, rec)
	access, _ := data["accessToken"].(string)
	if access == "" || access == login.AccessToken {
		t.Fatalf("expected a fresh access token, got %q", access)
	}
}

func TestRefreshRejectsInvalidToken(t *testing.T) {
	h, _, _ := newAuthHandlerForTest(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh",
		strings.NewReader(`{"refreshToken":"not-a-jwt"}`))
	rec := httptest.NewRecorder()
	h.Refresh(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if code := envelopeErrorCode(t, rec); code != "INVALID_REFRESH_TOKEN" {
		t.Fatalf("expected INVALID_REFRESH_TOKEN, got %q", code)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	h, svc, db := newAuthHandlerForTest(t)
	seedActiveUser(t, db, "dave@example.com", "pw")
	ctx := context.Background()

	login, err := svc.Login(ctx, "dave@example.com", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req = req.WithContext(context.WithValue(req.Context(), middleware.AccessTokenContextKey, login.AccessToken))
	rec := httptest.NewRecorder()
	h.Logout(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	sessions := repository.NewSessionRepository(db)
	if _, err := sessions.FindActivePrincipal(ctx, login.AccessToken); err == nil {
		t.Fatal("expected session to be revoked")
	}
}

func TestMeReturnsPrincipal(t *testing.T) {
	h, _, _ := newAuthHandlerForTest(t)

	principal := &domain.Principal{ID: 7, Email: "erin@example.com", Role: domain.RoleAdmin}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req = req.WithContext(context.WithValue(req.Context(), middleware.PrincipalContextKey, principal))
	rec := httptest.NewRecorder()
	h.Me(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	data := envelopeData(t, rec)
	if data["email"] != "erin@example.com" {
		t.Fatalf("unexpected body: %v", data)
	}
}

func TestMeWithoutPrincipalIsUnauthorized(t *testing.T) {
	h, _, _ := newAuthHandlerForTest(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	rec := httptest.NewRecorder()
	h.Me(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
