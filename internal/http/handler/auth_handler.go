package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/phd-crm/crm-service/internal/http/middleware"
	"github.com/phd-crm/crm-service/internal/http/response"
	"github.com/phd-crm/crm-service/internal/observability"
	"github.com/phd-crm/crm-service/internal/service"
)

// AuthHandler serves the credential endpoints: login, token refresh,
// logout and the authenticated profile lookup.
type AuthHandler struct {
	auth        *service.AuthService
	validate    *validator.Validate
	development bool
}

func NewAuthHandler(auth *service.AuthService, development bool) *AuthHandler {
	return &AuthHandler{
		auth:        auth,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		development: development,
	}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=1"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type refreshResponse struct {
	AccessToken string `json:"accessToken"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	result, err := h.auth.Login(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		response.Error(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password", nil)
		return
	case errors.Is(err, service.ErrAccountInactive):
		response.Error(w, r, http.StatusForbidden, "ACCOUNT_INACTIVE", "account is deactivated", nil)
		return
	case err != nil:
		response.InternalError(w, r, err, h.development)
		return
	}

	observability.Audit(r, "auth.login", "user_id", result.User.ID)
	response.JSON(w, r, http.StatusOK, result)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	// The bearer token is optional here: a client whose access token
	// already vanished server-side can still rotate on the refresh
	// token alone.
	previous := bearerToken(r)

	access, err := h.auth.Refresh(r.Context(), req.RefreshToken, previous)
	switch {
	case errors.Is(err, service.ErrInvalidRefreshToken):
		response.Error(w, r, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "refresh token is invalid or expired", nil)
		return
	case err != nil:
		response.InternalError(w, r, err, h.development)
		return
	}

	response.JSON(w, r, http.StatusOK, refreshResponse{AccessToken: access})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.AccessTokenFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "MISSING_TOKEN", "missing access token", nil)
		return
	}

	if err := h.auth.Logout(r.Context(), token); err != nil {
		response.InternalError(w, r, err, h.development)
		return
	}

	observability.Audit(r, "auth.logout")
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "MISSING_TOKEN", "missing access token", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, principal)
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

// decodeAndValidate parses the JSON body into dst and runs struct
// validation, writing the error response itself on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, validate *validator.Validate, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be valid JSON", nil)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		details := map[string]string{}
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				details[fe.Field()] = fe.Tag()
			}
		}
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_FAILED", "request body failed validation", details)
		return false
	}
	return true
}
