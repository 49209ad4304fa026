package service

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/phd-crm/crm-service/internal/domain"
	"github.com/phd-crm/crm-service/internal/observability"
	"github.com/phd-crm/crm-service/internal/repository"
	"github.com/phd-crm/crm-service/internal/security"
)

var (
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrAccountInactive     = errors.New("account is inactive")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)

// dummyPasswordHash is a valid bcrypt hash of a random string nobody knows.
var dummyPasswordHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

type LoginResult struct {
	AccessToken  string            `json:"accessToken"`
	RefreshToken string            `json:"refreshToken"`
	User         *domain.Principal `json:"user"`
	ExpiresAt    time.Time         `json:"expiresAt"`
}

type AuthService struct {
	users      repository.UserRepository
	sessions   repository.SessionRepository
	jwtMgr     *security.JWTManager
	accessTTL  time.Duration
	sessionTTL time.Duration
}

func NewAuthService(users repository.UserRepository, sessions repository.SessionRepository, jwtMgr *security.JWTManager, accessTTL, sessionTTL time.Duration) *AuthService {
	return &AuthService{
		users:      users,
		sessions:   sessions,
		jwtMgr:     jwtMgr,
		accessTTL:  accessTTL,
		sessionTTL: sessionTTL,
	}
}

// Login checks the credentials and, on success, mints a token pair and a
// session row bound to the new access token. The session's own expiry, not
// the token's claim, is what keeps the login alive across access-token
// refreshes.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			// Burn a compare anyway so response timing does not reveal
			// whether the account exists.
			_ = bcrypt.CompareHashAndPassword(dummyPasswordHash, []byte(password))
			observability.RecordAuthLogin("invalid_credentials")
			return nil, ErrInvalidCredentials
		}
		observability.RecordAuthLogin("error")
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		observability.RecordAuthLogin("invalid_credentials")
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		observability.RecordAuthLogin("inactive")
		return nil, ErrAccountInactive
	}

	access, err := s.jwtMgr.SignAccessToken(user.ID, s.accessTTL)
	if err != nil {
		observability.RecordAuthLogin("error")
		return nil, err
	}
	refresh, err := s.jwtMgr.SignRefreshToken(user.ID, s.sessionTTL)
	if err != nil {
		observability.RecordAuthLogin("error")
		return nil, err
	}
	expiresAt := time.Now().Add(s.sessionTTL)
	if err := s.sessions.Create(ctx, &domain.Session{
		Token:     access,
		UserID:    user.ID,
		ExpiresAt: expiresAt,
	}); err != nil {
		observability.RecordAuthLogin("error")
		return nil, err
	}
	observability.RecordAuthLogin("success")
	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		User:         principalOf(user),
		ExpiresAt:    expiresAt,
	}, nil
}

// Refresh verifies a refresh token and mints a new access token. When the
// caller also presents its previous access token, the existing session row is
// re-pointed at the new token; otherwise a fresh row is created. Either way
// the row keeps the session revocable by token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken, previousAccessToken string) (string, error) {
	claims, err := s.jwtMgr.ParseRefreshToken(refreshToken)
	if err != nil {
		observability.RecordAuthRefresh("invalid_token")
		return "", ErrInvalidRefreshToken
	}
	userID, err := claims.UserID()
	if err != nil {
		observability.RecordAuthRefresh("invalid_token")
		return "", ErrInvalidRefreshToken
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			observability.RecordAuthRefresh("unknown_user")
			return "", ErrInvalidRefreshToken
		}
		observability.RecordAuthRefresh("error")
		return "", err
	}
	if !user.IsActive {
		observability.RecordAuthRefresh("inactive")
		return "", ErrInvalidRefreshToken
	}

	access, err := s.jwtMgr.SignAccessToken(user.ID, s.accessTTL)
	if err != nil {
		observability.RecordAuthRefresh("error")
		return "", err
	}
	expiresAt := time.Now().Add(s.sessionTTL)
	if previousAccessToken != "" {
		err = s.sessions.ReplaceToken(ctx, previousAccessToken, access, expiresAt)
		if err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
			observability.RecordAuthRefresh("error")
			return "", err
		}
		if err == nil {
			observability.RecordAuthRefresh("success")
			return access, nil
		}
		// Fall through: the old row is already gone, start a new one.
	}
	if err := s.sessions.Create(ctx, &domain.Session{
		Token:     access,
		UserID:    user.ID,
		ExpiresAt: expiresAt,
	}); err != nil {
		observability.RecordAuthRefresh("error")
		return "", err
	}
	observability.RecordAuthRefresh("success")
	return access, nil
}

// Logout deletes the session row for the presented token. Deleting an
// already-dead session is not an error; logout is idempotent.
func (s *AuthService) Logout(ctx context.Context, accessToken string) error {
	if _, err := s.sessions.DeleteByToken(ctx, accessToken); err != nil {
		observability.RecordAuthLogout("error")
		return err
	}
	observability.RecordAuthLogout("success")
	return nil
}

func principalOf(u *domain.User) *domain.Principal {
	return &domain.Principal{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role,
		IsActive:  u.IsActive,
	}
}
