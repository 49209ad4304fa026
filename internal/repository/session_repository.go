package repository

import (
	"context"
	"errors"
	"time"

	"github.com/phd-crm/crm-service/internal/domain"
	"github.com/phd-crm/crm-service/internal/observability"

	"gorm.io/gorm"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionRepository interface {
	Create(ctx context.Context, s *domain.Session) error
	// FindActivePrincipal resolves a bearer token to its user in one round
	// trip: the session row must exist, be unexpired, and join to an active
	// user. Zero rows collapses all three failure causes into
	// ErrSessionNotFound.
	FindActivePrincipal(ctx context.Context, token string) (*domain.Principal, error)
	ReplaceToken(ctx context.Context, oldToken, newToken string, expiresAt time.Time) error
	DeleteByToken(ctx context.Context, token string) (int64, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Create(ctx context.Context, s *domain.Session) error {
	err := r.db.WithContext(ctx).Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "create", "success")
	return nil
}

func (r *GormSessionRepository) FindActivePrincipal(ctx context.Context, token string) (*domain.Principal, error) {
	var p domain.Principal
	err := r.db.WithContext(ctx).
		Table("sessions").
		Select("users.id, users.email, users.first_name, users.last_name, users.role, users.is_active").
		Joins("JOIN users ON users.id = sessions.user_id").
		Where("sessions.token = ? AND sessions.expires_at > ? AND users.is_active = ?", token, time.Now(), true).
		Take(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "find_active_principal", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "session", "find_active_principal", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "find_active_principal", "success")
	return &p, nil
}

func (r *GormSessionRepository) ReplaceToken(ctx context.Context, oldToken, newToken string, expiresAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("token = ?", oldToken).
		Updates(map[string]any{"token": newToken, "expires_at": expiresAt})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "replace_token", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "session", "replace_token", "not_found")
		return ErrSessionNotFound
	}
	observability.RecordRepositoryOperation(ctx, "session", "replace_token", "success")
	return nil
}

func (r *GormSessionRepository) DeleteByToken(ctx context.Context, token string) (int64, error) {
	res := r.db.WithContext(ctx).Where("token = ?", token).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "delete_by_token", "error")
		return 0, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "delete_by_token", "success")
	return res.RowsAffected, nil
}

func (r *GormSessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", time.Now()).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "delete_expired", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "delete_expired", "success")
	return res.RowsAffected, nil
}
