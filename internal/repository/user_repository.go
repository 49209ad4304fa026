package repository

import (
	"context"
	"errors"

	"github.com/phd-crm/crm-service/internal/domain"
	"github.com/phd-crm/crm-service/internal/observability"

	"gorm.io/gorm"
)

var ErrUserNotFound = errors.New("user not found")

type UserRepository interface {
	FindByID(ctx context.Context, id uint) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, user *domain.User) error
	Update(ctx context.Context, user *domain.User) error
}

type GormUserRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &GormUserRepository{db: db} }

func (r *GormUserRepository) FindByID(ctx context.Context, id uint) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).First(&u, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "success")
	return &u, nil
}

func (r *GormUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "user", "find_by_email", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(ctx, "user", "find_by_email", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "user", "find_by_email", "success")
	return &u, nil
}

func (r *GormUserRepository) Create(ctx context.Context, user *domain.User) error {
	err := r.db.WithContext(ctx).Create(user).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "user", "create", "success")
	return nil
}

func (r *GormUserRepository) Update(ctx context.Context, user *domain.User) error {
	err := r.db.WithContext(ctx).Save(user).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "update", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "user", "update", "success")
	return nil
}
