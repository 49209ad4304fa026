package repository

import (
	"context"
	"errors"

	"github.com/phd-crm/crm-service/internal/domain"
	"github.com/phd-crm/crm-service/internal/observability"

	"gorm.io/gorm"
)

var ErrLeadNotFound = errors.New("lead not found")

type LeadListQuery struct {
	PageRequest
	Status string
	Source string
}

type LeadRepository interface {
	Create(ctx context.Context, lead *domain.Lead) error
	FindByID(ctx context.Context, id uint) (*domain.Lead, error)
	ListPaged(ctx context.Context, query LeadListQuery) (PageResult[domain.Lead], error)
	Update(ctx context.Context, lead *domain.Lead) error
	Delete(ctx context.Context, id uint) error
}

type GormLeadRepository struct{ db *gorm.DB }

func NewLeadRepository(db *gorm.DB) LeadRepository { return &GormLeadRepository{db: db} }

func (r *GormLeadRepository) Create(ctx context.Context, lead *domain.Lead) error {
	err := r.db.WithContext(ctx).Create(lead).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "lead", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "lead", "create", "success")
	return nil
}

func (r *GormLeadRepository) FindByID(ctx context.Context, id uint) (*domain.Lead, error) {
	var lead domain.Lead
	err := r.db.WithContext(ctx).First(&lead, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "lead", "find_by_id", "not_found")
			return nil, ErrLeadNotFound
		}
		observability.RecordRepositoryOperation(ctx, "lead", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "lead", "find_by_id", "success")
	return &lead, nil
}

func (r *GormLeadRepository) ListPaged(ctx context.Context, query LeadListQuery) (PageResult[domain.Lead], error) {
	req := normalizePageRequest(query.PageRequest)
	result := PageResult[domain.Lead]{Page: req.Page, PageSize: req.PageSize}

	base := r.db.WithContext(ctx).Model(&domain.Lead{})
	if query.Status != "" {
		base = base.Where("status = ?", query.Status)
	}
	if query.Source != "" {
		base = base.Where("source = ?", query.Source)
	}

	if err := base.Session(&gorm.Session{}).Count(&result.Total).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "lead", "list_paged", "error")
		return PageResult[domain.Lead]{}, err
	}

	offset := (req.Page - 1) * req.PageSize
	if err := base.Order("created_at DESC").Order("id DESC").
		Offset(offset).Limit(req.PageSize).Find(&result.Items).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "lead", "list_paged", "error")
		return PageResult[domain.Lead]{}, err
	}
	result.TotalPages = calcTotalPages(result.Total, req.PageSize)
	observability.RecordRepositoryOperation(ctx, "lead", "list_paged", "success")
	return result, nil
}

func (r *GormLeadRepository) Update(ctx context.Context, lead *domain.Lead) error {
	err := r.db.WithContext(ctx).Save(lead).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "lead", "update", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "lead", "update", "success")
	return nil
}

func (r *GormLeadRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&domain.Lead{}, id)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "lead", "delete", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "lead", "delete", "not_found")
		return ErrLeadNotFound
	}
	observability.RecordRepositoryOperation(ctx, "lead", "delete", "success")
	return nil
}
