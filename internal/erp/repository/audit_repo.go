package repository

import (
	"context"

	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/entity"
	"gorm.io/gorm"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Create(ctx context.Context, log *entity.AuditLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

type AuditListParams struct {
	EntityID string
	OrderID  string
	PlanID   string
	Decision string
	Severity string
	Page     int
	Size     int
}

func (r *AuditRepository) List(ctx context.Context, params AuditListParams) ([]entity.AuditLog, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.AuditLog{})
	if params.EntityID != "" {
		query = query.Where("entity_id = ?", params.EntityID)
	}
	if params.OrderID != "" {
		query = query.Where("order_id = ?", params.OrderID)
	}
	if params.PlanID != "" {
		query = query.Where("plan_id = ?", params.PlanID)
	}
	if params.Decision != "" {
		query = query.Where("decision = ?", params.Decision)
	}
	if params.Severity != "" {
		query = query.Where("severity = ?", params.Severity)
	}
	var total int64
	query.Count(&total)
	page, size := normalizePage(params.Page, params.Size)
	var logs []entity.AuditLog
	err := query.Order("created_at DESC, id").Offset((page - 1) * size).Limit(size).Find(&logs).Error
	return logs, total, err
}
