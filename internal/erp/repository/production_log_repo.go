package repository

import (
	"context"

	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/entity"
	"gorm.io/gorm"
)

type ProductionLogRepository struct {
	db *gorm.DB
}

func NewProductionLogRepository(db *gorm.DB) *ProductionLogRepository {
	return &ProductionLogRepository{db: db}
}

func (r *ProductionLogRepository) WithTx(tx *gorm.DB) *ProductionLogRepository {
	return &ProductionLogRepository{db: tx}
}

func (r *ProductionLogRepository) Create(ctx context.Context, log *entity.ProductionLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *ProductionLogRepository) ListByPlan(ctx context.Context, planID string) ([]entity.ProductionLog, error) {
	var logs []entity.ProductionLog
	err := r.db.WithContext(ctx).Where("plan_id = ?", planID).Order("created_at, id").Find(&logs).Error
	return logs, err
}

func (r *ProductionLogRepository) CountByPlan(ctx context.Context, planID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.ProductionLog{}).Where("plan_id = ?", planID).Count(&count).Error
	return count, err
}
