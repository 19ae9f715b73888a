package repository

import (
	"context"

	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/entity"
	"gorm.io/gorm"
)

type BOMRepository struct {
	db *gorm.DB
}

func NewBOMRepository(db *gorm.DB) *BOMRepository {
	return &BOMRepository{db: db}
}

func (r *BOMRepository) WithTx(tx *gorm.DB) *BOMRepository {
	return &BOMRepository{db: tx}
}

func (r *BOMRepository) CreateItem(ctx context.Context, item *entity.BOMItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

// ListByProduct 获取产品当前BOM
func (r *BOMRepository) ListByProduct(ctx context.Context, productID string) ([]entity.BOMItem, error) {
	var items []entity.BOMItem
	err := r.db.WithContext(ctx).Preload("Material").
		Where("product_id = ?", productID).Order("material_id").Find(&items).Error
	return items, err
}

// ListByProducts 批量获取多个产品的BOM
func (r *BOMRepository) ListByProducts(ctx context.Context, productIDs []string) ([]entity.BOMItem, error) {
	var items []entity.BOMItem
	if len(productIDs) == 0 {
		return items, nil
	}
	err := r.db.WithContext(ctx).Preload("Material").
		Where("product_id IN ?", productIDs).Order("product_id, material_id").Find(&items).Error
	return items, err
}

func (r *BOMRepository) SnapshotExists(ctx context.Context, planID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.BOMSnapshotLine{}).
		Where("plan_id = ?", planID).Count(&count).Error
	return count > 0, err
}

func (r *BOMRepository) CreateSnapshot(ctx context.Context, lines []entity.BOMSnapshotLine) error {
	if len(lines) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&lines).Error
}

func (r *BOMRepository) ListSnapshot(ctx context.Context, planID string) ([]entity.BOMSnapshotLine, error) {
	var lines []entity.BOMSnapshotLine
	err := r.db.WithContext(ctx).Where("plan_id = ?", planID).Order("material_id").Find(&lines).Error
	return lines, err
}
