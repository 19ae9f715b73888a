package repository

import (
	"context"
	"time"

	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/entity"
	"gorm.io/gorm"
)

type ReservationRepository struct {
	db *gorm.DB
}

func NewReservationRepository(db *gorm.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

func (r *ReservationRepository) WithTx(tx *gorm.DB) *ReservationRepository {
	return &ReservationRepository{db: tx}
}

func (r *ReservationRepository) Create(ctx context.Context, res *entity.Reservation) error {
	return r.db.WithContext(ctx).Create(res).Error
}

// ListByPlan 获取计划的预留，status为空时返回全部
func (r *ReservationRepository) ListByPlan(ctx context.Context, planID, status string) ([]entity.Reservation, error) {
	query := r.db.WithContext(ctx).Where("plan_id = ?", planID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var items []entity.Reservation
	err := query.Order("material_id").Find(&items).Error
	return items, err
}

// AddConsumed 增加已消耗数量，不超过预留数量
func (r *ReservationRepository) AddConsumed(ctx context.Context, id string, amount float64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&entity.Reservation{}).
		Where("id = ? AND status = ? AND consumed_quantity + ? <= reserved_quantity + ?", id, entity.ReservationActive, amount, qtyEpsilon).
		Updates(map[string]interface{}{
			"consumed_quantity": gorm.Expr("consumed_quantity + ?", amount),
			"updated_at":        time.Now(),
		})
	return res.RowsAffected == 1, res.Error
}

// Close 关闭活跃预留
func (r *ReservationRepository) Close(ctx context.Context, id, status string) (bool, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&entity.Reservation{}).
		Where("id = ? AND status = ?", id, entity.ReservationActive).
		Updates(map[string]interface{}{
			"status":     status,
			"closed_at":  &now,
			"updated_at": now,
		})
	return res.RowsAffected == 1, res.Error
}

// SumActiveOutstanding 某物料所有活跃预留的未消耗数量合计
func (r *ReservationRepository) SumActiveOutstanding(ctx context.Context, materialID string) (float64, error) {
	var result struct{ Total float64 }
	err := r.db.WithContext(ctx).Model(&entity.Reservation{}).
		Select("COALESCE(SUM(reserved_quantity - consumed_quantity), 0) AS total").
		Where("material_id = ? AND status = ?", materialID, entity.ReservationActive).
		Scan(&result).Error
	return result.Total, err
}

type ReservationListParams struct {
	OrderID string
	PlanID  string
	Status  string
	Page    int
	Size    int
}

func (r *ReservationRepository) List(ctx context.Context, params ReservationListParams) ([]entity.Reservation, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.Reservation{})
	if params.OrderID != "" {
		query = query.Where("order_id = ?", params.OrderID)
	}
	if params.PlanID != "" {
		query = query.Where("plan_id = ?", params.PlanID)
	}
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	var total int64
	query.Count(&total)
	page, size := normalizePage(params.Page, params.Size)
	var items []entity.Reservation
	err := query.Order("created_at DESC, material_id").Offset((page - 1) * size).Limit(size).Find(&items).Error
	return items, total, err
}
