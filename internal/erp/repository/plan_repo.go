package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PlanRepository struct {
	db *gorm.DB
}

func NewPlanRepository(db *gorm.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

func (r *PlanRepository) WithTx(tx *gorm.DB) *PlanRepository {
	return &PlanRepository{db: tx}
}

func (r *PlanRepository) Create(ctx context.Context, plan *entity.ProductionPlan) error {
	return r.db.WithContext(ctx).Create(plan).Error
}

func (r *PlanRepository) GetByID(ctx context.Context, id string) (*entity.ProductionPlan, error) {
	var plan entity.ProductionPlan
	err := r.db.WithContext(ctx).Preload("Product").Where("id = ?", id).First(&plan).Error
	return &plan, err
}

// GetForUpdate 加行锁读取计划
func (r *PlanRepository) GetForUpdate(ctx context.Context, id string) (*entity.ProductionPlan, error) {
	var plan entity.ProductionPlan
	err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&plan).Error
	return &plan, err
}

// FindActive 查找订单+产品下未取消的计划，不存在返回nil
func (r *PlanRepository) FindActive(ctx context.Context, orderID, productID string) (*entity.ProductionPlan, error) {
	var plan entity.ProductionPlan
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND product_id = ? AND status <> ?", orderID, productID, entity.PlanStatusCancelled).
		First(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *PlanRepository) ListByOrder(ctx context.Context, orderID string) ([]entity.ProductionPlan, error) {
	var plans []entity.ProductionPlan
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at, id").Find(&plans).Error
	return plans, err
}

// CountUnfinished 统计订单中未完成且未取消的计划数量
func (r *PlanRepository) CountUnfinished(ctx context.Context, orderID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.ProductionPlan{}).
		Where("order_id = ? AND status NOT IN ?", orderID, []string{entity.PlanStatusCompleted, entity.PlanStatusCancelled}).
		Count(&count).Error
	return count, err
}

// TransitionStatus 比较并交换计划状态
func (r *PlanRepository) TransitionStatus(ctx context.Context, id, from, to string, extra map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	}
	for k, v := range extra {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).Model(&entity.ProductionPlan{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

// AddProduced 增加已生产数量，不超过计划数量
func (r *PlanRepository) AddProduced(ctx context.Context, id string, delta float64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&entity.ProductionPlan{}).
		Where("id = ? AND produced_quantity + ? <= planned_quantity + ?", id, delta, qtyEpsilon).
		Updates(map[string]interface{}{
			"produced_quantity": gorm.Expr("produced_quantity + ?", delta),
			"updated_at":        time.Now(),
		})
	return res.RowsAffected == 1, res.Error
}

type PlanListParams struct {
	OrderID    string
	OperatorID string
	Status     string
	Page       int
	Size       int
}

func (r *PlanRepository) List(ctx context.Context, params PlanListParams) ([]entity.ProductionPlan, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.ProductionPlan{})
	if params.OrderID != "" {
		query = query.Where("order_id = ?", params.OrderID)
	}
	if params.OperatorID != "" {
		query = query.Where("assigned_operator_id = ?", params.OperatorID)
	}
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	var total int64
	query.Count(&total)
	page, size := normalizePage(params.Page, params.Size)
	var plans []entity.ProductionPlan
	err := query.Order("created_at DESC").Offset((page - 1) * size).Limit(size).Find(&plans).Error
	return plans, total, err
}
