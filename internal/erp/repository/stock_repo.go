package repository

import (
	"context"
	"time"

	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// qtyEpsilon 浮点比较容差（列精度为4位小数）
const qtyEpsilon = 1e-6

type StockRepository struct {
	db *gorm.DB
}

func NewStockRepository(db *gorm.DB) *StockRepository {
	return &StockRepository{db: db}
}

func (r *StockRepository) WithTx(tx *gorm.DB) *StockRepository {
	return &StockRepository{db: tx}
}

func (r *StockRepository) Create(ctx context.Context, item *entity.StockItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *StockRepository) GetByID(ctx context.Context, id string) (*entity.StockItem, error) {
	var item entity.StockItem
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	return &item, err
}

// GetByIDs 批量读取库存，不加锁
func (r *StockRepository) GetByIDs(ctx context.Context, ids []string) ([]entity.StockItem, error) {
	var items []entity.StockItem
	if len(ids) == 0 {
		return items, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id").Find(&items).Error
	return items, err
}

// LockByIDs 按ID顺序加行锁读取库存，避免多订单交叉死锁
func (r *StockRepository) LockByIDs(ctx context.Context, ids []string) ([]entity.StockItem, error) {
	var items []entity.StockItem
	if len(ids) == 0 {
		return items, nil
	}
	err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).Order("id").Find(&items).Error
	return items, err
}

// Reserve 比较并交换：仅当可用数量充足时增加预留
func (r *StockRepository) Reserve(ctx context.Context, id string, amount float64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&entity.StockItem{}).
		Where("id = ? AND quantity - reserved_quantity >= ?", id, amount-qtyEpsilon).
		Updates(map[string]interface{}{
			"reserved_quantity": gorm.Expr("reserved_quantity + ?", amount),
			"updated_at":        time.Now(),
		})
	return res.RowsAffected == 1, res.Error
}

// Consume 扣减在库数量并同步扣减预留（预留下限为0）
func (r *StockRepository) Consume(ctx context.Context, id string, amount float64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&entity.StockItem{}).
		Where("id = ? AND quantity >= ?", id, amount-qtyEpsilon).
		Updates(map[string]interface{}{
			"quantity":          gorm.Expr("quantity - ?", amount),
			"reserved_quantity": gorm.Expr("CASE WHEN reserved_quantity > ? THEN reserved_quantity - ? ELSE 0 END", amount, amount),
			"updated_at":        time.Now(),
		})
	return res.RowsAffected == 1, res.Error
}

// ConsumeUnreserved 扣减可用数量，不触碰其他计划的预留
func (r *StockRepository) ConsumeUnreserved(ctx context.Context, id string, amount float64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&entity.StockItem{}).
		Where("id = ? AND quantity - reserved_quantity >= ?", id, amount-qtyEpsilon).
		Updates(map[string]interface{}{
			"quantity":   gorm.Expr("quantity - ?", amount),
			"updated_at": time.Now(),
		})
	return res.RowsAffected == 1, res.Error
}

// Release 释放预留，下限为0
func (r *StockRepository) Release(ctx context.Context, id string, amount float64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&entity.StockItem{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"reserved_quantity": gorm.Expr("CASE WHEN reserved_quantity > ? THEN reserved_quantity - ? ELSE 0 END", amount, amount),
			"updated_at":        time.Now(),
		})
	return res.RowsAffected == 1, res.Error
}

// Receive 入库
func (r *StockRepository) Receive(ctx context.Context, id string, amount float64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&entity.StockItem{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"quantity":   gorm.Expr("quantity + ?", amount),
			"updated_at": time.Now(),
		})
	return res.RowsAffected == 1, res.Error
}

// Adjust 手工调整在库数量，调整后不允许为负
func (r *StockRepository) Adjust(ctx context.Context, id string, delta float64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&entity.StockItem{}).
		Where("id = ? AND quantity + ? >= ?", id, delta, -qtyEpsilon).
		Updates(map[string]interface{}{
			"quantity":   gorm.Expr("quantity + ?", delta),
			"updated_at": time.Now(),
		})
	return res.RowsAffected == 1, res.Error
}

func (r *StockRepository) CreateMovement(ctx context.Context, m *entity.StockMovement) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// CountMovements 统计某单据产生的库存流水条数
func (r *StockRepository) CountMovements(ctx context.Context, refType, refID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.StockMovement{}).
		Where("reference_type = ? AND reference_id = ?", refType, refID).
		Count(&count).Error
	return count, err
}

func (r *StockRepository) ListMovements(ctx context.Context, refType, refID string) ([]entity.StockMovement, error) {
	var ms []entity.StockMovement
	err := r.db.WithContext(ctx).
		Where("reference_type = ? AND reference_id = ?", refType, refID).
		Order("created_at, id").Find(&ms).Error
	return ms, err
}

type StockListParams struct {
	MaterialType string
	Keyword      string
	Critical     bool
	Page         int
	Size         int
}

func (r *StockRepository) List(ctx context.Context, params StockListParams) ([]entity.StockItem, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.StockItem{})
	if params.MaterialType != "" {
		query = query.Where("material_type = ?", params.MaterialType)
	}
	if params.Keyword != "" {
		kw := "%" + params.Keyword + "%"
		query = query.Where("code LIKE ? OR name LIKE ?", kw, kw)
	}
	if params.Critical {
		query = query.Where("quantity - reserved_quantity <= critical_level AND critical_level > 0")
	}
	var total int64
	query.Count(&total)
	page, size := normalizePage(params.Page, params.Size)
	var items []entity.StockItem
	err := query.Order("code").Offset((page - 1) * size).Limit(size).Find(&items).Error
	return items, total, err
}
