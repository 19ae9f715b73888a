package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/entity"
	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const ledgerStripes = 64

// StockRef 库存变动关联单据
type StockRef struct {
	Type  string
	ID    string
	Actor string
	Notes string
}

// MaterialNeed 物料需求
type MaterialNeed struct {
	MaterialID   string
	MaterialType string
	Quantity     float64
}

// StockBasis 缺料判断口径
type StockBasis int

const (
	// BasisAvailable 可用 = 在库 - 预留（审批）
	BasisAvailable StockBasis = iota
	// BasisOnHand 在库（报工，预留已属于本计划）
	BasisOnHand
)

// StockLedger 库存账：所有库存变动都经过这里
type StockLedger struct {
	db     *gorm.DB
	repo   *repository.StockRepository
	logger *zap.Logger
	locks  [ledgerStripes]sync.Mutex
}

func NewStockLedger(db *gorm.DB, repo *repository.StockRepository, logger *zap.Logger) *StockLedger {
	return &StockLedger{db: db, repo: repo, logger: logger.Named("stock")}
}

func (l *StockLedger) stockRepo(tx *gorm.DB) *repository.StockRepository {
	if tx == nil {
		return l.repo
	}
	return l.repo.WithTx(tx)
}

func stripe(id string) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32() % ledgerStripes)
}

// lock 锁定物料对应的分段锁
func (l *StockLedger) lock(materialID string) func() {
	m := &l.locks[stripe(materialID)]
	m.Lock()
	return m.Unlock
}

// Lock 事务开始时按ID顺序锁定本事务要修改的全部库存行
// 行锁必须先于分段锁获取，分段锁只包裹对已加锁行的更新
func (l *StockLedger) Lock(ctx context.Context, tx *gorm.DB, materialIDs []string) (map[string]entity.StockItem, error) {
	ids := uniqueSorted(materialIDs)
	items, err := l.repo.WithTx(tx).LockByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("锁定库存失败: %w", err)
	}
	byID := make(map[string]entity.StockItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	return byID, nil
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CheckAvailability 查询可用数量，事务内加行锁读取
func (l *StockLedger) CheckAvailability(ctx context.Context, tx *gorm.DB, materialType, materialID string, needed float64) (float64, error) {
	shortfalls, items, err := l.check(ctx, tx, []MaterialNeed{{MaterialID: materialID, MaterialType: materialType, Quantity: needed}}, BasisAvailable)
	if err != nil {
		return 0, err
	}
	if len(shortfalls) > 0 {
		return shortfalls[0].Available, nil
	}
	return items[materialID].Available(), nil
}

// FindShortfalls 批量检查缺料，返回全部缺口
func (l *StockLedger) FindShortfalls(ctx context.Context, tx *gorm.DB, needs []MaterialNeed, basis StockBasis) ([]Shortfall, error) {
	shortfalls, _, err := l.check(ctx, tx, needs, basis)
	return shortfalls, err
}

func (l *StockLedger) check(ctx context.Context, tx *gorm.DB, needs []MaterialNeed, basis StockBasis) ([]Shortfall, map[string]entity.StockItem, error) {
	ids := make([]string, 0, len(needs))
	for _, n := range needs {
		ids = append(ids, n.MaterialID)
	}
	ids = uniqueSorted(ids)

	var items []entity.StockItem
	var err error
	if tx != nil {
		items, err = l.repo.WithTx(tx).LockByIDs(ctx, ids)
	} else {
		items, err = l.repo.GetByIDs(ctx, ids)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("读取库存失败: %w", err)
	}
	byID := make(map[string]entity.StockItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	var shortfalls []Shortfall
	for _, n := range needs {
		it, ok := byID[n.MaterialID]
		if !ok || (n.MaterialType != "" && it.MaterialType != n.MaterialType) {
			shortfalls = append(shortfalls, Shortfall{
				MaterialID:   n.MaterialID,
				MaterialType: n.MaterialType,
				MaterialCode: it.Code,
				MaterialName: it.Name,
				Needed:       n.Quantity,
				Shortfall:    n.Quantity,
			})
			continue
		}
		available := it.Available()
		if basis == BasisOnHand {
			available = it.Quantity
		}
		if lessThan(available, n.Quantity) {
			shortfalls = append(shortfalls, Shortfall{
				MaterialID:   it.ID,
				MaterialType: it.MaterialType,
				MaterialCode: it.Code,
				MaterialName: it.Name,
				Needed:       round4(n.Quantity),
				Available:    round4(available),
				Shortfall:    round4(n.Quantity - available),
			})
		}
	}
	return shortfalls, byID, nil
}

// Reserve 预留库存，可用不足返回 InsufficientStock
func (l *StockLedger) Reserve(ctx context.Context, tx *gorm.DB, materialID string, amount float64, ref StockRef) (*entity.StockItem, error) {
	unlock := l.lock(materialID)
	defer unlock()

	repo := l.stockRepo(tx)
	ok, err := repo.Reserve(ctx, materialID, amount)
	if err != nil {
		return nil, fmt.Errorf("预留库存失败: %w", err)
	}
	if !ok {
		item, _ := repo.GetByID(ctx, materialID)
		return nil, insufficientStock([]Shortfall{shortfallOf(item, materialID, amount, item.Available())})
	}
	return l.afterUpdate(ctx, repo, materialID, entity.MovementReserve, amount, ref)
}

// Consume 生产消耗：扣减在库，同时扣减未消耗预留
func (l *StockLedger) Consume(ctx context.Context, tx *gorm.DB, materialID string, amount float64, ref StockRef) (*entity.StockItem, error) {
	unlock := l.lock(materialID)
	defer unlock()

	repo := l.stockRepo(tx)
	ok, err := repo.Consume(ctx, materialID, amount)
	if err != nil {
		return nil, fmt.Errorf("扣减库存失败: %w", err)
	}
	if !ok {
		item, _ := repo.GetByID(ctx, materialID)
		return nil, insufficientStock([]Shortfall{shortfallOf(item, materialID, amount, item.Quantity)})
	}
	return l.afterUpdate(ctx, repo, materialID, entity.MovementProductionOut, -amount, ref)
}

// ConsumeUnreserved 无预留物料的生产消耗，只扣可用数量
func (l *StockLedger) ConsumeUnreserved(ctx context.Context, tx *gorm.DB, materialID string, amount float64, ref StockRef) (*entity.StockItem, error) {
	unlock := l.lock(materialID)
	defer unlock()

	repo := l.stockRepo(tx)
	ok, err := repo.ConsumeUnreserved(ctx, materialID, amount)
	if err != nil {
		return nil, fmt.Errorf("扣减库存失败: %w", err)
	}
	if !ok {
		item, _ := repo.GetByID(ctx, materialID)
		return nil, insufficientStock([]Shortfall{shortfallOf(item, materialID, amount, item.Available())})
	}
	return l.afterUpdate(ctx, repo, materialID, entity.MovementProductionOut, -amount, ref)
}

// Receive 成品入库
func (l *StockLedger) Receive(ctx context.Context, tx *gorm.DB, materialID string, amount float64, ref StockRef) (*entity.StockItem, error) {
	unlock := l.lock(materialID)
	defer unlock()

	repo := l.stockRepo(tx)
	ok, err := repo.Receive(ctx, materialID, amount)
	if err != nil {
		return nil, fmt.Errorf("入库失败: %w", err)
	}
	if !ok {
		return nil, newError(KindValidation, "物料不存在: %s", materialID)
	}
	return l.afterUpdate(ctx, repo, materialID, entity.MovementProductionIn, amount, ref)
}

// Release 释放预留，下限为0
func (l *StockLedger) Release(ctx context.Context, tx *gorm.DB, materialID string, amount float64, ref StockRef) (*entity.StockItem, error) {
	unlock := l.lock(materialID)
	defer unlock()

	repo := l.stockRepo(tx)
	ok, err := repo.Release(ctx, materialID, amount)
	if err != nil {
		return nil, fmt.Errorf("释放预留失败: %w", err)
	}
	if !ok {
		return nil, newError(KindValidation, "物料不存在: %s", materialID)
	}
	return l.afterUpdate(ctx, repo, materialID, entity.MovementRelease, -amount, ref)
}

// Adjust 手工调整在库数量，调整后不允许为负
func (l *StockLedger) Adjust(ctx context.Context, materialID string, delta float64, reason, actor string) (*entity.StockItem, error) {
	if delta == 0 {
		return nil, newError(KindValidation, "调整数量不能为0")
	}
	delta = round4(delta)

	var updated *entity.StockItem
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := l.Lock(ctx, tx, []string{materialID})
		if err != nil {
			return err
		}
		item, found := locked[materialID]
		if !found {
			return newError(KindValidation, "物料不存在: %s", materialID)
		}

		unlock := l.lock(materialID)
		defer unlock()

		repo := l.repo.WithTx(tx)
		ok, err := repo.Adjust(ctx, materialID, delta)
		if err != nil {
			return fmt.Errorf("调整库存失败: %w", err)
		}
		if !ok {
			return newError(KindValidation, "调整后库存为负: 在库%.4f, 调整%.4f", item.Quantity, delta)
		}
		updated, err = l.afterUpdate(ctx, repo, materialID, entity.MovementAdjust, delta, StockRef{
			Type:  entity.RefManual,
			ID:    uuid.New().String(),
			Actor: actor,
			Notes: reason,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("stock adjusted",
		zap.String("material_id", materialID),
		zap.Float64("delta", delta),
		zap.String("reason", reason),
		zap.String("actor", actor),
	)
	return updated, nil
}

func (l *StockLedger) afterUpdate(ctx context.Context, repo *repository.StockRepository, materialID, movementType string, signed float64, ref StockRef) (*entity.StockItem, error) {
	item, err := repo.GetByID(ctx, materialID)
	if err != nil {
		return nil, fmt.Errorf("读取库存失败: %w", err)
	}
	m := &entity.StockMovement{
		ID:            uuid.New().String(),
		MaterialID:    item.ID,
		MaterialType:  item.MaterialType,
		MaterialCode:  item.Code,
		MovementType:  movementType,
		Quantity:      signed,
		ReferenceType: ref.Type,
		ReferenceID:   ref.ID,
		Notes:         ref.Notes,
		CreatedBy:     ref.Actor,
	}
	if err := repo.CreateMovement(ctx, m); err != nil {
		return nil, fmt.Errorf("记录库存流水失败: %w", err)
	}
	return item, nil
}

func shortfallOf(item *entity.StockItem, materialID string, needed, available float64) Shortfall {
	if item == nil || item.ID == "" {
		return Shortfall{MaterialID: materialID, Needed: needed, Shortfall: needed}
	}
	if available < 0 {
		available = 0
	}
	return Shortfall{
		MaterialID:   item.ID,
		MaterialType: item.MaterialType,
		MaterialCode: item.Code,
		MaterialName: item.Name,
		Needed:       round4(needed),
		Available:    round4(available),
		Shortfall:    round4(needed - available),
	}
}

// Get 查询单个物料
func (l *StockLedger) Get(ctx context.Context, materialID string) (*entity.StockItem, error) {
	item, err := l.repo.GetByID(ctx, materialID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(KindValidation, "物料不存在: %s", materialID)
	}
	return item, err
}

func (l *StockLedger) List(ctx context.Context, params repository.StockListParams) ([]entity.StockItem, int64, error) {
	return l.repo.List(ctx, params)
}

func (l *StockLedger) Movements(ctx context.Context, refType, refID string) ([]entity.StockMovement, error) {
	return l.repo.ListMovements(ctx, refType, refID)
}
