package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/entity"
	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReservationService 物料预留
type ReservationService struct {
	repo   *repository.ReservationRepository
	ledger *StockLedger
	logger *zap.Logger
}

func NewReservationService(repo *repository.ReservationRepository, ledger *StockLedger, logger *zap.Logger) *ReservationService {
	return &ReservationService{repo: repo, ledger: ledger, logger: logger.Named("reservation")}
}

func (s *ReservationService) resRepo(tx *gorm.DB) *repository.ReservationRepository {
	if tx == nil {
		return s.repo
	}
	return s.repo.WithTx(tx)
}

// Draw 一次报工从某条预留中消耗的数量
type Draw struct {
	ReservationID string
	MaterialID    string
	MaterialType  string
	MaterialCode  string
	Amount        float64
}

// OpenReservations 按快照为计划开立预留，任一物料可用不足返回 InsufficientStock
func (s *ReservationService) OpenReservations(ctx context.Context, tx *gorm.DB, orderID, planID string, lines []entity.BOMSnapshotLine, plannedQty float64, actor string) ([]entity.Reservation, error) {
	repo := s.resRepo(tx)
	out := make([]entity.Reservation, 0, len(lines))
	for _, line := range lines {
		amount := round4(line.QuantityNeeded * plannedQty)
		if amount <= 0 {
			continue
		}
		if _, err := s.ledger.Reserve(ctx, tx, line.MaterialID, amount, StockRef{
			Type:  entity.RefPlan,
			ID:    planID,
			Actor: actor,
		}); err != nil {
			return nil, err
		}
		res := entity.Reservation{
			ID:               uuid.New().String(),
			OrderID:          orderID,
			PlanID:           planID,
			MaterialType:     line.MaterialType,
			MaterialID:       line.MaterialID,
			MaterialCode:     line.MaterialCode,
			MaterialName:     line.MaterialName,
			ReservedQuantity: amount,
			Status:           entity.ReservationActive,
		}
		if err := repo.Create(ctx, &res); err != nil {
			return nil, fmt.Errorf("创建物料预留失败: %w", err)
		}
		out = append(out, res)
	}
	return out, nil
}

// RecordConsumption 按报工数量按比例记录预留消耗
// consumption = reserved / planned × delta；final 时消耗恰好为剩余预留
func (s *ReservationService) RecordConsumption(ctx context.Context, tx *gorm.DB, planID string, producedDelta, plannedQty float64, final bool) ([]Draw, error) {
	if plannedQty <= 0 {
		return nil, newError(KindValidation, "计划数量必须大于0")
	}
	repo := s.resRepo(tx)
	reservations, err := repo.ListByPlan(ctx, planID, entity.ReservationActive)
	if err != nil {
		return nil, fmt.Errorf("读取物料预留失败: %w", err)
	}

	draws := make([]Draw, 0, len(reservations))
	for _, r := range reservations {
		outstanding := round4(r.ReservedQuantity - r.ConsumedQuantity)
		var amount float64
		if final {
			amount = outstanding
		} else {
			amount = round4(r.ReservedQuantity / plannedQty * producedDelta)
			// 累计舍入误差截断到剩余预留
			if greaterThan(amount, outstanding) && amount-outstanding <= roundingSlack {
				amount = outstanding
			}
		}
		if amount < 0 {
			return nil, &Error{Kind: KindOverConsumption, Message: fmt.Sprintf("物料 %s 已超额消耗", r.MaterialCode)}
		}
		if greaterThan(amount, outstanding) {
			return nil, &Error{
				Kind:    KindOverConsumption,
				Message: fmt.Sprintf("物料 %s 消耗超出预留: 预留%.4f, 已消耗%.4f, 本次%.4f", r.MaterialCode, r.ReservedQuantity, r.ConsumedQuantity, amount),
			}
		}
		if amount == 0 {
			continue
		}
		ok, err := repo.AddConsumed(ctx, r.ID, amount)
		if err != nil {
			return nil, fmt.Errorf("更新预留消耗失败: %w", err)
		}
		if !ok {
			return nil, &Error{Kind: KindOverConsumption, Message: fmt.Sprintf("物料 %s 消耗超出预留", r.MaterialCode)}
		}
		draws = append(draws, Draw{
			ReservationID: r.ID,
			MaterialID:    r.MaterialID,
			MaterialType:  r.MaterialType,
			MaterialCode:  r.MaterialCode,
			Amount:        amount,
		})
	}
	return draws, nil
}

// CloseReservations 关闭计划的活跃预留并释放未消耗部分
// 调用方需先锁定相关库存行
func (s *ReservationService) CloseReservations(ctx context.Context, tx *gorm.DB, planID, status, actor string) ([]entity.Reservation, error) {
	if status != entity.ReservationCompleted && status != entity.ReservationCancelled {
		return nil, newError(KindValidation, "无效的预留关闭状态: %s", status)
	}
	repo := s.resRepo(tx)
	reservations, err := repo.ListByPlan(ctx, planID, entity.ReservationActive)
	if err != nil {
		return nil, fmt.Errorf("读取物料预留失败: %w", err)
	}

	now := time.Now()
	closed := make([]entity.Reservation, 0, len(reservations))
	for _, r := range reservations {
		if remainder := round4(r.Outstanding()); remainder > 0 {
			if _, err := s.ledger.Release(ctx, tx, r.MaterialID, remainder, StockRef{
				Type:  entity.RefPlan,
				ID:    planID,
				Actor: actor,
				Notes: "close reservation " + status,
			}); err != nil {
				return nil, err
			}
		}
		ok, err := repo.Close(ctx, r.ID, status)
		if err != nil {
			return nil, fmt.Errorf("关闭物料预留失败: %w", err)
		}
		if !ok {
			continue
		}
		r.Status = status
		r.ClosedAt = &now
		closed = append(closed, r)
	}
	return closed, nil
}

// MaterialIDs 计划活跃预留涉及的物料，用于事务开始时加锁
func (s *ReservationService) MaterialIDs(ctx context.Context, tx *gorm.DB, planID string) ([]string, error) {
	reservations, err := s.resRepo(tx).ListByPlan(ctx, planID, entity.ReservationActive)
	if err != nil {
		return nil, fmt.Errorf("读取物料预留失败: %w", err)
	}
	ids := make([]string, 0, len(reservations))
	for _, r := range reservations {
		ids = append(ids, r.MaterialID)
	}
	return ids, nil
}

// ReservationView 预留查询结果
type ReservationView struct {
	entity.Reservation
	Remaining float64 `json:"remaining"`
}

// List 查询预留
func (s *ReservationService) List(ctx context.Context, params repository.ReservationListParams) ([]ReservationView, int64, error) {
	items, total, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	views := make([]ReservationView, 0, len(items))
	for _, r := range items {
		views = append(views, ReservationView{Reservation: r, Remaining: round4(r.Outstanding())})
	}
	return views, total, nil
}
