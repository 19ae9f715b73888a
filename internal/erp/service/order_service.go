package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/entity"
	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OrderService 订单查询、录入与取消
type OrderService struct {
	db           *gorm.DB
	repos        *repository.Repositories
	ledger       *StockLedger
	reservations *ReservationService
	audit        *AuditService
	notifier     Notifier
	locker       Locker
	lockTTL      time.Duration
	logger       *zap.Logger
}

// OrderDetail 订单详情
type OrderDetail struct {
	Order *entity.Order           `json:"order"`
	Plans []entity.ProductionPlan `json:"plans"`
}

// CreateOrderRequest 录入订单
type CreateOrderRequest struct {
	OrderCode          string                   `json:"order_code"`
	CustomerName       string                   `json:"customer_name" binding:"required"`
	DeliveryDate       *time.Time               `json:"delivery_date"`
	Priority           int                      `json:"priority"`
	AssignedOperatorID string                   `json:"assigned_operator_id"`
	Notes              string                   `json:"notes"`
	Items              []CreateOrderItemRequest `json:"items" binding:"required,min=1,dive"`
}

type CreateOrderItemRequest struct {
	ProductID string  `json:"product_id" binding:"required"`
	Quantity  float64 `json:"quantity" binding:"required,gt=0"`
}

// Create 录入待审批订单
func (s *OrderService) Create(ctx context.Context, actor Actor, req CreateOrderRequest) (*entity.Order, error) {
	if err := requireRole(actor, RoleManager, RolePlanner); err != nil {
		return nil, err
	}
	if req.CustomerName == "" {
		return nil, newError(KindValidation, "客户名称不能为空")
	}
	if len(req.Items) == 0 {
		return nil, newError(KindOrderItemsMissing, "订单没有明细")
	}
	if req.Priority < entity.PriorityNormal || req.Priority > entity.PriorityCritical {
		return nil, newError(KindValidation, "无效的优先级: %d", req.Priority)
	}

	ids := make([]string, 0, len(req.Items))
	for _, it := range req.Items {
		if it.ProductID == "" || it.Quantity <= 0 {
			return nil, newError(KindValidation, "订单明细需要产品和正数数量")
		}
		ids = append(ids, it.ProductID)
	}
	products, err := s.repos.Stock.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("读取产品失败: %w", err)
	}
	known := make(map[string]bool, len(products))
	for _, p := range products {
		if p.MaterialType == entity.MaterialTypeFinished {
			known[p.ID] = true
		}
	}
	for _, id := range ids {
		if !known[id] {
			return nil, newError(KindValidation, "产品不存在或不是成品: %s", id)
		}
	}

	order := &entity.Order{
		ID:                 uuid.New().String(),
		OrderCode:          req.OrderCode,
		CustomerName:       req.CustomerName,
		DeliveryDate:       req.DeliveryDate,
		Priority:           req.Priority,
		Status:             entity.OrderStatusPending,
		AssignedOperatorID: req.AssignedOperatorID,
		Notes:              req.Notes,
		CreatedBy:          actor.ID,
	}
	if order.OrderCode == "" {
		order.OrderCode = fmt.Sprintf("SO-%s-%s", time.Now().Format("20060102"), order.ID[:8])
	}
	for _, it := range req.Items {
		order.Items = append(order.Items, entity.OrderItem{
			ID:        uuid.New().String(),
			OrderID:   order.ID,
			ProductID: it.ProductID,
			Quantity:  round4(it.Quantity),
		})
	}
	if err := s.repos.Order.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("创建订单失败: %w", err)
	}
	s.logger.Info("order created", zap.String("order_id", order.ID), zap.String("actor", actor.ID))
	return order, nil
}

// Get 订单详情及其生产计划
func (s *OrderService) Get(ctx context.Context, orderID string) (*OrderDetail, error) {
	order, err := s.repos.Order.GetByID(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(KindOrderNotFound, "订单不存在: %s", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("读取订单失败: %w", err)
	}
	plans, err := s.repos.Plan.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("读取生产计划失败: %w", err)
	}
	return &OrderDetail{Order: order, Plans: plans}, nil
}

// List 订单列表
func (s *OrderService) List(ctx context.Context, params repository.OrderListParams) ([]entity.Order, int64, error) {
	return s.repos.Order.List(ctx, params)
}

// Cancel 取消订单，未完成的计划一并取消并释放预留
func (s *OrderService) Cancel(ctx context.Context, actor Actor, orderID string) (*OrderDetail, error) {
	if err := requireRole(actor, RoleManager, RolePlanner); err != nil {
		return nil, err
	}

	lctx, cancel := context.WithTimeout(ctx, s.lockTTL)
	defer cancel()
	release, err := s.locker.Acquire(lctx, "erp:lock:order:"+orderID)
	if err != nil {
		return nil, fmt.Errorf("获取订单锁失败: %w", err)
	}
	defer release()

	order, err := s.repos.Order.GetByID(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(KindOrderNotFound, "订单不存在: %s", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("读取订单失败: %w", err)
	}
	if !CanTransitionOrder(order.Status, entity.OrderStatusCancelled) {
		terr := orderTransitionError(order.Status, entity.OrderStatusCancelled)
		s.audit.RecordRejection(ctx, actor, "cancel_order", "order", order.ID, order.ID, "", terr)
		return nil, terr
	}

	cancelled := 0
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repos := s.repos.WithTx(tx)
		plans, err := repos.Plan.ListByOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("读取生产计划失败: %w", err)
		}

		var ids []string
		for _, p := range plans {
			pids, err := s.reservations.MaterialIDs(ctx, tx, p.ID)
			if err != nil {
				return err
			}
			ids = append(ids, pids...)
		}
		if _, err := s.ledger.Lock(ctx, tx, ids); err != nil {
			return err
		}

		ok, err := repos.Order.TransitionStatus(ctx, orderID, order.Status, entity.OrderStatusCancelled, nil)
		if err != nil {
			return fmt.Errorf("更新订单状态失败: %w", err)
		}
		if !ok {
			return newError(KindInvalidTransition, "订单状态已变更，请刷新后重试")
		}

		for _, p := range plans {
			if !CanTransitionPlan(p.Status, entity.PlanStatusCancelled) {
				continue
			}
			ok, err := repos.Plan.TransitionStatus(ctx, p.ID, p.Status, entity.PlanStatusCancelled, nil)
			if err != nil {
				return fmt.Errorf("取消生产计划失败: %w", err)
			}
			if !ok {
				return newError(KindInvalidTransition, "计划状态已变更: %s", p.PlanCode)
			}
			if _, err := s.reservations.CloseReservations(ctx, tx, p.ID, entity.ReservationCancelled, actor.ID); err != nil {
				return err
			}
			cancelled++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, &entity.AuditLog{
		Agent:      "order",
		Action:     "cancel_order",
		EntityType: "order",
		EntityID:   orderID,
		OrderID:    orderID,
		Decision:   "cancelled",
		Details:    entity.JSONMap{"plans_cancelled": cancelled},
		RequestID:  actor.RequestID,
		CreatedBy:  actor.ID,
	})
	if err := s.notifier.Notify(ctx, EventOrderCancelled, map[string]interface{}{
		"order_id":        orderID,
		"plans_cancelled": cancelled,
	}); err != nil {
		s.logger.Warn("failed to notify", zap.String("event", EventOrderCancelled), zap.Error(err))
	}
	s.logger.Info("order cancelled", zap.String("order_id", orderID), zap.Int("plans_cancelled", cancelled))
	return s.Get(ctx, orderID)
}
