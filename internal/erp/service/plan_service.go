package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/entity"
	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PlanService 生产计划查询与状态操作
type PlanService struct {
	db           *gorm.DB
	repos        *repository.Repositories
	bom          *BOMSnapshotService
	ledger       *StockLedger
	reservations *ReservationService
	notifier     Notifier
	audit        *AuditService
	logger       *zap.Logger
}

// PlanDetail 计划详情
type PlanDetail struct {
	Plan         entity.ProductionPlan    `json:"plan"`
	Progress     PlanProgress             `json:"progress"`
	Reservations []ReservationView        `json:"reservations"`
	BOMSnapshot  []entity.BOMSnapshotLine `json:"bom_snapshot"`
	Logs         []entity.ProductionLog   `json:"logs"`
}

// GetDetail 计划详情，含进度、预留、BOM快照和报工记录
func (s *PlanService) GetDetail(ctx context.Context, planID string) (*PlanDetail, error) {
	plan, err := s.repos.Plan.GetByID(ctx, planID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(KindPlanNotFound, "生产计划不存在: %s", planID)
	}
	if err != nil {
		return nil, fmt.Errorf("读取生产计划失败: %w", err)
	}
	reservations, _, err := s.reservations.List(ctx, repository.ReservationListParams{PlanID: planID, Size: 200})
	if err != nil {
		return nil, fmt.Errorf("读取物料预留失败: %w", err)
	}
	lines, err := s.bom.Lines(ctx, nil, planID)
	if err != nil {
		return nil, fmt.Errorf("读取BOM快照失败: %w", err)
	}
	logs, err := s.repos.ProductionLog.ListByPlan(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("读取报工记录失败: %w", err)
	}
	return &PlanDetail{
		Plan:         *plan,
		Progress:     progressOf(plan),
		Reservations: reservations,
		BOMSnapshot:  lines,
		Logs:         logs,
	}, nil
}

// List 计划列表
func (s *PlanService) List(ctx context.Context, params repository.PlanListParams) ([]entity.ProductionPlan, int64, error) {
	return s.repos.Plan.List(ctx, params)
}

// Accept 操作员接单开工
func (s *PlanService) Accept(ctx context.Context, actor Actor, planID string) (*entity.ProductionPlan, error) {
	return s.transition(ctx, actor, planID, entity.PlanStatusInProgress, "accept")
}

// Pause 暂停
func (s *PlanService) Pause(ctx context.Context, actor Actor, planID string) (*entity.ProductionPlan, error) {
	return s.transition(ctx, actor, planID, entity.PlanStatusPaused, "pause")
}

// Resume 恢复
func (s *PlanService) Resume(ctx context.Context, actor Actor, planID string) (*entity.ProductionPlan, error) {
	return s.transition(ctx, actor, planID, entity.PlanStatusInProgress, "resume")
}

// Complete 手动完工，未消耗的预留释放
func (s *PlanService) Complete(ctx context.Context, actor Actor, planID string) (*entity.ProductionPlan, error) {
	return s.transition(ctx, actor, planID, entity.PlanStatusCompleted, "complete")
}

// Cancel 取消计划并释放预留
func (s *PlanService) Cancel(ctx context.Context, actor Actor, planID string) (*entity.ProductionPlan, error) {
	return s.transition(ctx, actor, planID, entity.PlanStatusCancelled, "cancel")
}

// authorizePlanAction 现场操作允许分配的操作员，完工和取消只允许计划员或经理
func authorizePlanAction(actor Actor, plan *entity.ProductionPlan, action string) error {
	switch action {
	case "complete", "cancel":
		return requireRole(actor, RoleManager, RolePlanner)
	}
	if err := requireRole(actor, RoleManager, RolePlanner, RoleOperator); err != nil {
		return err
	}
	if actor.HasRole(RoleManager, RolePlanner) {
		return nil
	}
	if plan.AssignedOperatorID != "" && plan.AssignedOperatorID != actor.ID {
		return newError(KindForbidden, "计划未分配给当前操作员")
	}
	return nil
}

func (s *PlanService) transition(ctx context.Context, actor Actor, planID, to, action string) (*entity.ProductionPlan, error) {
	if actor.ID == "" {
		return nil, newError(KindUnauthorized, "未登录")
	}
	current, err := s.repos.Plan.GetByID(ctx, planID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(KindPlanNotFound, "生产计划不存在: %s", planID)
	}
	if err != nil {
		return nil, fmt.Errorf("读取生产计划失败: %w", err)
	}
	if err := authorizePlanAction(actor, current, action); err != nil {
		return nil, err
	}

	var (
		from           string
		orderCompleted bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repos := s.repos.WithTx(tx)
		plan, err := repos.Plan.GetForUpdate(ctx, planID)
		if err != nil {
			return fmt.Errorf("锁定生产计划失败: %w", err)
		}
		from = plan.Status
		if action == "accept" && from != entity.PlanStatusPlanned {
			return planTransitionError(from, to)
		}
		if action == "resume" && from != entity.PlanStatusPaused {
			return planTransitionError(from, to)
		}
		if !CanTransitionPlan(from, to) {
			return planTransitionError(from, to)
		}

		closing := to == entity.PlanStatusCompleted || to == entity.PlanStatusCancelled
		if closing {
			ids, err := s.reservations.MaterialIDs(ctx, tx, planID)
			if err != nil {
				return err
			}
			if _, err := s.ledger.Lock(ctx, tx, ids); err != nil {
				return err
			}
		}

		now := time.Now()
		extra := map[string]interface{}{}
		switch to {
		case entity.PlanStatusInProgress:
			if plan.StartedAt == nil {
				extra["started_at"] = &now
			}
			if action == "accept" && plan.AssignedOperatorID == "" && actor.HasRole(RoleOperator) {
				extra["assigned_operator_id"] = actor.ID
			}
		case entity.PlanStatusCompleted:
			extra["completed_at"] = &now
		}
		ok, err := repos.Plan.TransitionStatus(ctx, planID, from, to, extra)
		if err != nil {
			return fmt.Errorf("更新计划状态失败: %w", err)
		}
		if !ok {
			return newError(KindInvalidTransition, "计划状态已变更，请刷新后重试")
		}

		if closing {
			status := entity.ReservationCompleted
			if to == entity.PlanStatusCancelled {
				status = entity.ReservationCancelled
			}
			if _, err := s.reservations.CloseReservations(ctx, tx, planID, status, actor.ID); err != nil {
				return err
			}
			done, err := syncOrderCompletion(ctx, repos, plan.OrderID)
			if err != nil {
				return err
			}
			orderCompleted = done
		}
		return nil
	})
	if err != nil {
		if KindOf(err) == KindInvalidTransition {
			s.audit.RecordRejection(ctx, actor, action+"_plan", "plan", planID, current.OrderID, planID, err)
		}
		return nil, err
	}

	updated, err := s.repos.Plan.GetByID(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("读取生产计划失败: %w", err)
	}
	s.notifyTransition(ctx, updated, from, orderCompleted)
	s.logger.Info("plan status changed",
		zap.String("plan_id", planID),
		zap.String("from", from),
		zap.String("to", to),
		zap.String("actor", actor.ID),
	)
	return updated, nil
}

func (s *PlanService) notifyTransition(ctx context.Context, plan *entity.ProductionPlan, from string, orderCompleted bool) {
	payload := map[string]interface{}{
		"plan_id":  plan.ID,
		"order_id": plan.OrderID,
		"from":     from,
		"to":       plan.Status,
	}
	events := []string{EventPlanStatusChanged}
	if plan.Status == entity.PlanStatusCompleted {
		events = append(events, EventPlanCompleted)
	}
	if orderCompleted {
		events = append(events, EventOrderCompleted)
	}
	for _, ev := range events {
		if err := s.notifier.Notify(ctx, ev, payload); err != nil {
			s.logger.Warn("failed to notify", zap.String("event", ev), zap.Error(err))
		}
	}
}
